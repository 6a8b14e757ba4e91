package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/logging"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
	"go.uber.org/zap"
)

// Config tunes the tracker. Zero fields take defaults.
type Config struct {
	// PollInterval is the reconciliation tick for watched instruments.
	PollInterval time.Duration
	// BackgroundPollInterval is how often unwatched instruments with live
	// orders are swept.
	BackgroundPollInterval time.Duration
	// GatewayTimeout bounds every broker call.
	GatewayTimeout time.Duration
	// LineageWindowTicks is how many poll cycles a REPLACED order may wait
	// for its successor before being surfaced as unresolved.
	LineageWindowTicks int
	// ShutdownGrace bounds the wait for in-flight work on Stop.
	ShutdownGrace time.Duration

	// EventBuffer sizes the event channel.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BackgroundPollInterval <= 0 {
		c.BackgroundPollInterval = 15 * time.Second
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 5 * time.Second
	}
	if c.LineageWindowTicks <= 0 {
		c.LineageWindowTicks = 3
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 3 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}

// Tracker owns the order cache, the per-account reconciliation loops, and
// the action coordinator. It is the single entry point for the transport
// layer: subscribe/unsubscribe instruments, query working orders, and issue
// place/replace/cancel intents.
type Tracker struct {
	cfg       Config
	gw        BrokerGateway
	cache     *OrderCache
	coord     *Coordinator
	watch     *watchSet
	positions *positionBook
	log       *logging.Logger

	events chan *model.OrderEvent

	mu          sync.Mutex
	reconcilers map[string]*reconciler
	runCtx      context.Context
	cancelRun   context.CancelFunc
	started     bool
	stopped     bool

	// onAuthExpired, when set, is invoked once per pause so the owner can
	// re-authenticate and call Resume.
	onAuthExpired func(accountID string, err error)
}

func New(gw BrokerGateway, cfg Config, log *logging.Logger) *Tracker {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.NewNopLogger()
	}

	t := &Tracker{
		cfg:         cfg,
		gw:          gw,
		watch:       newWatchSet(),
		positions:   newPositionBook(),
		log:         log,
		events:      make(chan *model.OrderEvent, cfg.EventBuffer),
		reconcilers: make(map[string]*reconciler),
	}
	t.cache = NewOrderCache(t.emit)
	t.coord = NewCoordinator(gw, t.cache, t.positions, cfg, log)
	return t
}

// OnAuthExpired registers the re-authentication hook. Must be called before
// Start.
func (t *Tracker) OnAuthExpired(fn func(accountID string, err error)) {
	t.onAuthExpired = fn
}

// Start launches the reconciliation loops for every account already
// subscribed; accounts subscribed later get loops on demand.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errAlreadyStarted
	}
	t.started = true
	t.runCtx, t.cancelRun = context.WithCancel(ctx)

	for _, accountID := range t.watch.accounts() {
		t.startReconcilerLocked(accountID)
	}
	t.log.Info(ctx, "tracker started",
		zap.Duration("poll_interval", t.cfg.PollInterval))
	return nil
}

// Stop halts all loops, waiting up to the grace timeout for in-flight
// gateway calls. Late responses after Stop never touch the cache.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	recs := make([]*reconciler, 0, len(t.reconcilers))
	for _, r := range t.reconcilers {
		r.stop()
		recs = append(recs, r)
	}
	t.mu.Unlock()

	deadline := time.After(t.cfg.ShutdownGrace)
	for _, r := range recs {
		select {
		case <-r.done():
		case <-deadline:
		}
	}
	t.cancelRun()
	t.log.Info(context.Background(), "tracker stopped")
}

// Events exposes lifecycle and degradation events. The channel is buffered;
// when nobody drains it events are dropped, never blocking the poll loop.
func (t *Tracker) Events() <-chan *model.OrderEvent {
	return t.events
}

func (t *Tracker) emit(ev *model.OrderEvent) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn(context.Background(), "event buffer full, dropping event",
			zap.String("event_id", ev.EventID), zap.String("type", string(ev.Type)))
	}
}

// Subscribe adds an instrument to the account's tracked set and ensures the
// account's poll loop is running.
func (t *Tracker) Subscribe(accountID string, key instrument.Key) error {
	if accountID == "" {
		return errUnknownAccount
	}
	t.watch.add(accountID, key)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started && !t.stopped {
		t.startReconcilerLocked(accountID)
	}
	return nil
}

// Unsubscribe removes an instrument from the tracked set. Live orders on
// the instrument still get swept at the background interval.
func (t *Tracker) Unsubscribe(accountID string, key instrument.Key) {
	t.watch.remove(accountID, key)
}

func (t *Tracker) startReconcilerLocked(accountID string) {
	if _, ok := t.reconcilers[accountID]; ok {
		return
	}
	r := newReconciler(accountID, t.gw, t.cache, t.watch, t.positions, t.cfg, t.log, t.emit, t.onAuthExpired)
	t.reconcilers[accountID] = r
	go r.run(t.runCtx)
}

// Resume restarts a poll loop paused by auth expiry, after the caller has
// re-authenticated the gateway.
func (t *Tracker) Resume(accountID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.reconcilers[accountID]
	if !ok {
		return errUnknownAccount
	}
	if !r.paused.Load() {
		return errNotPaused
	}
	r.resume()
	t.log.Info(context.Background(), "poll loop resumed", zap.String("account", accountID))
	return nil
}

// GetWorkingOrders returns the active orders for one (account, instrument),
// sorted for stable display: PUT before CALL, order id ascending.
func (t *Tracker) GetWorkingOrders(accountID string, key instrument.Key) []*model.OrderRecord {
	recs := t.cache.GetActive(accountID, key)
	SortRecords(recs)
	return recs
}

// WorkingOrders returns every active order for the account in display
// order.
func (t *Tracker) WorkingOrders(accountID string) []*model.OrderRecord {
	return t.cache.AllActive(accountID)
}

// HasActiveOrder is a heartbeat-style existence check for UI state sync.
// An order that was replaced reports true if its successor is still active.
func (t *Tracker) HasActiveOrder(accountID, orderID string) bool {
	if t.cache.HasActiveOrder(accountID, orderID) {
		return true
	}
	_, ok := t.cache.Successor(accountID, orderID)
	return ok
}

// CurrentOrder resolves an order id through replace lineage: callers that
// hold the original id see the live successor's id and price, not a
// vanished order.
func (t *Tracker) CurrentOrder(accountID, orderID string) (*model.OrderRecord, error) {
	if rec, err := t.cache.GetOrder(accountID, orderID); err == nil {
		return rec, nil
	}
	if rec, ok := t.cache.Successor(accountID, orderID); ok {
		return rec, nil
	}
	return nil, errOrderNotFound
}

// Place submits a simple buy/sell intent; open-vs-close classification and
// all guards happen in the coordinator.
func (t *Tracker) Place(ctx context.Context, accountID string, key instrument.Key, side model.SimpleSide, price decimal.Decimal, quantity int64) (string, error) {
	return t.coord.Place(ctx, &model.PlaceIntent{
		RequestID:  logging.NewRequestID(),
		AccountID:  accountID,
		Instrument: key,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Type:       model.OrderTypeLimit,
		ReceivedAt: time.Now(),
	})
}

// Replace amends a working order's price, returning the successor order id.
func (t *Tracker) Replace(ctx context.Context, accountID, orderID string, newPrice decimal.Decimal) (string, error) {
	return t.coord.Replace(ctx, &model.ReplaceIntent{
		RequestID:  logging.NewRequestID(),
		AccountID:  accountID,
		OrderID:    orderID,
		NewPrice:   newPrice,
		ReceivedAt: time.Now(),
	})
}

// Cancel cancels a working order.
func (t *Tracker) Cancel(ctx context.Context, accountID, orderID string) error {
	return t.coord.Cancel(ctx, &model.CancelIntent{
		RequestID:  logging.NewRequestID(),
		AccountID:  accountID,
		OrderID:    orderID,
		ReceivedAt: time.Now(),
	})
}
