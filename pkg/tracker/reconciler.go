package tracker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/logging"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
	"go.uber.org/zap"
)

// reconciler runs the background poll loop for one account. It is the only
// writer of poll-derived cache updates. On every tick it snapshots the
// watched instruments, pulls the account's full working-order list from the
// gateway, diffs it against the cache per instrument, resolves orders that
// left the working list through a secondary lookup, and applies the whole
// diff atomically.
type reconciler struct {
	accountID string
	gw        BrokerGateway
	cache     *OrderCache
	watch     *watchSet
	positions *positionBook
	cfg       Config
	log       *logging.Logger
	emit      func(*model.OrderEvent)

	// onAuthExpired propagates a fatal auth failure upward; the loop stays
	// paused until Resume.
	onAuthExpired func(accountID string, err error)

	paused    atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	lastSweep time.Time
}

func newReconciler(accountID string, gw BrokerGateway, cache *OrderCache, watch *watchSet, positions *positionBook, cfg Config, log *logging.Logger, emit func(*model.OrderEvent), onAuthExpired func(string, error)) *reconciler {
	return &reconciler{
		accountID:     accountID,
		gw:            gw,
		cache:         cache,
		watch:         watch,
		positions:     positions,
		cfg:           cfg,
		log:           log,
		emit:          emit,
		onAuthExpired: onAuthExpired,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func (r *reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if r.paused.Load() {
				continue
			}
			r.tick(ctx)
		}
	}
}

// stop asks the loop to finish; the caller waits on done with a grace
// timeout. In-flight gateway calls either complete before the next apply or
// are abandoned: tick checks the stop flag before touching the cache, so a
// late response never lands after shutdown.
func (r *reconciler) stop() {
	close(r.stopCh)
}

func (r *reconciler) done() <-chan struct{} {
	return r.doneCh
}

func (r *reconciler) resume() {
	r.paused.Store(false)
}

func (r *reconciler) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *reconciler) tick(ctx context.Context) {
	keys := r.watch.snapshot(r.accountID)

	// Background sweep: instruments with live orders that nobody watches
	// anymore still get reconciled, just less often.
	if time.Since(r.lastSweep) >= r.cfg.BackgroundPollInterval {
		r.lastSweep = time.Now()
		watched := make(map[string]bool, len(keys))
		for _, k := range keys {
			watched[k.ID()] = true
		}
		for _, k := range r.cache.ActiveInstruments(r.accountID) {
			if !watched[k.ID()] {
				keys = append(keys, k)
			}
		}
	}

	if len(keys) == 0 {
		return
	}

	raw, err := r.listWorkingOrders(ctx)
	if err != nil {
		r.degrade(err)
		return
	}

	r.refreshPositions(ctx)

	for _, key := range keys {
		if r.stopped() || ctx.Err() != nil {
			return
		}
		r.reconcileInstrument(ctx, key, raw)
	}
}

func (r *reconciler) listWorkingOrders(ctx context.Context) ([]RawOrder, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	defer cancel()

	raw, err := r.gw.ListWorkingOrders(cctx, r.accountID)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	return raw, nil
}

func (r *reconciler) refreshPositions(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	defer cancel()

	snap, err := r.gw.GetPositions(cctx, r.accountID)
	if err != nil {
		// Positions gate actions only; a stale snapshot is acceptable for
		// one tick and the order diff already reported any degrade.
		r.log.Debug(ctx, "positions refresh failed",
			zap.String("account", r.accountID), zap.Error(err))
		return
	}
	r.positions.update(r.accountID, snap, time.Now())
}

func (r *reconciler) reconcileInstrument(ctx context.Context, key instrument.Key, raw []RawOrder) {
	snapshot := make([]*model.OrderRecord, 0, 4)
	inSnapshot := make(map[string]bool)
	for i := range raw {
		ro := &raw[i]
		if !ro.Instrument.Equal(key) {
			continue
		}
		snapshot = append(snapshot, &model.OrderRecord{
			OrderID:    ro.OrderID,
			AccountID:  r.accountID,
			Instrument: ro.Instrument,
			Side:       ro.Side,
			Quantity:   ro.Quantity,
			Price:      ro.Price,
			Type:       ro.Type,
			Status:     model.NormalizeStatus(ro.Status),
		})
		inSnapshot[ro.OrderID] = true
	}

	// Secondary lookup for orders that left the working list: their last
	// known status cannot be WORKING, and only the broker knows which
	// terminal state (or REPLACED) they reached.
	resolved := make(map[string]model.OrderStatus)
	for _, rec := range r.cache.GetActive(r.accountID, key) {
		if inSnapshot[rec.OrderID] {
			continue
		}
		detail, err := r.lookupOrder(ctx, rec.OrderID)
		if err != nil {
			if IsAuthExpired(err) {
				r.degrade(err)
				return
			}
			r.degrade(err)
			continue // last-known-good stays in place, retried next tick
		}
		resolved[rec.OrderID] = model.NormalizeStatus(detail.Status)
	}

	// Abandoned in-flight work must not apply after shutdown.
	if r.stopped() || ctx.Err() != nil {
		return
	}

	sum := r.cache.ApplyTick(r.accountID, key, snapshot, resolved, time.Now(), r.cfg.LineageWindowTicks)
	if sum.Discovered+sum.Terminal+sum.Replaced+sum.Unresolved > 0 {
		r.log.Info(ctx, "reconciled instrument",
			zap.String("account", r.accountID),
			zap.String("instrument", key.ID()),
			zap.Int("discovered", sum.Discovered),
			zap.Int("terminal", sum.Terminal),
			zap.Int("replaced", sum.Replaced),
			zap.Int("lineage_unresolved", sum.Unresolved))
	}
}

// lookupOrder fetches order detail with bounded exponential backoff. Auth
// failures are permanent; transient failures are retried a couple of times
// within the tick and then surface as a degraded poll.
func (r *reconciler) lookupOrder(ctx context.Context, orderID string) (*RawOrder, error) {
	var out *RawOrder

	boff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
		defer cancel()

		detail, err := r.gw.GetOrder(cctx, r.accountID, orderID)
		if err != nil {
			err = classifyGatewayError(err)
			if IsAuthExpired(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = detail
		return nil
	}, boff)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	return out, nil
}

// degrade records a failed poll. Transient failures leave the cache as-is
// and retry next tick; an expired auth pauses the loop until resume.
func (r *reconciler) degrade(err error) {
	now := time.Now()
	r.emit(model.NewOrderEventDegradedPoll(r.accountID, err.Error(), now))

	if IsAuthExpired(err) {
		r.paused.Store(true)
		r.log.Error(context.Background(), "poll loop paused: auth expired",
			zap.String("account", r.accountID), zap.Error(err))
		if r.onAuthExpired != nil {
			r.onAuthExpired(r.accountID, err)
		}
		return
	}

	r.log.Warn(context.Background(), "degraded poll",
		zap.String("account", r.accountID), zap.Error(err))
}
