package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/logging"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
	"go.uber.org/zap"
)

// Coordinator gates and serializes all order-mutating intents. At most one
// mutation per (account, instrument) may be in flight: contenders get
// ErrRaceRejection instead of queueing, so a UI double-click cannot produce
// two closing orders.
type Coordinator struct {
	gw        BrokerGateway
	cache     *OrderCache
	positions *positionBook
	cfg       Config
	log       *logging.Logger

	locks sync.Map // account|instrument ID -> *sync.Mutex
}

func NewCoordinator(gw BrokerGateway, cache *OrderCache, positions *positionBook, cfg Config, log *logging.Logger) *Coordinator {
	return &Coordinator{
		gw:        gw,
		cache:     cache,
		positions: positions,
		cfg:       cfg,
		log:       log,
	}
}

func (co *Coordinator) lockFor(accountID string, key instrument.Key) *sync.Mutex {
	id := accountID + "|" + key.ID()
	if mu, ok := co.locks.Load(id); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := co.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Place validates a simple buy/sell intent, classifies it open-vs-close
// against the position snapshot, enforces the duplicate and
// close-without-position guards, and submits it to the gateway. When an
// identical order is already working its id is returned instead of placing
// a duplicate.
func (co *Coordinator) Place(ctx context.Context, intent *model.PlaceIntent) (string, error) {
	if intent.AccountID == "" {
		return "", errUnknownAccount
	}
	if intent.Quantity <= 0 {
		return "", &ValidationError{Reason: errInvalidQuantity.Error()}
	}
	if !intent.Price.IsPositive() {
		return "", &ValidationError{Reason: errInvalidPrice.Error()}
	}

	mu := co.lockFor(intent.AccountID, intent.Instrument)
	if !mu.TryLock() {
		return "", ErrRaceRejection
	}
	defer mu.Unlock()

	snap, err := co.positionSnapshot(ctx, intent.AccountID)
	if err != nil {
		return "", err
	}

	side := snap.ClassifySide(intent.Instrument, intent.Side)

	if err := co.checkGuards(intent, side, snap); err != nil {
		var ve *ValidationError
		if isDuplicateIdentical(err, &ve) {
			co.log.Info(ctx, "returning existing working order",
				zap.String("account", intent.AccountID),
				zap.String("order_id", ve.ExistingOrderID))
			return ve.ExistingOrderID, nil
		}
		return "", err
	}

	orderType := intent.Type
	if orderType == "" {
		orderType = model.OrderTypeLimit
	}

	cctx, cancel := context.WithTimeout(ctx, co.cfg.GatewayTimeout)
	defer cancel()
	orderID, err := co.gw.PlaceOrder(cctx, intent.AccountID, intent.Instrument, side, intent.Quantity, intent.Price, orderType)
	if err != nil {
		return "", classifyGatewayError(err)
	}

	now := time.Now()
	rec := &model.OrderRecord{
		OrderID:      orderID,
		AccountID:    intent.AccountID,
		Instrument:   intent.Instrument,
		Side:         side,
		Quantity:     intent.Quantity,
		Price:        intent.Price,
		Type:         orderType,
		Status:       model.OrderStatusWorking,
		DiscoveredAt: now,
		LastSeen:     now,
	}
	if err := co.cache.Upsert(rec); err != nil {
		return "", err
	}

	co.log.Info(ctx, "order placed",
		zap.String("account", intent.AccountID),
		zap.String("order_id", orderID),
		zap.String("instrument", intent.Instrument.ID()),
		zap.String("side", string(side)),
		zap.String("price", intent.Price.String()),
		zap.Int64("qty", intent.Quantity))
	return orderID, nil
}

// Replace amends the price of a working order. The broker confirms the
// successor id at call time, so the cache is rewritten synchronously rather
// than waiting for the next poll.
func (co *Coordinator) Replace(ctx context.Context, intent *model.ReplaceIntent) (string, error) {
	if intent.AccountID == "" {
		return "", errUnknownAccount
	}
	if !intent.NewPrice.IsPositive() {
		return "", &ValidationError{Reason: errInvalidPrice.Error()}
	}

	rec, err := co.cache.GetOrder(intent.AccountID, intent.OrderID)
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("replace: order %s not active", intent.OrderID)}
	}

	mu := co.lockFor(intent.AccountID, rec.Instrument)
	if !mu.TryLock() {
		return "", ErrRaceRejection
	}
	defer mu.Unlock()

	// Re-read under the lock: the order may have filled or been replaced
	// while we waited.
	rec, err = co.cache.GetOrder(intent.AccountID, intent.OrderID)
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("replace: order %s not active", intent.OrderID)}
	}
	if !rec.Status.IsWorking() {
		return "", &ValidationError{Reason: fmt.Sprintf("replace: order %s is %s", intent.OrderID, rec.Status)}
	}

	cctx, cancel := context.WithTimeout(ctx, co.cfg.GatewayTimeout)
	defer cancel()
	newID, err := co.gw.ReplaceOrder(cctx, intent.AccountID, intent.OrderID, intent.NewPrice)
	if err != nil {
		return "", classifyGatewayError(err)
	}

	if err := co.cache.Supersede(intent.AccountID, intent.OrderID, newID, intent.NewPrice, time.Now()); err != nil {
		return "", err
	}

	co.log.Info(ctx, "order replaced",
		zap.String("account", intent.AccountID),
		zap.String("order_id", intent.OrderID),
		zap.String("new_order_id", newID),
		zap.String("new_price", intent.NewPrice.String()))
	return newID, nil
}

// Cancel issues a gateway cancel and removes the order from the cache
// optimistically. If the cancel failed remotely the next reconciliation
// tick re-discovers the order; the removal is never assumed permanent.
func (co *Coordinator) Cancel(ctx context.Context, intent *model.CancelIntent) error {
	if intent.AccountID == "" {
		return errUnknownAccount
	}

	rec, err := co.cache.GetOrder(intent.AccountID, intent.OrderID)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("cancel: order %s not active", intent.OrderID)}
	}

	mu := co.lockFor(intent.AccountID, rec.Instrument)
	if !mu.TryLock() {
		return ErrRaceRejection
	}
	defer mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, co.cfg.GatewayTimeout)
	defer cancel()
	if err := co.gw.CancelOrder(cctx, intent.AccountID, intent.OrderID); err != nil {
		return classifyGatewayError(err)
	}

	co.cache.RemoveByOrderID(intent.AccountID, intent.OrderID)
	co.log.Info(ctx, "order canceled",
		zap.String("account", intent.AccountID),
		zap.String("order_id", intent.OrderID))
	return nil
}

// positionSnapshot prefers the reconciler's last poll; an account that has
// never been polled falls back to a direct gateway fetch.
func (co *Coordinator) positionSnapshot(ctx context.Context, accountID string) (*model.PositionSnapshot, error) {
	if snap, _ := co.positions.get(accountID); snap != nil {
		return snap, nil
	}

	cctx, cancel := context.WithTimeout(ctx, co.cfg.GatewayTimeout)
	defer cancel()
	snap, err := co.gw.GetPositions(cctx, accountID)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	co.positions.update(accountID, snap, time.Now())
	return snap, nil
}

// checkGuards enforces the pre-place invariants:
//   - a closing order requires a nonzero position in the closed direction;
//   - at most one working order per (account, instrument, direction class);
//   - no opening order while a closing order for the instrument is working.
func (co *Coordinator) checkGuards(intent *model.PlaceIntent, side model.OrderSide, snap *model.PositionSnapshot) error {
	if side.Direction() == model.DirectionClosing {
		qty := snap.Quantity(intent.Instrument)
		if side == model.OrderSideBuyToClose && qty >= 0 {
			return &ValidationError{Reason: "buy-to-close with no short position"}
		}
		if side == model.OrderSideSellToClose && qty <= 0 {
			return &ValidationError{Reason: "sell-to-close with no long position"}
		}
	}

	for _, rec := range co.cache.GetActive(intent.AccountID, intent.Instrument) {
		if !rec.Status.IsWorking() {
			continue
		}
		if side.Direction() == model.DirectionOpening && rec.Side.Direction() == model.DirectionClosing {
			return &ValidationError{Reason: fmt.Sprintf("closing order %s working; refusing new opening order", rec.OrderID)}
		}
		if rec.Side.Direction() == side.Direction() {
			if rec.Side == side && rec.Price.Equal(intent.Price) && rec.Quantity == intent.Quantity {
				return &ValidationError{
					Reason:          "identical order already working",
					ExistingOrderID: rec.OrderID,
				}
			}
			return &ValidationError{Reason: fmt.Sprintf("working %s order %s already exists for instrument", rec.Side.Direction(), rec.OrderID)}
		}
	}
	return nil
}

// isDuplicateIdentical matches the one guard outcome that is not an error
// for the caller: the exact same order is already working.
func isDuplicateIdentical(err error, out **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if !ok || ve.ExistingOrderID == "" {
		return false
	}
	*out = ve
	return true
}
