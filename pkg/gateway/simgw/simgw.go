// Package simgw provides an in-process simulated broker for development and
// tests. It reproduces the remote broker's semantics the tracker depends
// on: opaque sequential order ids, a replace that cancels the original and
// creates a successor with a new id, and a working-order list that orders
// silently leave when they fill, expire, or get canceled out-of-band.
package simgw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/tracker"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// Compile-time interface check.
var _ tracker.BrokerGateway = (*Gateway)(nil)

type simOrder struct {
	raw tracker.RawOrder
}

// Gateway is a simulated broker. All mutating test hooks (FillOrder,
// CancelOutOfBand, ReplaceOutOfBand, SetPosition, FailNext) are safe to
// call concurrently with gateway use.
type Gateway struct {
	mu        sync.Mutex
	seq       int64
	orders    map[string]*simOrder // orderID -> order, terminal included
	positions map[string]map[string]int64

	failNext    error
	failForever error
}

func New() *Gateway {
	return &Gateway{
		seq:       1000,
		orders:    make(map[string]*simOrder),
		positions: make(map[string]map[string]int64),
	}
}

func (g *Gateway) nextID() string {
	g.seq++
	return fmt.Sprintf("%d", g.seq)
}

// FailNext makes the next gateway call return err, then clears. Use a
// *tracker.TransientGatewayError or *tracker.AuthExpiredError to exercise
// the taxonomy.
func (g *Gateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

// FailForever makes every call return err until cleared with nil.
func (g *Gateway) FailForever(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failForever = err
}

func (g *Gateway) takeFailure() error {
	if g.failForever != nil {
		return g.failForever
	}
	err := g.failNext
	g.failNext = nil
	return err
}

// SetPosition sets the signed position for an instrument.
func (g *Gateway) SetPosition(accountID string, key instrument.Key, qty int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.positions[accountID] == nil {
		g.positions[accountID] = make(map[string]int64)
	}
	g.positions[accountID][key.ID()] = qty
}

// FillOrder marks a working order filled, removing it from the working
// list; the tracker learns about it on the next poll.
func (g *Gateway) FillOrder(orderID string) {
	g.setStatus(orderID, "FILLED")
}

// CancelOutOfBand cancels a working order as if a human did it in another
// client.
func (g *Gateway) CancelOutOfBand(orderID string) {
	g.setStatus(orderID, "CANCELED")
}

// ExpireOrder expires a working order.
func (g *Gateway) ExpireOrder(orderID string) {
	g.setStatus(orderID, "EXPIRED")
}

func (g *Gateway) setStatus(orderID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		o.raw.Status = status
	}
}

// ReplaceOutOfBand replaces a working order from outside the tracker: the
// original goes REPLACED and a successor with a new id appears in the
// working list. Returns the successor id.
func (g *Gateway) ReplaceOutOfBand(orderID string, newPrice decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.replaceLocked(orderID, newPrice)
}

func (g *Gateway) replaceLocked(orderID string, newPrice decimal.Decimal) (string, error) {
	old, ok := g.orders[orderID]
	if !ok || old.raw.Status != "WORKING" {
		return "", fmt.Errorf("replace: order %s not working", orderID)
	}
	old.raw.Status = "REPLACED"

	succ := old.raw
	succ.OrderID = g.nextID()
	succ.Price = newPrice
	succ.EnteredAt = time.Now()
	succ.Status = "WORKING"
	g.orders[succ.OrderID] = &simOrder{raw: succ}
	return succ.OrderID, nil
}

func (g *Gateway) ListWorkingOrders(_ context.Context, accountID string) ([]tracker.RawOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	var out []tracker.RawOrder
	for _, o := range g.orders {
		if o.raw.AccountID == accountID && o.raw.Status == "WORKING" {
			out = append(out, o.raw)
		}
	}
	return out, nil
}

func (g *Gateway) GetOrder(_ context.Context, accountID, orderID string) (*tracker.RawOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	o, ok := g.orders[orderID]
	if !ok || o.raw.AccountID != accountID {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	raw := o.raw
	return &raw, nil
}

func (g *Gateway) PlaceOrder(_ context.Context, accountID string, key instrument.Key, side model.OrderSide, qty int64, price decimal.Decimal, orderType model.OrderType) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return "", err
	}

	id := g.nextID()
	g.orders[id] = &simOrder{raw: tracker.RawOrder{
		OrderID:    id,
		AccountID:  accountID,
		Instrument: key,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Type:       orderType,
		Status:     "WORKING",
		EnteredAt:  time.Now(),
	}}
	return id, nil
}

func (g *Gateway) ReplaceOrder(_ context.Context, accountID, orderID string, newPrice decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return "", err
	}
	if o, ok := g.orders[orderID]; !ok || o.raw.AccountID != accountID {
		return "", fmt.Errorf("order %s not found", orderID)
	}
	return g.replaceLocked(orderID, newPrice)
}

func (g *Gateway) CancelOrder(_ context.Context, accountID, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return err
	}
	o, ok := g.orders[orderID]
	if !ok || o.raw.AccountID != accountID {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.raw.Status != "WORKING" {
		return fmt.Errorf("order %s is %s", orderID, o.raw.Status)
	}
	o.raw.Status = "CANCELED"
	return nil
}

func (g *Gateway) GetPositions(_ context.Context, accountID string) (*model.PositionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	snap := model.NewPositionSnapshot(accountID)
	for id, qty := range g.positions[accountID] {
		snap.Quantities[id] = qty
	}
	return snap, nil
}
