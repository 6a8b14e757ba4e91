package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// fakeGateway mimics the remote broker for in-package tests: opaque
// sequential ids starting at 1001, a replace that retires the original
// under a new id, and a working list that orders silently leave.
type fakeGateway struct {
	mu        sync.Mutex
	seq       int64
	orders    map[string]RawOrder
	positions map[string]map[string]int64

	failNext    error
	failForever error
}

var _ BrokerGateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		seq:       1000,
		orders:    make(map[string]RawOrder),
		positions: make(map[string]map[string]int64),
	}
}

func (g *fakeGateway) nextID() string {
	g.seq++
	return fmt.Sprintf("%d", g.seq)
}

func (g *fakeGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *fakeGateway) FailForever(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failForever = err
}

func (g *fakeGateway) takeFailure() error {
	if g.failForever != nil {
		return g.failForever
	}
	err := g.failNext
	g.failNext = nil
	return err
}

func (g *fakeGateway) SetPosition(accountID string, key instrument.Key, qty int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.positions[accountID] == nil {
		g.positions[accountID] = make(map[string]int64)
	}
	g.positions[accountID][key.ID()] = qty
}

func (g *fakeGateway) setStatus(orderID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		o.Status = status
		g.orders[orderID] = o
	}
}

func (g *fakeGateway) FillOrder(orderID string)       { g.setStatus(orderID, "FILLED") }
func (g *fakeGateway) CancelOutOfBand(orderID string) { g.setStatus(orderID, "CANCELED") }

// ReplaceOutOfBand replaces a working order as another client would: the
// original goes REPLACED, a successor with a new id enters the working list.
func (g *fakeGateway) ReplaceOutOfBand(orderID string, newPrice decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.replaceLocked(orderID, newPrice)
}

func (g *fakeGateway) replaceLocked(orderID string, newPrice decimal.Decimal) (string, error) {
	old, ok := g.orders[orderID]
	if !ok || old.Status != "WORKING" {
		return "", fmt.Errorf("replace: order %s not working", orderID)
	}
	old.Status = "REPLACED"
	g.orders[orderID] = old

	succ := old
	succ.OrderID = g.nextID()
	succ.Price = newPrice
	succ.Status = "WORKING"
	succ.EnteredAt = time.Now()
	g.orders[succ.OrderID] = succ
	return succ.OrderID, nil
}

func (g *fakeGateway) ListWorkingOrders(_ context.Context, accountID string) ([]RawOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	var out []RawOrder
	for _, o := range g.orders {
		if o.AccountID == accountID && o.Status == "WORKING" {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *fakeGateway) GetOrder(_ context.Context, accountID, orderID string) (*RawOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	o, ok := g.orders[orderID]
	if !ok || o.AccountID != accountID {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &o, nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, accountID string, key instrument.Key, side model.OrderSide, qty int64, price decimal.Decimal, orderType model.OrderType) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return "", err
	}
	id := g.nextID()
	g.orders[id] = RawOrder{
		OrderID:    id,
		AccountID:  accountID,
		Instrument: key,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Type:       orderType,
		Status:     "WORKING",
		EnteredAt:  time.Now(),
	}
	return id, nil
}

func (g *fakeGateway) ReplaceOrder(_ context.Context, accountID, orderID string, newPrice decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return "", err
	}
	if o, ok := g.orders[orderID]; !ok || o.AccountID != accountID {
		return "", fmt.Errorf("order %s not found", orderID)
	}
	return g.replaceLocked(orderID, newPrice)
}

func (g *fakeGateway) CancelOrder(_ context.Context, accountID, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return err
	}
	o, ok := g.orders[orderID]
	if !ok || o.AccountID != accountID {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.Status != "WORKING" {
		return fmt.Errorf("order %s is %s", orderID, o.Status)
	}
	o.Status = "CANCELED"
	g.orders[orderID] = o
	return nil
}

func (g *fakeGateway) GetPositions(_ context.Context, accountID string) (*model.PositionSnapshot, error) {
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
