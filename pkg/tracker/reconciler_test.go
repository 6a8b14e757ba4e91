package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/logging"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// newTestReconciler wires a reconciler whose tick is driven by hand, so
// tests never depend on ticker timing.
func newTestReconciler(gw BrokerGateway, rec *eventRecorder) (*reconciler, *OrderCache, *watchSet, *positionBook) {
	cache := NewOrderCache(rec.emit)
	watch := newWatchSet()
	positions := newPositionBook()
	r := newReconciler(testAccount, gw, cache, watch, positions, Config{}.withDefaults(), logging.NewNopLogger(), rec.emit, nil)
	return r, cache, watch, positions
}

func TestTickDiscoversExternalOrder(t *testing.T) {
	gw := newFakeGateway()
	rec := &eventRecorder{}
	r, cache, watch, _ := newTestReconciler(gw, rec)
	key := testKey(t, 150, instrument.Call)
	watch.add(testAccount, key)

	id, err := gw.PlaceOrder(context.Background(), testAccount, key, model.OrderSideBuyToOpen, 1, decimal.NewFromFloat(1.25), model.OrderTypeLimit)
	if err != nil {
		t.Fatal(err)
	}

	r.tick(context.Background())

	if !cache.HasActiveOrder(testAccount, id) {
		t.Fatal("externally placed order not discovered")
	}
	if got := rec.ofType(model.EventTypeDiscovered); len(got) != 1 || got[0].OrderID != id {
		t.Errorf("discovery events: %+v", got)
	}
}

func TestTickDetectsFillExactlyOnce(t *testing.T) {
	gw := newFakeGateway()
	rec := &eventRecorder{}
	r, cache, watch, _ := newTestReconciler(gw, rec)
	key := testKey(t, 150, instrument.Call)
	watch.add(testAccount, key)

	id, _ := gw.PlaceOrder(context.Background(), testAccount, key, model.OrderSideBuyToOpen, 1, decimal.NewFromFloat(1.25), model.OrderTypeLimit)
	r.tick(context.Background())
	if !cache.HasActiveOrder(testAccount, id) {
		t.Fatal("order not tracked after first tick")
	}

	gw.FillOrder(id)
	r.tick(context.Background())
	r.tick(context.Background())

	if cache.HasActiveOrder(testAccount, id) {
		t.Error("filled order still active")
	}
	got := rec.ofType(model.EventTypeTerminal)
	if len(got) != 1 {
		t.Fatalf("want exactly one terminal event, got %d", len(got))
	}
	if got[0].OrderID != id || got[0].Status != model.OrderStatusFilled {
		t.Errorf("terminal event: %+v", got[0])
	}
}

func TestTickResolvesOutOfBandReplace(t *testing.T) {
	gw := newFakeGateway()
	rec := &eventRecorder{}
	r, cache, watch, _ := newTestReconciler(gw, rec)
	key := testKey(t, 150, instrument.Call)
	watch.add(testAccount, key)

	id, _ := gw.PlaceOrder(context.Background(), testAccount, key, model.OrderSideBuyToOpen, 1, decimal.NewFromFloat(1.25), model.OrderTypeLimit)
	r.tick(context.Background())

	newID, err := gw.ReplaceOutOfBand(id, decimal.NewFromFloat(1.40))
	if err != nil {
		t.Fatal(err)
	}
	r.tick(context.Background())

	succ, ok := cache.Successor(testAccount, id)
	if !ok || succ.OrderID != newID {
		t.Fatalf("lineage not resolved after out-of-band replace: %+v", succ)
	}
	if !succ.Price.Equal(decimal.NewFromFloat(1.40)) {
		t.Errorf("successor price = %s", succ.Price)
	}
	if got := rec.ofType(model.EventTypeReplaced); len(got) != 1 || got[0].SuccessorID != newID {
		t.Errorf("replace events: %+v", got)
	}
}

func TestTickTransientFailureLeavesCacheIntact(t *testing.T) {
	gw := newFakeGateway()
	rec := &eventRecorder{}
	r, cache, watch, _ := newTestReconciler(gw, rec)
	key := testKey(t, 150, instrument.Call)
	watch.add(testAccount, key)

	id, _ := gw.PlaceOrder(context.Background(), testAccount, key, model.OrderSideBuyToOpen, 1, decimal.NewFromFloat(1.25), model.OrderTypeLimit)
	r.tick(context.Background())

	before, err := cache.GetOrder(testAccount, id)
	if err != nil {
		t.Fatal(err)
	}

	gw.FailNext(errors.New("gateway timeout"))
	r.tick(context.Background())

	after, err := cache.GetOrder(testAccount, id)
	if err != nil {
		t.Fatal("record evicted on transient failure")
	}
	if !after.LastSeen.Equal(before.LastSeen) {
		t.Error("lastSeen advanced on a failed poll")
	}
	if after.Status != model.OrderStatusWorking {
		t.Errorf("status changed to %s on a failed poll", after.Status)
	}
	if got := rec.ofType(model.EventTypeDegradedPoll); len(got) != 1 {
		t.Errorf("want one degraded poll event, got %d", len(got))
	}
	if r.paused.Load() {
		t.Error("transient failure must not pause the loop")
	}

	// Broker recovered: the next tick proceeds normally.
	r.tick(context.Background())
	if recovered, _ := cache.GetOrder(testAccount, id); recovered.LastSeen.Equal(before.LastSeen) {
		t.Error("recovered poll did not refresh lastSeen")
	}
}

func TestAuthExpiryPausesUntilResume(t *testing.T) {
	gw := newFakeGateway()
	rec := &eventRecorder{}
	var notified string
	cache := NewOrderCache(rec.emit)
	watch := newWatchSet()
	positions := newPositionBook()
	r := newReconciler(testAccount, gw, cache, watch, positions, Config{}.withDefaults(), logging.NewNopLogger(), rec.emit,
		func(accountID string, err error) { notified = accountID })

	key := testKey(t, 150, instrument.Call)
	watch.add(testAccount, key)

	gw.FailForever(&AuthExpiredError{Err: errors.New("token expired")})
	r.tick(context.Background())

	if !r.paused.Load() {
		t.Fatal("auth expiry must pause the loop")
	}
	if notified != testAccount {
		t.Errorf("auth callback account = %q", notified)
	}
	if got := rec.ofType(model.EventTypeDegradedPoll); len(got) != 1 {
		t.Errorf("want one degraded poll event, got %d", len(got))
	}

	gw.FailForever(nil)
	r.resume()
	if r.paused.Load() {
		t.Error("resume did not clear pause")
	}
}

func TestTrackerStopBlocksLateApply(t *testing.T) {
	gw := newFakeGateway()
	rec := &eventRecorder{}
	r, cache, watch, _ := newTestReconciler(gw, rec)
	key := testKey(t, 150, instrument.Call)
	watch.add(testAccount, key)

	gw.PlaceOrder(context.Background(), testAccount, key, model.OrderSideBuyToOpen, 1, decimal.NewFromFloat(1.25), model.OrderTypeLimit)

	r.stop()
	r.tick(context.Background())

	if len(cache.AllActive(testAccount)) != 0 {
		t.Error("tick applied results after stop")
	}
}

func TestTrackerFacadeLifecycle(t *testing.T) {
	gw := newFakeGateway()
	tr := New(gw, Config{PollInterval: 10 * time.Millisecond, ShutdownGrace: 500 * time.Millisecond}, logging.NewNopLogger())
	key := testKey(t, 150, instrument.Call)

	if err := tr.Subscribe(testAccount, key); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}

	id, err := tr.Place(context.Background(), testAccount, key, model.SimpleSideBuy, decimal.NewFromFloat(1.25), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.HasActiveOrder(testAccount, id) {
		t.Error("placed order not visible through facade")
	}

	newID, err := tr.Replace(context.Background(), testAccount, id, decimal.NewFromFloat(1.40))
	if err != nil {
		t.Fatal(err)
	}
	// The original id still answers while its successor is live.
	if !tr.HasActiveOrder(testAccount, id) {
		t.Error("replaced order id lost through lineage")
	}
	curr, err := tr.CurrentOrder(testAccount, id)
	if err != nil || curr.OrderID != newID {
		t.Errorf("CurrentOrder(%s) = %+v, %v", id, curr, err)
	}

	recs := tr.GetWorkingOrders(testAccount, key)
	if len(recs) != 1 || recs[0].OrderID != newID {
		t.Errorf("working orders: %+v", recs)
	}

	tr.Stop()
	// Stop is idempotent.
	tr.Stop()
}
