package tracker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

const testAccount = "ACC1"

func testKey(t *testing.T, strike float64, right instrument.Right) instrument.Key {
	t.Helper()
	k, err := instrument.New("AAPL", decimal.NewFromFloat(strike), "2025-06-20", right)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func workingRecord(orderID string, key instrument.Key, side model.OrderSide, qty int64, price float64, at time.Time) *model.OrderRecord {
	return &model.OrderRecord{
		OrderID:      orderID,
		AccountID:    testAccount,
		Instrument:   key,
		Side:         side,
		Quantity:     qty,
		Price:        decimal.NewFromFloat(price),
		Type:         model.OrderTypeLimit,
		Status:       model.OrderStatusWorking,
		DiscoveredAt: at,
		LastSeen:     at,
	}
}

type eventRecorder struct {
	events []*model.OrderEvent
}

func (e *eventRecorder) emit(ev *model.OrderEvent) {
	e.events = append(e.events, ev)
}

func (e *eventRecorder) ofType(typ model.EventType) []*model.OrderEvent {
	var out []*model.OrderEvent
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestUpsertUniqueByOrderID(t *testing.T) {
	cache := NewOrderCache(nil)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	rec := workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, now)
	if err := cache.Upsert(rec); err != nil {
		t.Fatal(err)
	}

	// Same id again updates in place, never duplicates.
	again := workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.30, now.Add(time.Second))
	if err := cache.Upsert(again); err != nil {
		t.Fatal(err)
	}

	recs := cache.GetActive(testAccount, key)
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	if recs[0].Price.String() != "1.3" {
		t.Errorf("price not updated: %s", recs[0].Price)
	}
}

func TestGetActiveReturnsCopies(t *testing.T) {
	cache := NewOrderCache(nil)
	key := testKey(t, 150, instrument.Call)
	cache.Upsert(workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, time.Now()))

	recs := cache.GetActive(testAccount, key)
	recs[0].Price = decimal.NewFromInt(999)
	recs[0].Status = model.OrderStatusFilled

	fresh, err := cache.GetOrder(testAccount, "1001")
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.Price.Equal(decimal.NewFromFloat(1.25)) || fresh.Status != model.OrderStatusWorking {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestApplyTickDiscoversAndUpdates(t *testing.T) {
	rec := &eventRecorder{}
	cache := NewOrderCache(rec.emit)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	snapshot := []*model.OrderRecord{
		workingRecord("2001", key, model.OrderSideSellToOpen, 2, 3.10, now),
	}
	sum := cache.ApplyTick(testAccount, key, snapshot, nil, now, 3)
	if sum.Discovered != 1 {
		t.Fatalf("want 1 discovered, got %+v", sum)
	}
	if got := rec.ofType(model.EventTypeDiscovered); len(got) != 1 || got[0].OrderID != "2001" {
		t.Fatalf("discovery event missing: %+v", got)
	}

	// Identical snapshot again: no new discoveries, lastSeen advances.
	later := now.Add(2 * time.Second)
	sum = cache.ApplyTick(testAccount, key, snapshot, nil, later, 3)
	if sum.Discovered != 0 || sum.Updated != 1 {
		t.Fatalf("idempotent reapply changed state: %+v", sum)
	}
	r, _ := cache.GetOrder(testAccount, "2001")
	if !r.LastSeen.Equal(later) {
		t.Error("lastSeen not advanced on re-observation")
	}
	if len(rec.ofType(model.EventTypeDiscovered)) != 1 {
		t.Error("re-observation emitted a duplicate discovery event")
	}
}

func TestApplyTickTerminalExactlyOnce(t *testing.T) {
	rec := &eventRecorder{}
	cache := NewOrderCache(rec.emit)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("2001", key, model.OrderSideBuyToOpen, 1, 1.25, now))

	resolved := map[string]model.OrderStatus{"2001": model.OrderStatusFilled}
	sum := cache.ApplyTick(testAccount, key, nil, resolved, now.Add(time.Second), 3)
	if sum.Terminal != 1 {
		t.Fatalf("want 1 terminal, got %+v", sum)
	}
	if cache.HasActiveOrder(testAccount, "2001") {
		t.Error("terminal order still active")
	}

	// The order is gone; a repeat tick must not emit again.
	cache.ApplyTick(testAccount, key, nil, resolved, now.Add(2*time.Second), 3)
	if got := rec.ofType(model.EventTypeTerminal); len(got) != 1 {
		t.Errorf("want exactly one terminal event, got %d", len(got))
	}
	if got := rec.ofType(model.EventTypeTerminal)[0]; got.Status != model.OrderStatusFilled {
		t.Errorf("terminal status = %s", got.Status)
	}
}

func TestApplyTickUnresolvedLookupLeavesRecord(t *testing.T) {
	cache := NewOrderCache(nil)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("2001", key, model.OrderSideBuyToOpen, 1, 1.25, now))

	// Order left the working list but the lookup failed: absent from both
	// snapshot and resolved. Last known good state must survive untouched.
	cache.ApplyTick(testAccount, key, nil, nil, now.Add(time.Second), 3)

	r, err := cache.GetOrder(testAccount, "2001")
	if err != nil {
		t.Fatal("record evicted on failed lookup")
	}
	if !r.LastSeen.Equal(now) {
		t.Error("lastSeen advanced without observation")
	}
	if r.Status != model.OrderStatusWorking {
		t.Errorf("status changed to %s without evidence", r.Status)
	}
}

func TestSupersedeKeepsLineage(t *testing.T) {
	rec := &eventRecorder{}
	cache := NewOrderCache(rec.emit)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, now))

	newPrice := decimal.NewFromFloat(1.35)
	if err := cache.Supersede(testAccount, "1001", "1002", newPrice, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	if cache.HasActiveOrder(testAccount, "1001") {
		t.Error("replaced order still active")
	}
	succ, ok := cache.Successor(testAccount, "1001")
	if !ok || succ.OrderID != "1002" {
		t.Fatalf("lineage lost: %+v", succ)
	}
	if !succ.Price.Equal(newPrice) {
		t.Errorf("successor price = %s", succ.Price)
	}
	if got := rec.ofType(model.EventTypeReplaced); len(got) != 1 || got[0].SuccessorID != "1002" {
		t.Errorf("replace event wrong: %+v", got)
	}
}

func TestSuccessorFollowsChain(t *testing.T) {
	cache := NewOrderCache(nil)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, now))
	cache.Supersede(testAccount, "1001", "1002", decimal.NewFromFloat(1.30), now.Add(time.Second))
	cache.Supersede(testAccount, "1002", "1003", decimal.NewFromFloat(1.35), now.Add(2*time.Second))

	succ, ok := cache.Successor(testAccount, "1001")
	if !ok || succ.OrderID != "1003" {
		t.Fatalf("chain resolution failed: %+v", succ)
	}
}

func TestApplyTickResolvesReplaceLineage(t *testing.T) {
	rec := &eventRecorder{}
	cache := NewOrderCache(rec.emit)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, now))

	// Next poll: 1001 gone (REPLACED), successor 1002 appears in the
	// working list at a new price.
	later := now.Add(2 * time.Second)
	snapshot := []*model.OrderRecord{
		workingRecord("1002", key, model.OrderSideBuyToOpen, 1, 1.35, later),
	}
	resolved := map[string]model.OrderStatus{"1001": model.OrderStatusReplaced}
	sum := cache.ApplyTick(testAccount, key, snapshot, resolved, later, 3)
	if sum.Discovered != 1 || sum.Replaced != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	succ, ok := cache.Successor(testAccount, "1001")
	if !ok || succ.OrderID != "1002" {
		t.Fatalf("lineage not resolved: %+v", succ)
	}
	if got := rec.ofType(model.EventTypeTerminal); len(got) != 0 {
		t.Error("replace must not be reported terminal")
	}
}

func TestApplyTickLineageTieBreaksLowestID(t *testing.T) {
	cache := NewOrderCache(nil)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, now))

	later := now.Add(2 * time.Second)
	snapshot := []*model.OrderRecord{
		workingRecord("1005", key, model.OrderSideBuyToOpen, 1, 1.30, later),
		workingRecord("1003", key, model.OrderSideBuyToOpen, 1, 1.35, later),
	}
	resolved := map[string]model.OrderStatus{"1001": model.OrderStatusReplaced}
	cache.ApplyTick(testAccount, key, snapshot, resolved, later, 3)

	succ, ok := cache.Successor(testAccount, "1001")
	if !ok || succ.OrderID != "1003" {
		t.Fatalf("tie should break to lowest id, got %+v", succ)
	}
}

func TestApplyTickLineageUnresolvedAfterWindow(t *testing.T) {
	rec := &eventRecorder{}
	cache := NewOrderCache(rec.emit)
	key := testKey(t, 150, instrument.Call)
	now := time.Now()

	cache.Upsert(workingRecord("1001", key, model.OrderSideBuyToOpen, 1, 1.25, now))

	resolved := map[string]model.OrderStatus{"1001": model.OrderStatusReplaced}
	window := 2
	for i := 1; i <= window+1; i++ {
		cache.ApplyTick(testAccount, key, nil, resolved, now.Add(time.Duration(i)*time.Second), window)
	}

	r, err := cache.GetOrder(testAccount, "1001")
	if err != nil {
		t.Fatal("record must survive as unresolved, not vanish")
	}
	if r.Status != model.OrderStatusLineageUnresolved {
		t.Errorf("status = %s", r.Status)
	}
	if got := rec.ofType(model.EventTypeLineageUnmatched); len(got) != 1 {
		t.Errorf("want exactly one unresolved event, got %d", len(got))
	}
	if got := rec.ofType(model.EventTypeTerminal); len(got) != 0 {
		t.Error("unresolved lineage must never be conflated with terminal")
	}
}

func TestSortRecordsPutBeforeCall(t *testing.T) {
	call := testKey(t, 150, instrument.Call)
	put := testKey(t, 150, instrument.Put)
	now := time.Now()

	recs := []*model.OrderRecord{
		workingRecord("1003", call, model.OrderSideBuyToOpen, 1, 1.0, now),
		workingRecord("1002", put, model.OrderSideBuyToOpen, 1, 1.0, now),
		workingRecord("999", call, model.OrderSideBuyToOpen, 1, 1.0, now),
	}
	SortRecords(recs)

	got := []string{recs[0].OrderID, recs[1].OrderID, recs[2].OrderID}
	want := []string{"1002", "999", "1003"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
