package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// supersededCap bounds how many replaced records are retained per account
// for lineage lookup before eviction.
const supersededCap = 64

// OrderCache is the authoritative concurrency-safe store of active
// OrderRecords, keyed by (account, instrument). It never talks to the
// network: reads return snapshot copies, writes happen either through the
// reconciler's atomic tick application or the coordinator's synchronous
// mutations.
type OrderCache struct {
	mu sync.RWMutex

	// account -> instrument ID -> records in insertion/discovery order
	active map[string]map[string][]*model.OrderRecord
	// account -> orderID -> record (same records as active)
	byID map[string]map[string]*model.OrderRecord

	// recently superseded (REPLACED) records, retained briefly for lineage
	// lookup, bounded FIFO
	superseded map[string]*deque.Deque[*model.OrderRecord]
	// account -> old orderID -> successor orderID
	successors map[string]map[string]string

	// tick counters for REPLACED records still waiting on a lineage match
	lineageWait map[string]int // account|orderID -> ticks waited

	emit func(*model.OrderEvent)
}

// TickSummary reports what one reconciliation tick changed.
type TickSummary struct {
	Discovered int
	Updated    int
	Terminal   int
	Replaced   int
	Unresolved int
}

func NewOrderCache(emit func(*model.OrderEvent)) *OrderCache {
	if emit == nil {
		emit = func(*model.OrderEvent) {}
	}
	return &OrderCache{
		active:      make(map[string]map[string][]*model.OrderRecord),
		byID:        make(map[string]map[string]*model.OrderRecord),
		superseded:  make(map[string]*deque.Deque[*model.OrderRecord]),
		successors:  make(map[string]map[string]string),
		lineageWait: make(map[string]int),
		emit:        emit,
	}
}

// GetActive returns snapshot copies of the active records for one
// (account, instrument), in discovery order. Callers never receive a
// live-mutable reference.
func (c *OrderCache) GetActive(accountID string, key instrument.Key) []*model.OrderRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := c.active[accountID][key.ID()]
	out := make([]*model.OrderRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Clone())
	}
	return out
}

// AllActive returns snapshot copies of every active record for the account,
// sorted for stable display: PUT before CALL, then order id ascending.
func (c *OrderCache) AllActive(accountID string) []*model.OrderRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*model.OrderRecord
	for _, recs := range c.active[accountID] {
		for _, r := range recs {
			out = append(out, r.Clone())
		}
	}
	SortRecords(out)
	return out
}

// ActiveInstruments returns the instrument keys that currently hold active
// records for the account.
func (c *OrderCache) ActiveInstruments(accountID string) []instrument.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []instrument.Key
	for _, recs := range c.active[accountID] {
		if len(recs) > 0 {
			out = append(out, recs[0].Instrument)
		}
	}
	return out
}

// HasActiveOrder reports whether the order id is in the active set.
func (c *OrderCache) HasActiveOrder(accountID, orderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.byID[accountID][orderID]
	return ok
}

// GetOrder returns a copy of the active record by id.
func (c *OrderCache) GetOrder(accountID, orderID string) (*model.OrderRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.byID[accountID][orderID]
	if !ok {
		return nil, errOrderNotFound
	}
	return r.Clone(), nil
}

// Successor resolves the replace lineage of an order id: it follows the
// superseded chain and returns the currently active descendant, if any.
func (c *OrderCache) Successor(accountID, orderID string) (*model.OrderRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	curr := orderID
	for {
		next, ok := c.successors[accountID][curr]
		if !ok {
			break
		}
		curr = next
	}
	if curr == orderID {
		return nil, false
	}
	if r, ok := c.byID[accountID][curr]; ok {
		return r.Clone(), true
	}
	return nil, false
}

// Upsert inserts or replaces a record by order id. A record arriving in a
// terminal status is removed from the active set and a terminal event is
// emitted. Account and order ids must be non-empty; violations are
// programmer errors, not runtime conditions.
func (c *OrderCache) Upsert(rec *model.OrderRecord) error {
	if rec == nil || rec.AccountID == "" {
		return errUnknownAccount
	}
	if rec.OrderID == "" {
		return errOrderNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.Status.IsTerminal() {
		if existing, ok := c.byID[rec.AccountID][rec.OrderID]; ok {
			existing.Status = rec.Status
			existing.LastSeen = rec.LastSeen
			c.removeLocked(rec.AccountID, rec.OrderID)
			c.emit(model.NewOrderEventTerminal(existing, rec.LastSeen))
		}
		return nil
	}

	if existing, ok := c.byID[rec.AccountID][rec.OrderID]; ok {
		existing.Status = rec.Status
		existing.Price = rec.Price
		existing.Quantity = rec.Quantity
		existing.LastSeen = rec.LastSeen
		return nil
	}

	c.insertLocked(rec.Clone())
	return nil
}

// RemoveByOrderID drops an order from the active set, used after cancel
// confirmation. Returns false when the id is not active.
func (c *OrderCache) RemoveByOrderID(accountID, orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[accountID][orderID]; !ok {
		return false
	}
	c.removeLocked(accountID, orderID)
	return true
}

// Supersede applies a confirmed replace synchronously: the old record is
// marked REPLACED and retained for lineage, the successor id becomes a
// WORKING record at the new price. This is the one mutation path outside
// the reconciler allowed to rewrite lineage, because the broker confirms
// the new id at call time.
func (c *OrderCache) Supersede(accountID, oldID, newID string, newPrice decimal.Decimal, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.byID[accountID][oldID]
	if !ok {
		return errOrderNotFound
	}

	old.Status = model.OrderStatusReplaced
	old.ReplacedBy = newID
	old.LastSeen = now
	c.removeLocked(accountID, oldID)
	c.retainSupersededLocked(accountID, old, newID)

	succ := old.Clone()
	succ.OrderID = newID
	succ.Status = model.OrderStatusWorking
	succ.Price = newPrice
	succ.ReplacedBy = ""
	succ.DiscoveredAt = now
	succ.LastSeen = now
	c.insertLocked(succ)

	c.emit(model.NewOrderEventReplaced(old, newID, now))
	return nil
}

// FindLineage returns the best successor candidate for a REPLACED record:
// the most recently discovered active record for the same
// account+instrument+side whose discovery time is at or after the replaced
// record's last-seen time and whose id differs. Ties on discovery time
// break toward the lowest order id. Best-effort; returns nil when no
// candidate qualifies.
func (c *OrderCache) FindLineage(accountID string, key instrument.Key, side model.OrderSide, excludeID string, after time.Time) *model.OrderRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cand := c.findLineageLocked(accountID, key, side, excludeID, after); cand != nil {
		return cand.Clone()
	}
	return nil
}

func (c *OrderCache) findLineageLocked(accountID string, key instrument.Key, side model.OrderSide, excludeID string, after time.Time) *model.OrderRecord {
	var best *model.OrderRecord
	for _, r := range c.active[accountID][key.ID()] {
		if r.OrderID == excludeID || r.Side != side {
			continue
		}
		if r.Status != model.OrderStatusWorking {
			continue
		}
		if r.DiscoveredAt.Before(after) {
			continue
		}
		if best == nil ||
			r.DiscoveredAt.After(best.DiscoveredAt) ||
			(r.DiscoveredAt.Equal(best.DiscoveredAt) && orderIDLess(r.OrderID, best.OrderID)) {
			best = r
		}
	}
	return best
}

// ApplyTick merges one poll snapshot for one (account, instrument) into the
// cache atomically: readers see either the pre-tick or the post-tick state.
// snapshot holds the broker's current working orders for the instrument;
// resolved holds the looked-up statuses for orders that left the working
// list. Orders absent from both snapshot and resolved are left untouched
// (their lookup failed; the next tick retries).
func (c *OrderCache) ApplyTick(accountID string, key instrument.Key, snapshot []*model.OrderRecord, resolved map[string]model.OrderStatus, now time.Time, lineageWindowTicks int) TickSummary {
	var sum TickSummary

	c.mu.Lock()
	defer c.mu.Unlock()

	inSnapshot := make(map[string]bool, len(snapshot))
	for _, s := range snapshot {
		inSnapshot[s.OrderID] = true

		if existing, ok := c.byID[accountID][s.OrderID]; ok {
			existing.Status = s.Status
			existing.Price = s.Price
			existing.Quantity = s.Quantity
			existing.LastSeen = now
			sum.Updated++
			continue
		}

		// Newly discovered: placed by another client or a prior session.
		rec := s.Clone()
		rec.DiscoveredAt = now
		rec.LastSeen = now
		c.insertLocked(rec)
		c.emit(model.NewOrderEventDiscovered(rec, now))
		sum.Discovered++
	}

	// Walk a copy: removals mutate the slice.
	current := append([]*model.OrderRecord(nil), c.active[accountID][key.ID()]...)
	for _, rec := range current {
		if inSnapshot[rec.OrderID] {
			delete(c.lineageWait, waitKey(accountID, rec.OrderID))
			continue
		}

		status, ok := resolved[rec.OrderID]
		if !ok {
			continue
		}

		switch {
		case status.IsTerminal():
			rec.Status = status
			rec.LastSeen = now
			c.removeLocked(accountID, rec.OrderID)
			delete(c.lineageWait, waitKey(accountID, rec.OrderID))
			c.emit(model.NewOrderEventTerminal(rec, now))
			sum.Terminal++

		case status == model.OrderStatusReplaced:
			cand := c.findLineageLocked(accountID, key, rec.Side, rec.OrderID, rec.LastSeen)
			if cand != nil {
				rec.Status = model.OrderStatusReplaced
				rec.ReplacedBy = cand.OrderID
				c.removeLocked(accountID, rec.OrderID)
				c.retainSupersededLocked(accountID, rec, cand.OrderID)
				delete(c.lineageWait, waitKey(accountID, rec.OrderID))
				c.emit(model.NewOrderEventReplaced(rec, cand.OrderID, now))
				sum.Replaced++
				continue
			}

			wk := waitKey(accountID, rec.OrderID)
			c.lineageWait[wk]++
			if c.lineageWait[wk] > lineageWindowTicks {
				if rec.Status != model.OrderStatusLineageUnresolved {
					rec.Status = model.OrderStatusLineageUnresolved
					c.emit(model.NewOrderEventLineageUnresolved(rec, now))
					sum.Unresolved++
				}
			} else {
				rec.Status = model.OrderStatusReplaced
			}

		case status == model.OrderStatusWorking:
			// Listing raced the lookup; the order is still live.
			rec.LastSeen = now
		}
	}

	return sum
}

func (c *OrderCache) insertLocked(rec *model.OrderRecord) {
	if c.active[rec.AccountID] == nil {
		c.active[rec.AccountID] = make(map[string][]*model.OrderRecord)
		c.byID[rec.AccountID] = make(map[string]*model.OrderRecord)
	}
	id := rec.Instrument.ID()
	c.active[rec.AccountID][id] = append(c.active[rec.AccountID][id], rec)
	c.byID[rec.AccountID][rec.OrderID] = rec
}

func (c *OrderCache) removeLocked(accountID, orderID string) {
	rec, ok := c.byID[accountID][orderID]
	if !ok {
		return
	}
	delete(c.byID[accountID], orderID)

	id := rec.Instrument.ID()
	recs := c.active[accountID][id]
	for i, r := range recs {
		if r.OrderID == orderID {
			c.active[accountID][id] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	if len(c.active[accountID][id]) == 0 {
		delete(c.active[accountID], id)
	}
}

func (c *OrderCache) retainSupersededLocked(accountID string, rec *model.OrderRecord, successorID string) {
	dq := c.superseded[accountID]
	if dq == nil {
		dq = &deque.Deque[*model.OrderRecord]{}
		c.superseded[accountID] = dq
	}
	dq.PushBack(rec)
	for dq.Len() > supersededCap {
		evicted := dq.PopFront()
		delete(c.successors[accountID], evicted.OrderID)
	}

	if c.successors[accountID] == nil {
		c.successors[accountID] = make(map[string]string)
	}
	c.successors[accountID][rec.OrderID] = successorID
}

func waitKey(accountID, orderID string) string {
	return accountID + "|" + orderID
}

// SortRecords orders records for stable display: PUT before CALL, then
// order id ascending.
func SortRecords(recs []*model.OrderRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		ri, rj := recs[i].Instrument.Right, recs[j].Instrument.Right
		if ri != rj {
			return ri == instrument.Put
		}
		return orderIDLess(recs[i].OrderID, recs[j].OrderID)
	})
}

// orderIDLess compares broker order ids numerically when both are plain
// digit strings, lexically otherwise.
func orderIDLess(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
