package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeDiscovered       EventType = "DISCOVERED"
	EventTypeTerminal         EventType = "TERMINAL"
	EventTypeReplaced         EventType = "REPLACED"
	EventTypeLineageUnmatched EventType = "LINEAGE_UNRESOLVED"
	EventTypeDegradedPoll     EventType = "DEGRADED_POLL"
)

// OrderEvent is emitted by the tracker on lifecycle transitions and poll
// degradation. Events are serialized onto the notify sinks, so every field
// carries a json tag.
type OrderEvent struct {
	EventID     string          `json:"event_id"`
	Type        EventType       `json:"type"`
	AccountID   string          `json:"account_id"`
	OrderID     string          `json:"order_id"`
	Instrument  string          `json:"instrument,omitempty"`
	Side        OrderSide       `json:"side,omitempty"`
	Status      OrderStatus     `json:"status,omitempty"`
	Quantity    int64           `json:"quantity,omitempty"`
	Price       decimal.Decimal `json:"price,omitempty"`
	SuccessorID string          `json:"successor_id,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewOrderEventDiscovered(r *OrderRecord, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:    NewEventID(r.OrderID, string(EventTypeDiscovered)),
		Type:       EventTypeDiscovered,
		AccountID:  r.AccountID,
		OrderID:    r.OrderID,
		Instrument: r.Instrument.ID(),
		Side:       r.Side,
		Status:     r.Status,
		Quantity:   r.Quantity,
		Price:      r.Price,
		Timestamp:  ts,
	}
}

func NewOrderEventTerminal(r *OrderRecord, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:    NewEventID(r.OrderID, string(r.Status)),
		Type:       EventTypeTerminal,
		AccountID:  r.AccountID,
		OrderID:    r.OrderID,
		Instrument: r.Instrument.ID(),
		Side:       r.Side,
		Status:     r.Status,
		Quantity:   r.Quantity,
		Price:      r.Price,
		Timestamp:  ts,
	}
}

func NewOrderEventReplaced(r *OrderRecord, successorID string, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:     NewEventID(r.OrderID, string(EventTypeReplaced)),
		Type:        EventTypeReplaced,
		AccountID:   r.AccountID,
		OrderID:     r.OrderID,
		Instrument:  r.Instrument.ID(),
		Side:        r.Side,
		Status:      OrderStatusReplaced,
		SuccessorID: successorID,
		Timestamp:   ts,
	}
}

func NewOrderEventLineageUnresolved(r *OrderRecord, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:    NewEventID(r.OrderID, string(EventTypeLineageUnmatched)),
		Type:       EventTypeLineageUnmatched,
		AccountID:  r.AccountID,
		OrderID:    r.OrderID,
		Instrument: r.Instrument.ID(),
		Side:       r.Side,
		Status:     OrderStatusLineageUnresolved,
		Reason:     "no successor order matched within lookup window",
		Timestamp:  ts,
	}
}

func NewOrderEventDegradedPoll(accountID, reason string, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:   NewEventID(accountID, fmt.Sprintf("degraded-%d", ts.UnixNano())),
		Type:      EventTypeDegradedPoll,
		AccountID: accountID,
		Reason:    reason,
		Timestamp: ts,
	}
}

func NewEventID(orderID, suffix string) string {
	return fmt.Sprintf("%s-%s", orderID, suffix)
}
