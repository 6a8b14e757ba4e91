package model

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
)

type OrderStatus string

const (
	OrderStatusWorking  OrderStatus = "WORKING"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusReplaced OrderStatus = "REPLACED"

	// OrderStatusLineageUnresolved marks a REPLACED order whose successor
	// could not be matched within the lookup window. Unhealthy but not
	// terminal; never conflated with FILLED or CANCELED.
	OrderStatusLineageUnresolved OrderStatus = "REPLACED_LINEAGE_UNRESOLVED"
)

// IsTerminal reports whether no further transition is valid.
// REPLACED is not terminal: the broker guarantees a successor order exists.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// IsWorking reports whether the broker still considers the order live.
// The broker reports several pre-working states (PENDING_ACTIVATION,
// ACCEPTED, QUEUED); NormalizeStatus folds those into WORKING.
func (s OrderStatus) IsWorking() bool {
	return s == OrderStatusWorking
}

// NormalizeStatus maps raw broker status strings onto the tracked set.
func NormalizeStatus(raw string) OrderStatus {
	switch raw {
	case "WORKING", "PENDING_ACTIVATION", "ACCEPTED", "QUEUED", "OPEN", "NEW":
		return OrderStatusWorking
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return OrderStatusCanceled
	case "EXPIRED":
		return OrderStatusExpired
	case "REJECTED":
		return OrderStatusRejected
	case "REPLACED":
		return OrderStatusReplaced
	}
	return OrderStatus(raw)
}

type OrderSide string

const (
	OrderSideBuyToOpen   OrderSide = "BUY_TO_OPEN"
	OrderSideBuyToClose  OrderSide = "BUY_TO_CLOSE"
	OrderSideSellToOpen  OrderSide = "SELL_TO_OPEN"
	OrderSideSellToClose OrderSide = "SELL_TO_CLOSE"
)

// SimpleSide is the caller-facing buy/sell intent before open/close
// classification against the position snapshot.
type SimpleSide string

const (
	SimpleSideBuy  SimpleSide = "BUY"
	SimpleSideSell SimpleSide = "SELL"
)

type DirectionClass string

const (
	DirectionOpening DirectionClass = "OPENING"
	DirectionClosing DirectionClass = "CLOSING"
)

// Direction returns the OPENING/CLOSING class of a side.
func (s OrderSide) Direction() DirectionClass {
	switch s {
	case OrderSideBuyToClose, OrderSideSellToClose:
		return DirectionClosing
	}
	return DirectionOpening
}

// ClosingSide returns the side that flattens a position opened with s.
func (s OrderSide) ClosingSide() OrderSide {
	if s == OrderSideBuyToOpen {
		return OrderSideSellToClose
	}
	return OrderSideBuyToClose
}

type OrderType string

const (
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderRecord is the canonical representation of one broker order. OrderID
// is broker-assigned and opaque; it is unique within an account at any
// instant but not stable across a replace.
type OrderRecord struct {
	OrderID    string
	AccountID  string
	Instrument instrument.Key
	Side       OrderSide
	Quantity   int64
	Price      decimal.Decimal
	Type       OrderType
	Status     OrderStatus

	DiscoveredAt time.Time
	LastSeen     time.Time

	// ReplacedBy holds the successor order id once lineage is resolved.
	ReplacedBy string
}

// Clone returns a copy safe to hand to callers.
func (r *OrderRecord) Clone() *OrderRecord {
	cp := *r
	return &cp
}
