package model

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
)

// Intents form a closed set of order-mutating commands. The transport layer
// validates and coerces its wire format into exactly one of these before
// anything reaches the core; the core never sees untyped fields.

type PlaceIntent struct {
	RequestID  string
	AccountID  string
	Instrument instrument.Key
	Side       SimpleSide
	Quantity   int64
	Price      decimal.Decimal
	Type       OrderType
	ReceivedAt time.Time
}

type ReplaceIntent struct {
	RequestID  string
	AccountID  string
	OrderID    string
	NewPrice   decimal.Decimal
	ReceivedAt time.Time
}

type CancelIntent struct {
	RequestID  string
	AccountID  string
	OrderID    string
	ReceivedAt time.Time
}
