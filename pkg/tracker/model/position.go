package model

import "github.com/viktarcynam/zensch/pkg/instrument"

// PositionSnapshot holds signed per-instrument quantities for one account:
// positive = long, negative = short. Read-only input from the broker, used
// only to gate closing actions and classify open-vs-close.
type PositionSnapshot struct {
	AccountID  string
	Quantities map[string]int64 // instrument key ID -> signed contracts
}

func NewPositionSnapshot(accountID string) *PositionSnapshot {
	return &PositionSnapshot{
		AccountID:  accountID,
		Quantities: make(map[string]int64),
	}
}

func (p *PositionSnapshot) Set(key instrument.Key, qty int64) {
	p.Quantities[key.ID()] = qty
}

// Quantity returns the signed position for the instrument, zero when flat.
func (p *PositionSnapshot) Quantity(key instrument.Key) int64 {
	if p == nil {
		return 0
	}
	return p.Quantities[key.ID()]
}

// ClassifySide resolves a simple buy/sell intent against the current
// position: BUY covers a short, otherwise opens; SELL closes a long,
// otherwise opens short.
func (p *PositionSnapshot) ClassifySide(key instrument.Key, simple SimpleSide) OrderSide {
	qty := p.Quantity(key)
	if simple == SimpleSideBuy {
		if qty < 0 {
			return OrderSideBuyToClose
		}
		return OrderSideBuyToOpen
	}
	if qty > 0 {
		return OrderSideSellToClose
	}
	return OrderSideSellToOpen
}
