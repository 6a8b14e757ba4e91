package tracker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// RawOrder is the gateway's wire-level view of one broker order, before the
// tracker normalizes status and takes ownership of lifecycle fields.
type RawOrder struct {
	OrderID    string
	AccountID  string
	Instrument instrument.Key
	Side       model.OrderSide
	Quantity   int64
	Price      decimal.Decimal
	Type       model.OrderType
	Status     string // raw broker status string
	EnteredAt  time.Time
}

// BrokerGateway abstracts the remote brokerage. Every call is synchronous
// with the caller's context controlling timeout and cancellation.
// Implementations translate transport failures into the tracker error
// taxonomy: TransientGatewayError for anything retryable, AuthExpiredError
// when credentials need re-authentication.
type BrokerGateway interface {
	// ListWorkingOrders returns a full snapshot of the account's working
	// orders. The remote API offers no incremental feed.
	ListWorkingOrders(ctx context.Context, accountID string) ([]RawOrder, error)

	// GetOrder fetches one order by id regardless of status, used for
	// terminal-status lookup after an order leaves the working list.
	GetOrder(ctx context.Context, accountID, orderID string) (*RawOrder, error)

	// PlaceOrder submits a new order and returns the broker-assigned id.
	PlaceOrder(ctx context.Context, accountID string, key instrument.Key, side model.OrderSide, qty int64, price decimal.Decimal, orderType model.OrderType) (string, error)

	// ReplaceOrder amends the price of a working order. The broker cancels
	// the original and creates a successor; the new id is returned at call
	// time.
	ReplaceOrder(ctx context.Context, accountID, orderID string, newPrice decimal.Decimal) (string, error)

	CancelOrder(ctx context.Context, accountID, orderID string) error

	GetPositions(ctx context.Context, accountID string) (*model.PositionSnapshot, error)
}
