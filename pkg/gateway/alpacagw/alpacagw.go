// Package alpacagw implements the broker gateway over the Alpaca trading
// API. Option contracts travel as OCC symbols; Alpaca's order statuses are
// folded into the tracker's raw status vocabulary.
package alpacagw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/viktarcynam/zensch/pkg/instrument"
	"github.com/viktarcynam/zensch/pkg/tracker"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// Compile-time interface check.
var _ tracker.BrokerGateway = (*Gateway)(nil)

type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// AccountID is the logical account id the tracker uses; the Alpaca
	// client itself is credential-scoped to one account.
	AccountID string
}

type Gateway struct {
	client    *alpaca.Client
	accountID string
}

func New(cfg Config) *Gateway {
	return &Gateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		accountID: cfg.AccountID,
	}
}

func (g *Gateway) checkAccount(accountID string) error {
	if accountID != g.accountID {
		return fmt.Errorf("account %s not served by this gateway", accountID)
	}
	return nil
}

func (g *Gateway) ListWorkingOrders(_ context.Context, accountID string) ([]tracker.RawOrder, error) {
	if err := g.checkAccount(accountID); err != nil {
		return nil, err
	}

	orders, err := g.client.GetOrders(alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  100,
	})
	if err != nil {
		return nil, classify(err)
	}

	out := make([]tracker.RawOrder, 0, len(orders))
	for i := range orders {
		raw, err := g.mapOrder(&orders[i])
		if err != nil {
			// Non-option orders (plain equities) are outside the tracked
			// universe.
			continue
		}
		out = append(out, *raw)
	}
	return out, nil
}

func (g *Gateway) GetOrder(_ context.Context, accountID, orderID string) (*tracker.RawOrder, error) {
	if err := g.checkAccount(accountID); err != nil {
		return nil, err
	}

	o, err := g.client.GetOrder(orderID)
	if err != nil {
		return nil, classify(err)
	}
	raw, err := g.mapOrder(o)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (g *Gateway) PlaceOrder(_ context.Context, accountID string, key instrument.Key, side model.OrderSide, qty int64, price decimal.Decimal, orderType model.OrderType) (string, error) {
	if err := g.checkAccount(accountID); err != nil {
		return "", err
	}
	if orderType != model.OrderTypeLimit {
		return "", fmt.Errorf("unsupported order type %s", orderType)
	}

	q := decimal.NewFromInt(qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:         key.OCC(),
		Qty:            &q,
		Side:           alpacaSide(side),
		Type:           alpaca.Limit,
		LimitPrice:     &price,
		TimeInForce:    alpaca.Day,
		PositionIntent: alpacaIntent(side),
	}

	o, err := g.client.PlaceOrder(req)
	if err != nil {
		return "", classify(err)
	}
	return o.ID, nil
}

func (g *Gateway) ReplaceOrder(_ context.Context, accountID, orderID string, newPrice decimal.Decimal) (string, error) {
	if err := g.checkAccount(accountID); err != nil {
		return "", err
	}

	o, err := g.client.ReplaceOrder(orderID, alpaca.ReplaceOrderRequest{
		LimitPrice: &newPrice,
	})
	if err != nil {
		return "", classify(err)
	}
	return o.ID, nil
}

func (g *Gateway) CancelOrder(_ context.Context, accountID, orderID string) error {
	if err := g.checkAccount(accountID); err != nil {
		return err
	}
	if err := g.client.CancelOrder(orderID); err != nil {
		return classify(err)
	}
	return nil
}

func (g *Gateway) GetPositions(_ context.Context, accountID string) (*model.PositionSnapshot, error) {
	if err := g.checkAccount(accountID); err != nil {
		return nil, err
	}

	positions, err := g.client.GetPositions()
	if err != nil {
		return nil, classify(err)
	}

	snap := model.NewPositionSnapshot(accountID)
	for i := range positions {
		p := &positions[i]
		key, err := instrument.ParseOCC(p.Symbol)
		if err != nil {
			continue
		}
		qty := p.Qty.IntPart()
		if strings.EqualFold(string(p.Side), "short") && qty > 0 {
			qty = -qty
		}
		snap.Set(key, qty)
	}
	return snap, nil
}

func (g *Gateway) mapOrder(o *alpaca.Order) (*tracker.RawOrder, error) {
	key, err := instrument.ParseOCC(o.Symbol)
	if err != nil {
		return nil, err
	}

	qty := int64(0)
	if o.Qty != nil {
		qty = o.Qty.IntPart()
	}
	price := decimal.Zero
	if o.LimitPrice != nil {
		price = *o.LimitPrice
	}

	return &tracker.RawOrder{
		OrderID:    o.ID,
		AccountID:  g.accountID,
		Instrument: key,
		Side:       trackerSide(o),
		Quantity:   qty,
		Price:      price,
		Type:       model.OrderTypeLimit,
		Status:     rawStatus(o.Status),
		EnteredAt:  o.CreatedAt,
	}, nil
}

func alpacaSide(side model.OrderSide) alpaca.Side {
	switch side {
	case model.OrderSideBuyToOpen, model.OrderSideBuyToClose:
		return alpaca.Buy
	}
	return alpaca.Sell
}

func alpacaIntent(side model.OrderSide) alpaca.PositionIntent {
	switch side {
	case model.OrderSideBuyToOpen:
		return alpaca.BuyToOpen
	case model.OrderSideBuyToClose:
		return alpaca.BuyToClose
	case model.OrderSideSellToOpen:
		return alpaca.SellToOpen
	}
	return alpaca.SellToClose
}

func trackerSide(o *alpaca.Order) model.OrderSide {
	switch o.PositionIntent {
	case alpaca.BuyToOpen:
		return model.OrderSideBuyToOpen
	case alpaca.BuyToClose:
		return model.OrderSideBuyToClose
	case alpaca.SellToOpen:
		return model.OrderSideSellToOpen
	case alpaca.SellToClose:
		return model.OrderSideSellToClose
	}
	// Orders placed by clients that omit position intent: fall back to the
	// bare side and let the reconciler treat it as opening.
	if o.Side == alpaca.Buy {
		return model.OrderSideBuyToOpen
	}
	return model.OrderSideSellToOpen
}

// rawStatus folds Alpaca's status vocabulary onto the broker-raw strings
// the tracker normalizes.
func rawStatus(status string) string {
	switch strings.ToLower(status) {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "partially_filled", "held":
		return "WORKING"
	case "filled":
		return "FILLED"
	case "canceled", "pending_cancel", "stopped", "done_for_day":
		return "CANCELED"
	case "expired":
		return "EXPIRED"
	case "rejected", "suspended":
		return "REJECTED"
	case "replaced", "pending_replace":
		return "REPLACED"
	}
	return strings.ToUpper(status)
}

// classify folds Alpaca transport errors into the tracker taxonomy:
// credential failures pause the poll loop, everything else retries.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return &tracker.AuthExpiredError{Err: err}
		}
	}
	return &tracker.TransientGatewayError{Err: err}
}
