package history

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// Worker drains tracker events from JetStream into the history table.
type Worker struct {
	repo IRepo
}

func NewWorker(repo IRepo) *Worker {
	return &Worker{
		repo: repo,
	}
}

func (w *Worker) StartConsumer(ctx context.Context, js nats.JetStreamContext, subject, durable string) error {
	cons, err := js.PullSubscribe(subject, durable)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := cons.Fetch(10, nats.Context(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nats.ErrTimeout {
				zap.S().Warnf("fetch error: %v", err)
			}
			continue
		}

		for _, msg := range msgs {
			var ev model.OrderEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				zap.S().Warnf("unmarshal err: %v", err)
				_ = msg.Ack()
				continue
			}
			if err := w.handleEvent(ctx, &ev); err != nil {
				zap.S().Warnf("handleEvent err: %v", err)
				continue
			}
			_ = msg.Ack()
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev *model.OrderEvent) error {
	_, err := w.repo.Create(ctx, rowFromEvent(ev))
	return err
}

func rowFromEvent(ev *model.OrderEvent) *OrderEventRow {
	return &OrderEventRow{
		EventID:     ev.EventID,
		Type:        string(ev.Type),
		AccountID:   ev.AccountID,
		OrderID:     ev.OrderID,
		Instrument:  ev.Instrument,
		Side:        string(ev.Side),
		Status:      string(ev.Status),
		Quantity:    ev.Quantity,
		Price:       ev.Price,
		SuccessorID: ev.SuccessorID,
		Reason:      ev.Reason,
		Timestamp:   ev.Timestamp,
	}
}
