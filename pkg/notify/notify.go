// Package notify fans tracker events out to external sinks so the UI layer
// and the history worker can consume lifecycle transitions without touching
// the core.
package notify

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/viktarcynam/zensch/pkg/logging"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
	"go.uber.org/zap"
)

// Sink delivers one order event to an external system.
type Sink interface {
	Publish(ctx context.Context, ev *model.OrderEvent) error
	Close() error
}

// Fanout drains the tracker's event channel and publishes every event to
// all configured sinks. A failing sink is logged and skipped; it never
// blocks the other sinks or the tracker.
type Fanout struct {
	sinks []Sink
	log   *logging.Logger
}

func NewFanout(log *logging.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Fanout{sinks: sinks, log: log}
}

// Run consumes events until the context is canceled or the channel closes.
func (f *Fanout) Run(ctx context.Context, events <-chan *model.OrderEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, s := range f.sinks {
				if err := s.Publish(ctx, ev); err != nil {
					f.log.Warn(ctx, "sink publish failed",
						zap.String("event_id", ev.EventID), zap.Error(err))
				}
			}
		}
	}
}

func (f *Fanout) Close() {
	for _, s := range f.sinks {
		_ = s.Close()
	}
}

// NatsSink publishes events to a JetStream subject; the history worker
// consumes them durably on the other side.
type NatsSink struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

func NewNatsSink(url, stream, subject string) (*NatsSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{stream + ".*"},
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, err
	}
	return &NatsSink{nc: nc, js: js, subject: subject}, nil
}

func (s *NatsSink) Publish(_ context.Context, ev *model.OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.js.Publish(s.subject, b)
	return err
}

func (s *NatsSink) Close() error {
	s.nc.Close()
	return nil
}

// RedisSink publishes events on a pub/sub channel for lightweight UI
// subscribers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Publish(ctx context.Context, ev *model.OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, b).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
