package notify

import (
	"context"

	kafkawrapper "github.com/viktarcynam/zensch/pkg/kafka_wrapper"
	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// KafkaSink publishes events to a Kafka topic, keyed by account so one
// account's events stay ordered within a partition.
type KafkaSink struct {
	prod  *kafkawrapper.Producer
	topic string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		prod:  kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{Brokers: brokers}),
		topic: topic,
	}
}

func (s *KafkaSink) Publish(ctx context.Context, ev *model.OrderEvent) error {
	return s.prod.PublishJSON(ctx, s.topic, ev.AccountID, ev, nil)
}

func (s *KafkaSink) Close() error {
	return s.prod.Close(context.Background())
}
