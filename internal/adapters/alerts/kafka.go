package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "stability-alerts"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes terminal stability alerts, keyed by order id so
// that all alerts of one order land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

var _ ports.AlertPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: topic}, nil
}

func (p *KafkaPublisher) PublishStabilityAlert(ctx context.Context, alert domain.StabilityAlert) (err error) {
	defer obs.Time(ctx, "kafka.PublishStabilityAlert")(&err)

	msg, err := alertMessage(ctx, alert)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert to topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func alertMessage(ctx context.Context, alert domain.StabilityAlert) (kafka.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(uuid.NewString())},
			{Key: "alert", Value: []byte(alert.Alert)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: alert.OccurredAt,
	}

	if reqID := obs.RequestID(ctx); reqID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request-id", Value: []byte(reqID)})
	}

	return msg, nil
}
