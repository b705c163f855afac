// Package events publishes domain events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/trezcool/atelier/core"
)

// Envelope is the value of every published message.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(eventType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s event", eventType)
	}
	return json.Marshal(Envelope{
		ID:         core.NewID(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

var _ core.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(conf *core.Config) (*KafkaPublisher, error) {
	if len(conf.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(conf.Kafka.Brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: conf.Kafka.Topic,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload interface{}, key string) error {
	value, err := newEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
		Time:    time.Now().UTC(),
	})
	return errors.Wrapf(err, "publishing %s event", eventType)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs the events; used when no broker is configured.
type LogPublisher struct {
	logger core.Logger
}

var _ core.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger core.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, eventType string, payload interface{}, key string) error {
	value, err := newEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	p.logger.Debug("event published", map[string]interface{}{"type": eventType, "key": key, "value": string(value)})
	return nil
}
