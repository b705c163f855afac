package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/testutil"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisher(t *testing.T) {
	_, err := NewKafkaPublisher(&core.Config{})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(&core.Config{Kafka: core.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"}})
	require.NoError(t, err)
	assert.Equal(t, "events", p.topic)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := new(fakeWriter)
	p := &KafkaPublisher{writer: w, topic: "atelier.events"}

	err := p.Publish(context.Background(), "course.subscribed", map[string]string{"course_id": "c1"}, "c1")
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "atelier.events", msg.Topic)
	assert.Equal(t, []byte("c1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "course.subscribed", env.Type)
	assert.True(t, core.IsValidID(env.ID))
	assert.JSONEq(t, `{"course_id":"c1"}`, string(env.Data))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, topic: "t"}

	err := p.Publish(context.Background(), "course.subscribed", struct{}{}, "k")
	assert.EqualError(t, err, "publishing course.subscribed event: broker down")
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(testutil.NopLogger{})
	assert.NoError(t, p.Publish(context.Background(), "course.subscribed", struct{}{}, "k"))
	assert.Error(t, p.Publish(context.Background(), "bad", make(chan int), "k"))
}
