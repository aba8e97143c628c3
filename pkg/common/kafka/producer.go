package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
)

// Event types exchanged with the rest of the platform.
const (
	EventCheckRequest = "check.request"
	EventCheckResult  = "check.result"
	EventDeidResult   = "deid.result"
	EventCohortResult = "cohort.result"
)

const eventSource = "databank"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: topic}
}

func (p *Producer) PublishEvent(ctx context.Context, eventType string, key string, data map[string]interface{}) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if key == "" {
		key = event.ID
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "source", Value: []byte(eventSource)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		}).WithError(err).Error("Failed to publish event")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.topic,
	}).Debug("Event published")
	return nil
}

// PublishResult publishes the outcome of one unit of work, keyed by the
// unit so that results of the same archive land on the same partition.
func (p *Producer) PublishResult(ctx context.Context, eventType, unit string, result interface{}) error {
	data, err := toMap(result)
	if err != nil {
		return fmt.Errorf("failed to encode result of %s: %w", unit, err)
	}
	data["unit"] = unit
	return p.PublishEvent(ctx, eventType, unit, data)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
