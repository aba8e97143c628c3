package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocohort/databank/pkg/common/models"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishResult(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w, topic: "databank-results"}

	result := struct {
		Archive string   `json:"archive"`
		Subject []string `json:"subject_ids"`
	}{Archive: "012345678901FU3.zip", Subject: []string{"012345678901"}}
	require.NoError(t, p.PublishResult(context.Background(), EventCheckResult, "012345678901FU3.zip", result))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "012345678901FU3.zip", string(msg.Key))
	assert.Equal(t, EventCheckResult, string(msg.Headers[0].Value))

	var event models.Event
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, EventCheckResult, event.Type)
	assert.Equal(t, "databank", event.Source)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "012345678901FU3.zip", event.Data["archive"])
	assert.Equal(t, "012345678901FU3.zip", event.Data["unit"])
}

func TestPublishEventPropagatesWriteErrors(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := &Producer{writer: w, topic: "t"}
	assert.Error(t, p.PublishEvent(context.Background(), EventDeidResult, "", map[string]interface{}{"x": 1}))
}

type queuedReader struct {
	queue     []kafka.Message
	committed int
	cancel    context.CancelFunc
}

func (r *queuedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *queuedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed += len(msgs)
	return nil
}

func (r *queuedReader) Close() error { return nil }

func TestConsumeCommitsEveryMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good, err := json.Marshal(models.Event{ID: "1", Type: EventCheckRequest, Data: map[string]interface{}{"path": "a.zip"}})
	require.NoError(t, err)
	failing, err := json.Marshal(models.Event{ID: "2", Type: EventCheckRequest, Data: map[string]interface{}{"path": "b.zip"}})
	require.NoError(t, err)

	reader := &queuedReader{
		queue:  []kafka.Message{{Value: good}, {Value: []byte("not json")}, {Value: failing}},
		cancel: cancel,
	}
	c := &Consumer{reader: reader}

	var handled []string
	err = c.Consume(ctx, func(_ context.Context, event models.Event) error {
		handled = append(handled, event.Data["path"].(string))
		if event.ID == "2" {
			return errors.New("validation failed")
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a.zip", "b.zip"}, handled)
	assert.Equal(t, 3, reader.committed)
}
