package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-library-holds/internal/holds"
)

func TestProducerPublishIsNonBlocking(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, holds.TopicHoldNotices, 1)

	require.NoError(t, p.Publish([]byte("k"), []byte("v")))
	assert.ErrorIs(t, p.Publish([]byte("k"), []byte("v")), ErrBacklogFull)

	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Publish([]byte("k"), []byte("v")), ErrProducerClosed)
}

func TestNoticePublisherWritesEnvelope(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, holds.TopicHoldNotices, 4)
	pub := &NoticePublisher{Producer: p, Service: "holds-api"}

	exp := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	n := holds.Notice{
		Kind:       holds.NoticeHoldAvailable,
		UserID:     "bob",
		BookID:     "b-1",
		EntryID:    "e-1",
		ExpiresAt:  &exp,
		OccurredAt: exp.Add(-48 * time.Hour),
	}
	require.NoError(t, pub.Notify(context.Background(), n))

	m := <-p.inbox
	assert.Equal(t, []byte("b-1"), m.Key)
	require.Len(t, m.Headers, 2)
	assert.Equal(t, HeaderEventType, m.Headers[0].Key)
	assert.Equal(t, "hold_available", string(m.Headers[0].Value))

	var env holds.Envelope
	require.NoError(t, UnmarshalEnvelope(m.Value, &env))
	assert.Equal(t, "hold_available", env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "holds-api", env.Producer)
	assert.Equal(t, "b-1", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	got, err := UnwrapPayload[holds.Notice](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, n.UserID, got.UserID)
	assert.True(t, exp.Equal(*got.ExpiresAt))
}

func TestUnwrapPayloadRejectsGarbage(t *testing.T) {
	_, err := UnwrapPayload[holds.Notice]([]byte(`{"user_id":`))
	require.Error(t, err)
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(make(chan int)) })
	assert.JSONEq(t, `{"a":1}`, string(MustMarshal(map[string]int{"a": 1})))
}
