package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePayloadRoundTrip(t *testing.T) {
	job := &IngestJobMessage{
		JobID:    "j1",
		UserID:   "u1",
		SourceID: "s1",
		Text:     "hello",
		Tags:     []string{"work"},
	}

	msg, err := NewMessage(job.JobID, TypeMemoryIngest, job.UserID, job.SourceID, job)
	require.NoError(t, err)
	assert.Equal(t, TypeMemoryIngest, msg.Type)
	assert.Equal(t, "s1", msg.SourceID)

	var decoded IngestJobMessage
	require.NoError(t, msg.UnmarshalPayload(&decoded))
	assert.Equal(t, *job, decoded)
}

func TestDLQStreamName(t *testing.T) {
	assert.Equal(t, "dlq:stream:memory:ingest", StreamMemoryIngest.DLQStream())
}

func TestCalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 8*time.Second, cfg.CalculateBackoff(3))
	assert.Equal(t, 10*time.Second, cfg.CalculateBackoff(10), "backoff is capped at max")
}
