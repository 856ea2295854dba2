package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher hands a payload to the queue for asynchronous handling.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type Config struct {
	Workers    int           // concurrent consumers
	RetryLimit int           // redeliveries before a message is dead-lettered
	RetryDelay time.Duration // delay before a failed message is redelivered
	RetryPoll  time.Duration // how often due retries are moved back to the queue
	JobTimeout time.Duration // per-message handler deadline, 0 for none
}

// Message is the envelope stored in Redis. Payload stays raw until the job
// that owns Type decodes it.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Stats counts messages by state.
type Stats struct {
	Pending int64 `json:"pending"`
	Retry   int64 `json:"retry"`
	Dead    int64 `json:"dead"`
}

// Decode unmarshals a job payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
