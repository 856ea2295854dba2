package queue

import (
	"context"
	"encoding/json"
)

// Job handles every message of one type. A returned error schedules a
// redelivery until the retry limit is spent.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type jobFunc struct {
	msgType string
	fn      func(context.Context, json.RawMessage) error
}

func (j jobFunc) Type() string { return j.msgType }

func (j jobFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return j.fn(ctx, payload)
}

// JobFunc adapts fn into a Job for msgType.
func JobFunc(msgType string, fn func(context.Context, json.RawMessage) error) Job {
	return jobFunc{msgType: msgType, fn: fn}
}
