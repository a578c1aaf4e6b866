package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull   = errors.New("queue: at capacity")
	ErrInvalidCall = errors.New("queue: call_id required")
)

// Entry is a call waiting for an agent.
//
// Rank orders the queue: lower dequeues first, equal ranks dequeue in
// enqueue order. Position is 1-based and only meaningful at the moment the
// entry was returned.
type Entry struct {
	CallID        string        `json:"call_id"`
	Rank          int           `json:"rank"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// Queue is the shared waiting area for inbound calls.
//
// DequeueNext is linearizable: concurrent callers never receive the same entry.
// Remove is idempotent and races safely with DequeueNext; exactly one of them
// observes the entry (Remove reports false when it lost).
type Queue interface {
	Enqueue(ctx context.Context, callID string, rank int) (Entry, error)
	DequeueNext(ctx context.Context) (Entry, bool, error)
	Peek(ctx context.Context, callID string) (Entry, bool, error)
	Remove(ctx context.Context, callID string) (bool, error)
	Reprioritize(ctx context.Context, callID string, rank int) (bool, error)
	Len(ctx context.Context) (int, error)
}
