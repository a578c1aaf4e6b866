package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrInvalidTransition = errors.New("calls: invalid state transition")
	ErrAlreadyExists     = errors.New("calls: already exists")
)

// Update carries the fields written alongside a state transition.
type Update struct {
	At           time.Time
	AgentID      string
	MissedReason MissedReason
	Urgency      *int
}

// Repository persists inbound calls.
//
// Transition is a conditional write: it only succeeds when the stored state may
// legally move to the requested one, so concurrent writers (router, dispatcher,
// status callbacks) cannot clobber each other.
type Repository interface {
	// Create returns ErrAlreadyExists when the id or a non-empty provider call
	// id is already stored.
	Create(ctx context.Context, c InboundCall) error
	Get(ctx context.Context, id string) (InboundCall, error)
	GetByProviderID(ctx context.Context, providerCallID string) (InboundCall, error)
	Transition(ctx context.Context, id string, to State, u Update) (InboundCall, error)
	SetCaller(ctx context.Context, id, callerID, callerName string) error
	RecentHistory(ctx context.Context, phone string, since time.Time) (History, error)
	List(ctx context.Context, from, to time.Time) ([]InboundCall, error)
}

// applyTransition mutates c for a legal transition. Shared by all backends that
// do the transition in Go rather than SQL.
func applyTransition(c *InboundCall, to State, u Update) error {
	if !CanTransition(c.State, to) {
		return ErrInvalidTransition
	}
	at := u.At.UTC()
	c.State = to
	c.UpdatedAt = at
	switch to {
	case StateQueued:
		if c.QueuedAt == nil {
			c.QueuedAt = &at
		}
	case StateConnecting:
		c.AgentID = u.AgentID
		c.AnsweredAt = &at
	case StateMissed:
		c.MissedReason = u.MissedReason
	}
	if u.Urgency != nil {
		c.Urgency = *u.Urgency
	}
	return nil
}
