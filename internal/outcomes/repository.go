package outcomes

import (
	"context"
	"time"

	"claims-dialer/internal/calls"
)

// Tx is the unit of work the processor runs in. Every method writes into the
// same transaction; nothing is visible until InTx returns nil.
type Tx interface {
	GetCall(ctx context.Context, callID string) (calls.InboundCall, error)
	HasOutcome(ctx context.Context, callID string) (bool, error)
	InsertOutcome(ctx context.Context, o calls.CallOutcome) error
	// GetScore returns the caller's score, or a zero score with ok=false.
	GetScore(ctx context.Context, phone string) (calls.CallerScore, bool, error)
	UpsertScore(ctx context.Context, s calls.CallerScore) error
	InsertCallback(ctx context.Context, cb calls.Callback) error
	MarkTerminal(ctx context.Context, callID string, outcome calls.OutcomeType, at time.Time) error
}

// Repository opens transactions.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
