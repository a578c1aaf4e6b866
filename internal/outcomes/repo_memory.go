package outcomes

import (
	"context"
	"time"

	"claims-dialer/internal/calls"
)

// MemoryRepo runs outcome transactions against a calls.MemoryRepo.
type MemoryRepo struct {
	store *calls.MemoryRepo
}

func NewMemoryRepo(store *calls.MemoryRepo) *MemoryRepo {
	return &MemoryRepo{store: store}
}

func (r *MemoryRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.store.Atomic(func(mtx *calls.MemoryTx) error {
		return fn(ctx, memoryTx{mtx})
	})
}

type memoryTx struct {
	tx *calls.MemoryTx
}

func (m memoryTx) GetCall(ctx context.Context, callID string) (calls.InboundCall, error) {
	return m.tx.Call(callID)
}

func (m memoryTx) HasOutcome(ctx context.Context, callID string) (bool, error) {
	return m.tx.HasOutcome(callID), nil
}

func (m memoryTx) InsertOutcome(ctx context.Context, o calls.CallOutcome) error {
	if err := m.tx.InsertOutcome(o); err != nil {
		return ErrAlreadyTerminal
	}
	return nil
}

func (m memoryTx) GetScore(ctx context.Context, phone string) (calls.CallerScore, bool, error) {
	s, ok := m.tx.Score(phone)
	return s, ok, nil
}

func (m memoryTx) UpsertScore(ctx context.Context, s calls.CallerScore) error {
	m.tx.PutScore(s)
	return nil
}

func (m memoryTx) InsertCallback(ctx context.Context, cb calls.Callback) error {
	m.tx.InsertCallback(cb)
	return nil
}

func (m memoryTx) MarkTerminal(ctx context.Context, callID string, outcome calls.OutcomeType, at time.Time) error {
	return m.tx.MarkTerminal(callID, outcome, at)
}
