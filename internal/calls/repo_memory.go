package calls

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory store for calls, outcomes, caller scores and
// callbacks. It backs tests and local development; Atomic gives it the same
// all-or-nothing semantics the Postgres store gets from a transaction.
type MemoryRepo struct {
	mu        sync.Mutex
	calls     map[string]InboundCall
	byCallSid map[string]string
	outcomes  map[string]CallOutcome
	scores    map[string]CallerScore
	callbacks []Callback
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:     map[string]InboundCall{},
		byCallSid: map[string]string{},
		outcomes:  map[string]CallOutcome{},
		scores:    map[string]CallerScore{},
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c InboundCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return ErrAlreadyExists
	}
	if c.ProviderCallID != "" {
		if _, ok := r.byCallSid[c.ProviderCallID]; ok {
			return ErrAlreadyExists
		}
		r.byCallSid[c.ProviderCallID] = c.ID
	}
	if c.State == "" {
		c.State = StateArriving
	}
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (InboundCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return InboundCall{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, providerCallID string) (InboundCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCallSid[providerCallID]
	if !ok || providerCallID == "" {
		return InboundCall{}, ErrNotFound
	}
	return r.calls[id], nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, to State, u Update) (InboundCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return InboundCall{}, ErrNotFound
	}
	if err := applyTransition(&c, to, u); err != nil {
		return InboundCall{}, fmt.Errorf("%w: %s -> %s", err, r.calls[id].State, to)
	}
	r.calls[id] = c
	return c, nil
}

func (r *MemoryRepo) SetCaller(ctx context.Context, id, callerID, callerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.CallerID = callerID
	c.CallerName = callerName
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) RecentHistory(ctx context.Context, phone string, since time.Time) (History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var h History
	for _, c := range r.calls {
		if c.CallerPhone != phone || c.ArrivedAt.Before(since) {
			continue
		}
		h.Total++
		if c.State == StateMissed {
			h.Missed++
		}
	}
	return h, nil
}

func (r *MemoryRepo) List(ctx context.Context, from, to time.Time) ([]InboundCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InboundCall, 0)
	for _, c := range r.calls {
		if c.ArrivedAt.Before(from) || !c.ArrivedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArrivedAt.Before(out[j].ArrivedAt) })
	return out, nil
}

// Outcome returns the recorded outcome for a call.
func (r *MemoryRepo) Outcome(callID string) (CallOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[callID]
	return o, ok
}

// Score returns the caller score for phone.
func (r *MemoryRepo) Score(phone string) (CallerScore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scores[phone]
	return s, ok
}

// Callbacks returns a copy of all scheduled callbacks.
func (r *MemoryRepo) Callbacks() []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Callback, len(r.callbacks))
	copy(out, r.callbacks)
	return out
}

// MemoryTx is the staged view handed to Atomic callbacks.
type MemoryTx struct {
	calls     map[string]InboundCall
	outcomes  map[string]CallOutcome
	scores    map[string]CallerScore
	callbacks []Callback
}

// Atomic runs fn against a copy of the store and commits the copy only when fn
// returns nil. Concurrent Atomic calls are serialised.
func (r *MemoryRepo) Atomic(fn func(tx *MemoryTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &MemoryTx{
		calls:     make(map[string]InboundCall, len(r.calls)),
		outcomes:  make(map[string]CallOutcome, len(r.outcomes)),
		scores:    make(map[string]CallerScore, len(r.scores)),
		callbacks: make([]Callback, len(r.callbacks)),
	}
	for k, v := range r.calls {
		tx.calls[k] = v
	}
	for k, v := range r.outcomes {
		tx.outcomes[k] = v
	}
	for k, v := range r.scores {
		tx.scores[k] = v
	}
	copy(tx.callbacks, r.callbacks)

	if err := fn(tx); err != nil {
		return err
	}

	r.calls = tx.calls
	r.outcomes = tx.outcomes
	r.scores = tx.scores
	r.callbacks = tx.callbacks
	return nil
}

func (tx *MemoryTx) Call(id string) (InboundCall, error) {
	c, ok := tx.calls[id]
	if !ok {
		return InboundCall{}, ErrNotFound
	}
	return c, nil
}

func (tx *MemoryTx) HasOutcome(callID string) bool {
	_, ok := tx.outcomes[callID]
	return ok
}

func (tx *MemoryTx) InsertOutcome(o CallOutcome) error {
	if _, ok := tx.outcomes[o.CallID]; ok {
		return ErrAlreadyExists
	}
	tx.outcomes[o.CallID] = o
	return nil
}

func (tx *MemoryTx) Score(phone string) (CallerScore, bool) {
	s, ok := tx.scores[phone]
	return s, ok
}

func (tx *MemoryTx) PutScore(s CallerScore) {
	tx.scores[s.Phone] = s
}

func (tx *MemoryTx) InsertCallback(cb Callback) {
	tx.callbacks = append(tx.callbacks, cb)
}

func (tx *MemoryTx) MarkTerminal(callID string, outcome OutcomeType, at time.Time) error {
	c, ok := tx.calls[callID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	c.Outcome = outcome
	c.TerminalAt = &at
	c.UpdatedAt = at
	if c.State != StateMissed {
		c.State = StateCompleted
	}
	tx.calls[callID] = c
	return nil
}
