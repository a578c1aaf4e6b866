package outcomes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claims-dialer/internal/calls"
	"claims-dialer/internal/scoring"

	"github.com/google/uuid"
)

var (
	ErrUnknownOutcome  = errors.New("outcomes: unknown outcome type")
	ErrAlreadyTerminal = errors.New("outcomes: call already has an outcome")
	ErrInvalidArgument = errors.New("outcomes: invalid argument")
	// ErrNotDisposable is returned for calls still arriving or waiting in the
	// queue; only bridged or missed calls take an outcome.
	ErrNotDisposable = errors.New("outcomes: call is not connected or missed")
)

const DefaultCallbackLead = 30 * time.Minute

// Overrides replace table values for one call.
type Overrides struct {
	ScoreDelta *int           `json:"score_delta,omitempty"`
	Delay      *time.Duration `json:"delay,omitempty"`
	CallbackAt *time.Time     `json:"callback_at,omitempty"`
}

func (o Overrides) Any() bool {
	return o.ScoreDelta != nil || o.Delay != nil || o.CallbackAt != nil
}

type Request struct {
	CallID    string
	Type      calls.OutcomeType
	Notes     string
	AgentID   string
	Overrides Overrides
}

type Result struct {
	Outcome        calls.CallOutcome `json:"outcome"`
	Score          calls.CallerScore `json:"score"`
	ScoreDelta     int               `json:"score_delta"`
	NextEligibleAt time.Time         `json:"next_eligible_at"`
	Callback       *calls.Callback   `json:"callback,omitempty"`
}

// Processor turns a call's disposition into a caller score update and, when
// needed, a scheduled callback. The whole update is one transaction.
type Processor struct {
	repo         Repository
	table        *scoring.Table
	callbackLead time.Duration

	// OnRecorded runs after a successful commit.
	OnRecorded func(ctx context.Context, req Request, res Result)

	Now   func() time.Time
	NewID func() string
}

func NewProcessor(repo Repository, table *scoring.Table, callbackLead time.Duration) *Processor {
	if table == nil {
		table = scoring.DefaultTable()
	}
	if callbackLead <= 0 {
		callbackLead = DefaultCallbackLead
	}
	return &Processor{
		repo:         repo,
		table:        table,
		callbackLead: callbackLead,
		Now:          time.Now,
		NewID:        uuid.NewString,
	}
}

// ProcessOutcome records the outcome for req.CallID exactly once.
func (p *Processor) ProcessOutcome(ctx context.Context, req Request) (Result, error) {
	if req.CallID == "" {
		return Result{}, fmt.Errorf("%w: call_id required", ErrInvalidArgument)
	}
	if !req.Type.Valid() {
		return Result{}, ErrUnknownOutcome
	}
	adj, err := p.table.ScoreFor(req.Type, scoring.Overrides{
		ScoreDelta: req.Overrides.ScoreDelta,
		Delay:      req.Overrides.Delay,
	})
	if err != nil {
		return Result{}, ErrUnknownOutcome
	}

	var res Result
	err = p.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res = Result{}
		now := p.Now().UTC()

		call, err := tx.GetCall(ctx, req.CallID)
		if err != nil {
			return err
		}
		if call.Terminal() {
			return ErrAlreadyTerminal
		}
		if call.State != calls.StateConnecting && call.State != calls.StateMissed {
			return fmt.Errorf("%w: state %s", ErrNotDisposable, call.State)
		}
		exists, err := tx.HasOutcome(ctx, req.CallID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyTerminal
		}

		score, _, err := tx.GetScore(ctx, call.CallerPhone)
		if err != nil {
			return err
		}
		score.Phone = call.CallerPhone
		score = scoring.Apply(score, req.Type, adj, now)
		if err := tx.UpsertScore(ctx, score); err != nil {
			return fmt.Errorf("upsert caller score: %w", err)
		}

		agentID := req.AgentID
		if agentID == "" {
			agentID = call.AgentID
		}
		outcome := calls.CallOutcome{
			ID:                p.NewID(),
			CallID:            call.ID,
			Type:              req.Type,
			Notes:             req.Notes,
			AgentID:           agentID,
			ScoreDelta:        adj.ScoreDelta,
			NextEligibleDelay: adj.Delay,
			RecordedAt:        now,
		}

		if at, ok := p.callbackTime(req, score.NextEligibleAt, now); ok {
			cb := calls.Callback{
				ID:          p.NewID(),
				CallID:      call.ID,
				Phone:       call.CallerPhone,
				CallerID:    call.CallerID,
				Reason:      req.Type,
				ScheduledAt: at,
				Status:      calls.CallbackPending,
				CreatedAt:   now,
			}
			if err := tx.InsertCallback(ctx, cb); err != nil {
				return fmt.Errorf("insert callback: %w", err)
			}
			outcome.CallbackAt = &at
			res.Callback = &cb
		}

		if err := tx.InsertOutcome(ctx, outcome); err != nil {
			return err
		}
		if err := tx.MarkTerminal(ctx, call.ID, req.Type, now); err != nil {
			return err
		}

		res.Outcome = outcome
		res.Score = score
		res.ScoreDelta = adj.ScoreDelta
		res.NextEligibleAt = score.NextEligibleAt
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if p.OnRecorded != nil {
		p.OnRecorded(ctx, req, res)
	}
	return res, nil
}

// callbackTime resolves when a follow-up is due. Callback requests use the
// explicit time or now+lead; missed calls are called back once the caller is
// eligible again. A time in the past is moved to now.
func (p *Processor) callbackTime(req Request, nextEligible, now time.Time) (time.Time, bool) {
	var at time.Time
	switch req.Type {
	case calls.OutcomeCallbackRequested:
		if req.Overrides.CallbackAt != nil {
			at = req.Overrides.CallbackAt.UTC()
		} else {
			at = now.Add(p.callbackLead)
		}
	case calls.OutcomeMissedCall:
		if req.Overrides.CallbackAt != nil {
			at = req.Overrides.CallbackAt.UTC()
		} else {
			at = nextEligible
		}
	default:
		return time.Time{}, false
	}
	if at.Before(now) {
		at = now
	}
	return at, true
}
