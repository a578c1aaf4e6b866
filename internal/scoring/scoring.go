package scoring

import (
	"errors"
	"time"

	"claims-dialer/internal/calls"
)

// Two scales live here and must not be mixed:
//   - Urgency (inbound priority): 0..100, higher = more urgent.
//   - Score delta (CallerScore): lower = contact sooner.
// Queue rank is derived from urgency via QueueRank.

var ErrUnknownOutcome = errors.New("scoring: unknown outcome type")

const (
	BaseUrgency        = 50
	PerActiveClaim     = 10
	PerRecentMiss      = 20
	FrequentCallerBump = 15
	FrequentCallerMin  = 3
	MaxUrgency         = 100

	// HistoryWindow is the trailing window ComputePriority expects history for.
	HistoryWindow = 7 * 24 * time.Hour
)

// Urgency is the inbound caller priority. Higher = more urgent.
type Urgency int

// ComputePriority returns the inbound urgency for a caller.
// history must cover the trailing HistoryWindow.
func ComputePriority(activeClaims int, history calls.History) Urgency {
	if activeClaims < 0 {
		activeClaims = 0
	}
	u := BaseUrgency + PerActiveClaim*activeClaims + PerRecentMiss*history.Missed
	if history.Total >= FrequentCallerMin {
		u += FrequentCallerBump
	}
	if u > MaxUrgency {
		u = MaxUrgency
	}
	if u < 0 {
		u = 0
	}
	return Urgency(u)
}

// QueueRank converts urgency into a queue rank (lower dequeues first).
func QueueRank(u Urgency) int {
	return MaxUrgency - int(u)
}

// Adjustment is the CallerScore change produced by one outcome.
type Adjustment struct {
	ScoreDelta int
	Delay      time.Duration
}

// Overrides replace table values for a single call. Nil fields fall through.
type Overrides struct {
	ScoreDelta *int
	Delay      *time.Duration
}

func (o Overrides) Any() bool { return o.ScoreDelta != nil || o.Delay != nil }

// Table is the outcome -> adjustment lookup. Missed-call values are
// configurable; everything else is fixed.
type Table struct {
	entries map[calls.OutcomeType]Adjustment
}

var defaultEntries = map[calls.OutcomeType]Adjustment{
	calls.OutcomeContacted:         {ScoreDelta: -10, Delay: 24 * time.Hour},
	calls.OutcomeNoAnswer:          {ScoreDelta: 5, Delay: 4 * time.Hour},
	calls.OutcomeBusy:              {ScoreDelta: 2, Delay: 2 * time.Hour},
	calls.OutcomeWrongNumber:       {ScoreDelta: 50, Delay: 48 * time.Hour},
	calls.OutcomeNotInterested:     {ScoreDelta: 100, Delay: 48 * time.Hour},
	calls.OutcomeCallbackRequested: {ScoreDelta: -20, Delay: 0},
	calls.OutcomeLeftVoicemail:     {ScoreDelta: 10, Delay: 8 * time.Hour},
	calls.OutcomeFailed:            {ScoreDelta: 0, Delay: time.Hour},
	calls.OutcomeMissedCall:        {ScoreDelta: DefaultMissedDelta, Delay: DefaultMissedDelay},
}

const (
	DefaultMissedDelta = -15
	DefaultMissedDelay = 15 * time.Minute
)

// NewTable builds the outcome table with the given missed-call adjustment.
// A negative delay is treated as zero.
func NewTable(missed Adjustment) *Table {
	entries := make(map[calls.OutcomeType]Adjustment, len(defaultEntries))
	for k, v := range defaultEntries {
		entries[k] = v
	}
	if missed.Delay < 0 {
		missed.Delay = 0
	}
	entries[calls.OutcomeMissedCall] = missed
	return &Table{entries: entries}
}

// DefaultTable uses the default missed-call adjustment.
func DefaultTable() *Table {
	return NewTable(Adjustment{ScoreDelta: DefaultMissedDelta, Delay: DefaultMissedDelay})
}

// ScoreFor returns the adjustment for outcome, with overrides applied.
func (t *Table) ScoreFor(outcome calls.OutcomeType, o Overrides) (Adjustment, error) {
	adj, ok := t.entries[outcome]
	if !ok {
		return Adjustment{}, ErrUnknownOutcome
	}
	if o.ScoreDelta != nil {
		adj.ScoreDelta = *o.ScoreDelta
	}
	if o.Delay != nil {
		adj.Delay = *o.Delay
		if adj.Delay < 0 {
			adj.Delay = 0
		}
	}
	return adj, nil
}

// Apply folds one outcome into a caller's score. nextEligibleAt is never
// before at.
func Apply(s calls.CallerScore, outcome calls.OutcomeType, adj Adjustment, at time.Time) calls.CallerScore {
	at = at.UTC()
	s.Score += adj.ScoreDelta
	s.LastOutcome = outcome
	s.NextEligibleAt = at.Add(adj.Delay)
	s.TotalAttempts++
	if outcome == calls.OutcomeContacted {
		s.SuccessfulContacts++
	}
	s.UpdatedAt = at
	return s
}
