package reporting

import (
	"context"
	"errors"
	"time"

	"claims-dialer/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds a single summary so a supervisor query cannot scan the whole table.
const maxRange = 31 * 24 * time.Hour

// Source lists calls that arrived in [from, to). calls.Repository satisfies it.
type Source interface {
	List(ctx context.Context, from, to time.Time) ([]calls.InboundCall, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > maxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.List(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		Range:    req.Range,
		ByState:  map[calls.State]int{},
		Missed:   map[calls.MissedReason]int{},
		Outcomes: map[calls.OutcomeType]int{},
	}
	var (
		waitTotal time.Duration
		waited    int
	)
	for _, c := range rows {
		out.TotalCalls++
		out.ByState[c.State]++
		if c.State == calls.StateMissed && c.MissedReason != "" {
			out.Missed[c.MissedReason]++
		}
		if c.Outcome != "" {
			out.Outcomes[c.Outcome]++
		}
		if c.AnsweredAt != nil {
			out.ConnectedCalls++
		}
		if c.QueuedAt != nil {
			out.QueuedCalls++
			if c.AnsweredAt != nil {
				waitTotal += c.QueueWait()
				waited++
			}
		}
	}
	if waited > 0 {
		out.AverageQueueWaitSeconds = (waitTotal / time.Duration(waited)).Seconds()
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.ConnectedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}
