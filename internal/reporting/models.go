package reporting

import (
	"time"

	"claims-dialer/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated routing metrics for calls that
// arrived within Range.
type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls int `json:"total_calls"`
	// ByState counts calls per current routing state.
	ByState  map[calls.State]int        `json:"by_state"`
	Missed   map[calls.MissedReason]int `json:"missed"`
	Outcomes map[calls.OutcomeType]int  `json:"outcomes"`

	// ConnectedCalls reached an agent, directly or from the queue.
	ConnectedCalls int `json:"connected_calls"`
	QueuedCalls    int `json:"queued_calls"`
	// AverageQueueWaitSeconds is over queued calls that later connected.
	AverageQueueWaitSeconds float64 `json:"average_queue_wait_seconds"`
	// AnswerRate is ConnectedCalls / TotalCalls.
	AnswerRate float64 `json:"answer_rate"`
}
