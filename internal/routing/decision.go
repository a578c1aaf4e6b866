package routing

import (
	"time"

	"claims-dialer/internal/greeting"
)

// Decision is the provider-agnostic output of the router.
//
// It must contain only what the provider adapter (e.g. the TwiML builder)
// needs to execute it. No provider-specific fields belong here.
type Decision struct {
	CallID string `json:"call_id"`

	Action Action `json:"action"`

	// ConnectTo is the agent device identity for ActionConnect.
	ConnectTo string `json:"connect_to,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	Greeting greeting.Audio `json:"greeting"`

	// Queue acknowledgement for ActionQueue.
	Position      int           `json:"position,omitempty"`
	EstimatedWait time.Duration `json:"estimated_wait,omitempty"`

	// Reason is the missed reason for ActionMissed. Internal logs/metrics only.
	Reason string `json:"reason,omitempty"`

	// Err carries the diagnostic behind a handler_error miss.
	Err error `json:"-"`
}

type Action string

const (
	ActionConnect Action = "connect"
	ActionQueue   Action = "queue"
	ActionMissed  Action = "missed"
)

// Inbound is an inbound call event received from a provider.
type Inbound struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	// CallerName is the provider's CNAM, if any.
	CallerName string `json:"caller_name,omitempty"`
}

// ProviderStatus is a normalised provider call status.
type ProviderStatus string

const (
	StatusRinging    ProviderStatus = "ringing"
	StatusInProgress ProviderStatus = "in-progress"
	StatusCompleted  ProviderStatus = "completed"
	StatusBusy       ProviderStatus = "busy"
	StatusNoAnswer   ProviderStatus = "no-answer"
	StatusFailed     ProviderStatus = "failed"
	StatusCanceled   ProviderStatus = "canceled"
)

// Ended reports whether the status means the leg is over.
func (s ProviderStatus) Ended() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// StatusEvent is an asynchronous status callback from the provider.
//
// AgentLeg is true when the status describes the bridged leg to the agent
// rather than the caller's own leg.
type StatusEvent struct {
	ProviderCallID string         `json:"provider_call_id"`
	Status         ProviderStatus `json:"status"`
	AgentLeg       bool           `json:"agent_leg"`
}
