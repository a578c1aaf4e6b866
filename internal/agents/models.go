package agents

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("agents: not found")
	ErrAgentUnavailable = errors.New("agents: agent unavailable")
	ErrCallMismatch     = errors.New("agents: call is not assigned to agent")
	ErrInvalidStatus    = errors.New("agents: invalid status change")
	ErrAgentDisabled    = errors.New("agents: agent disabled")
)

// Agent is the directory record for a human agent.
type Agent struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// DeviceIdentity is the dial target for the agent's softphone, e.g.
	// "client:agent-7" or "sip:agent-7@pbx.example.com".
	DeviceIdentity string `json:"device_identity" db:"device_identity"`

	Active bool `json:"active" db:"active"`
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusOnCall    Status = "on_call"
	StatusBreak     Status = "break"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOnCall, StatusBreak, StatusOffline:
		return true
	}
	return false
}

// Session is one agent's live working state.
//
// Invariant: Status == StatusOnCall iff CurrentCallID != "". Only AssignCall
// and ReleaseCall change either field, and they always change both.
type Session struct {
	AgentID         string     `json:"agent_id" db:"agent_id"`
	Status          Status     `json:"status" db:"status"`
	DeviceConnected bool       `json:"device_connected" db:"device_connected"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	LastActivity    time.Time  `json:"last_activity" db:"last_activity"`

	CurrentCallID string     `json:"current_call_id,omitempty" db:"current_call_id"`
	CallStartedAt *time.Time `json:"call_started_at,omitempty" db:"call_started_at"`

	// Daily counters reset when a new session is opened.
	CallsCompletedToday int           `json:"calls_completed_today" db:"calls_completed_today"`
	TalkTimeToday       time.Duration `json:"talk_time_today" db:"talk_time_today_seconds"`

	StartedAt time.Time `json:"started_at" db:"started_at"`
}

// Release describes how an assigned call ended for the agent.
type Release struct {
	At time.Time
	// Talked is false when the bridged leg never connected (busy, no-answer);
	// such calls do not count toward the daily counters.
	Talked bool
}
