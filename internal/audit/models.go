package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block routing on audit failures.
//
// Storage: table audit_events with an INSERT-only policy.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, empty for the engine itself.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the event came through the API.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID  string `json:"call_id,omitempty" db:"call_id"`
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDegradedAssignment EventType = "degraded_assignment"
	EventTypeMissedCall         EventType = "missed_call"
	EventTypeOutcomeOverride    EventType = "outcome_override"
	EventTypeForcedLogout       EventType = "forced_logout"
)

// Actor identifies who triggered an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
