package calls

import "time"

// InboundCall is a single telephony event from first ring to terminal disposition.
//
// Invariants:
// - A queue entry exists for the call iff State == StateQueued.
// - Exactly one CallOutcome exists once TerminalAt is set.
//
// Provider-specific identifiers live in ProviderCallID only; everything else is
// provider-agnostic.
type InboundCall struct {
	ID             string `json:"id" db:"id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	// CallerPhone is E.164 where possible.
	CallerPhone string `json:"caller_phone" db:"caller_phone"`
	DialedPhone string `json:"dialed_phone" db:"dialed_phone"`

	// CallerID is the resolved caller identity, empty when lookup failed or
	// the number is unknown.
	CallerID   string `json:"caller_id,omitempty" db:"caller_id"`
	CallerName string `json:"caller_name,omitempty" db:"caller_name"`

	State        State        `json:"state" db:"state"`
	MissedReason MissedReason `json:"missed_reason,omitempty" db:"missed_reason"`
	AgentID      string       `json:"agent_id,omitempty" db:"agent_id"`

	// Urgency is the inbound priority (0..100, higher = more urgent) computed
	// when the call was routed.
	Urgency int `json:"urgency" db:"urgency"`

	ArrivedAt  time.Time  `json:"arrived_at" db:"arrived_at"`
	QueuedAt   *time.Time `json:"queued_at,omitempty" db:"queued_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	TerminalAt *time.Time `json:"terminal_at,omitempty" db:"terminal_at"`

	Outcome OutcomeType `json:"outcome,omitempty" db:"outcome"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether a disposition has been recorded.
func (c InboundCall) Terminal() bool { return c.TerminalAt != nil }

// QueueWait returns how long the call waited in the queue, zero if it never queued
// or was never answered.
func (c InboundCall) QueueWait() time.Duration {
	if c.QueuedAt == nil || c.AnsweredAt == nil {
		return 0
	}
	return c.AnsweredAt.Sub(*c.QueuedAt)
}

type State string

const (
	StateArriving   State = "arriving"
	StateConnecting State = "connecting"
	StateQueued     State = "queued"
	StateMissed     State = "missed"
	StateCompleted  State = "completed"
)

// transitions lists the allowed persisted routing state changes.
var transitions = map[State][]State{
	StateArriving:   {StateConnecting, StateQueued, StateMissed},
	StateConnecting: {StateCompleted, StateQueued, StateMissed},
	StateQueued:     {StateConnecting, StateMissed},
}

// CanTransition reports whether from -> to is a legal routing state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every state that may transition into to.
func SourcesFor(to State) []State {
	var out []State
	for _, from := range []State{StateArriving, StateConnecting, StateQueued} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

type MissedReason string

const (
	MissedOutOfHours   MissedReason = "out_of_hours"
	MissedAgentsBusy   MissedReason = "agents_busy"
	MissedHandlerError MissedReason = "handler_error"
	MissedAbandoned    MissedReason = "abandoned"
	MissedBridgeFailed MissedReason = "bridge_failed"
)

// OutcomeType is the closed set of dispositions a call can end with.
type OutcomeType string

const (
	OutcomeContacted         OutcomeType = "contacted"
	OutcomeNoAnswer          OutcomeType = "no_answer"
	OutcomeBusy              OutcomeType = "busy"
	OutcomeWrongNumber       OutcomeType = "wrong_number"
	OutcomeNotInterested     OutcomeType = "not_interested"
	OutcomeCallbackRequested OutcomeType = "callback_requested"
	OutcomeLeftVoicemail     OutcomeType = "left_voicemail"
	OutcomeMissedCall        OutcomeType = "missed_call"
	OutcomeFailed            OutcomeType = "failed"
)

// OutcomeTypes lists every valid outcome type.
var OutcomeTypes = []OutcomeType{
	OutcomeContacted,
	OutcomeNoAnswer,
	OutcomeBusy,
	OutcomeWrongNumber,
	OutcomeNotInterested,
	OutcomeCallbackRequested,
	OutcomeLeftVoicemail,
	OutcomeMissedCall,
	OutcomeFailed,
}

// Valid reports whether t belongs to the closed outcome set.
func (t OutcomeType) Valid() bool {
	for _, o := range OutcomeTypes {
		if o == t {
			return true
		}
	}
	return false
}

// CallOutcome is recorded exactly once per call and never updated.
type CallOutcome struct {
	ID      string      `json:"id" db:"id"`
	CallID  string      `json:"call_id" db:"call_id"`
	Type    OutcomeType `json:"type" db:"type"`
	Notes   string      `json:"notes,omitempty" db:"notes"`
	AgentID string      `json:"agent_id,omitempty" db:"agent_id"`

	ScoreDelta        int           `json:"score_delta" db:"score_delta"`
	NextEligibleDelay time.Duration `json:"next_eligible_delay" db:"next_eligible_delay_seconds"`
	CallbackAt        *time.Time    `json:"callback_at,omitempty" db:"callback_at"`

	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// CallerScore is the per-caller outbound prioritisation state.
// Lower Score = contact sooner. NextEligibleAt is never before the outcome that
// produced it.
type CallerScore struct {
	Phone              string      `json:"phone" db:"phone"`
	Score              int         `json:"score" db:"score"`
	LastOutcome        OutcomeType `json:"last_outcome" db:"last_outcome"`
	NextEligibleAt     time.Time   `json:"next_eligible_at" db:"next_eligible_at"`
	TotalAttempts      int         `json:"total_attempts" db:"total_attempts"`
	SuccessfulContacts int         `json:"successful_contacts" db:"successful_contacts"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
	CallbackCancelled CallbackStatus = "cancelled"
)

// Callback is a scheduled human follow-up for a caller.
type Callback struct {
	ID          string         `json:"id" db:"id"`
	CallID      string         `json:"call_id" db:"call_id"`
	Phone       string         `json:"phone" db:"phone"`
	CallerID    string         `json:"caller_id,omitempty" db:"caller_id"`
	Reason      OutcomeType    `json:"reason" db:"reason"`
	ScheduledAt time.Time      `json:"scheduled_at" db:"scheduled_at"`
	Status      CallbackStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// History summarises a caller's recent inbound activity.
type History struct {
	Total  int `json:"total"`
	Missed int `json:"missed"`
}
