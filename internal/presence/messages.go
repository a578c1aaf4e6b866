package presence

import "time"

// Client -> server message types.
const (
	TypeRegister     = "register"
	TypeHeartbeat    = "heartbeat"
	TypeStatusChange = "status_change"
)

// Server -> client message types.
const (
	TypeAck        = "ack"
	TypeCallAssign = "call_assign"
	TypeError      = "error"
)

type inbound struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

type Ack struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	For     string `json:"for"`
}

// CallAssign tells an agent's desktop that a call is being bridged to it.
type CallAssign struct {
	Type        string    `json:"type"`
	AgentID     string    `json:"agent_id"`
	CallID      string    `json:"call_id"`
	CallerPhone string    `json:"caller_phone"`
	CallerName  string    `json:"caller_name,omitempty"`
	Urgency     int       `json:"urgency"`
	Timestamp   time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
