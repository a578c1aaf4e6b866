package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event types published by the routing engine.
const (
	CallConnected   = "call.connected"
	CallQueued      = "call.queued"
	CallMissed      = "call.missed"
	CallDequeued    = "call.dequeued"
	CallAbandoned   = "call.abandoned"
	OutcomeRecorded = "outcome.recorded"
)

type Event struct {
	Type          string    `json:"type"`
	CallID        string    `json:"call_id"`
	CallerPhone   string    `json:"caller_phone,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	Urgency       int       `json:"urgency,omitempty"`
	Position      int       `json:"position,omitempty"`
	EstimatedWait int       `json:"estimated_wait_seconds,omitempty"`
	Degraded      bool      `json:"degraded,omitempty"`
	At            time.Time `json:"at"`
}

type keyedPublisher interface {
	PublishKeyed(ctx context.Context, topic, key string, payload []byte) error
}

// Emitter publishes routing events best-effort: failures are logged, never
// returned, so a broker outage cannot affect call handling.
//
// Topics are "<prefix><sep><type>", e.g. "dialer/call.missed" on MQTT or
// "dialer.call.missed" on Kafka.
type Emitter struct {
	pub     Publisher
	prefix  string
	sep     string
	timeout time.Duration
	log     *slog.Logger

	Now func() time.Time
}

func NewEmitter(pub Publisher, prefix, sep string, log *slog.Logger) *Emitter {
	if pub == nil {
		pub = Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{pub: pub, prefix: prefix, sep: sep, timeout: 2 * time.Second, log: log, Now: time.Now}
}

func (e *Emitter) Topic(eventType string) string {
	if e.prefix == "" {
		return eventType
	}
	return e.prefix + e.sep + eventType
}

func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("event marshal failed", slog.String("type", ev.Type), slog.Any("err", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	topic := e.Topic(ev.Type)
	if kp, ok := e.pub.(keyedPublisher); ok {
		err = kp.PublishKeyed(ctx, topic, ev.CallID, payload)
	} else {
		err = e.pub.Publish(ctx, topic, payload)
	}
	if err != nil {
		e.log.Warn("event publish failed",
			slog.String("type", ev.Type),
			slog.String("call_id", ev.CallID),
			slog.Any("err", err),
		)
	}
}

func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	return e.pub.Close()
}
