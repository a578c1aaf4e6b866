package events

import "context"

// Publisher delivers a payload to a topic on some broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Noop drops every message. Used when no event sink is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte) error { return nil }
func (Noop) Close() error                                  { return nil }
