package events

import (
	"context"
	"sync"
)

// Message records a single published message.
type Message struct {
	Topic   string
	Payload []byte
}

// MockPublisher records all publishes for test assertions.
type MockPublisher struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	err      error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	m.messages = append(m.messages, Message{Topic: topic, Payload: p})
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of all published messages.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// SetError makes subsequent Publish calls fail with err. Pass nil to clear.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
