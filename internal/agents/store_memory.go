package agents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	agents   map[string]Agent
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: map[string]Agent{}, sessions: map[string]Session{}}
}

// PutAgent inserts or replaces a directory record.
func (s *MemoryStore) PutAgent(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

// PutSession replaces a session wholesale. Tests use it to build fixtures.
func (s *MemoryStore) PutSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.AgentID] = sess
}

func (s *MemoryStore) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Open(ctx context.Context, agentID string, at time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !a.Active {
		return Session{}, ErrAgentDisabled
	}
	if existing, ok := s.sessions[agentID]; ok && existing.CurrentCallID != "" {
		// Re-login during a call keeps the call bound to the session.
		return existing, nil
	}
	at = at.UTC()
	sess := Session{
		AgentID:       agentID,
		Status:        StatusAvailable,
		LastHeartbeat: &at,
		LastActivity:  at,
		StartedAt:     at,
	}
	s.sessions[agentID] = sess
	return sess, nil
}

func (s *MemoryStore) Close(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[agentID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, agentID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, agentID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[agentID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) ListAvailable(ctx context.Context, limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0)
	for _, sess := range s.sessions {
		if sess.Status == StatusAvailable {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.Before(out[j].LastActivity)
		}
		return out[i].AgentID < out[j].AgentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, cutoff time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0)
	for _, sess := range s.sessions {
		seen := sess.StartedAt
		if sess.LastHeartbeat != nil {
			seen = *sess.LastHeartbeat
		}
		if seen.Before(cutoff) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	return s.update(agentID, func(sess *Session) error {
		at = at.UTC()
		sess.LastHeartbeat = &at
		return nil
	})
}

func (s *MemoryStore) SetStatus(ctx context.Context, agentID string, status Status, at time.Time) error {
	if !status.Valid() || status == StatusOnCall {
		return ErrInvalidStatus
	}
	return s.update(agentID, func(sess *Session) error {
		if sess.CurrentCallID != "" {
			return ErrInvalidStatus
		}
		sess.Status = status
		sess.LastActivity = at.UTC()
		return nil
	})
}

func (s *MemoryStore) SetDeviceConnected(ctx context.Context, agentID string, connected bool, at time.Time) error {
	return s.update(agentID, func(sess *Session) error {
		sess.DeviceConnected = connected
		if connected {
			at = at.UTC()
			sess.LastHeartbeat = &at
		}
		return nil
	})
}

func (s *MemoryStore) AssignCall(ctx context.Context, agentID, callID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[agentID]
	if !ok || sess.Status != StatusAvailable || sess.CurrentCallID != "" {
		return ErrAgentUnavailable
	}
	at = at.UTC()
	sess.Status = StatusOnCall
	sess.CurrentCallID = callID
	sess.CallStartedAt = &at
	sess.LastActivity = at
	s.sessions[agentID] = sess
	return nil
}

func (s *MemoryStore) ReleaseCall(ctx context.Context, agentID, callID string, r Release) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[agentID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if sess.CurrentCallID != callID {
		return Session{}, ErrCallMismatch
	}
	at := r.At.UTC()
	if r.Talked {
		sess.CallsCompletedToday++
		if sess.CallStartedAt != nil && at.After(*sess.CallStartedAt) {
			sess.TalkTimeToday += at.Sub(*sess.CallStartedAt).Truncate(time.Second)
		}
	}
	sess.Status = StatusAvailable
	sess.CurrentCallID = ""
	sess.CallStartedAt = nil
	sess.LastActivity = at
	s.sessions[agentID] = sess
	return sess, nil
}

func (s *MemoryStore) update(agentID string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[agentID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&sess); err != nil {
		return err
	}
	s.sessions[agentID] = sess
	return nil
}
