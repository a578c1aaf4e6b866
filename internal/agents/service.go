package agents

import (
	"context"
	"time"
)

// Invalidator drops cached readiness for an agent.
type Invalidator interface {
	Invalidate(agentID string)
}

// Service is the single entry point for session mutations. Every write goes
// through the Store and then invalidates the agent's cached readiness.
type Service struct {
	store Store
	cache Invalidator

	// OnAvailable runs after an agent becomes available (login, status change
	// to available, call release). The dispatcher uses it as a wake-up signal.
	OnAvailable func(agentID string, at time.Time)

	Now func() time.Time
}

func NewService(store Store, cache Invalidator) *Service {
	return &Service{store: store, cache: cache, Now: time.Now}
}

func (s *Service) Store() Store { return s.store }

func (s *Service) invalidate(agentID string) {
	if s.cache != nil {
		s.cache.Invalidate(agentID)
	}
}

func (s *Service) available(agentID string, at time.Time) {
	if s.OnAvailable != nil {
		s.OnAvailable(agentID, at)
	}
}

func (s *Service) Login(ctx context.Context, agentID string) (Session, error) {
	now := s.Now()
	sess, err := s.store.Open(ctx, agentID, now)
	s.invalidate(agentID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusAvailable {
		s.available(agentID, now)
	}
	return sess, nil
}

func (s *Service) Logout(ctx context.Context, agentID string) error {
	defer s.invalidate(agentID)
	sess, err := s.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if sess.CurrentCallID != "" {
		return ErrInvalidStatus
	}
	return s.store.Close(ctx, agentID)
}

func (s *Service) Get(ctx context.Context, agentID string) (Session, error) {
	return s.store.Get(ctx, agentID)
}

func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	defer s.invalidate(agentID)
	return s.store.Heartbeat(ctx, agentID, s.Now())
}

func (s *Service) SetStatus(ctx context.Context, agentID string, status Status) error {
	now := s.Now()
	err := s.store.SetStatus(ctx, agentID, status, now)
	s.invalidate(agentID)
	if err == nil && status == StatusAvailable {
		s.available(agentID, now)
	}
	return err
}

func (s *Service) SetDeviceConnected(ctx context.Context, agentID string, connected bool) error {
	now := s.Now()
	err := s.store.SetDeviceConnected(ctx, agentID, connected, now)
	s.invalidate(agentID)
	if err == nil && connected {
		s.available(agentID, now)
	}
	return err
}

// Assign is the compare-and-swap assignment. ErrAgentUnavailable means the
// agent was taken or changed state since discovery.
func (s *Service) Assign(ctx context.Context, agentID, callID string) error {
	defer s.invalidate(agentID)
	return s.store.AssignCall(ctx, agentID, callID, s.Now())
}

// Release frees the agent from callID. talked reports whether the bridged
// leg actually connected.
func (s *Service) Release(ctx context.Context, agentID, callID string, talked bool) (Session, error) {
	now := s.Now()
	sess, err := s.store.ReleaseCall(ctx, agentID, callID, Release{At: now, Talked: talked})
	s.invalidate(agentID)
	if err != nil {
		return Session{}, err
	}
	s.available(agentID, now)
	return sess, nil
}
