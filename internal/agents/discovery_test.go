package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newDiscoveryFixture(cfg DiscoveryConfig) (*MemoryStore, *Discovery) {
	store := NewMemoryStore()
	v := newTestValidator(store, nil, false)
	return store, NewDiscovery(store, v, cfg, nil)
}

func TestDiscovery_LeastRecentlyActiveFirst(t *testing.T) {
	store, d := newDiscoveryFixture(DiscoveryConfig{MinScore: 70})
	seed(store, "recent", func(s *Session) { s.LastActivity = t0 })
	seed(store, "idle", func(s *Session) { s.LastActivity = t0.Add(-time.Hour) })

	c, ok, err := d.FindBestAgent(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected candidate, ok=%v err=%v", ok, err)
	}
	if c.Session.AgentID != "idle" || c.Degraded {
		t.Fatalf("expected idle agent first, got %+v", c)
	}

	top, _ := d.FindTopNAgents(context.Background(), 5)
	if len(top) != 2 || top[1].Session.AgentID != "recent" {
		t.Fatalf("unexpected top-n: %+v", top)
	}
}

func TestDiscovery_MinScoreThreshold(t *testing.T) {
	store, d := newDiscoveryFixture(DiscoveryConfig{MinScore: 80})
	seed(store, "stale", func(s *Session) {
		hb := t0.Add(-time.Hour)
		s.LastHeartbeat = &hb
	})

	if _, ok, _ := d.FindBestAgent(context.Background()); ok {
		t.Fatalf("score 70 must not pass threshold 80")
	}
}

func TestDiscovery_BoundedCandidates(t *testing.T) {
	store, d := newDiscoveryFixture(DiscoveryConfig{Candidates: 2, MinScore: 70})
	seed(store, "a", func(s *Session) { s.DeviceConnected = false; s.LastActivity = t0.Add(-3 * time.Hour) })
	seed(store, "b", func(s *Session) { s.DeviceConnected = false; s.LastActivity = t0.Add(-2 * time.Hour) })
	seed(store, "c", func(s *Session) { s.LastActivity = t0.Add(-time.Hour) })

	if _, ok, _ := d.FindBestAgent(context.Background()); ok {
		t.Fatalf("only the first K candidates may be validated")
	}
}

func TestDiscovery_DegradedFallback(t *testing.T) {
	store, d := newDiscoveryFixture(DiscoveryConfig{MinScore: 70, DegradedFallback: true})
	seed(store, "offline-device", func(s *Session) { s.DeviceConnected = false })

	c, ok, err := d.FindBestAgent(context.Background())
	if err != nil || !ok || !c.Degraded || c.Session.AgentID != "offline-device" {
		t.Fatalf("expected degraded candidate, got %+v ok=%v err=%v", c, ok, err)
	}

	_, off := newDiscoveryFixture(DiscoveryConfig{MinScore: 70})
	if _, ok, _ := off.FindBestAgent(context.Background()); ok {
		t.Fatalf("fallback is off by default")
	}
}

// An agent whose row still says available but already holds a call (a
// half-applied write elsewhere) must never be returned, even degraded.
func TestDiscovery_NeverReturnsAgentWithCall(t *testing.T) {
	store, d := newDiscoveryFixture(DiscoveryConfig{MinScore: 0, DegradedFallback: true})
	seed(store, "a1", func(s *Session) { s.CurrentCallID = "c9" })

	if c, ok, _ := d.FindBestAgent(context.Background()); ok {
		t.Fatalf("agent with a current call returned: %+v", c)
	}
}

func TestDiscovery_OnCallNeverReturned(t *testing.T) {
	store, d := newDiscoveryFixture(DiscoveryConfig{MinScore: 0, DegradedFallback: true})
	seed(store, "a1", nil)
	if err := store.AssignCall(context.Background(), "a1", "c1", t0); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, ok, _ := d.FindBestAgent(context.Background()); ok {
		t.Fatalf("on_call agent must not be returned")
	}
}

type errStore struct{ *MemoryStore }

func (errStore) ListAvailable(ctx context.Context, limit int) ([]Session, error) {
	return nil, errors.New("db down")
}

func TestDiscovery_StoreError(t *testing.T) {
	store := errStore{NewMemoryStore()}
	d := NewDiscovery(store, newTestValidator(store, nil, false), DiscoveryConfig{}, nil)
	if _, _, err := d.FindBestAgent(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemoryStore_AssignIsCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	seed(store, "a1", nil)

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.AssignCall(context.Background(), "a1", fmt.Sprintf("c%d", i), t0)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAgentUnavailable) {
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one assignment, got %d", winners)
	}
	s, _ := store.Get(context.Background(), "a1")
	if s.Status != StatusOnCall || s.CurrentCallID == "" {
		t.Fatalf("status and call must move together: %+v", s)
	}
}

func TestMemoryStore_ReleaseCall(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seed(store, "a1", nil)
	_ = store.AssignCall(ctx, "a1", "c1", t0)

	if _, err := store.ReleaseCall(ctx, "a1", "other", Release{At: t0}); !errors.Is(err, ErrCallMismatch) {
		t.Fatalf("expected ErrCallMismatch, got %v", err)
	}
	if err := store.SetStatus(ctx, "a1", StatusBreak, t0); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("status change during a call must be rejected, got %v", err)
	}

	s, err := store.ReleaseCall(ctx, "a1", "c1", Release{At: t0.Add(90 * time.Second), Talked: true})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.Status != StatusAvailable || s.CurrentCallID != "" || s.CallsCompletedToday != 1 || s.TalkTimeToday != 90*time.Second {
		t.Fatalf("unexpected session after release: %+v", s)
	}

	_ = store.AssignCall(ctx, "a1", "c2", t0.Add(2*time.Minute))
	s, _ = store.ReleaseCall(ctx, "a1", "c2", Release{At: t0.Add(3 * time.Minute)})
	if s.CallsCompletedToday != 1 {
		t.Fatalf("unanswered legs must not count, got %d", s.CallsCompletedToday)
	}
}

func TestService_InvalidatesAndSignals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutAgent(Agent{ID: "a1", Active: true})

	inner := &countingChecker{}
	cache := NewReadinessCache(inner, time.Minute)
	svc := NewService(store, cache)
	svc.Now = func() time.Time { return t0 }

	var signals []string
	svc.OnAvailable = func(agentID string, at time.Time) { signals = append(signals, agentID) }

	if _, err := svc.Login(ctx, "a1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	cache.ValidateReadiness(ctx, "a1")
	if err := svc.Assign(ctx, "a1", "c1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	cache.ValidateReadiness(ctx, "a1")
	if inner.n != 2 {
		t.Fatalf("assignment must invalidate cached readiness, validations=%d", inner.n)
	}
	if err := svc.Logout(ctx, "a1"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("logout during call must fail, got %v", err)
	}
	if _, err := svc.Release(ctx, "a1", "c1", true); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected login and release signals, got %v", signals)
	}
}
