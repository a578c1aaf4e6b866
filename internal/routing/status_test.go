package routing

import (
	"context"
	"errors"
	"testing"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/calls"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/queue"
)

func TestHandleStatus_QueuedHangupAbandons(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if d.Action != ActionQueue {
		t.Fatalf("expected queue, got %+v", d)
	}
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted}); err != nil {
		t.Fatalf("status: %v", err)
	}

	c := f.mustCall(t, d.CallID)
	if c.State != calls.StateMissed || c.MissedReason != calls.MissedAbandoned || !c.Terminal() {
		t.Fatalf("unexpected call: %+v", c)
	}
	if n, _ := f.queue.Len(ctx); n != 0 {
		t.Fatalf("expected entry removed, %d waiting", n)
	}
	if o, ok := f.calls.Outcome(d.CallID); !ok || o.Type != calls.OutcomeMissedCall {
		t.Fatalf("expected missed_call outcome")
	}
	if !f.published("dialer/call.abandoned") {
		t.Fatalf("expected call.abandoned, got %v", f.topics())
	}

	// A second callback for the same leg is a no-op.
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted}); err != nil {
		t.Fatalf("repeat status: %v", err)
	}
}

func TestHandleStatus_AgentLegBusyReleasesAgent(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if d.Action != ActionConnect {
		t.Fatalf("expected connect, got %+v", d)
	}
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusBusy, AgentLeg: true}); err != nil {
		t.Fatalf("status: %v", err)
	}

	sess, _ := f.store.Get(ctx, "a1")
	if sess.Status != agents.StatusAvailable || sess.CurrentCallID != "" || sess.CallsCompletedToday != 0 {
		t.Fatalf("expected agent released without credit, got %+v", sess)
	}
	o, ok := f.calls.Outcome(d.CallID)
	if !ok || o.Type != calls.OutcomeBusy || o.AgentID != "a1" {
		t.Fatalf("expected busy outcome, got %+v %v", o, ok)
	}
	if c := f.mustCall(t, d.CallID); !c.Terminal() {
		t.Fatalf("expected terminal call")
	}
}

func TestHandleStatus_CompletedReleasesAgentWithoutOutcome(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted, AgentLeg: true}); err != nil {
		t.Fatalf("status: %v", err)
	}

	sess, _ := f.store.Get(ctx, "a1")
	if sess.Status != agents.StatusAvailable || sess.CallsCompletedToday != 1 {
		t.Fatalf("expected agent released with credit, got %+v", sess)
	}
	if _, ok := f.calls.Outcome(d.CallID); ok {
		t.Fatalf("completed leg must wait for the agent's disposition")
	}

	// The caller leg completing afterwards finds nothing to release.
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted}); err != nil {
		t.Fatalf("parent status: %v", err)
	}
}

func TestHandleStatus_CanceledWhileRingingIsAbandoned(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCanceled, AgentLeg: true}); err != nil {
		t.Fatalf("status: %v", err)
	}
	c := f.mustCall(t, d.CallID)
	if c.State != calls.StateMissed || c.MissedReason != calls.MissedAbandoned {
		t.Fatalf("unexpected call: %+v", c)
	}
	if sess, _ := f.store.Get(ctx, "a1"); sess.Status != agents.StatusAvailable {
		t.Fatalf("expected agent released")
	}
}

func TestHandleStatus_IgnoresProgressAndUnknownCalls(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusRinging}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if c := f.mustCall(t, d.CallID); c.State != calls.StateQueued {
		t.Fatalf("ringing must not change state, got %s", c.State)
	}

	err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA404", Status: StatusCompleted})
	if !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleStatus_DispositionBeforeCompletedReleasesAgent(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if d.Action != ActionConnect {
		t.Fatalf("expected connect, got %+v", d)
	}
	// The agent wraps up while the provider has not reported the end yet.
	if _, err := f.router.outcomes.ProcessOutcome(ctx, outcomes.Request{CallID: d.CallID, Type: calls.OutcomeContacted, AgentID: "a1"}); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if sess, _ := f.store.Get(ctx, "a1"); sess.Status != agents.StatusOnCall {
		t.Fatalf("agent should stay on the call until it ends, got %s", sess.Status)
	}

	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted, AgentLeg: true}); err != nil {
		t.Fatalf("agent leg status: %v", err)
	}
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted}); err != nil {
		t.Fatalf("parent status: %v", err)
	}

	sess, _ := f.store.Get(ctx, "a1")
	if sess.Status != agents.StatusAvailable || sess.CurrentCallID != "" || sess.CallsCompletedToday != 1 {
		t.Fatalf("expected agent released with credit, got %+v", sess)
	}
	if err := f.svc.Logout(ctx, "a1"); err != nil {
		t.Fatalf("logout after wrap-up: %v", err)
	}
}

// requeuingQueue reports the first Remove as a miss and keeps the entry, the
// way it looks when the dispatcher puts a dequeued entry back concurrently.
type requeuingQueue struct {
	*queue.Memory
	missed bool
}

func (q *requeuingQueue) Remove(ctx context.Context, callID string) (bool, error) {
	if !q.missed {
		q.missed = true
		return false, nil
	}
	return q.Memory.Remove(ctx, callID)
}

func TestHandleStatus_AbandonDropsEntryPutBackByDispatcher(t *testing.T) {
	var q *requeuingQueue
	f := newFixture(t, Config{QueueEnabled: true}, func(d *Deps) {
		q = &requeuingQueue{Memory: queue.NewMemory(50, queue.NewEstimator(0))}
		d.Queue = q
	})
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if d.Action != ActionQueue {
		t.Fatalf("expected queue, got %+v", d)
	}
	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if c := f.mustCall(t, d.CallID); c.State != calls.StateMissed {
		t.Fatalf("expected missed, got %s", c.State)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("expected no entry for a missed call, %d waiting", n)
	}
}
