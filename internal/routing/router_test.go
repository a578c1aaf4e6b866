package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/audit"
	"claims-dialer/internal/callers"
	"claims-dialer/internal/calls"
	"claims-dialer/internal/events"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/queue"
	"claims-dialer/internal/scoring"
)

type fixture struct {
	calls  *calls.MemoryRepo
	store  *agents.MemoryStore
	svc    *agents.Service
	queue  *queue.Memory
	pub    *events.MockPublisher
	audit  *audit.MemoryRepo
	router *Router
}

// newFixture wires a Router over in-memory backends. mutate may replace
// collaborators before the Router is built.
func newFixture(t *testing.T, cfg Config, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		calls: calls.NewMemoryRepo(),
		store: agents.NewMemoryStore(),
		queue: queue.NewMemory(50, queue.NewEstimator(0)),
		pub:   events.NewMockPublisher(),
		audit: audit.NewMemoryRepo(),
	}
	f.svc = agents.NewService(f.store, nil)
	validator := agents.NewValidator(f.store, nil, agents.ValidatorConfig{HeartbeatInterval: time.Hour})

	d := Deps{
		Calls:     f.calls,
		Discovery: agents.NewDiscovery(f.store, validator, agents.DiscoveryConfig{}, nil),
		Agents:    f.svc,
		Directory: f.store,
		Outcomes:  outcomes.NewProcessor(outcomes.NewMemoryRepo(f.calls), scoring.DefaultTable(), 0),
		Queue:     f.queue,
		Events:    events.NewEmitter(f.pub, "dialer", "/", nil),
		Audit:     AuditAdapter{Audit: audit.NewService(f.audit)},
	}
	if mutate != nil {
		mutate(&d)
	}
	f.router = NewRouter(d, cfg, nil)
	n := int64(0)
	f.router.NewID = func() string { return fmt.Sprintf("call-%d", atomic.AddInt64(&n, 1)) }
	return f
}

func (f *fixture) addAgent(id string) {
	now := time.Now()
	f.store.PutAgent(agents.Agent{ID: id, Name: id, DeviceIdentity: "client:" + id, Active: true})
	f.store.PutSession(agents.Session{
		AgentID:         id,
		Status:          agents.StatusAvailable,
		DeviceConnected: true,
		LastHeartbeat:   &now,
		LastActivity:    now,
		StartedAt:       now,
	})
}

func (f *fixture) topics() []string {
	var out []string
	for _, m := range f.pub.Messages() {
		out = append(out, m.Topic)
	}
	return out
}

func (f *fixture) published(topic string) bool {
	for _, tp := range f.topics() {
		if tp == topic {
			return true
		}
	}
	return false
}

func (f *fixture) mustCall(t *testing.T, id string) calls.InboundCall {
	t.Helper()
	c, err := f.calls.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get call %s: %v", id, err)
	}
	return c
}

func inbound(n int) Inbound {
	return Inbound{ProviderCallID: fmt.Sprintf("CA%03d", n), From: "+1 (555) 000-0001", To: "+15559990000"}
}

type closedHours struct{}

func (closedHours) IsOpenNow() (bool, string) { return false, "closed_weekday" }

type countingDiscovery struct {
	next Discoverer
	n    atomic.Int32
}

func (c *countingDiscovery) FindBestAgent(ctx context.Context) (agents.Candidate, bool, error) {
	c.n.Add(1)
	return c.next.FindBestAgent(ctx)
}

type stubDiscovery struct {
	cand  agents.Candidate
	ok    bool
	err   error
	panic bool
}

func (s stubDiscovery) FindBestAgent(ctx context.Context) (agents.Candidate, bool, error) {
	if s.panic {
		panic("discovery exploded")
	}
	return s.cand, s.ok, s.err
}

type unavailableAssigner struct {
	n atomic.Int32
}

func (a *unavailableAssigner) Assign(ctx context.Context, agentID, callID string) error {
	a.n.Add(1)
	return agents.ErrAgentUnavailable
}

func (a *unavailableAssigner) Release(ctx context.Context, agentID, callID string, talked bool) (agents.Session, error) {
	return agents.Session{}, agents.ErrCallMismatch
}

func TestRoute_ConnectsReadyAgent(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionConnect || d.ConnectTo != "client:a1" || d.AgentID != "a1" {
		t.Fatalf("expected connect to a1, got %+v", d)
	}
	if d.Greeting.Empty() {
		t.Fatalf("expected welcome audio")
	}

	c := f.mustCall(t, d.CallID)
	if c.State != calls.StateConnecting || c.AgentID != "a1" || c.CallerPhone != "+15550000001" {
		t.Fatalf("unexpected call: %+v", c)
	}
	sess, _ := f.store.Get(context.Background(), "a1")
	if sess.Status != agents.StatusOnCall || sess.CurrentCallID != d.CallID {
		t.Fatalf("expected agent assigned, got %+v", sess)
	}
	if !f.published("dialer/call.connected") {
		t.Fatalf("expected call.connected, got %v", f.topics())
	}
}

func TestRoute_OutOfHoursSkipsDiscovery(t *testing.T) {
	var disc *countingDiscovery
	f := newFixture(t, Config{QueueEnabled: true, ClosedMessage: "We open at nine."}, func(d *Deps) {
		disc = &countingDiscovery{next: d.Discovery}
		d.Discovery = disc
		d.Hours = closedHours{}
	})
	f.addAgent("a1")

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionMissed || d.Reason != string(calls.MissedOutOfHours) {
		t.Fatalf("expected missed(out_of_hours), got %+v", d)
	}
	if n := disc.n.Load(); n != 0 {
		t.Fatalf("expected no discovery calls, got %d", n)
	}
	if d.Greeting.Say == "" {
		t.Fatalf("expected closed message audio")
	}

	c := f.mustCall(t, d.CallID)
	if c.State != calls.StateMissed || c.MissedReason != calls.MissedOutOfHours || !c.Terminal() {
		t.Fatalf("unexpected call: %+v", c)
	}
	if o, ok := f.calls.Outcome(d.CallID); !ok || o.Type != calls.OutcomeMissedCall {
		t.Fatalf("expected missed_call outcome, got %+v %v", o, ok)
	}
	if _, ok := f.calls.Score("+15550000001"); !ok {
		t.Fatalf("expected caller score")
	}
	if len(f.calls.Callbacks()) != 1 {
		t.Fatalf("expected callback for missed call")
	}
	if len(f.audit.OfType(audit.EventTypeMissedCall)) != 1 {
		t.Fatalf("expected missed_call audit")
	}
}

func TestRoute_QueuesWhenNobodyReady(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	woke := 0
	f.router.OnQueued = func() { woke++ }

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionQueue || d.Position != 1 || d.EstimatedWait <= 0 {
		t.Fatalf("expected queue at position 1, got %+v", d)
	}
	if woke != 1 {
		t.Fatalf("expected dispatcher wake-up")
	}
	if c := f.mustCall(t, d.CallID); c.State != calls.StateQueued || c.QueuedAt == nil {
		t.Fatalf("unexpected call: %+v", c)
	}
	if n, _ := f.queue.Len(context.Background()); n != 1 {
		t.Fatalf("expected one waiting entry, got %d", n)
	}
	if !f.published("dialer/call.queued") {
		t.Fatalf("expected call.queued, got %v", f.topics())
	}
}

func TestRoute_AgentsBusyWhenQueueDisabled(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: false}, nil)

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionMissed || d.Reason != string(calls.MissedAgentsBusy) {
		t.Fatalf("expected missed(agents_busy), got %+v", d)
	}
	if _, ok := f.calls.Outcome(d.CallID); !ok {
		t.Fatalf("expected missed_call outcome")
	}
}

func TestRoute_AgentsBusyWhenQueueFull(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, func(d *Deps) {
		d.Queue = queue.NewMemory(1, nil)
	})

	first := f.router.Route(context.Background(), inbound(1))
	if first.Action != ActionQueue {
		t.Fatalf("expected first call queued, got %+v", first)
	}
	second := f.router.Route(context.Background(), inbound(2))
	if second.Action != ActionMissed || second.Reason != string(calls.MissedAgentsBusy) {
		t.Fatalf("expected missed(agents_busy), got %+v", second)
	}
	if c := f.mustCall(t, second.CallID); c.State != calls.StateMissed {
		t.Fatalf("expected missed state, got %s", c.State)
	}
}

func TestRoute_DiscoveryErrorIsHandlerError(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, func(d *Deps) {
		d.Discovery = stubDiscovery{err: errors.New("session store down")}
	})

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionMissed || d.Reason != string(calls.MissedHandlerError) || d.Err == nil {
		t.Fatalf("expected missed(handler_error), got %+v", d)
	}
	if d.Greeting.Empty() {
		t.Fatalf("expected terminal audio")
	}
	if o, ok := f.calls.Outcome(d.CallID); !ok || o.Type != calls.OutcomeMissedCall {
		t.Fatalf("expected missed_call outcome")
	}
}

func TestRoute_PanicBecomesHandlerError(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, func(d *Deps) {
		d.Discovery = stubDiscovery{panic: true}
	})

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionMissed || d.Reason != string(calls.MissedHandlerError) {
		t.Fatalf("expected missed(handler_error), got %+v", d)
	}
	if c := f.mustCall(t, d.CallID); !c.Terminal() {
		t.Fatalf("expected terminal call after panic")
	}
}

func TestRoute_LostRaceRetriesOnceThenQueues(t *testing.T) {
	assigner := &unavailableAssigner{}
	var disc *countingDiscovery
	f := newFixture(t, Config{QueueEnabled: true}, func(d *Deps) {
		disc = &countingDiscovery{next: d.Discovery}
		d.Discovery = disc
		d.Agents = assigner
	})
	f.addAgent("a1")

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionQueue {
		t.Fatalf("expected queue after lost races, got %+v", d)
	}
	if n := assigner.n.Load(); n != 2 {
		t.Fatalf("expected 2 assignment attempts, got %d", n)
	}
	if n := disc.n.Load(); n != 2 {
		t.Fatalf("expected 2 discovery calls, got %d", n)
	}
}

func TestRoute_NoDoubleBooking(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")

	const n = 20
	decisions := make([]Decision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = f.router.Route(context.Background(), inbound(i))
		}(i)
	}
	wg.Wait()

	connected := ""
	for _, d := range decisions {
		switch d.Action {
		case ActionConnect:
			if connected != "" {
				t.Fatalf("agent double-booked: %s and %s", connected, d.CallID)
			}
			connected = d.CallID
		case ActionQueue:
		default:
			t.Fatalf("unexpected decision %+v", d)
		}
	}
	if connected == "" {
		t.Fatalf("expected one call to connect")
	}
	sess, _ := f.store.Get(context.Background(), "a1")
	if sess.CurrentCallID != connected {
		t.Fatalf("session holds %q, connected %q", sess.CurrentCallID, connected)
	}
	if q, _ := f.queue.Len(context.Background()); q != n-1 {
		t.Fatalf("expected %d queued, got %d", n-1, q)
	}
}

func TestRoute_DuplicateWebhookResumes(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	f.addAgent("a2")

	first := f.router.Route(context.Background(), inbound(1))
	second := f.router.Route(context.Background(), inbound(1))
	if second.CallID != first.CallID || second.Action != ActionConnect || second.ConnectTo != first.ConnectTo {
		t.Fatalf("expected same decision, got %+v vs %+v", first, second)
	}

	other := "a2"
	if first.AgentID == "a2" {
		other = "a1"
	}
	sess, _ := f.store.Get(context.Background(), other)
	if sess.Status != agents.StatusAvailable {
		t.Fatalf("duplicate webhook must not assign a second agent")
	}
}

func TestRoute_ConcurrentDuplicateWebhooksShareOneCall(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	f.addAgent("a2")
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = f.router.Route(ctx, inbound(1)).CallID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] || id == "" {
			t.Fatalf("expected every retry to share one call, got %v", ids)
		}
	}
	all, _ := f.calls.List(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if len(all) != 1 {
		t.Fatalf("expected one stored call, got %d", len(all))
	}
	busy := 0
	for _, id := range []string{"a1", "a2"} {
		if sess, _ := f.store.Get(ctx, id); sess.Status == agents.StatusOnCall {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("expected exactly one agent assigned, got %d", busy)
	}
}

func TestRoute_QueuedCallRejectsDisposition(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	if d.Action != ActionQueue {
		t.Fatalf("expected queue, got %+v", d)
	}
	_, err := f.router.outcomes.ProcessOutcome(ctx, outcomes.Request{CallID: d.CallID, Type: calls.OutcomeContacted})
	if !errors.Is(err, outcomes.ErrNotDisposable) {
		t.Fatalf("expected ErrNotDisposable, got %v", err)
	}
	if c := f.mustCall(t, d.CallID); c.State != calls.StateQueued || c.Terminal() {
		t.Fatalf("queued call must be untouched, got %+v", c)
	}
	if _, ok, _ := f.queue.Peek(ctx, d.CallID); !ok {
		t.Fatalf("queue entry must survive")
	}
}

func TestRoute_EnhancedLookupReprioritizes(t *testing.T) {
	lookup := callers.NewMemory()
	lookup.Put(callers.Identity{CallerID: "cl-1", Name: "Ada", Phone: "+15550000001", ActiveClaims: 3})
	f := newFixture(t, Config{QueueEnabled: true}, func(d *Deps) { d.Callers = lookup })

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionQueue {
		t.Fatalf("expected queue, got %+v", d)
	}
	f.router.Wait()

	entry, ok, err := f.queue.Peek(context.Background(), d.CallID)
	if err != nil || !ok {
		t.Fatalf("peek: %v %v", ok, err)
	}
	want := scoring.QueueRank(scoring.ComputePriority(3, calls.History{}))
	if entry.Rank != want {
		t.Fatalf("expected rank %d after enhancement, got %d", want, entry.Rank)
	}
	if c := f.mustCall(t, d.CallID); c.CallerName != "Ada" || c.CallerID != "cl-1" {
		t.Fatalf("expected caller identity stored, got %+v", c)
	}
}

func TestRoute_RecentMissesRaiseUrgency(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	ctx := context.Background()
	prior := calls.InboundCall{ID: "old", CallerPhone: "+15550000001", State: calls.StateArriving, ArrivedAt: time.Now().Add(-time.Hour)}
	if err := f.calls.Create(ctx, prior); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.calls.Transition(ctx, "old", calls.StateMissed, calls.Update{At: time.Now(), MissedReason: calls.MissedAgentsBusy}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	d := f.router.Route(ctx, inbound(1))
	c := f.mustCall(t, d.CallID)
	if c.Urgency != scoring.BaseUrgency+scoring.PerRecentMiss {
		t.Fatalf("expected urgency %d, got %d", scoring.BaseUrgency+scoring.PerRecentMiss, c.Urgency)
	}
}

func TestRoute_DegradedAssignmentAudited(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	f.addAgent("a1")
	sess, _ := f.store.Get(context.Background(), "a1")
	f.router.discovery = stubDiscovery{ok: true, cand: agents.Candidate{
		Session:   sess,
		Readiness: agents.Readiness{AgentID: "a1", Score: 40, Issues: []string{agents.IssueStaleHeartbeat}},
		Degraded:  true,
	}}

	d := f.router.Route(context.Background(), inbound(1))
	if d.Action != ActionConnect {
		t.Fatalf("expected connect, got %+v", d)
	}
	evs := f.audit.OfType(audit.EventTypeDegradedAssignment)
	if len(evs) != 1 || evs[0].AgentID != "a1" || evs[0].CallID != d.CallID {
		t.Fatalf("expected degraded audit, got %+v", evs)
	}
}

func TestWaitStatus_ReportsPositionUntilMissed(t *testing.T) {
	f := newFixture(t, Config{QueueEnabled: true}, nil)
	ctx := context.Background()

	d := f.router.Route(ctx, inbound(1))
	w := f.router.WaitStatus(ctx, "CA001")
	if w.Action != ActionQueue || w.Position != 1 || w.CallID != d.CallID {
		t.Fatalf("expected still queued, got %+v", w)
	}

	if err := f.router.HandleStatus(ctx, StatusEvent{ProviderCallID: "CA001", Status: StatusCompleted}); err != nil {
		t.Fatalf("status: %v", err)
	}
	w = f.router.WaitStatus(ctx, "CA001")
	if w.Action != ActionMissed || w.Reason != string(calls.MissedAbandoned) {
		t.Fatalf("expected missed after hangup, got %+v", w)
	}

	if w := f.router.WaitStatus(ctx, "CA404"); w.Action != ActionMissed || w.Err == nil {
		t.Fatalf("expected missed for unknown call, got %+v", w)
	}
}
