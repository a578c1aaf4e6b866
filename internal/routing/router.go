package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/callers"
	"claims-dialer/internal/calls"
	"claims-dialer/internal/events"
	"claims-dialer/internal/greeting"
	"claims-dialer/internal/hours"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/presence"
	"claims-dialer/internal/queue"
	"claims-dialer/internal/scoring"

	"github.com/google/uuid"
)

type Config struct {
	// QueueEnabled parks calls when nobody is ready; otherwise they are missed.
	QueueEnabled bool
	// LookupTimeout bounds the inline lightweight caller lookup.
	LookupTimeout time.Duration
	// EnhanceTimeout bounds the background enhanced lookup.
	EnhanceTimeout time.Duration
	// ClosedMessage is read to callers outside business hours.
	ClosedMessage string
}

func (c Config) withDefaults() Config {
	out := c
	if out.LookupTimeout <= 0 {
		out.LookupTimeout = 750 * time.Millisecond
	}
	if out.EnhanceTimeout <= 0 {
		out.EnhanceTimeout = 5 * time.Second
	}
	return out
}

// Deps are the Router's collaborators. Calls, Discovery, Agents, Directory and
// Outcomes are required; the rest have safe defaults.
type Deps struct {
	Calls     calls.Repository
	Discovery Discoverer
	Agents    Assigner
	Directory AgentDirectory
	Outcomes  OutcomeRecorder

	Queue     queue.Queue
	Estimator *queue.Estimator
	Hours     hours.Policy
	Callers   callers.Lookup
	Greeter   Greeter
	Events    *events.Emitter
	Audit     Auditor
	Notifier  Notifier
}

// Router is the inbound call state machine:
//
//	arriving -> closed            -> missed(out_of_hours)
//	arriving -> open, agent found -> connecting
//	arriving -> open, no agent    -> queued | missed(agents_busy)
//
// Every path ends in exactly one of connect, queue or missed. Internal errors
// become missed(handler_error) and are attached to the Decision.
type Router struct {
	calls     calls.Repository
	discovery Discoverer
	agents    Assigner
	directory AgentDirectory
	outcomes  OutcomeRecorder
	queue     queue.Queue
	estimator *queue.Estimator
	hours     hours.Policy
	callers   callers.Lookup
	greeter   Greeter
	events    *events.Emitter
	audit     Auditor
	notifier  Notifier

	cfg Config
	log *slog.Logger
	bg  sync.WaitGroup

	// OnQueued runs after a call is parked. The dispatcher uses it as a
	// wake-up signal.
	OnQueued func()

	Now   func() time.Time
	NewID func() string
}

func NewRouter(d Deps, cfg Config, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		calls:     d.Calls,
		discovery: d.Discovery,
		agents:    d.Agents,
		directory: d.Directory,
		outcomes:  d.Outcomes,
		queue:     d.Queue,
		estimator: d.Estimator,
		hours:     d.Hours,
		callers:   d.Callers,
		greeter:   d.Greeter,
		events:    d.Events,
		audit:     d.Audit,
		notifier:  d.Notifier,
		cfg:       cfg.withDefaults(),
		log:       log,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
	if r.hours == nil {
		r.hours = hours.AlwaysOpen{}
	}
	if r.callers == nil {
		r.callers = callers.None{}
	}
	if r.greeter == nil {
		r.greeter = greeting.NewChain(log, greeting.NewGenericTemplates())
	}
	if r.audit == nil {
		r.audit = noopAuditor{}
	}
	return r
}

// Wait blocks until background lookups started by Route have finished.
func (r *Router) Wait() { r.bg.Wait() }

// Route decides what happens to a newly arrived call. It never fails: errors
// are folded into a missed Decision.
func (r *Router) Route(ctx context.Context, in Inbound) (d Decision) {
	log := r.log.With(slog.String("provider_call_id", in.ProviderCallID))

	if in.ProviderCallID != "" {
		if existing, err := r.calls.GetByProviderID(ctx, in.ProviderCallID); err == nil {
			log.Info("duplicate inbound webhook", slog.String("call_id", existing.ID), slog.String("state", string(existing.State)))
			return r.resume(ctx, existing)
		}
	}

	now := r.Now().UTC()
	call := calls.InboundCall{
		ID:             r.NewID(),
		ProviderCallID: in.ProviderCallID,
		CallerPhone:    callers.NormalizePhone(in.From),
		DialedPhone:    callers.NormalizePhone(in.To),
		CallerName:     in.CallerName,
		State:          calls.StateArriving,
		ArrivedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.calls.Create(ctx, call); err != nil {
		if errors.Is(err, calls.ErrAlreadyExists) && in.ProviderCallID != "" {
			// A concurrent retry of the same webhook won the insert.
			if existing, gerr := r.calls.GetByProviderID(ctx, in.ProviderCallID); gerr == nil {
				log.Info("duplicate inbound webhook", slog.String("call_id", existing.ID), slog.String("state", string(existing.State)))
				return r.resume(ctx, existing)
			}
		}
		log.Error("create call failed", slog.Any("err", err))
		return Decision{
			Action:   ActionMissed,
			Reason:   string(calls.MissedHandlerError),
			Greeting: r.greeter.Generate(ctx, greeting.KindError, greeting.Personalization{}),
			Err:      fmt.Errorf("create call: %w", err),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			d = r.miss(ctx, call, calls.MissedHandlerError, fmt.Errorf("routing panic: %v", rec), greeting.Personalization{})
		}
	}()

	if open, reason := r.hours.IsOpenNow(); !open {
		log.Info("closed", slog.String("call_id", call.ID), slog.String("reason", reason))
		return r.miss(ctx, call, calls.MissedOutOfHours, nil, greeting.Personalization{ClosedMessage: r.cfg.ClosedMessage})
	}

	p := greeting.Personalization{CallerName: call.CallerName}
	if id, ok := r.lightweight(ctx, call); ok {
		call.CallerID, call.CallerName = id.CallerID, id.Name
		p.CallerName = id.Name
		if err := r.calls.SetCaller(ctx, call.ID, id.CallerID, id.Name); err != nil {
			log.Warn("store caller identity failed", slog.String("call_id", call.ID), slog.Any("err", err))
		}
	}

	history := r.history(ctx, call)
	urgency := scoring.ComputePriority(0, history)
	call.Urgency = int(urgency)

	d, ok, err := r.tryConnect(ctx, call, p)
	if err != nil {
		return r.miss(ctx, call, calls.MissedHandlerError, err, p)
	}
	if ok {
		return d
	}
	return r.park(ctx, call, history, p)
}

func (r *Router) lightweight(ctx context.Context, call calls.InboundCall) (callers.Identity, bool) {
	if call.CallerPhone == "" {
		return callers.Identity{}, false
	}
	lctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	id, ok, err := r.callers.Lightweight(lctx, call.CallerPhone)
	if err != nil {
		r.log.Warn("caller lookup failed", slog.String("call_id", call.ID), slog.Any("err", err))
		return callers.Identity{}, false
	}
	return id, ok && id.Name != ""
}

func (r *Router) history(ctx context.Context, call calls.InboundCall) calls.History {
	if call.CallerPhone == "" {
		return calls.History{}
	}
	h, err := r.calls.RecentHistory(ctx, call.CallerPhone, r.Now().Add(-scoring.HistoryWindow))
	if err != nil {
		r.log.Warn("call history failed", slog.String("call_id", call.ID), slog.Any("err", err))
		return calls.History{}
	}
	// RecentHistory includes the call being routed.
	if h.Total > 0 {
		h.Total--
	}
	return h
}

// tryConnect runs discovery and the compare-and-swap assignment. A lost race
// retries discovery once. ok=false with a nil error means nobody is free.
func (r *Router) tryConnect(ctx context.Context, call calls.InboundCall, p greeting.Personalization) (Decision, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cand, ok, err := r.discovery.FindBestAgent(ctx)
		if err != nil {
			return Decision{}, false, fmt.Errorf("discovery: %w", err)
		}
		if !ok {
			r.log.Debug("no ready agent", slog.String("call_id", call.ID))
			return Decision{}, false, nil
		}
		agentID := cand.Session.AgentID
		err = r.agents.Assign(ctx, agentID, call.ID)
		if errors.Is(err, agents.ErrAgentUnavailable) {
			r.log.Info("assignment lost race",
				slog.String("call_id", call.ID),
				slog.String("agent_id", agentID),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return Decision{}, false, fmt.Errorf("assign %s: %w", agentID, err)
		}

		urgency := call.Urgency
		_, agent, err := r.connect(ctx, call, cand, &urgency)
		if err != nil {
			return Decision{}, false, err
		}
		return Decision{
			CallID:    call.ID,
			Action:    ActionConnect,
			ConnectTo: agent.DeviceIdentity,
			AgentID:   agent.ID,
			Greeting:  r.greeter.Generate(ctx, greeting.KindWelcome, p),
		}, true, nil
	}
	return Decision{}, false, nil
}

// connect moves an assigned call to connecting and tells the agent. On any
// failure the agent is released again.
func (r *Router) connect(ctx context.Context, call calls.InboundCall, cand agents.Candidate, urgency *int) (calls.InboundCall, agents.Agent, error) {
	agentID := cand.Session.AgentID
	agent, err := r.directory.GetAgent(ctx, agentID)
	if err == nil && agent.DeviceIdentity == "" {
		err = fmt.Errorf("agent %s has no device identity", agentID)
	}
	if err != nil {
		r.releaseAgent(ctx, agentID, call.ID, false)
		return calls.InboundCall{}, agents.Agent{}, fmt.Errorf("resolve agent: %w", err)
	}

	updated, err := r.calls.Transition(ctx, call.ID, calls.StateConnecting, calls.Update{
		At:      r.Now(),
		AgentID: agentID,
		Urgency: urgency,
	})
	if err != nil {
		r.releaseAgent(ctx, agentID, call.ID, false)
		return calls.InboundCall{}, agents.Agent{}, fmt.Errorf("transition to connecting: %w", err)
	}

	log := r.log.With(slog.String("call_id", call.ID), slog.String("agent_id", agentID))
	if cand.Degraded {
		log.Warn("degraded assignment", slog.Int("readiness_score", cand.Readiness.Score), slog.Any("issues", cand.Readiness.Issues))
		r.audit.DegradedAssignment(ctx, call.ID, cand)
	}
	if r.notifier != nil {
		r.notifier.SendCallAssign(presence.CallAssign{
			Type:        presence.TypeCallAssign,
			AgentID:     agentID,
			CallID:      call.ID,
			CallerPhone: updated.CallerPhone,
			CallerName:  updated.CallerName,
			Urgency:     updated.Urgency,
			Timestamp:   r.Now().UTC(),
		})
	}
	r.events.Emit(ctx, events.Event{
		Type:        events.CallConnected,
		CallID:      call.ID,
		CallerPhone: updated.CallerPhone,
		AgentID:     agentID,
		Urgency:     updated.Urgency,
		Degraded:    cand.Degraded,
	})
	log.Info("call connecting")
	return updated, agent, nil
}

// park queues the call, or misses it when queueing is off or full.
func (r *Router) park(ctx context.Context, call calls.InboundCall, history calls.History, p greeting.Personalization) Decision {
	if !r.cfg.QueueEnabled || r.queue == nil {
		return r.miss(ctx, call, calls.MissedAgentsBusy, nil, p)
	}

	urgency := call.Urgency
	if _, err := r.calls.Transition(ctx, call.ID, calls.StateQueued, calls.Update{At: r.Now(), Urgency: &urgency}); err != nil {
		return r.miss(ctx, call, calls.MissedHandlerError, fmt.Errorf("transition to queued: %w", err), p)
	}
	entry, err := r.queue.Enqueue(ctx, call.ID, scoring.QueueRank(scoring.Urgency(urgency)))
	if errors.Is(err, queue.ErrQueueFull) {
		return r.miss(ctx, call, calls.MissedAgentsBusy, nil, p)
	}
	if err != nil {
		return r.miss(ctx, call, calls.MissedHandlerError, fmt.Errorf("enqueue: %w", err), p)
	}

	r.log.Info("call queued",
		slog.String("call_id", call.ID),
		slog.Int("position", entry.Position),
		slog.Int("urgency", urgency),
	)
	r.events.Emit(ctx, events.Event{
		Type:          events.CallQueued,
		CallID:        call.ID,
		CallerPhone:   call.CallerPhone,
		Urgency:       urgency,
		Position:      entry.Position,
		EstimatedWait: int(entry.EstimatedWait.Seconds()),
	})
	if r.OnQueued != nil {
		r.OnQueued()
	}
	r.enhanceLater(call, scoring.Urgency(urgency), history)

	p.Position, p.EstimatedWait = entry.Position, entry.EstimatedWait
	return Decision{
		CallID:        call.ID,
		Action:        ActionQueue,
		Position:      entry.Position,
		EstimatedWait: entry.EstimatedWait,
		Greeting:      r.greeter.Generate(ctx, greeting.KindQueued, p),
	}
}

// enhanceLater runs the enhanced caller lookup after the call is parked and
// re-ranks it when the caller's claims change its urgency.
func (r *Router) enhanceLater(call calls.InboundCall, current scoring.Urgency, history calls.History) {
	if call.CallerPhone == "" {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.EnhanceTimeout)
		defer cancel()

		log := r.log.With(slog.String("call_id", call.ID))
		id, ok, err := r.callers.Enhanced(ctx, call.CallerPhone)
		if err != nil {
			log.Warn("enhanced caller lookup failed", slog.Any("err", err))
			return
		}
		if !ok {
			return
		}
		u := scoring.ComputePriority(id.ActiveClaims, history)
		if u == current {
			return
		}
		moved, err := r.queue.Reprioritize(ctx, call.ID, scoring.QueueRank(u))
		if err != nil {
			log.Warn("reprioritize failed", slog.Any("err", err))
			return
		}
		if moved {
			log.Info("call reprioritized", slog.Int("from", int(current)), slog.Int("to", int(u)))
		}
	}()
}

// miss records the missed call and picks the audio for it.
func (r *Router) miss(ctx context.Context, call calls.InboundCall, reason calls.MissedReason, cause error, p greeting.Personalization) Decision {
	if cause != nil {
		r.log.Error("routing failed",
			slog.String("call_id", call.ID),
			slog.String("reason", string(reason)),
			slog.Any("err", cause),
		)
	}
	r.recordMissed(ctx, call, reason)
	return Decision{
		CallID:   call.ID,
		Action:   ActionMissed,
		Reason:   string(reason),
		Err:      cause,
		Greeting: r.greeter.Generate(ctx, greetingFor(reason), p),
	}
}

// recordMissed writes the missed state and the missed-call outcome that later
// drives callback priority. It runs detached from ctx cancellation so a
// hung-up webhook still leaves a record.
func (r *Router) recordMissed(ctx context.Context, call calls.InboundCall, reason calls.MissedReason) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	log := r.log.With(slog.String("call_id", call.ID), slog.String("reason", string(reason)))

	_, err := r.calls.Transition(ctx, call.ID, calls.StateMissed, calls.Update{At: r.Now(), MissedReason: reason})
	if err != nil && !errors.Is(err, calls.ErrInvalidTransition) {
		log.Error("transition to missed failed", slog.Any("err", err))
	}

	_, err = r.outcomes.ProcessOutcome(ctx, outcomes.Request{
		CallID: call.ID,
		Type:   calls.OutcomeMissedCall,
		Notes:  string(reason),
	})
	if err != nil && !errors.Is(err, outcomes.ErrAlreadyTerminal) {
		log.Error("missed call outcome failed", slog.Any("err", err))
	}

	r.audit.MissedCall(ctx, call.ID, string(reason))
	evType := events.CallMissed
	if reason == calls.MissedAbandoned {
		evType = events.CallAbandoned
	}
	r.events.Emit(ctx, events.Event{
		Type:        evType,
		CallID:      call.ID,
		CallerPhone: call.CallerPhone,
		Reason:      string(reason),
	})
	log.Info("call missed")
}

func greetingFor(reason calls.MissedReason) greeting.Kind {
	switch reason {
	case calls.MissedOutOfHours:
		return greeting.KindOutOfHours
	case calls.MissedAgentsBusy:
		return greeting.KindAgentsBusy
	default:
		return greeting.KindError
	}
}

// resume rebuilds the Decision for a call the provider is asking about again.
// It never re-runs discovery.
func (r *Router) resume(ctx context.Context, call calls.InboundCall) Decision {
	p := greeting.Personalization{CallerName: call.CallerName}
	switch call.State {
	case calls.StateConnecting:
		agent, err := r.directory.GetAgent(ctx, call.AgentID)
		if err == nil && agent.DeviceIdentity != "" {
			return Decision{
				CallID:    call.ID,
				Action:    ActionConnect,
				ConnectTo: agent.DeviceIdentity,
				AgentID:   agent.ID,
				Greeting:  r.greeter.Generate(ctx, greeting.KindWelcome, p),
			}
		}
		return r.hold(ctx, call, p)
	case calls.StateMissed, calls.StateCompleted:
		reason := call.MissedReason
		if reason == "" {
			reason = calls.MissedHandlerError
		}
		return Decision{
			CallID:   call.ID,
			Action:   ActionMissed,
			Reason:   string(reason),
			Greeting: r.greeter.Generate(ctx, greetingFor(reason), p),
		}
	default:
		return r.hold(ctx, call, p)
	}
}

// WaitStatus answers the provider's wait loop for a parked call. Calls being
// bridged keep holding; the bridge replaces the wait loop at the provider.
func (r *Router) WaitStatus(ctx context.Context, providerCallID string) Decision {
	call, err := r.calls.GetByProviderID(ctx, providerCallID)
	if err != nil {
		return Decision{
			Action:   ActionMissed,
			Reason:   string(calls.MissedHandlerError),
			Greeting: r.greeter.Generate(ctx, greeting.KindError, greeting.Personalization{}),
			Err:      fmt.Errorf("wait lookup: %w", err),
		}
	}
	if call.State == calls.StateMissed || call.State == calls.StateCompleted {
		return r.resume(ctx, call)
	}
	return r.hold(ctx, call, greeting.Personalization{CallerName: call.CallerName})
}

func (r *Router) hold(ctx context.Context, call calls.InboundCall, p greeting.Personalization) Decision {
	d := Decision{CallID: call.ID, Action: ActionQueue}
	if call.State == calls.StateQueued && r.queue != nil {
		entry, ok, err := r.queue.Peek(ctx, call.ID)
		if err != nil {
			r.log.Warn("queue peek failed", slog.String("call_id", call.ID), slog.Any("err", err))
		}
		if ok {
			d.Position, d.EstimatedWait = entry.Position, entry.EstimatedWait
			p.Position, p.EstimatedWait = entry.Position, entry.EstimatedWait
		}
	}
	d.Greeting = r.greeter.Generate(ctx, greeting.KindQueued, p)
	return d
}

// QueueStatus reports where a queued call stands.
func (r *Router) QueueStatus(ctx context.Context, callID string) (queue.Entry, bool, error) {
	if r.queue == nil {
		return queue.Entry{}, false, nil
	}
	return r.queue.Peek(ctx, callID)
}

func (r *Router) releaseAgent(ctx context.Context, agentID, callID string, talked bool) {
	_, err := r.agents.Release(context.WithoutCancel(ctx), agentID, callID, talked)
	if err == nil {
		if talked && r.estimator != nil {
			r.estimator.ObserveRelease(r.Now())
		}
		return
	}
	if errors.Is(err, agents.ErrCallMismatch) || errors.Is(err, agents.ErrNotFound) {
		return
	}
	r.log.Error("release agent failed",
		slog.String("call_id", callID),
		slog.String("agent_id", agentID),
		slog.Any("err", err),
	)
}
