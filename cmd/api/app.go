package main

import (
	"context"
	"log/slog"
	"time"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/audit"
	"claims-dialer/internal/config"
	"claims-dialer/internal/events"
	"claims-dialer/internal/greeting"
	"claims-dialer/internal/hours"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/presence"
	"claims-dialer/internal/queue"
	"claims-dialer/internal/reporting"
	"claims-dialer/internal/routing"
	"claims-dialer/internal/scoring"
	"claims-dialer/internal/telephony"
)

// app is the wired engine. Construction order matters only where noted.
type app struct {
	sessions   *agents.Service
	readiness  *agents.ReadinessCache
	hub        *presence.Hub
	processor  *outcomes.Processor
	queue      queue.Queue
	router     *routing.Router
	dispatcher *routing.Dispatcher
	reaper     *agents.Reaper
	audit      *audit.Service
	reports    *reporting.Service
	events     *events.Emitter
	twilio     *telephony.TwilioProvider
	renderer   telephony.Renderer
	be         *backends
}

// lateProber lets the validator probe through the hub, which is built after
// the session service it depends on.
type lateProber struct{ hub *presence.Hub }

func (p *lateProber) Probe(ctx context.Context, agentID string) error {
	return p.hub.Probe(ctx, agentID)
}

func buildApp(cfg config.Config, be *backends, log *slog.Logger) (*app, error) {
	rc := cfg.Routing
	a := &app{be: be}

	pub, sep, err := openPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	a.events = events.NewEmitter(pub, cfg.Events.TopicPrefix, sep, log)
	a.audit = audit.NewService(be.audit)
	a.reports = reporting.NewService(be.calls)

	prober := &lateProber{}
	validator := agents.NewValidator(be.agents, prober, agents.ValidatorConfig{
		HeartbeatInterval: rc.HeartbeatInterval,
		DeviceCheck:       rc.DeviceCheck,
		ProbeTimeout:      rc.ProbeTimeout,
		Timeout:           rc.ValidationTimeout,
	})
	a.readiness = agents.NewReadinessCache(validator, rc.ReadinessTTL)
	a.sessions = agents.NewService(be.agents, a.readiness)
	a.hub = presence.NewHub(a.sessions, log)
	prober.hub = a.hub

	discovery := agents.NewDiscovery(be.agents, a.readiness, agents.DiscoveryConfig{
		Candidates:       rc.Candidates,
		MinScore:         rc.MinReadiness,
		DegradedFallback: rc.DegradedFallback,
	}, log)

	table := scoring.NewTable(scoring.Adjustment{ScoreDelta: cfg.Scoring.MissedDelta, Delay: cfg.Scoring.MissedDelay})
	a.processor = outcomes.NewProcessor(be.outcomes, table, cfg.Scoring.CallbackLead)
	// Events for outcomes are emitted by the callers that know the actor.
	a.processor.OnRecorded = func(ctx context.Context, req outcomes.Request, res outcomes.Result) {
		log.Info("outcome recorded",
			"call_id", req.CallID,
			"outcome", string(req.Type),
			"score_delta", res.ScoreDelta,
			"next_eligible_at", res.NextEligibleAt,
			"callback", res.Callback != nil,
		)
	}

	estimator := queue.NewEstimator(0)
	if rc.QueueBackend == config.QueueBackendRedis {
		a.queue = queue.NewRedis(be.rdb, "", rc.QueueCapacity, estimator)
	} else {
		a.queue = queue.NewMemory(rc.QueueCapacity, estimator)
	}

	var policy hours.Policy = hours.AlwaysOpen{}
	closedMessage := ""
	if cfg.Hours.File != "" {
		sched, err := hours.Load(cfg.Hours.File)
		if err != nil {
			return nil, err
		}
		policy = sched
		closedMessage = sched.ClosedMessage
	}

	a.router = routing.NewRouter(routing.Deps{
		Calls:     be.calls,
		Discovery: discovery,
		Agents:    a.sessions,
		Directory: be.agents,
		Outcomes:  a.processor,
		Queue:     a.queue,
		Estimator: estimator,
		Hours:     policy,
		Callers:   be.callers,
		Greeter:   newGreeter(cfg.Twilio, log),
		Events:    a.events,
		Audit:     routing.AuditAdapter{Audit: a.audit, Log: log},
		Notifier:  a.hub,
	}, routing.Config{
		QueueEnabled:  rc.QueueEnabled,
		LookupTimeout: rc.LookupTimeout,
		ClosedMessage: closedMessage,
	}, log)

	a.renderer = telephony.Renderer{URLs: telephony.NewCallbackURLs(cfg.Twilio.PublicBaseURL)}
	a.twilio = telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	}, a.renderer)

	var lease routing.Lease
	if be.rdb != nil {
		lease = routing.NewRedisLease(be.rdb, routing.DefaultLeaseKey, leaseTTL(rc.DispatchInterval))
	}
	a.dispatcher = routing.NewDispatcher(a.router, a.twilio, lease, rc.DispatchInterval, log)

	// Wake the dispatcher whenever capacity or demand appears.
	a.sessions.OnAvailable = func(string, time.Time) { a.dispatcher.Notify() }
	a.router.OnQueued = a.dispatcher.Notify

	a.reaper = agents.NewReaper(be.agents, rc.SessionTimeout, rc.HeartbeatInterval, log)
	a.reaper.OnClose = func(ctx context.Context, s agents.Session) {
		a.readiness.Invalidate(s.AgentID)
		if err := a.audit.LogForcedLogout(ctx, audit.Actor{Role: "system"}, s.AgentID, "heartbeat_timeout"); err != nil {
			log.Warn("audit append failed", "agent_id", s.AgentID, "err", err)
		}
	}

	return a, nil
}

// newGreeter degrades personal -> generic -> recorded clip. The chain itself
// falls back to a short pause and hangup.
func newGreeter(tc config.TwilioConfig, log *slog.Logger) *greeting.Chain {
	strategies := []greeting.Strategy{greeting.NewPersonalTemplates(), greeting.NewGenericTemplates()}
	if tc.AudioBaseURL != "" {
		strategies = append(strategies, greeting.Clips{BaseURL: tc.AudioBaseURL, Files: greeting.DefaultClips})
	}
	return greeting.NewChain(log, strategies...)
}

func leaseTTL(interval time.Duration) time.Duration {
	ttl := 5 * interval
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}
	return ttl
}

// openPublisher picks the event sink and its topic separator.
func openPublisher(cfg config.EventsConfig) (events.Publisher, string, error) {
	switch cfg.Sink {
	case config.EventsSinkMQTT:
		p, err := events.NewMQTTPublisher(events.MQTTOptions{Broker: cfg.MQTTBroker, ClientID: cfg.MQTTClientID, QoS: 1})
		return p, "/", err
	case config.EventsSinkKafka:
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers)
		return p, ".", err
	default:
		return events.Noop{}, ".", nil
	}
}
