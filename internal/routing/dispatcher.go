package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/calls"
	"claims-dialer/internal/events"
	"claims-dialer/internal/greeting"
	"claims-dialer/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseKey elects the single dispatcher across replicas.
const DefaultLeaseKey = "dialer:dispatch:lease"

// Lease elects one dequeue writer.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLease is an expiring Redis lease owned by this process.
type RedisLease struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

func NewRedisLease(rdb *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &RedisLease{rdb: rdb, key: key, owner: uuid.NewString(), ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireLease(ctx, l.rdb, l.key, l.owner, l.ttl)
}

func (l *RedisLease) Release(ctx context.Context) error {
	return utils.ReleaseLease(ctx, l.rdb, l.key, l.owner)
}

// Dispatcher drains the queue whenever an agent frees up. It is the only
// code that calls DequeueNext.
type Dispatcher struct {
	router   *Router
	bridger  Bridger
	lease    Lease
	interval time.Duration
	wake     chan struct{}
	log      *slog.Logger
}

// NewDispatcher builds a Dispatcher. lease may be nil for a single replica.
func NewDispatcher(r *Router, bridger Bridger, lease Lease, interval time.Duration, log *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		router:   r,
		bridger:  bridger,
		lease:    lease,
		interval: interval,
		wake:     make(chan struct{}, 1),
		log:      log,
	}
}

// Notify asks for a drain without waiting for the next tick.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains on every tick or wake-up until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	defer func() {
		if d.lease == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.lease.Release(rctx); err != nil {
			d.log.Warn("dispatch lease release failed", slog.Any("err", err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-d.wake:
		}
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("dispatch failed", slog.Any("err", err))
		}
	}
}

// Drain dispatches queued calls until the queue is empty or nobody is ready.
// It returns how many entries were consumed.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	if d.lease != nil {
		ok, err := d.lease.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("dispatch lease: %w", err)
		}
		if !ok {
			return 0, nil
		}
	}

	n := 0
	for ctx.Err() == nil {
		progressed, err := d.dispatchOne(ctx)
		if err != nil {
			return n, err
		}
		if !progressed {
			break
		}
		n++
	}
	return n, nil
}

// dispatchOne pairs the head of the queue with the best ready agent.
// progressed=false means there was nothing to do.
func (d *Dispatcher) dispatchOne(ctx context.Context) (bool, error) {
	r := d.router
	if r.queue == nil {
		return false, nil
	}
	waiting, err := r.queue.Len(ctx)
	if err != nil || waiting == 0 {
		return false, err
	}

	cand, ok, err := r.discovery.FindBestAgent(ctx)
	if err != nil || !ok {
		return false, err
	}
	entry, ok, err := r.queue.DequeueNext(ctx)
	if err != nil || !ok {
		return false, err
	}

	log := d.log.With(slog.String("call_id", entry.CallID))
	call, err := r.calls.Get(ctx, entry.CallID)
	if errors.Is(err, calls.ErrNotFound) {
		log.Warn("dropping queue entry for unknown call")
		return true, nil
	}
	if err != nil {
		_ = d.requeue(ctx, entry.CallID, entry.Rank)
		return false, fmt.Errorf("load call: %w", err)
	}
	if call.State != calls.StateQueued {
		log.Debug("dropping stale queue entry", slog.String("state", string(call.State)))
		return true, nil
	}

	agentID := cand.Session.AgentID
	if err := r.agents.Assign(ctx, agentID, call.ID); err != nil {
		if qerr := d.requeue(ctx, entry.CallID, entry.Rank); qerr != nil {
			r.miss(ctx, call, calls.MissedHandlerError, qerr, greeting.Personalization{})
			return true, nil
		}
		if errors.Is(err, agents.ErrAgentUnavailable) {
			log.Info("assignment lost race", slog.String("agent_id", agentID))
			return false, nil
		}
		return false, fmt.Errorf("assign %s: %w", agentID, err)
	}

	updated, agent, err := r.connect(ctx, call, cand, nil)
	if err != nil {
		if errors.Is(err, calls.ErrInvalidTransition) {
			log.Info("call left the queue during dispatch")
			return true, nil
		}
		r.miss(ctx, call, calls.MissedHandlerError, err, greeting.Personalization{})
		return true, nil
	}

	if err := d.bridger.Bridge(ctx, call.ProviderCallID, agent.DeviceIdentity); err != nil {
		r.releaseAgent(ctx, agentID, call.ID, false)
		log.Warn("bridge failed", slog.String("agent_id", agentID), slog.Any("err", err))
		r.recordMissed(ctx, updated, calls.MissedBridgeFailed)
		return true, nil
	}

	var waited time.Duration
	if updated.QueuedAt != nil {
		waited = r.Now().Sub(*updated.QueuedAt)
	}
	r.events.Emit(ctx, events.Event{
		Type:          events.CallDequeued,
		CallID:        call.ID,
		CallerPhone:   call.CallerPhone,
		AgentID:       agentID,
		Urgency:       updated.Urgency,
		EstimatedWait: int(waited.Seconds()),
	})
	log.Info("queued call dispatched", slog.String("agent_id", agentID), slog.Duration("waited", waited))
	return true, nil
}

// requeue puts a dequeued entry back with its rank. It loses its place among
// equal ranks. The caller may hang up while the entry is out of the queue, so
// the entry is dropped again unless the call is still queued. Together with
// the second Remove in abandon this leaves no entry for a missed call.
func (d *Dispatcher) requeue(ctx context.Context, callID string, rank int) error {
	ctx = context.WithoutCancel(ctx)
	q := d.router.queue
	if _, err := q.Enqueue(ctx, callID, rank); err != nil {
		d.log.Error("requeue failed", slog.String("call_id", callID), slog.Any("err", err))
		return fmt.Errorf("requeue: %w", err)
	}

	call, err := d.router.calls.Get(ctx, callID)
	if err != nil && !errors.Is(err, calls.ErrNotFound) {
		// Leave the entry; dispatchOne drops it if the call turns out stale.
		d.log.Warn("requeue state check failed", slog.String("call_id", callID), slog.Any("err", err))
		return nil
	}
	if err == nil && call.State == calls.StateQueued {
		return nil
	}
	if _, err := q.Remove(ctx, callID); err != nil {
		d.log.Warn("drop requeued entry failed", slog.String("call_id", callID), slog.Any("err", err))
	}
	d.log.Info("call left the queue during dispatch", slog.String("call_id", callID))
	return nil
}
