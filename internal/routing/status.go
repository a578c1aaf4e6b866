package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"claims-dialer/internal/calls"
	"claims-dialer/internal/events"
	"claims-dialer/internal/outcomes"
)

// HandleStatus ingests a provider status callback.
//
//   - a queued caller hanging up is an abandonment: the entry is removed and
//     a missed_call outcome recorded.
//   - the agent leg ending busy, no-answer or failed releases the agent and
//     records that outcome.
//   - a completed leg releases the agent; the agent posts the disposition.
//
// Unknown calls return calls.ErrNotFound. For calls that already have an
// outcome the only effect is releasing the agent, since agents often post the
// disposition before the provider reports the end of the call.
func (r *Router) HandleStatus(ctx context.Context, ev StatusEvent) error {
	call, err := r.calls.GetByProviderID(ctx, ev.ProviderCallID)
	if err != nil {
		return err
	}
	if !ev.Status.Ended() {
		return nil
	}
	if call.Terminal() {
		if call.AgentID != "" {
			r.releaseAgent(ctx, call.AgentID, call.ID, ev.Status == StatusCompleted)
		}
		return nil
	}

	switch call.State {
	case calls.StateQueued:
		if ev.AgentLeg {
			return nil
		}
		return r.abandon(ctx, call, ev)
	case calls.StateConnecting:
		return r.endLeg(ctx, call, ev)
	case calls.StateMissed:
		// The outcome write failed when the call was missed. Retry it.
		r.recordMissed(ctx, call, call.MissedReason)
	}
	return nil
}

func (r *Router) abandon(ctx context.Context, call calls.InboundCall, ev StatusEvent) error {
	removed := false
	if r.queue != nil {
		var err error
		removed, err = r.queue.Remove(ctx, call.ID)
		if err != nil {
			return fmt.Errorf("remove from queue: %w", err)
		}
	}

	_, err := r.calls.Transition(ctx, call.ID, calls.StateMissed, calls.Update{At: r.Now(), MissedReason: calls.MissedAbandoned})
	if errors.Is(err, calls.ErrInvalidTransition) {
		// The dispatcher dequeued it first.
		latest, gerr := r.calls.Get(ctx, call.ID)
		if gerr != nil {
			return gerr
		}
		if latest.State == calls.StateConnecting {
			return r.endLeg(ctx, latest, StatusEvent{ProviderCallID: ev.ProviderCallID, Status: StatusCanceled})
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("transition to missed: %w", err)
	}
	if r.queue != nil && !removed {
		// The dispatcher may have put the entry back after the first Remove.
		again, err := r.queue.Remove(ctx, call.ID)
		if err != nil {
			r.log.Warn("remove from queue failed", slog.String("call_id", call.ID), slog.Any("err", err))
		}
		removed = again
	}

	r.log.Info("queued caller hung up", slog.String("call_id", call.ID), slog.Bool("removed", removed))
	r.recordMissed(ctx, call, calls.MissedAbandoned)
	return nil
}

func (r *Router) endLeg(ctx context.Context, call calls.InboundCall, ev StatusEvent) error {
	log := r.log.With(slog.String("call_id", call.ID), slog.String("agent_id", call.AgentID), slog.String("status", string(ev.Status)))

	switch ev.Status {
	case StatusCompleted:
		r.releaseAgent(ctx, call.AgentID, call.ID, true)
		log.Info("call leg completed")
		return nil
	case StatusCanceled:
		r.releaseAgent(ctx, call.AgentID, call.ID, false)
		log.Info("caller hung up before agent answered")
		r.recordMissed(ctx, call, calls.MissedAbandoned)
		return nil
	}

	outcome, ok := legOutcome[ev.Status]
	if !ok {
		return nil
	}
	r.releaseAgent(ctx, call.AgentID, call.ID, false)
	res, err := r.outcomes.ProcessOutcome(ctx, outcomes.Request{
		CallID:  call.ID,
		Type:    outcome,
		AgentID: call.AgentID,
		Notes:   "provider status " + string(ev.Status),
	})
	if errors.Is(err, outcomes.ErrAlreadyTerminal) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s outcome: %w", outcome, err)
	}
	r.events.Emit(ctx, events.Event{
		Type:        events.OutcomeRecorded,
		CallID:      call.ID,
		CallerPhone: call.CallerPhone,
		AgentID:     call.AgentID,
		Outcome:     string(res.Outcome.Type),
	})
	log.Info("agent leg failed")
	return nil
}

var legOutcome = map[ProviderStatus]calls.OutcomeType{
	StatusBusy:     calls.OutcomeBusy,
	StatusNoAnswer: calls.OutcomeNoAnswer,
	StatusFailed:   calls.OutcomeFailed,
}
