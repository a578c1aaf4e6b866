package routing

import (
	"context"
	"log/slog"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/audit"
)

// AuditAdapter bridges the router's audit hooks to the shared audit.Service.
//
// Failures are logged and swallowed.
type AuditAdapter struct {
	Audit *audit.Service
	Log   *slog.Logger
}

func (a AuditAdapter) DegradedAssignment(ctx context.Context, callID string, c agents.Candidate) {
	if a.Audit == nil {
		return
	}
	err := a.Audit.LogDegradedAssignment(ctx, callID, c.Session.AgentID, c.Readiness.Score, c.Readiness.Issues)
	a.logErr(err, callID)
}

func (a AuditAdapter) MissedCall(ctx context.Context, callID, reason string) {
	if a.Audit == nil {
		return
	}
	a.logErr(a.Audit.LogMissedCall(ctx, callID, reason), callID)
}

func (a AuditAdapter) logErr(err error, callID string) {
	if err == nil || a.Log == nil {
		return
	}
	a.Log.Warn("audit append failed", slog.String("call_id", callID), slog.Any("err", err))
}
