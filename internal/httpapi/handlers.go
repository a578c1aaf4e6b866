package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/audit"
	"claims-dialer/internal/auth"
	"claims-dialer/internal/calls"
	"claims-dialer/internal/events"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/queue"
	"claims-dialer/internal/rbac"
	"claims-dialer/internal/reporting"
	"claims-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Sessions is the slice of agents.Service the agent API uses.
type Sessions interface {
	Login(ctx context.Context, agentID string) (agents.Session, error)
	Logout(ctx context.Context, agentID string) error
	Get(ctx context.Context, agentID string) (agents.Session, error)
	Heartbeat(ctx context.Context, agentID string) error
	SetStatus(ctx context.Context, agentID string, status agents.Status) error
}

type CallReader interface {
	Get(ctx context.Context, id string) (calls.InboundCall, error)
}

type OutcomeRecorder interface {
	ProcessOutcome(ctx context.Context, req outcomes.Request) (outcomes.Result, error)
}

type QueueStatus interface {
	QueueStatus(ctx context.Context, callID string) (queue.Entry, bool, error)
}

// PresenceServer runs an agent's WebSocket connection.
type PresenceServer interface {
	Serve(w http.ResponseWriter, r *http.Request, agentID string)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions  Sessions
	Readiness agents.ReadinessChecker
	Calls     CallReader
	Outcomes  OutcomeRecorder
	Queue     QueueStatus
	Reports   *reporting.Service
	Audit     *audit.Service
	Events    *events.Emitter
	Presence  PresenceServer

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// actor reads the authenticated identity set by auth.RequireAccessToken.
func actor(c *gin.Context) (audit.Actor, bool) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		return audit.Actor{}, false
	}
	role, err := auth.Role(ctx)
	if err != nil {
		return audit.Actor{}, false
	}
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}, true
}

// targetAgent resolves which agent a request acts on: the caller, or the
// requested agent when the caller is a supervisor.
func targetAgent(c *gin.Context, requested string) (audit.Actor, string, bool) {
	a, ok := actor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return audit.Actor{}, "", false
	}
	if requested == "" || requested == a.UserID {
		return a, a.UserID, true
	}
	if !rbac.CanActForAgent(a.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return audit.Actor{}, "", false
	}
	return a, requested, true
}

// writeError maps domain sentinels to HTTP status codes.
func writeError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agents.ErrNotFound), errors.Is(err, calls.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agents.ErrInvalidStatus),
		errors.Is(err, agents.ErrAgentUnavailable),
		errors.Is(err, outcomes.ErrAlreadyTerminal),
		errors.Is(err, outcomes.ErrNotDisposable):
		status = http.StatusConflict
	case errors.Is(err, agents.ErrAgentDisabled):
		status = http.StatusForbidden
	case errors.Is(err, outcomes.ErrUnknownOutcome),
		errors.Is(err, outcomes.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error(msg, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
