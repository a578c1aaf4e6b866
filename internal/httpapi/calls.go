package httpapi

import (
	"net/http"
	"time"

	"claims-dialer/internal/calls"
	"claims-dialer/internal/events"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/rbac"
	"claims-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

type outcomeRequest struct {
	Type  calls.OutcomeType `json:"type"`
	Notes string            `json:"notes,omitempty"`

	// Scoring overrides, supervisors only.
	ScoreDelta   *int `json:"score_delta,omitempty"`
	DelaySeconds *int `json:"delay_seconds,omitempty"`

	CallbackAt *time.Time `json:"callback_at,omitempty"`
}

// RecordOutcome stores the agent's disposition for a call.
// Agents may only disposition calls assigned to them.
func (h Handlers) RecordOutcome(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	callID := c.Param("call_id")
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.Type.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown outcome type"})
		return
	}
	if req.DelaySeconds != nil && *req.DelaySeconds < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "delay_seconds must not be negative"})
		return
	}

	supervisor := rbac.CanActForAgent(a.Role)
	scoringOverride := req.ScoreDelta != nil || req.DelaySeconds != nil
	if scoringOverride && !supervisor {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "scoring overrides require supervisor"})
		return
	}

	ctx := c.Request.Context()
	call, err := h.Calls.Get(ctx, callID)
	if err != nil {
		writeError(c, err, "call lookup failed")
		return
	}
	if !supervisor && call.AgentID != a.UserID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "call not assigned to agent"})
		return
	}

	preq := outcomes.Request{
		CallID:  callID,
		Type:    req.Type,
		Notes:   req.Notes,
		AgentID: call.AgentID,
		Overrides: outcomes.Overrides{
			ScoreDelta: req.ScoreDelta,
			CallbackAt: req.CallbackAt,
		},
	}
	if req.DelaySeconds != nil {
		d := time.Duration(*req.DelaySeconds) * time.Second
		preq.Overrides.Delay = &d
	}

	res, err := h.Outcomes.ProcessOutcome(ctx, preq)
	if err != nil {
		writeError(c, err, "outcome processing failed")
		return
	}

	log := logger.FromGin(c).With("call_id", callID, "outcome", string(req.Type))
	if scoringOverride && h.Audit != nil {
		if err := h.Audit.LogOutcomeOverride(ctx, a, callID, string(req.Type), preq.Overrides); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	h.Events.Emit(ctx, events.Event{
		Type:        events.OutcomeRecorded,
		CallID:      callID,
		CallerPhone: call.CallerPhone,
		AgentID:     call.AgentID,
		Outcome:     string(req.Type),
	})
	log.Info("outcome recorded", "score_delta", res.ScoreDelta, "by", a.UserID)
	c.JSON(http.StatusOK, res)
}

type queueStatusResponse struct {
	CallID               string `json:"call_id"`
	Position             int    `json:"position"`
	EstimatedWaitSeconds int    `json:"estimated_wait_seconds"`
	Rank                 int    `json:"rank"`
}

// QueueStatus reports a waiting call's position and estimated wait.
func (h Handlers) QueueStatus(c *gin.Context) {
	callID := c.Param("call_id")
	e, ok, err := h.Queue.QueueStatus(c.Request.Context(), callID)
	if err != nil {
		writeError(c, err, "queue lookup failed")
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not queued"})
		return
	}
	c.JSON(http.StatusOK, queueStatusResponse{
		CallID:               e.CallID,
		Position:             e.Position,
		EstimatedWaitSeconds: int(e.EstimatedWait.Seconds()),
		Rank:                 e.Rank,
	})
}
