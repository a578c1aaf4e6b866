package httpapi

import (
	"net/http"

	"claims-dialer/internal/agents"
	"claims-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

type agentRequest struct {
	// AgentID is only honoured for supervisors; agents act on themselves.
	AgentID string `json:"agent_id,omitempty"`
}

type statusRequest struct {
	AgentID string        `json:"agent_id,omitempty"`
	Status  agents.Status `json:"status"`
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

// Login opens the agent's session in status available.
func (h Handlers) Login(c *gin.Context) {
	var req agentRequest
	if !bindOptional(c, &req) {
		return
	}
	_, agentID, ok := targetAgent(c, req.AgentID)
	if !ok {
		return
	}
	sess, err := h.Sessions.Login(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err, "login failed")
		return
	}
	logger.FromGin(c).Info("agent logged in", "agent_id", agentID)
	c.JSON(http.StatusOK, sess)
}

// Logout closes the session. A supervisor closing someone else's session is
// audited as a forced logout.
func (h Handlers) Logout(c *gin.Context) {
	var req agentRequest
	if !bindOptional(c, &req) {
		return
	}
	a, agentID, ok := targetAgent(c, req.AgentID)
	if !ok {
		return
	}
	if err := h.Sessions.Logout(c.Request.Context(), agentID); err != nil {
		writeError(c, err, "logout failed")
		return
	}
	if agentID != a.UserID && h.Audit != nil {
		if err := h.Audit.LogForcedLogout(c.Request.Context(), a, agentID, "supervisor"); err != nil {
			logger.FromGin(c).Warn("audit append failed", "agent_id", agentID, "err", err)
		}
	}
	logger.FromGin(c).Info("agent logged out", "agent_id", agentID, "by", a.UserID)
	c.Status(http.StatusNoContent)
}

func (h Handlers) Heartbeat(c *gin.Context) {
	_, agentID, ok := targetAgent(c, "")
	if !ok {
		return
	}
	if err := h.Sessions.Heartbeat(c.Request.Context(), agentID); err != nil {
		writeError(c, err, "heartbeat failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// SetStatus moves the agent between available, break and offline. on_call
// is set only by call assignment.
func (h Handlers) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.Status.Valid() || req.Status == agents.StatusOnCall {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be available, break or offline"})
		return
	}
	_, agentID, ok := targetAgent(c, req.AgentID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.Sessions.SetStatus(ctx, agentID, req.Status); err != nil {
		writeError(c, err, "status change failed")
		return
	}
	sess, err := h.Sessions.Get(ctx, agentID)
	if err != nil {
		writeError(c, err, "session lookup failed")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// AgentReadiness runs the readiness validation for one agent (supervisor view).
func (h Handlers) AgentReadiness(c *gin.Context) {
	agentID := c.Param("agent_id")
	if agentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}
	c.JSON(http.StatusOK, h.Readiness.ValidateReadiness(c.Request.Context(), agentID))
}

// AgentSocket upgrades to the presence WebSocket for the authenticated agent.
func (h Handlers) AgentSocket(c *gin.Context) {
	_, agentID, ok := targetAgent(c, "")
	if !ok {
		return
	}
	h.Presence.Serve(c.Writer, c.Request, agentID)
}
