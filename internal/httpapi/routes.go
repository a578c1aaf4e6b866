package httpapi

import (
	"claims-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the agent and supervisor API. authMW verifies bearer
// tokens; wsAuthMW additionally accepts ?token= for the WebSocket.
func (h Handlers) Register(r gin.IRouter, authMW, wsAuthMW gin.HandlerFunc) {
	r.GET("/ws/agents", wsAuthMW, rbac.RequireAnyRole(rbac.RoleAgent), h.AgentSocket)

	v1 := r.Group("/v1", authMW)

	ag := v1.Group("/agents")
	{
		self := ag.Group("", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		self.POST("/login", h.Login)
		self.POST("/logout", h.Logout)
		self.POST("/heartbeat", h.Heartbeat)
		self.POST("/status", h.SetStatus)

		ag.GET("/:agent_id/readiness", rbac.RequireAnyRole(rbac.RoleSupervisor), h.AgentReadiness)
	}

	cl := v1.Group("", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
	{
		cl.POST("/calls/:call_id/outcome", h.RecordOutcome)
		cl.GET("/queue/:call_id", h.QueueStatus)
	}

	v1.GET("/reports/calls", rbac.RequireAnyRole(rbac.RoleSupervisor), h.CallsReport)
}
