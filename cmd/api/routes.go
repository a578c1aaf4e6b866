package main

import (
	"context"
	"net/http"
	"time"

	"claims-dialer/internal/auth"
	"claims-dialer/internal/config"
	"claims-dialer/internal/httpapi"
	"claims-dialer/internal/telephony"
	"claims-dialer/pkg/logger"
	"claims-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app, m *auth.Manager) {
	h := httpapi.Handlers{
		Sessions:  a.sessions,
		Readiness: a.readiness,
		Calls:     a.be.calls,
		Outcomes:  a.processor,
		Queue:     a.router,
		Reports:   a.reports,
		Audit:     a.audit,
		Events:    a.events,
		Presence:  a.hub,
	}
	r.GET("/healthz", h.Health)
	r.GET("/readyz", readiness(a.be))

	// Provider webhooks (public, signed).
	wh := r.Group("/webhooks/twilio")
	if cfg.Twilio.ValidateSignature {
		wh.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
	}
	{
		th := telephony.TwilioWebhookHandler{Router: a.router, Renderer: a.renderer}
		wh.POST("/voice", th.Voice)
		wh.POST("/wait", th.Wait)
		wh.POST("/status", th.Status)
	}

	h.Register(r, auth.RequireAccessToken(m), auth.RequireAccessTokenOrQuery(m))
}

// readiness reports 503 until the configured stores answer.
func readiness(be *backends) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if be.db != nil {
			if err := utils.HealthCheck(ctx, be.db, time.Second); err != nil {
				logger.FromGin(c).Warn("readiness: postgres", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "postgres"})
				return
			}
		}
		if be.rdb != nil {
			if err := be.rdb.Ping(ctx).Err(); err != nil {
				logger.FromGin(c).Warn("readiness: redis", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "redis"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// corsHandler allows the agent desktop origins. No origins means same-origin only.
func corsHandler(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(next)
}
