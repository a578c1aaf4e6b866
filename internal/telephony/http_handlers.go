package telephony

import (
	"context"
	"errors"
	"net/http"

	"claims-dialer/internal/calls"
	"claims-dialer/internal/routing"
	"claims-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Router is what the webhooks need from the routing engine.
type Router interface {
	Route(ctx context.Context, in routing.Inbound) routing.Decision
	WaitStatus(ctx context.Context, providerCallID string) routing.Decision
	HandleStatus(ctx context.Context, ev routing.StatusEvent) error
}

// TwilioWebhookHandler converts Twilio webhooks to routing types and writes
// TwiML. No business logic here.
//
// Every response is 200 with TwiML, even on internal failure: a non-2xx makes
// Twilio play its own error message to the caller.
type TwilioWebhookHandler struct {
	Router   Router
	Renderer Renderer
}

const agentUnreachableText = "We could not reach an agent. We will call you back shortly."

// Voice handles the inbound call webhook.
func (h TwilioWebhookHandler) Voice(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		h.write(c, HangupTwiML)
		return
	}

	d := h.Router.Route(c.Request.Context(), form.Inbound())
	log = log.With("call_id", d.CallID, "provider_call_id", form.CallSid, "action", string(d.Action))
	if d.Err != nil {
		log.Error("inbound call routing failed", "reason", d.Reason, "err", d.Err)
	} else {
		log.Info("inbound call routed", "reason", d.Reason)
	}
	h.render(c, d)
}

// Wait handles the queued caller's redirect loop.
func (h TwilioWebhookHandler) Wait(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		h.write(c, HangupTwiML)
		return
	}
	d := h.Router.WaitStatus(c.Request.Context(), form.CallSid)
	if d.Err != nil {
		log.Warn("wait status failed", "provider_call_id", form.CallSid, "err", d.Err)
	}
	h.render(c, d)
}

// Status handles call status callbacks and the Dial action callback
// (?leg=agent). The Dial action response is what the caller hears next.
func (h TwilioWebhookHandler) Status(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		h.write(c, HangupTwiML)
		return
	}

	agentLeg := c.Query("leg") == "agent"
	ev := form.StatusEvent(agentLeg)
	if err := h.Router.HandleStatus(c.Request.Context(), ev); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Debug("status for unknown call", "provider_call_id", form.CallSid)
		} else {
			log.Error("status callback failed", "provider_call_id", form.CallSid, "status", string(ev.Status), "err", err)
		}
	}

	if agentLeg && ev.Status != routing.StatusCompleted {
		h.write(c, h.Renderer.Say(agentUnreachableText))
		return
	}
	h.write(c, HangupTwiML)
}

func (h TwilioWebhookHandler) render(c *gin.Context, d routing.Decision) {
	twiml, err := h.Renderer.Render(d)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "call_id", d.CallID, "err", err)
		twiml = HangupTwiML
	}
	h.write(c, twiml)
}

func (h TwilioWebhookHandler) write(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
