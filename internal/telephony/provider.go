package telephony

import (
	"context"
	"strings"

	"claims-dialer/internal/routing"
)

// Provider is the provider-agnostic boundary used by the engine.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Routing decisions are never made here.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Bridge redirects a live call to the target device. It satisfies
	// routing.Bridger.
	Bridge(ctx context.Context, providerCallID, target string) error
}

var _ routing.Bridger = Provider(nil)

// CallbackURLs are the absolute URLs the provider calls back on.
type CallbackURLs struct {
	Voice  string
	Wait   string
	Status string
}

// NewCallbackURLs derives the webhook URLs from the public base URL.
func NewCallbackURLs(publicBaseURL string) CallbackURLs {
	base := strings.TrimRight(publicBaseURL, "/")
	return CallbackURLs{
		Voice:  base + "/webhooks/twilio/voice",
		Wait:   base + "/webhooks/twilio/wait",
		Status: base + "/webhooks/twilio/status",
	}
}

// AgentLegStatusURL is the Dial action URL; callbacks on it describe the agent leg.
func (u CallbackURLs) AgentLegStatusURL() string {
	return u.Status + "?leg=agent"
}
