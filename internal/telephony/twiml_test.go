package telephony

import (
	"strings"
	"testing"

	"claims-dialer/internal/greeting"
	"claims-dialer/internal/routing"
)

var testRenderer = Renderer{URLs: NewCallbackURLs("https://dialer.example.com/")}

func TestRenderConnectDialsClient(t *testing.T) {
	xml, err := testRenderer.Render(routing.Decision{
		Action:    routing.ActionConnect,
		ConnectTo: "client:agent-7",
		Greeting:  greeting.Audio{Say: "Connecting you now."},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"<Say>Connecting you now.</Say>",
		`action="https://dialer.example.com/webhooks/twilio/status?leg=agent"`,
		"<Client>agent-7</Client>",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderConnectTargets(t *testing.T) {
	xml, err := testRenderer.Render(routing.Decision{Action: routing.ActionConnect, ConnectTo: "sip:a1@pbx.example.com"})
	if err != nil || !strings.Contains(xml, "<Sip>sip:a1@pbx.example.com</Sip>") {
		t.Fatalf("expected sip dial, got %v %s", err, xml)
	}
	xml, err = testRenderer.Render(routing.Decision{Action: routing.ActionConnect, ConnectTo: "+15551230000"})
	if err != nil || !strings.Contains(xml, "<Number>+15551230000</Number>") {
		t.Fatalf("expected number dial, got %v %s", err, xml)
	}
}

func TestRenderConnectRequiresTarget(t *testing.T) {
	if _, err := testRenderer.Render(routing.Decision{Action: routing.ActionConnect}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderQueueRedirectsToWaitLoop(t *testing.T) {
	xml, err := testRenderer.Render(routing.Decision{
		Action:   routing.ActionQueue,
		Position: 2,
		Greeting: greeting.Audio{Say: "You are number 2 in line."},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, `<Pause length="20">`) {
		t.Fatalf("expected hold pause: %s", xml)
	}
	if !strings.Contains(xml, "https://dialer.example.com/webhooks/twilio/wait</Redirect>") {
		t.Fatalf("expected redirect to wait loop: %s", xml)
	}
}

func TestRenderMissedAlwaysHangsUp(t *testing.T) {
	xml, err := testRenderer.Render(routing.Decision{Action: routing.ActionMissed, Greeting: greeting.Emergency})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, `<Pause length="1">`) || !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("expected pause and hangup: %s", xml)
	}
	if strings.Index(xml, "<Pause") > strings.Index(xml, "<Hangup") {
		t.Fatalf("audio must come before hangup: %s", xml)
	}
}

func TestRenderUnknownActionFails(t *testing.T) {
	if _, err := testRenderer.Render(routing.Decision{Action: "reject"}); err == nil {
		t.Fatalf("expected error")
	}
}
