package telephony

import (
	"net/http"
	"strings"

	"claims-dialer/internal/routing"
)

// TwilioForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioForm struct {
	CallSid        string
	AccountSid     string
	From           string
	To             string
	Direction      string
	CallStatus     string
	CallerName     string
	DialCallSid    string
	DialCallStatus string
}

func ParseTwilioForm(r *http.Request) (TwilioForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioForm{}, err
	}
	return TwilioForm{
		CallSid:        r.PostFormValue("CallSid"),
		AccountSid:     r.PostFormValue("AccountSid"),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		Direction:      r.PostFormValue("Direction"),
		CallStatus:     r.PostFormValue("CallStatus"),
		CallerName:     r.PostFormValue("CallerName"),
		DialCallSid:    r.PostFormValue("DialCallSid"),
		DialCallStatus: r.PostFormValue("DialCallStatus"),
	}, nil
}

func (f TwilioForm) Inbound() routing.Inbound {
	return routing.Inbound{
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		CallerName:     f.CallerName,
	}
}

// StatusEvent normalises a status callback. agentLeg selects the Dial action
// callback, whose status is in DialCallStatus.
func (f TwilioForm) StatusEvent(agentLeg bool) routing.StatusEvent {
	raw := f.CallStatus
	if agentLeg {
		raw = f.DialCallStatus
	}
	status := twilioStatus(raw)
	if agentLeg && status == routing.StatusInProgress {
		// The Dial action fires once the dialed leg is over, so answered
		// means the agent talked to the caller.
		status = routing.StatusCompleted
	}
	return routing.StatusEvent{
		ProviderCallID: f.CallSid,
		Status:         status,
		AgentLeg:       agentLeg,
	}
}

func twilioStatus(raw string) routing.ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated", "ringing":
		return routing.StatusRinging
	case "in-progress", "answered":
		return routing.StatusInProgress
	case "completed":
		return routing.StatusCompleted
	case "busy":
		return routing.StatusBusy
	case "no-answer":
		return routing.StatusNoAnswer
	case "canceled":
		return routing.StatusCanceled
	default:
		return routing.StatusFailed
	}
}
