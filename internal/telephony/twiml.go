package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"

	"claims-dialer/internal/greeting"
	"claims-dialer/internal/routing"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName xml.Name     `xml:"Dial"`
	Action  string       `xml:"action,attr,omitempty"`
	Method  string       `xml:"method,attr,omitempty"`
	Timeout int          `xml:"timeout,attr,omitempty"`
	Number  string       `xml:"Number,omitempty"`
	Sip     *twimlSip    `xml:"Sip,omitempty"`
	Client  *twimlClient `xml:"Client,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlClient struct {
	Identity string `xml:",chardata"`
}

// Renderer turns routing decisions into TwiML.
type Renderer struct {
	URLs CallbackURLs

	// Voice is the Twilio <Say> voice, empty for the account default.
	Voice string
	// HoldMusicURL is played while queued; a pause is used when empty.
	HoldMusicURL string
	// DialTimeout is how long the agent device rings, in seconds.
	DialTimeout int
	// HoldSeconds is how long a queued caller waits between announcements.
	HoldSeconds int
}

// Render maps a Decision to TwiML. Missed and unknown decisions always end
// with <Hangup/> so the caller is never left on an open line.
func (r Renderer) Render(d routing.Decision) (string, error) {
	var resp twimlResponse
	switch d.Action {
	case routing.ActionConnect:
		dial, err := r.dial(d.ConnectTo)
		if err != nil {
			return "", err
		}
		resp.Verbs = append(resp.Verbs, r.audio(d.Greeting)...)
		resp.Verbs = append(resp.Verbs, dial)
	case routing.ActionQueue:
		resp.Verbs = append(resp.Verbs, r.audio(d.Greeting)...)
		if r.HoldMusicURL != "" {
			resp.Verbs = append(resp.Verbs, twimlPlay{URL: r.HoldMusicURL})
		} else {
			resp.Verbs = append(resp.Verbs, twimlPause{Length: r.holdSeconds()})
		}
		resp.Verbs = append(resp.Verbs, twimlRedirect{Method: "POST", URL: r.URLs.Wait})
	case routing.ActionMissed:
		resp.Verbs = append(resp.Verbs, r.audio(d.Greeting)...)
		resp.Verbs = append(resp.Verbs, twimlHangup{})
	default:
		return "", errors.New("telephony: unknown decision action")
	}
	return encode(resp)
}

// Say speaks text then hangs up.
func (r Renderer) Say(text string) string {
	out, err := encode(twimlResponse{Verbs: []any{twimlSay{Voice: r.Voice, Text: text}, twimlHangup{}}})
	if err != nil {
		return HangupTwiML
	}
	return out
}

// BridgeTwiML is the TwiML pushed to a live call to connect it to target.
func (r Renderer) BridgeTwiML(target string) (string, error) {
	dial, err := r.dial(target)
	if err != nil {
		return "", err
	}
	return encode(twimlResponse{Verbs: []any{dial}})
}

// HangupTwiML is the last-resort response when rendering fails.
const HangupTwiML = xml.Header + "<Response><Hangup></Hangup></Response>"

func (r Renderer) audio(a greeting.Audio) []any {
	var verbs []any
	switch {
	case a.Say != "":
		verbs = append(verbs, twimlSay{Voice: r.Voice, Text: a.Say})
	case a.Play != "":
		verbs = append(verbs, twimlPlay{URL: a.Play})
	}
	if a.Pause > 0 {
		verbs = append(verbs, twimlPause{Length: a.Pause})
	}
	return verbs
}

// dial picks the Dial noun from the target: "sip:" URIs, "client:" identities,
// otherwise a phone number.
func (r Renderer) dial(target string) (twimlDial, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return twimlDial{}, errors.New("telephony: connect_to required for connect action")
	}
	d := twimlDial{Action: r.URLs.AgentLegStatusURL(), Method: "POST", Timeout: r.DialTimeout}
	if d.Timeout <= 0 {
		d.Timeout = 20
	}
	lower := strings.ToLower(target)
	switch {
	case strings.HasPrefix(lower, "sip:"):
		d.Sip = &twimlSip{URI: target}
	case strings.HasPrefix(lower, "client:"):
		d.Client = &twimlClient{Identity: target[len("client:"):]}
	default:
		d.Number = target
	}
	return d, nil
}

func (r Renderer) holdSeconds() int {
	if r.HoldSeconds <= 0 {
		return 20
	}
	return r.HoldSeconds
}

func encode(resp twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
