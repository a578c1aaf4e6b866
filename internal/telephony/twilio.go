package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the REST endpoint (tests).
	BaseURL string
	Timeout time.Duration
}

// TwilioProvider talks to the Twilio REST API for live call control.
type TwilioProvider struct {
	cfg      TwilioConfig
	renderer Renderer
	http     *http.Client
}

func NewTwilioProvider(cfg TwilioConfig, renderer Renderer) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TwilioProvider{cfg: cfg, renderer: renderer, http: &http.Client{Timeout: cfg.Timeout}}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.accountURL()+".json", nil)
	if err != nil {
		return err
	}
	return p.do(req)
}

// Bridge replaces the live call's TwiML with a <Dial> to target. The call
// leaves the wait loop immediately.
func (p *TwilioProvider) Bridge(ctx context.Context, callSid, target string) error {
	if callSid == "" {
		return errors.New("telephony: call sid required")
	}
	twiml, err := p.renderer.BridgeTwiML(target)
	if err != nil {
		return err
	}
	form := url.Values{"Twiml": {twiml}}
	endpoint := p.accountURL() + "/Calls/" + url.PathEscape(callSid) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req)
}

func (p *TwilioProvider) accountURL() string {
	return p.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID)
}

// TwilioError is the REST API error body.
type TwilioError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio: %d (code %d): %s", e.Status, e.Code, e.Message)
}

func (p *TwilioProvider) do(req *http.Request) error {
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	te := &TwilioError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, te); err != nil || te.Message == "" {
		te.Message = http.StatusText(resp.StatusCode)
	}
	te.Status = resp.StatusCode
	return te
}
