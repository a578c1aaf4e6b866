package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestTwilioSignature_CoversURLAndParams(t *testing.T) {
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	const u = "https://dialer.example.com/webhooks/twilio/voice"
	sig := TwilioSignature("12345", u, params)
	if !ValidTwilioSignature("12345", u, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidTwilioSignature("other", u, params, sig) {
		t.Fatalf("expected token to matter")
	}
	if ValidTwilioSignature("12345", u+"?leg=agent", params, sig) {
		t.Fatalf("expected url to matter")
	}
	tampered := url.Values{"CallSid": {"CA1234567890ABCDE"}, "From": {"+10000000000"}, "To": {"+18005551212"}}
	if ValidTwilioSignature("12345", u, tampered, sig) {
		t.Fatalf("expected params to matter")
	}
}

func TestRequireTwilioSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.POST("/webhooks/twilio/voice", RequireTwilioSignature("secret", "https://dialer.example.com/"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}}
	sig := TwilioSignature("secret", "https://dialer.example.com/webhooks/twilio/voice", form)

	send := func(signature string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if signature != "" {
			req.Header.Set(headerTwilioSignature, signature)
		}
		w := httptest.NewRecorder()
		e.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(sig); code != http.StatusNoContent {
		t.Fatalf("expected signed request accepted, got %d", code)
	}
	if code := send("bogus"); code != http.StatusForbidden {
		t.Fatalf("expected bad signature rejected, got %d", code)
	}
	if code := send(""); code != http.StatusForbidden {
		t.Fatalf("expected missing signature rejected, got %d", code)
	}
}

func TestTwilioProvider_Bridge(t *testing.T) {
	var gotPath, gotTwiml, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTwiml = r.PostForm.Get("Twiml")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA1"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL}, testRenderer)
	if err := p.Bridge(context.Background(), "CA1", "client:a1"); err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls/CA1.json" || gotUser != "AC1" {
		t.Fatalf("unexpected request: %s as %s", gotPath, gotUser)
	}
	if !strings.Contains(gotTwiml, "<Client>a1</Client>") {
		t.Fatalf("expected dial twiml, got %s", gotTwiml)
	}
}

func TestTwilioProvider_BridgeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"code":20404,"message":"The requested resource was not found"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL}, testRenderer)
	err := p.Bridge(context.Background(), "CA1", "client:a1")
	var te *TwilioError
	if !errors.As(err, &te) || te.Code != 20404 || te.Status != http.StatusNotFound {
		t.Fatalf("expected twilio error, got %v", err)
	}
}
