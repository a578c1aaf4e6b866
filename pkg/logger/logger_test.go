package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareInjectsRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWriter(&buf, "production")

	r := gin.New()
	r.Use(Middleware(l, "/healthz"))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusOK)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed")
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line not json: %v", err)
		}
		if m["request_id"] != "rid-1" {
			t.Fatalf("expected request_id on every line: %s", line)
		}
	}

	buf.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected quiet path not logged at info: %s", buf.String())
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}
