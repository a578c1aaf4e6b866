package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"claims-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const headerTwilioSignature = "X-Twilio-Signature"

// TwilioSignature computes X-Twilio-Signature for a POST to fullURL: the URL
// followed by every form key and value sorted by key, HMAC-SHA1 with the auth
// token, base64 encoded.
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTwilioSignature reports whether signature matches.
func ValidTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	want := TwilioSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}

// RequireTwilioSignature rejects webhook requests not signed with authToken.
// publicBaseURL is the externally visible scheme and host Twilio was given,
// since the API usually sits behind a proxy.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		if !ValidTwilioSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(headerTwilioSignature)) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
