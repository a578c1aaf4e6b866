package callers

import (
	"context"
	"strings"
)

// Identity is what we know about a phone number.
type Identity struct {
	CallerID string `json:"caller_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`

	// Enhanced-only fields.
	ActiveClaims     int  `json:"active_claims"`
	OpenRequirements int  `json:"open_requirements"`
	Enhanced         bool `json:"enhanced"`
}

// Lookup resolves callers by phone number.
//
// Lightweight returns name and id only and is expected to be fast enough to
// run inline with routing. Enhanced adds claim context and may be slow; it is
// run after the routing decision. Both report found=false for unknown numbers.
type Lookup interface {
	Lightweight(ctx context.Context, phone string) (Identity, bool, error)
	Enhanced(ctx context.Context, phone string) (Identity, bool, error)
}

// NormalizePhone strips formatting so lookups match stored numbers. It keeps
// a leading "+" and digits only.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// None never finds anyone.
type None struct{}

func (None) Lightweight(context.Context, string) (Identity, bool, error) {
	return Identity{}, false, nil
}
func (None) Enhanced(context.Context, string) (Identity, bool, error) { return Identity{}, false, nil }
