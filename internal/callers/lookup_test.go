package callers

import (
	"context"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-0200": "+15550100200",
		" 5550100200 ":      "5550100200",
		"1+555":             "1555",
		"":                  "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemory_LightweightVsEnhanced(t *testing.T) {
	m := NewMemory()
	m.Put(Identity{CallerID: "cl-1", Name: "Dana Reyes", Phone: "+1 555 010 0200", ActiveClaims: 2, OpenRequirements: 1})
	ctx := context.Background()

	id, ok, err := m.Lightweight(ctx, "+15550100200")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if id.Name != "Dana Reyes" || id.ActiveClaims != 0 || id.Enhanced {
		t.Fatalf("lightweight must carry name only: %+v", id)
	}

	id, ok, _ = m.Enhanced(ctx, "+1 (555) 010-0200")
	if !ok || id.ActiveClaims != 2 || !id.Enhanced {
		t.Fatalf("unexpected enhanced identity: %+v", id)
	}

	if _, ok, _ := m.Lightweight(ctx, "+19999999999"); ok {
		t.Fatalf("expected miss")
	}
	if _, ok, _ := (None{}).Enhanced(ctx, "+1"); ok {
		t.Fatalf("None never finds anyone")
	}
}

func TestCached_Key(t *testing.T) {
	c := NewCached(None{}, nil, 0, nil)
	if c.key("+1 555 0100") != "dialer:caller:+15550100" {
		t.Fatalf("unexpected key %s", c.key("+1 555 0100"))
	}
}
