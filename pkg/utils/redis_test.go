package utils

import (
	"context"
	"testing"
	"time"
)

func TestLeaseScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if leaseAcquireScript == nil || leaseReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireLease_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireLease(ctx, nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseLease(ctx, nil, "k", "o"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
