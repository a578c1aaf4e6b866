package queue

import (
	"testing"
	"time"
)

func TestRedisScriptsCompile(t *testing.T) {
	if enqueueScript == nil || dequeueScript == nil || removeScript == nil || reprioritizeScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestParseMeta(t *testing.T) {
	e, err := parseMeta("c1", "42:1767600000000")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e.CallID != "c1" || e.Rank != 42 || !e.EnqueuedAt.Equal(time.UnixMilli(1767600000000)) {
		t.Fatalf("unexpected entry: %+v", e)
	}

	if _, err := parseMeta("c1", "garbage"); err == nil {
		t.Fatalf("expected error for malformed meta")
	}
	e, err = parseMeta("c2", "")
	if err != nil || e.CallID != "c2" {
		t.Fatalf("empty meta should still yield the call id, got %+v err=%v", e, err)
	}
}

func TestClampRank(t *testing.T) {
	if clampRank(-5) != 0 || clampRank(MaxRedisRank+1) != MaxRedisRank || clampRank(40) != 40 {
		t.Fatalf("unexpected clamp results")
	}
}

func TestNewRedis_Keys(t *testing.T) {
	q := NewRedis(nil, "", 10, nil)
	if q.zkey != "dialer:queue:z" || q.hkey != "dialer:queue:e" || q.seqkey != "dialer:queue:seq" {
		t.Fatalf("unexpected keys: %s %s %s", q.zkey, q.hkey, q.seqkey)
	}
}
