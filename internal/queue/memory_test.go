package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemory_PriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(0, nil)

	for _, tc := range []struct {
		id   string
		rank int
	}{{"c30", 30}, {"c10", 10}, {"c20", 20}} {
		if _, err := q.Enqueue(ctx, tc.id, tc.rank); err != nil {
			t.Fatalf("enqueue %s: %v", tc.id, err)
		}
	}

	var got []string
	for {
		e, ok, err := q.DequeueNext(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, e.CallID)
	}
	if fmt.Sprint(got) != "[c10 c20 c30]" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestMemory_TieBreakFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(0, nil)
	_, _ = q.Enqueue(ctx, "first", 5)
	_, _ = q.Enqueue(ctx, "second", 5)

	e, _, _ := q.DequeueNext(ctx)
	if e.CallID != "first" {
		t.Fatalf("expected first, got %s", e.CallID)
	}
	e, _, _ = q.DequeueNext(ctx)
	if e.CallID != "second" {
		t.Fatalf("expected second, got %s", e.CallID)
	}
}

func TestMemory_PositionAndEstimate(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(0, NewEstimator(time.Minute))

	_, _ = q.Enqueue(ctx, "a", 50)
	b, _ := q.Enqueue(ctx, "b", 50)
	if b.Position != 2 || b.EstimatedWait != 2*time.Minute {
		t.Fatalf("unexpected entry: %+v", b)
	}

	c, _ := q.Enqueue(ctx, "c", 10)
	if c.Position != 1 {
		t.Fatalf("urgent call should be first, got %d", c.Position)
	}
	b, ok, _ := q.Peek(ctx, "b")
	if !ok || b.Position != 3 {
		t.Fatalf("expected b at 3, got %+v ok=%v", b, ok)
	}

	again, err := q.Enqueue(ctx, "b", 0)
	if err != nil || again.Position != 3 || again.Rank != 50 {
		t.Fatalf("re-enqueue must be a no-op, got %+v err=%v", again, err)
	}
}

func TestMemory_Capacity(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(2, nil)
	_, _ = q.Enqueue(ctx, "a", 1)
	_, _ = q.Enqueue(ctx, "b", 1)
	if _, err := q.Enqueue(ctx, "c", 1); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, err := q.Enqueue(ctx, "", 1); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall, got %v", err)
	}
}

func TestMemory_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(0, nil)
	_, _ = q.Enqueue(ctx, "a", 1)
	_, _ = q.Enqueue(ctx, "b", 2)

	ok, err := q.Remove(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected first remove to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = q.Remove(ctx, "a")
	if err != nil || ok {
		t.Fatalf("expected second remove to be a no-op, ok=%v err=%v", ok, err)
	}
	e, _, _ := q.DequeueNext(ctx)
	if e.CallID != "b" {
		t.Fatalf("expected b, got %s", e.CallID)
	}
}

func TestMemory_Reprioritize(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(0, nil)
	_, _ = q.Enqueue(ctx, "a", 10)
	_, _ = q.Enqueue(ctx, "b", 20)

	ok, _ := q.Reprioritize(ctx, "b", 5)
	if !ok {
		t.Fatalf("expected reprioritize to find b")
	}
	if ok, _ := q.Reprioritize(ctx, "missing", 1); ok {
		t.Fatalf("expected missing entry to report false")
	}
	e, _, _ := q.DequeueNext(ctx)
	if e.CallID != "b" || e.Rank != 5 {
		t.Fatalf("expected b first after reprioritize, got %+v", e)
	}
}

func TestMemory_ConcurrentDequeueNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(0, nil)
	const n = 200
	for i := 0; i < n; i++ {
		_, _ = q.Enqueue(ctx, fmt.Sprintf("c%d", i), i%7)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, _ := q.DequeueNext(ctx)
				if !ok {
					return
				}
				mu.Lock()
				seen[e.CallID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct entries, got %d", n, len(seen))
	}
	for id, c := range seen {
		if c != 1 {
			t.Fatalf("entry %s dequeued %d times", id, c)
		}
	}
}

func TestMemory_RemoveRacesDequeue(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		q := NewMemory(0, nil)
		_, _ = q.Enqueue(ctx, "x", 1)

		var wins int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if ok, _ := q.Remove(ctx, "x"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, ok, _ := q.DequeueNext(ctx); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
		wg.Wait()

		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	}
}
