package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/uhmm/internal/model"
)

func verdict(text string) model.Verdict {
	return model.Verdict{ClaimText: text, Status: model.StatusSupported, Confidence: 0.9}
}

func TestVerdictCache_ReserveCompleteHit(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.NewCacheKey("Go 1.22 added range over int")

	first := c.GetOrReserve(key)
	if first.Outcome != Reserved {
		t.Fatalf("expected Reserved, got %s", first.Outcome)
	}
	if e, ok := c.Peek(key); !ok || e.State != StatePending {
		t.Fatalf("expected pending entry, got %+v (%v)", e, ok)
	}

	second := c.GetOrReserve(key)
	if second.Outcome != InFlight {
		t.Fatalf("expected InFlight, got %s", second.Outcome)
	}

	if err := c.Complete(first.Token, verdict("Go 1.22 added range over int")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	third := c.GetOrReserve(key)
	if third.Outcome != Hit {
		t.Fatalf("expected Hit, got %s", third.Outcome)
	}
	if third.Verdict.Status != model.StatusSupported {
		t.Errorf("unexpected verdict: %+v", third.Verdict)
	}
}

func TestVerdictCache_DuplicateCompletion(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.CacheKey("k")
	l := c.GetOrReserve(key)

	if err := c.Complete(l.Token, verdict("a")); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if err := c.Complete(l.Token, model.Verdict{ClaimText: "b", Status: model.StatusContradicted}); !errors.Is(err, ErrTokenResolved) {
		t.Fatalf("expected ErrTokenResolved, got %v", err)
	}
	if err := c.Fail(l.Token, errors.New("late")); !errors.Is(err, ErrTokenResolved) {
		t.Fatalf("expected ErrTokenResolved on Fail, got %v", err)
	}

	e, _ := c.Peek(key)
	if e.Verdict.ClaimText != "a" {
		t.Errorf("second completion changed state: %+v", e.Verdict)
	}
}

func TestVerdictCache_StaleTokenAfterFail(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.CacheKey("k")

	old := c.GetOrReserve(key)
	if err := c.Fail(old.Token, errors.New("timeout")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, ok := c.Peek(key); ok {
		t.Fatal("failed entry should be removed")
	}

	fresh := c.GetOrReserve(key)
	if fresh.Outcome != Reserved {
		t.Fatalf("expected a new reservation after failure, got %s", fresh.Outcome)
	}
	if err := c.Complete(old.Token, verdict("stale")); !errors.Is(err, ErrTokenResolved) {
		t.Fatalf("stale token must not complete a newer reservation, got %v", err)
	}
	if err := c.Complete(fresh.Token, verdict("fresh")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestVerdictCache_WaitersObserveResult(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.CacheKey("k")
	owner := c.GetOrReserve(key)

	const waiters = 8
	var wg sync.WaitGroup
	results := make(chan model.Verdict, waiters)
	for i := 0; i < waiters; i++ {
		l := c.GetOrReserve(key)
		if l.Outcome != InFlight {
			t.Fatalf("expected InFlight, got %s", l.Outcome)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Wait(context.Background())
			if err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			results <- v
		}()
	}

	if err := c.Complete(owner.Token, verdict("shared")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	wg.Wait()
	close(results)

	n := 0
	for v := range results {
		n++
		if v.ClaimText != "shared" {
			t.Errorf("waiter got %+v", v)
		}
	}
	if n != waiters {
		t.Errorf("expected %d waiter results, got %d", waiters, n)
	}
}

func TestVerdictCache_WaitersObserveFailure(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.CacheKey("k")
	owner := c.GetOrReserve(key)
	waiter := c.GetOrReserve(key)

	go func() { _ = c.Fail(owner.Token, errors.New("search down")) }()

	_, err := waiter.Wait(context.Background())
	if err == nil || err.Error() != "search down" {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
}

func TestVerdictCache_WaitRespectsContext(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.CacheKey("k")
	c.GetOrReserve(key)
	waiter := c.GetOrReserve(key)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := waiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestVerdictCache_ConcurrentReserveIsExclusive(t *testing.T) {
	c := NewVerdictCache(10, time.Hour)
	key := model.NewCacheKey("Kubernetes 1.25 removed PodSecurityPolicy")

	var reserved int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.GetOrReserve(key).Outcome == Reserved {
				atomic.AddInt32(&reserved, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if reserved != 1 {
		t.Fatalf("expected exactly one reservation, got %d", reserved)
	}
}

func TestVerdictCache_EvictionSkipsPending(t *testing.T) {
	c := NewVerdictCache(2, time.Hour)

	pending := c.GetOrReserve("pending")
	if pending.Outcome != Reserved {
		t.Fatalf("expected Reserved, got %s", pending.Outcome)
	}

	for i := 0; i < 5; i++ {
		key := model.CacheKey(fmt.Sprintf("done-%d", i))
		l := c.GetOrReserve(key)
		if err := c.Complete(l.Token, verdict(string(key))); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	if e, ok := c.Peek("pending"); !ok || e.State != StatePending {
		t.Fatalf("pending entry was evicted: %+v %v", e, ok)
	}
	if _, ok := c.Peek("done-0"); ok {
		t.Error("expected oldest completed entry to be evicted")
	}
	if _, ok := c.Peek("done-4"); !ok {
		t.Error("expected newest completed entry to be retained")
	}
	if got := c.Len(); got != 3 {
		t.Errorf("expected 2 completed + 1 pending, got %d", got)
	}
	if err := c.Complete(pending.Token, verdict("pending")); err != nil {
		t.Errorf("pending reservation should still complete: %v", err)
	}
}

func TestVerdictCache_HitKeepsEntryRecentlyUsed(t *testing.T) {
	c := NewVerdictCache(2, time.Hour)

	for _, key := range []model.CacheKey{"done-0", "done-1"} {
		l := c.GetOrReserve(key)
		if err := c.Complete(l.Token, verdict(string(key))); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	if l := c.GetOrReserve("done-0"); l.Outcome != Hit {
		t.Fatalf("expected Hit, got %s", l.Outcome)
	}

	l := c.GetOrReserve("done-2")
	if err := c.Complete(l.Token, verdict("done-2")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, ok := c.Peek("done-0"); !ok {
		t.Error("expected recently hit entry to survive eviction")
	}
	if _, ok := c.Peek("done-1"); ok {
		t.Error("expected least recently used entry to be evicted")
	}
	if _, ok := c.Peek("done-2"); !ok {
		t.Error("expected newest entry to be retained")
	}
}

func TestVerdictCache_TTLExpiry(t *testing.T) {
	c := NewVerdictCache(10, 30*time.Millisecond)
	l := c.GetOrReserve("k")
	if err := c.Complete(l.Token, verdict("k")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if got := c.GetOrReserve("k"); got.Outcome != Reserved {
		t.Fatalf("expected expired verdict to be re-reserved, got %s", got.Outcome)
	}
}
