package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, opts ...Option) (*IPLimiter, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	all := append([]Option{WithRate(1, 3), WithTTL(time.Minute), withClock(clk.Now)}, opts...)
	return New(ctx, all...), clk
}

func TestAllow_BurstThenReject(t *testing.T) {
	l, _ := newTestLimiter(t)
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("request past burst should be denied")
	}
}

func TestAllow_SeparateBuckets(t *testing.T) {
	l, _ := newTestLimiter(t)
	for i := 0; i < 4; i++ {
		l.Allow("10.0.0.1")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("second ip should have its own bucket")
	}
}

func TestAllow_Refill(t *testing.T) {
	l, clk := newTestLimiter(t)
	for i := 0; i < 4; i++ {
		l.Allow("10.0.0.1")
	}
	clk.Advance(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("one token should refill after a second")
	}
}

func TestAllow_DeniedHooks(t *testing.T) {
	var first, every atomic.Int32
	l, _ := newTestLimiter(t,
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { every.Add(1) }),
	)
	for i := 0; i < 6; i++ {
		l.Allow("10.0.0.1")
	}
	if first.Load() != 1 {
		t.Fatalf("first-denied hook = %d, want 1", first.Load())
	}
	if every.Load() != 3 {
		t.Fatalf("denied hook = %d, want 3", every.Load())
	}
}

func TestEvict(t *testing.T) {
	l, clk := newTestLimiter(t)
	l.Allow("10.0.0.1")
	clk.Advance(30 * time.Second)
	l.Allow("10.0.0.2")
	clk.Advance(45 * time.Second)

	if n := l.evict(clk.Now()); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestEvict_ResetsFirstDeniedLog(t *testing.T) {
	var first atomic.Int32
	l, clk := newTestLimiter(t, WithOnFirstDenied(func(string) { first.Add(1) }))
	for i := 0; i < 4; i++ {
		l.Allow("10.0.0.1")
	}
	clk.Advance(2 * time.Minute)
	l.evict(clk.Now())
	for i := 0; i < 4; i++ {
		l.Allow("10.0.0.1")
	}
	if first.Load() != 2 {
		t.Fatalf("first-denied hook = %d, want 2", first.Load())
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(t, WithRate(1, 1), WithRetryAfter(10*time.Second))
	h := httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{})(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(); rec.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "10" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	var body httpmw.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.Message != DeniedMessage {
		t.Fatalf("body = %+v", body)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, WithRate(0.0001, 25))
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("10.0.0.9") {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 25 {
		t.Fatalf("allowed %d, want 25", ok.Load())
	}
}
