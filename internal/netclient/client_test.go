package netclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/infra/logger"
)

type countingObserver struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{counts: make(map[Outcome]int)}
}

func (o *countingObserver) ObserveAttempt(outcome Outcome, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[outcome]++
}

func (o *countingObserver) get(outcome Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	if d > 0 {
		r.delays = append(r.delays, d)
	}
	r.mu.Unlock()
	return ctx.Err()
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.Timeout = 2 * time.Second
	p.MinInterval = 0
	p.IntervalJitter = 0
	p.MaxInterval = time.Second
	p.BackoffBase = time.Millisecond
	p.RotateProbability = 0
	p.RateLimitCooldown = Range{}
	p.ForbiddenCooldown = Range{}
	p.ServerErrorCooldown = Range{}
	return p
}

// scripted replies with codes[i] for the i-th request and 200 afterwards
func scripted(codes ...int) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		if n < len(codes) {
			w.WriteHeader(codes[n])
			return
		}
		w.Write([]byte("payload"))
	}))
	return srv, &hits
}

func TestFetchSuccessSendsHeaders(t *testing.T) {
	var gotUA, gotAuth, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(fastPolicy(), logger.NewCapture(),
		WithHeaders(StaticHeaders{Authorization: "tok123", Cookie: "a=1; b=2"}),
		WithIdentity("test-agent/1.0"))

	resp, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("Expected body hello, got %q", resp.Body)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("Expected pinned identity, got %q", gotUA)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if gotCookie != "a=1; b=2" {
		t.Errorf("Expected cookie header, got %q", gotCookie)
	}
}

func TestFetchRateLimitedBeyondBudgetStillSucceeds(t *testing.T) {
	srv, hits := scripted(429, 429, 429, 429, 429, 429)
	defer srv.Close()

	obs := newCountingObserver()
	c := New(fastPolicy(), logger.NewCapture(), WithObserver(obs))

	resp, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if string(resp.Body) != "payload" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if hits.Load() != 7 {
		t.Errorf("Expected 7 round trips, got %d", hits.Load())
	}
	if got := obs.get(OutcomeRetryWithoutBudget); got != 6 {
		t.Errorf("Expected 6 soft retries, got %d", got)
	}
	if got := obs.get(OutcomeConsumeAttempt); got != 0 {
		t.Errorf("429s must not consume attempts, got %d", got)
	}
}

func TestFetchBudgetIgnoresSoftRetries(t *testing.T) {
	srv, hits := scripted(429, 404, 503, 403, 404, 500, 404, 404, 404)
	defer srv.Close()

	obs := newCountingObserver()
	c := New(fastPolicy(), logger.NewCapture(), WithObserver(obs))

	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, domain.ErrPermanentFetch) {
		t.Fatalf("Expected ErrPermanentFetch, got %v", err)
	}
	if got := obs.get(OutcomeConsumeAttempt); got != 3 {
		t.Errorf("Expected exactly 3 consumed attempts, got %d", got)
	}
	if got := obs.get(OutcomeRetryWithoutBudget); got != 4 {
		t.Errorf("Expected 4 soft retries, got %d", got)
	}
	if got := obs.get(OutcomeFail); got != 1 {
		t.Errorf("Expected one fail event, got %d", got)
	}
	if hits.Load() != 7 {
		t.Errorf("Expected 7 round trips, got %d", hits.Load())
	}
}

func TestFetchPermanentServerErrorTerminates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := fastPolicy()
	p.MaxSoftRetries = 5
	c := New(p, logger.NewCapture())

	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, domain.ErrPermanentFetch) {
		t.Fatalf("Expected ErrPermanentFetch, got %v", err)
	}
	if !errors.Is(err, domain.ErrServerError) {
		t.Errorf("Expected cause to be ErrServerError, got %v", err)
	}
}

func TestFetchTransportFaults(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	deadURL := closed.URL
	closed.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer slow.Close()

	cases := map[string]string{
		"connection refused": deadURL,
		"timeout":            slow.URL,
		"bad url":            "://nope",
	}

	for name, url := range cases {
		t.Run(name, func(t *testing.T) {
			p := fastPolicy()
			p.Timeout = 20 * time.Millisecond
			obs := newCountingObserver()
			c := New(p, logger.NewCapture(), WithObserver(obs))

			resp, err := c.Fetch(context.Background(), url)
			if resp != nil {
				t.Errorf("Expected nil response, got %+v", resp)
			}
			if !errors.Is(err, domain.ErrPermanentFetch) {
				t.Fatalf("Expected ErrPermanentFetch, got %v", err)
			}
			if !errors.Is(err, domain.ErrTransientNetwork) {
				t.Errorf("Expected transient cause, got %v", err)
			}
			if got := obs.get(OutcomeConsumeAttempt); got != p.MaxRetries {
				t.Errorf("Expected %d consumed attempts, got %d", p.MaxRetries, got)
			}
		})
	}
}

func TestRateLimitRaisesIntervalUpToCeiling(t *testing.T) {
	srv, _ := scripted(429, 429, 429)
	defer srv.Close()

	p := fastPolicy()
	p.MinInterval = time.Millisecond
	p.IntervalMultiplier = 2
	p.MaxInterval = 4 * time.Millisecond
	c := New(p, logger.NewCapture())

	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := c.Interval(); got != 4*time.Millisecond {
		t.Errorf("Expected interval capped at 4ms, got %s", got)
	}

	// A later success does not reset the interval
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if got := c.Interval(); got != 4*time.Millisecond {
		t.Errorf("interval must persist across calls, got %s", got)
	}
}

func TestThrottleSpacesRequests(t *testing.T) {
	srv, _ := scripted()
	defer srv.Close()

	p := fastPolicy()
	p.MinInterval = 20 * time.Millisecond
	c := New(p, logger.NewCapture())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("Expected at least ~40ms for 3 spaced requests, got %s", elapsed)
	}
}

func TestBackoffSchedule(t *testing.T) {
	srv, _ := scripted(404, 404, 404)
	defer srv.Close()

	rec := &recordingSleep{}
	p := fastPolicy()
	p.BackoffBase = 10 * time.Millisecond
	c := New(p, logger.NewCapture(), WithSleep(rec.sleep), WithRand(func() float64 { return 0.5 }))

	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("Expected failure after three 404s")
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d]: Expected %s, got %s", i, want[i], rec.delays[i])
		}
	}
}

func TestCooldownRanges(t *testing.T) {
	srv, _ := scripted(429, 403, 502)
	defer srv.Close()

	rec := &recordingSleep{}
	p := fastPolicy()
	p.RateLimitCooldown = Range{30 * time.Second, 60 * time.Second}
	p.ForbiddenCooldown = Range{15 * time.Second, 30 * time.Second}
	p.ServerErrorCooldown = Range{5 * time.Second, 15 * time.Second}
	c := New(p, logger.NewCapture(), WithSleep(rec.sleep), WithRand(func() float64 { return 0 }))

	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	want := []time.Duration{30 * time.Second, 15 * time.Second, 5 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("Expected cooldowns %v, got %v", want, rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("cooldown[%d]: Expected %s, got %s", i, want[i], rec.delays[i])
		}
	}
}

type brokenSupplier struct{}

func (brokenSupplier) Headers() (http.Header, error) { return nil, errors.New("no cookies") }

func TestHeaderSupplierFailureDegrades(t *testing.T) {
	var gotUA, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := New(fastPolicy(), logger.NewCapture(), WithHeaders(brokenSupplier{}))
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Expected identity-only request to succeed, got %v", err)
	}
	if gotUA == "" {
		t.Error("Expected a user-agent header")
	}
	if gotAuth != "" {
		t.Errorf("Expected no authorization header, got %q", gotAuth)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	srv, _ := scripted()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(fastPolicy(), logger.NewCapture())
	if _, err := c.Fetch(ctx, srv.URL); !errors.Is(err, domain.ErrPermanentFetch) {
		t.Fatalf("Expected ErrPermanentFetch on cancelled context, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   Outcome
	}{
		{200, nil, OutcomeSuccess},
		{429, nil, OutcomeRetryWithoutBudget},
		{403, nil, OutcomeRetryWithoutBudget},
		{500, nil, OutcomeRetryWithoutBudget},
		{504, nil, OutcomeRetryWithoutBudget},
		{404, nil, OutcomeConsumeAttempt},
		{206, nil, OutcomeConsumeAttempt},
		{0, errors.New("reset"), OutcomeConsumeAttempt},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.status, tc.err); got != tc.want {
			t.Errorf("classify(%d, %v) = %s, want %s", tc.status, tc.err, got, tc.want)
		}
	}
}

func TestStaticHeadersRejectsLineBreaks(t *testing.T) {
	if _, err := (StaticHeaders{Cookie: "a=1\r\nX-Evil: 1"}).Headers(); err == nil {
		t.Error("Expected error for cookie with line break")
	}
	h, err := StaticHeaders{Authorization: "Bearer abc"}.Headers()
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Expected existing Bearer prefix kept, got %q", got)
	}
}
