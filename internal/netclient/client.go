package netclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"golang.org/x/time/rate"
)

// Response is a fully read 200 reply
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SleepFunc waits d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client performs one logical fetch at a time with throttling, identity
// rotation and tiered retry. Safe for use from concurrent workers.
type Client struct {
	httpClient *http.Client
	policy     Policy
	headers    HeaderSupplier
	identities []string
	observer   Observer
	log        logger.Reporter

	sleep     SleepFunc
	randFloat func() float64

	mu          sync.Mutex
	limiter     *rate.Limiter
	interval    time.Duration
	identity    string
	lastRequest time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }
func WithHeaders(h HeaderSupplier) Option   { return func(c *Client) { c.headers = h } }
func WithObserver(o Observer) Option        { return func(c *Client) { c.observer = o } }
func WithSleep(s SleepFunc) Option          { return func(c *Client) { c.sleep = s } }
func WithRand(f func() float64) Option      { return func(c *Client) { c.randFloat = f } }

// WithIdentity pins the starting user-agent. Rotation still draws from the pool.
func WithIdentity(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.identity = ua
		}
	}
}

func New(policy Policy, log logger.Reporter, opts ...Option) *Client {
	c := &Client{
		policy:     policy,
		headers:    StaticHeaders{},
		identities: DefaultIdentities,
		observer:   nopObserver{},
		log:        log,
		sleep:      sleepCtx,
		randFloat:  rand.Float64,
		interval:   policy.MinInterval,
	}
	c.httpClient = &http.Client{Timeout: policy.Timeout}

	for _, opt := range opts {
		opt(c)
	}

	if c.identity == "" {
		c.identity = c.pickIdentity()
	}
	c.limiter = rate.NewLimiter(rate.Every(c.interval), 1)

	return c
}

// Fetch retrieves url. It returns either a 200 response or an error wrapping
// domain.ErrPermanentFetch; it does not panic on transport faults.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	attempts := 0
	softRetries := 0

	for {
		if err := c.throttle(ctx); err != nil {
			return c.fail(url, err)
		}

		if c.randFloat() < c.policy.RotateProbability {
			c.rotate()
		}

		resp, status, err := c.roundTrip(ctx, url)
		outcome, cause := classify(status, err)
		c.observer.ObserveAttempt(outcome, status)

		switch outcome {
		case OutcomeSuccess:
			c.mu.Lock()
			c.lastRequest = time.Now()
			c.mu.Unlock()
			return resp, nil

		case OutcomeRetryWithoutBudget:
			softRetries++
			if c.policy.MaxSoftRetries > 0 && softRetries >= c.policy.MaxSoftRetries {
				return c.fail(url, fmt.Errorf("gave up after %d soft retries: %w", softRetries, cause))
			}
			c.log.Warn("[Throttle] %s: %v, cooling down", url, cause)
			if err := c.cooldown(ctx, status); err != nil {
				return c.fail(url, err)
			}

		case OutcomeConsumeAttempt:
			attempts++
			if attempts >= c.policy.MaxRetries {
				return c.fail(url, fmt.Errorf("after %d attempts: %w", attempts, cause))
			}

			delay := c.backoff(attempts)
			c.log.Warn("[Retry] %s: Attempt %d/%d - Error: %v (waiting %s)",
				url, attempts, c.policy.MaxRetries, cause, delay.Truncate(time.Millisecond))
			if err := c.sleep(ctx, delay); err != nil {
				return c.fail(url, err)
			}
			c.rotate()
		}
	}
}

// Interval reports the current adaptive spacing between requests
func (c *Client) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Identity reports the user-agent that will be sent next
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) fail(url string, cause error) (*Response, error) {
	c.observer.ObserveAttempt(OutcomeFail, 0)
	c.log.Error("[FAIL] %s: %v", url, cause)
	return nil, fmt.Errorf("%s: %w: %w", url, domain.ErrPermanentFetch, cause)
}

// throttle enforces the minimum spacing plus a random jitter
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	return c.sleep(ctx, c.between(Range{0, c.policy.IntervalJitter}))
}

func (c *Client) roundTrip(ctx context.Context, url string) (*Response, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	extra, err := c.headers.Headers()
	if err != nil {
		// Degrade to identity-only headers
		c.log.Debug("header supplier failed, sending identity only: %v", err)
	} else {
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	req.Header.Set("User-Agent", c.Identity())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, resp.StatusCode, nil
}

func (c *Client) cooldown(ctx context.Context, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		c.slowDown()
		if err := c.sleep(ctx, c.between(c.policy.RateLimitCooldown)); err != nil {
			return err
		}
		c.rotate()
	case status == http.StatusForbidden:
		if err := c.sleep(ctx, c.between(c.policy.ForbiddenCooldown)); err != nil {
			return err
		}
		c.rotate()
	default:
		return c.sleep(ctx, c.between(c.policy.ServerErrorCooldown))
	}
	return nil
}

// slowDown grows the throttle interval; it never shrinks for this client
func (c *Client) slowDown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := time.Duration(float64(c.interval) * c.policy.IntervalMultiplier)
	if next > c.policy.MaxInterval {
		next = c.policy.MaxInterval
	}
	if next < c.interval {
		next = c.interval
	}
	c.interval = next
	c.limiter.SetLimit(rate.Every(next))
	c.log.Info("[Throttle] Request interval raised to %s", next)
}

// backoff is base * 2^(attempt-1) * U(0.5, 1.5)
func (c *Client) backoff(attempt int) time.Duration {
	jitter := 0.5 + c.randFloat()
	return time.Duration(float64(c.policy.BackoffBase) * math.Pow(2, float64(attempt-1)) * jitter)
}

func (c *Client) between(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(c.randFloat()*float64(r.Max-r.Min))
}

func (c *Client) rotate() {
	ua := c.pickIdentity()
	c.mu.Lock()
	c.identity = ua
	c.mu.Unlock()
}

func (c *Client) pickIdentity() string {
	if len(c.identities) == 0 {
		return ""
	}
	i := int(c.randFloat() * float64(len(c.identities)))
	if i >= len(c.identities) {
		i = len(c.identities) - 1
	}
	return c.identities[i]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
