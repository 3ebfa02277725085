package netclient

import (
	"time"

	"github.com/datallboy/mediagrab/internal/infra/config"
)

// Range is an inclusive span a randomized wait is drawn from
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Policy holds every knob of the retry and throttle protocol
type Policy struct {
	Timeout            time.Duration
	MinInterval        time.Duration
	IntervalJitter     time.Duration
	MaxInterval        time.Duration
	IntervalMultiplier float64

	// MaxRetries bounds consumed attempts. Soft retries never count here.
	MaxRetries int
	// MaxSoftRetries caps 429/403/5xx loops per call, 0 means unbounded
	MaxSoftRetries int
	BackoffBase    time.Duration

	RotateProbability float64

	RateLimitCooldown   Range
	ForbiddenCooldown   Range
	ServerErrorCooldown Range
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:             20 * time.Second,
		MinInterval:         500 * time.Millisecond,
		IntervalJitter:      500 * time.Millisecond,
		MaxInterval:         4 * time.Second,
		IntervalMultiplier:  1.5,
		MaxRetries:          3,
		MaxSoftRetries:      100,
		BackoffBase:         1500 * time.Millisecond,
		RotateProbability:   0.1,
		RateLimitCooldown:   Range{30 * time.Second, 60 * time.Second},
		ForbiddenCooldown:   Range{15 * time.Second, 30 * time.Second},
		ServerErrorCooldown: Range{5 * time.Second, 15 * time.Second},
	}
}

func PolicyFromConfig(n config.NetworkConfig) Policy {
	return Policy{
		Timeout:             n.Timeout,
		MinInterval:         n.MinInterval,
		IntervalJitter:      n.IntervalJitter,
		MaxInterval:         n.MaxInterval,
		IntervalMultiplier:  n.IntervalMultiplier,
		MaxRetries:          n.MaxRetries,
		MaxSoftRetries:      n.MaxSoftRetries,
		BackoffBase:         n.BackoffBase,
		RotateProbability:   n.RotateProbability,
		RateLimitCooldown:   Range{n.RateLimitCooldownMin, n.RateLimitCooldownMax},
		ForbiddenCooldown:   Range{n.ForbiddenCooldownMin, n.ForbiddenCooldownMax},
		ServerErrorCooldown: Range{n.ServerErrorCooldownMin, n.ServerErrorCooldownMax},
	}
}
