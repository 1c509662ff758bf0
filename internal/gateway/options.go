package gateway

import (
	"context"
	"time"
)

// Config holds the gateway-wide retry defaults.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration // zero means uncapped
	Multiplier float64
	Timeout    time.Duration // zero means no per-attempt timeout
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxDelay < 0 {
		c.MaxDelay = 0
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

// RetryPolicy overrides the gateway defaults for one service. MaxRetries is
// taken as given; zero delays and multipliers inherit the gateway defaults.
// When RetryableErrors is non-empty only errors matching one of its entries
// (by type name or message) are retried.
type RetryPolicy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableErrors []string
}

// Fallback produces a degraded result when the service cannot be called.
type Fallback func(ctx context.Context) error

// CallOption overrides settings for a single call.
type CallOption func(*callOptions)

type callOptions struct {
	maxRetries *int
	timeout    *time.Duration
	fallback   Fallback
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) CallOption {
	return func(o *callOptions) {
		o.maxRetries = &n
	}
}

// WithTimeout bounds each attempt. Zero disables the bound.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = &d
	}
}

// WithFallback is invoked when no instance is healthy or the breaker rejects
// the call.
func WithFallback(fn Fallback) CallOption {
	return func(o *callOptions) {
		o.fallback = fn
	}
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithObserver registers fn to receive one CallEvent per finished call.
func WithObserver(fn Observer) Option {
	return func(g *Gateway) {
		g.observer = fn
	}
}

// policy is the effective retry setup of one call.
type policy struct {
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	multiplier      float64
	timeout         time.Duration
	retryableErrors []string
	fallback        Fallback
}
