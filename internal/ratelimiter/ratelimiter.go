// Package ratelimiter throttles connection admission in the accept loop.
package ratelimiter

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// AdmissionLimiter is a token bucket over accepted connections.
//
// The acceptor calls Wait before each Accept so that a burst of incoming
// connections is absorbed by the kernel backlog instead of spawning workers
// faster than the configured rate. A zero rate disables throttling; the
// limiter then never blocks.
//
// Thread safety:
// All methods are safe for concurrent use.
type AdmissionLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting perSecond connections per second with the
// given burst. perSecond == 0 means unlimited. A burst of 0 with a non-zero
// rate is raised to 1, since a zero-burst bucket never admits anything.
func New(perSecond, burst uint) *AdmissionLimiter {
	if perSecond == 0 {
		return &AdmissionLimiter{limiter: rate.NewLimiter(rate.Inf, math.MaxInt32)}
	}
	if burst == 0 {
		burst = 1
	}
	return &AdmissionLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter never throttles.
func (a *AdmissionLimiter) Unlimited() bool {
	return a.limiter.Limit() == rate.Inf
}

// Allow consumes one token if available without waiting.
func (a *AdmissionLimiter) Allow() bool {
	return a.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (a *AdmissionLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// SetRate changes the sustained admission rate. 0 switches to unlimited.
func (a *AdmissionLimiter) SetRate(perSecond uint) {
	if perSecond == 0 {
		a.limiter.SetLimit(rate.Inf)
		return
	}
	a.limiter.SetLimit(rate.Limit(perSecond))
	if a.limiter.Burst() < 1 {
		a.limiter.SetBurst(1)
	}
}

// Tokens returns the number of tokens currently in the bucket.
func (a *AdmissionLimiter) Tokens() float64 {
	return a.limiter.Tokens()
}
