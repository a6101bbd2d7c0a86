package llmadapter

import (
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy bounds the exponential-backoff categories (rate_limit,
// connection, timeout). The one-shot fixup categories (image_download_timeout,
// tool_choice_config) are retried at most once each, and those retries count
// toward MaxAttempts (§4.6).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the bounded-backoff-inside-the-adapter
// guarantee of §5 Backpressure: no unbounded queues, backoff bounded by the
// per-step deadline.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// ShouldBackoff reports whether category is one of the bounded-backoff
// categories (§4.6 retry strategies).
func ShouldBackoff(category ErrorCategory) bool {
	switch category {
	case CategoryRateLimit, CategoryConnection, CategoryTimeout:
		return true
	default:
		return false
	}
}

// ShouldRetryOnce reports whether category gets exactly one retry after an
// automatic fixup (image rehost or tool_choice repair), per §4.6.
func ShouldRetryOnce(category ErrorCategory) bool {
	switch category {
	case CategoryImageDownloadTimeout, CategoryToolChoiceConfig:
		return true
	default:
		return false
	}
}

// backoffBurstCap bounds the number of tokens a single BackoffDelay call may
// reserve from its token bucket. It only needs to exceed the largest
// 1<<attempt step any realistic RetryPolicy will ask for; it is not an
// enforced concurrency limit.
const backoffBurstCap = 1 << 16

// BackoffDelay computes the jittered exponential delay for the given
// zero-based attempt number, capped at policy.MaxDelay. The exponential
// growth is computed with a golang.org/x/time/rate token bucket that refills
// one token per policy.BaseDelay, the same Reservation-based technique the
// AdaptiveRateLimiter in the teacher's model middleware uses to turn a token
// deficit into a wait duration: the bucket's full burst is drained
// immediately, then reserving 1<<attempt more tokens reports how long the
// bucket needs to refill that many, i.e. (1<<attempt)*BaseDelay, without
// hand-rolling the shift/multiply.
func BackoffDelay(policy RetryPolicy, attempt int) time.Duration {
	limiter := rate.NewLimiter(rate.Every(policy.BaseDelay), backoffBurstCap)
	now := time.Now()
	limiter.ReserveN(now, backoffBurstCap)

	steps := 1 << uint(attempt)
	if steps > backoffBurstCap {
		steps = backoffBurstCap
	}
	d := limiter.ReserveN(now, steps).DelayFrom(now)
	if d <= 0 || d > policy.MaxDelay {
		d = policy.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d/2 + jitter/2
}
