package llmadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsWithAttemptAndStaysBounded(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}

	var last time.Duration
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		d := BackoffDelay(policy, attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, policy.MaxDelay)
		// jitter keeps each delay within [raw/2, raw] and raw doubles per
		// attempt, so below the cap a delay never falls under the previous
		// attempt's delay.
		require.GreaterOrEqual(t, d, last)
		last = d
	}
	require.LessOrEqual(t, last, policy.MaxDelay)
}

func TestBackoffDelayCapsAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 20, BaseDelay: time.Second, MaxDelay: 2 * time.Second}
	d := BackoffDelay(policy, 10)
	require.LessOrEqual(t, d, policy.MaxDelay)
}

func TestBackoffDelayFirstAttemptReflectsBaseDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second}
	d := BackoffDelay(policy, 0)
	require.GreaterOrEqual(t, d, time.Duration(0))
	require.LessOrEqual(t, d, policy.BaseDelay)
}
