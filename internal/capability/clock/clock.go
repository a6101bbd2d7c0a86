// Package clock implements capability.Clock over the standard library's
// wall clock. A fake implementation lives alongside it in tests so time-
// dependent behavior (TTLs, durations, heartbeat cadence) can be tested
// deterministically without sleeping.
package clock

import (
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// Real implements capability.Clock using time.Now.
type Real struct{}

// New constructs a Real clock.
func New() Real { return Real{} }

var _ capability.Clock = Real{}

func (Real) Now() time.Time { return time.Now() }
