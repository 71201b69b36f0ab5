package scheduler

import (
	"fmt"
	"time"
)

// ReactionTime measures a release against the instant the racer's own tree dropped.
// Green lights GreenOffset after the drop, so a release exactly on green is zero.
// rollout is added to the raw measurement.
func ReactionTime(drop, release time.Time, rollout time.Duration) time.Duration {
	return release.Sub(drop) - GreenOffset + rollout
}

// IsFoul reports a release before green.
func IsFoul(rt time.Duration) bool { return rt < 0 }

// FormatReactionTime renders rt as signed seconds with millisecond precision, e.g. "-0.050".
func FormatReactionTime(rt time.Duration) string {
	ms := rt.Milliseconds()
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	return fmt.Sprintf("%s%d.%03d", sign, ms/1000, ms%1000)
}
