package scheduler

import (
	"time"

	"github.com/hako/durafmt"
)

// Estimate maps a queue position to an expected wait. It is a pure function
// of its inputs so a changed average always takes effect on the next call.
func Estimate(position int, averageJobDuration time.Duration) time.Duration {
	if position < 1 {
		return 0
	}
	return time.Duration(position) * averageJobDuration
}

// HumanDuration renders a duration the way users read it, e.g. "1 minute 30
// seconds" instead of "1m30s".
func HumanDuration(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}
