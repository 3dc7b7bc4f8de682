package subscriptions

import "time"

// retryOffsets are measured from the first failure of a cycle, not from the
// previous attempt, so slow sweeps never compress or stretch the schedule.
// There is no seven-day retry slot: the third consecutive failure cancels,
// and day seven is the grace deadline.
var retryOffsets = []time.Duration{
	24 * time.Hour,
	72 * time.Hour,
}

// maxAttempts is the total number of consecutive failed runs a cycle gets
// before cancellation: the initial charge plus one retry per offset.
const maxAttempts = 3

// gracePeriod is how long a past_due account keeps its entitlements before
// cancellation.
const gracePeriod = 7 * 24 * time.Hour

// RetryScheduler computes when a failed cycle should be retried and when the
// grace period runs out.
type RetryScheduler interface {
	// NextRetryAt returns the retry time after failedAttempts failed runs.
	// ok is false once failedAttempts reaches MaxAttempts.
	NextRetryAt(firstFailureAt time.Time, failedAttempts int) (at time.Time, ok bool)
	// GraceDeadline returns when the grace period ends for a failure streak
	// that began at firstFailureAt.
	GraceDeadline(firstFailureAt time.Time) time.Time
	// MaxAttempts is the total number of failed runs allowed per cycle.
	MaxAttempts() int
}

// FixedScheduler is the production RetryScheduler: retries at fixed offsets
// from the first failure, then a hard stop on the final attempt.
type FixedScheduler struct{}

func NewFixedScheduler() FixedScheduler {
	return FixedScheduler{}
}

func (FixedScheduler) NextRetryAt(firstFailureAt time.Time, failedAttempts int) (time.Time, bool) {
	if failedAttempts < 1 || failedAttempts >= maxAttempts {
		return time.Time{}, false
	}
	return firstFailureAt.Add(retryOffsets[failedAttempts-1]), true
}

func (FixedScheduler) GraceDeadline(firstFailureAt time.Time) time.Time {
	return firstFailureAt.Add(gracePeriod)
}

func (FixedScheduler) MaxAttempts() int {
	return maxAttempts
}
