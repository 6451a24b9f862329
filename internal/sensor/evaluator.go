package sensor

import "time"

const (
	// DefaultRestockThreshold is the weight below which a shelf is considered empty
	DefaultRestockThreshold = 3.0

	// DefaultMissingDelay is how long a shelf may stay empty before the product is reported missing
	DefaultMissingDelay = 10 * time.Minute
)

// Policy holds the thresholds used by Evaluate
type Policy struct {
	RestockThreshold float64
	MissingDelay     time.Duration
}

// DefaultPolicy returns the standard restocking policy.
func DefaultPolicy() Policy {
	return Policy{
		RestockThreshold: DefaultRestockThreshold,
		MissingDelay:     DefaultMissingDelay,
	}
}

// Evaluate applies one reading to prev and returns the new state and the outcome.
//
// The restocking timer is virtual: it is only compared against now when a
// reading arrives, so a missing product is reported by the first reading
// after the delay has elapsed and never by the passage of time alone.
// The missing check uses the timer as it was before this reading, so one
// reading cannot both cancel the timer and report the product missing.
func Evaluate(prev State, weight float64, now time.Time, p Policy) (State, Outcome) {
	next := prev
	next.LastSeenAt = now
	next.LastKnownWeight = weight

	outcome := OutcomeOk
	switch {
	case weight < p.RestockThreshold && !prev.TimerActive:
		next.TimerActive = true
		next.TimerStartedAt = now
		outcome = OutcomeTimerStarted
	case weight >= p.RestockThreshold && prev.TimerActive:
		next.TimerActive = false
		next.TimerStartedAt = time.Time{}
		outcome = OutcomeTimerCancelled
	}

	if prev.TimerActive && now.Sub(prev.TimerStartedAt) > p.MissingDelay {
		next.TimerActive = false
		next.TimerStartedAt = time.Time{}
		outcome = OutcomeMissingAlertNeeded
	}

	return next, outcome
}
