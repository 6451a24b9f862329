package sensor

import "time"

// Outcome is the business event produced by a single reading
type Outcome string

const (
	OutcomeOk                 Outcome = "Ok"
	OutcomeTimerStarted       Outcome = "TimerStarted"
	OutcomeTimerCancelled     Outcome = "TimerCancelled"
	OutcomeMissingAlertNeeded Outcome = "MissingAlertNeeded"
)

// State is the tracked status of one weight sensor.
//
// TimerStartedAt is the zero time whenever TimerActive is false.
type State struct {
	SensorID        string    `json:"sensor_id"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	LastKnownWeight float64   `json:"last_known_weight"`
	TimerActive     bool      `json:"timer_active"`
	TimerStartedAt  time.Time `json:"timer_started_at,omitempty"`
}

// RestockingFor returns how long the restocking timer has been running at now.
func (s State) RestockingFor(now time.Time) time.Duration {
	if !s.TimerActive {
		return 0
	}
	return now.Sub(s.TimerStartedAt)
}
