package sensor_test

import (
	"testing"
	"time"

	"stockease/internal/sensor"
)

var t0 = time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC)

func TestEvaluate_StartsTimerBelowThreshold(t *testing.T) {
	prev := sensor.State{SensorID: "SENSOR_01"}

	next, outcome := sensor.Evaluate(prev, 2.9, t0, sensor.DefaultPolicy())

	if outcome != sensor.OutcomeTimerStarted {
		t.Fatalf("expected TimerStarted, got %s", outcome)
	}
	if !next.TimerActive || !next.TimerStartedAt.Equal(t0) {
		t.Errorf("timer not started: %+v", next)
	}
	if next.LastKnownWeight != 2.9 || !next.LastSeenAt.Equal(t0) {
		t.Errorf("reading not recorded: %+v", next)
	}
}

func TestEvaluate_CancelsTimerOnRecovery(t *testing.T) {
	prev, _ := sensor.Evaluate(sensor.State{SensorID: "SENSOR_01"}, 2.9, t0, sensor.DefaultPolicy())

	next, outcome := sensor.Evaluate(prev, 5.0, t0.Add(time.Minute), sensor.DefaultPolicy())

	if outcome != sensor.OutcomeTimerCancelled {
		t.Fatalf("expected TimerCancelled, got %s", outcome)
	}
	if next.TimerActive || !next.TimerStartedAt.IsZero() {
		t.Errorf("timer not cleared: %+v", next)
	}
}

func TestEvaluate_ThresholdCountsAsRecovered(t *testing.T) {
	policy := sensor.DefaultPolicy()

	next, outcome := sensor.Evaluate(sensor.State{SensorID: "s"}, policy.RestockThreshold, t0, policy)
	if outcome != sensor.OutcomeOk || next.TimerActive {
		t.Errorf("reading at threshold should not start timer: %s %+v", outcome, next)
	}

	running, _ := sensor.Evaluate(sensor.State{SensorID: "s"}, 0, t0, policy)
	next, outcome = sensor.Evaluate(running, policy.RestockThreshold, t0.Add(time.Second), policy)
	if outcome != sensor.OutcomeTimerCancelled || next.TimerActive {
		t.Errorf("reading at threshold should cancel timer: %s %+v", outcome, next)
	}
}

func TestEvaluate_Transitions(t *testing.T) {
	policy := sensor.DefaultPolicy()
	running := sensor.State{SensorID: "s", TimerActive: true, TimerStartedAt: t0}

	tests := []struct {
		name       string
		prev       sensor.State
		weight     float64
		now        time.Time
		want       sensor.Outcome
		wantActive bool
	}{
		{"normal stays normal", sensor.State{SensorID: "s"}, 10, t0, sensor.OutcomeOk, false},
		{"empty stays waiting", running, 1, t0.Add(5 * time.Minute), sensor.OutcomeOk, true},
		{"exactly at delay is not missing", running, 1, t0.Add(policy.MissingDelay), sensor.OutcomeOk, true},
		{"past delay while empty", running, 1, t0.Add(policy.MissingDelay + time.Second), sensor.OutcomeMissingAlertNeeded, false},
		{"past delay with recovered weight", running, 8, t0.Add(time.Hour), sensor.OutcomeMissingAlertNeeded, false},
		{"negative weight starts timer", sensor.State{SensorID: "s"}, -1, t0, sensor.OutcomeTimerStarted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, outcome := sensor.Evaluate(tt.prev, tt.weight, tt.now, policy)
			if outcome != tt.want {
				t.Errorf("outcome = %s, want %s", outcome, tt.want)
			}
			if next.TimerActive != tt.wantActive {
				t.Errorf("TimerActive = %v, want %v", next.TimerActive, tt.wantActive)
			}
			if next.TimerActive == next.TimerStartedAt.IsZero() {
				t.Errorf("timer fields inconsistent: %+v", next)
			}
			if !next.LastSeenAt.Equal(tt.now) || next.LastKnownWeight != tt.weight {
				t.Errorf("reading not recorded: %+v", next)
			}
		})
	}
}

func TestEvaluate_MissingReportedOnce(t *testing.T) {
	policy := sensor.DefaultPolicy()
	state := sensor.State{SensorID: "s"}

	state, _ = sensor.Evaluate(state, 0.5, t0, policy)

	now := t0.Add(policy.MissingDelay + time.Minute)
	state, outcome := sensor.Evaluate(state, 0.5, now, policy)
	if outcome != sensor.OutcomeMissingAlertNeeded {
		t.Fatalf("expected MissingAlertNeeded, got %s", outcome)
	}
	if state.TimerActive {
		t.Fatal("timer should be reset after missing alert")
	}

	// the next empty reading starts a fresh timer rather than reporting again
	state, outcome = sensor.Evaluate(state, 0.5, now.Add(time.Second), policy)
	if outcome != sensor.OutcomeTimerStarted {
		t.Errorf("expected TimerStarted after reset, got %s", outcome)
	}
	if !state.TimerStartedAt.Equal(now.Add(time.Second)) {
		t.Errorf("timer restarted at wrong time: %v", state.TimerStartedAt)
	}
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	policy := sensor.Policy{RestockThreshold: 10, MissingDelay: time.Minute}

	state, outcome := sensor.Evaluate(sensor.State{SensorID: "s"}, 9.5, t0, policy)
	if outcome != sensor.OutcomeTimerStarted {
		t.Fatalf("expected TimerStarted, got %s", outcome)
	}

	_, outcome = sensor.Evaluate(state, 9.5, t0.Add(2*time.Minute), policy)
	if outcome != sensor.OutcomeMissingAlertNeeded {
		t.Errorf("expected MissingAlertNeeded, got %s", outcome)
	}
}

func TestState_RestockingFor(t *testing.T) {
	s := sensor.State{TimerActive: true, TimerStartedAt: t0}
	if got := s.RestockingFor(t0.Add(3 * time.Minute)); got != 3*time.Minute {
		t.Errorf("RestockingFor = %v, want 3m", got)
	}
	if got := (sensor.State{}).RestockingFor(t0); got != 0 {
		t.Errorf("RestockingFor on idle sensor = %v, want 0", got)
	}
}
