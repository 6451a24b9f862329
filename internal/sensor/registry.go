package sensor

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// entry serializes writers for one sensor. Readers load the current
// snapshot without taking mu.
type entry struct {
	mu    sync.Mutex
	state atomic.Pointer[State]
}

// Registry is an in-memory, thread-safe store of per-sensor state.
//
// Updates to different sensors never contend on a shared lock; updates to
// the same sensor are applied one at a time in arrival order of the lock.
type Registry struct {
	policy  Policy
	entries sync.Map // sensorID -> *entry
	size    atomic.Int64
}

// NewRegistry creates an empty registry using policy for every update
func NewRegistry(policy Policy) *Registry {
	if policy.RestockThreshold == 0 && policy.MissingDelay == 0 {
		policy = DefaultPolicy()
	}
	return &Registry{policy: policy}
}

// Policy returns the policy the registry evaluates readings with
func (r *Registry) Policy() Policy {
	return r.policy
}

// Upsert records a reading for sensorID taken at now.
//
// Blank sensor IDs are ignored and report OutcomeOk without creating state.
func (r *Registry) Upsert(sensorID string, weight float64, now time.Time) (State, Outcome) {
	if strings.TrimSpace(sensorID) == "" {
		return State{}, OutcomeOk
	}

	e := r.entry(sensorID)

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := State{SensorID: sensorID}
	if cur := e.state.Load(); cur != nil {
		prev = *cur
	}

	next, outcome := Evaluate(prev, weight, now, r.policy)
	e.state.Store(&next)

	return next, outcome
}

// entry returns the entry for sensorID, creating it on first use
func (r *Registry) entry(sensorID string) *entry {
	if v, ok := r.entries.Load(sensorID); ok {
		return v.(*entry)
	}
	v, loaded := r.entries.LoadOrStore(sensorID, &entry{})
	if !loaded {
		r.size.Add(1)
	}
	return v.(*entry)
}

// Get returns the last committed state for sensorID
func (r *Registry) Get(sensorID string) (State, bool) {
	v, ok := r.entries.Load(sensorID)
	if !ok {
		return State{}, false
	}
	cur := v.(*entry).state.Load()
	if cur == nil {
		// created by a concurrent Upsert that has not committed yet
		return State{}, false
	}
	return *cur, true
}

// ListActive returns sensors seen within timeout of now, sorted by sensor ID.
func (r *Registry) ListActive(timeout time.Duration, now time.Time) []State {
	cutoff := now.Add(-timeout)

	active := make([]State, 0)
	r.entries.Range(func(_, v any) bool {
		cur := v.(*entry).state.Load()
		if cur == nil {
			return true
		}
		if !cur.LastSeenAt.Before(cutoff) {
			active = append(active, *cur)
		}
		return true
	})

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].SensorID < active[j].SensorID
	})
	return active
}

// Len returns the number of sensors the registry has seen
func (r *Registry) Len() int {
	return int(r.size.Load())
}
