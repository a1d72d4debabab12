package sitegen

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the health of a provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker is a per-provider circuit breaker. Three failures inside five
// minutes open the circuit for thirty seconds. After that the circuit is
// half-open and Allow hands out a single probe until its result is recorded.
type HealthTracker struct {
	mu        sync.Mutex
	now       func() time.Time
	providers map[string]*providerHealth
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
	probing     bool // half-open probe in flight
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return NewHealthTrackerWithClock(SystemClock())
}

// NewHealthTrackerWithClock creates a HealthTracker reading time from c.
func NewHealthTrackerWithClock(c Clock) *HealthTracker {
	return &HealthTracker{
		now:       c.Now,
		providers: make(map[string]*providerHealth),
	}
}

// GetHealth returns the current health state for a provider. It does not
// take the half-open probe.
func (h *HealthTracker) GetHealth(provider string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return HealthHealthy
	}
	return h.stateLocked(ph)
}

// Allow reports whether a call to the provider may start now. A half-open
// provider admits one caller; others are refused until RecordSuccess or
// RecordFailure settles the probe.
func (h *HealthTracker) Allow(provider string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return true
	}
	switch h.stateLocked(ph) {
	case HealthHealthy:
		return true
	case HealthHalfOpen:
		if ph.probing {
			return false
		}
		ph.probing = true
		return true
	default:
		return false
	}
}

func (h *HealthTracker) stateLocked(ph *providerHealth) HealthState {
	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
		ph.probing = false
	}
	return ph.state
}

// RecordSuccess closes the circuit for a provider.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.state = HealthHealthy
	ph.probing = false
	ph.failures = ph.failures[:0]
}

// RecordFailure records a failed call. A failed half-open probe reopens the
// circuit immediately.
func (h *HealthTracker) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	now := h.now()
	ph.probing = false

	switch ph.state {
	case HealthUnhealthy:
		return
	case HealthHalfOpen:
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[provider] = ph
	}
	return ph
}
