package processor

import (
	"sync"
	"sync/atomic"
)

// HealthState is the engine-readiness lifecycle state.
type HealthState string

const (
	StateUnavailable HealthState = "unavailable"
	StateReady       HealthState = "ready"
)

// ServiceHealth starts Unavailable and moves to Ready at most once. There is
// no transition back; a restart is required to re-evaluate the engine.
type ServiceHealth struct {
	once  sync.Once
	ready atomic.Bool
}

// NewServiceHealth returns a gate in the Unavailable state.
func NewServiceHealth() *ServiceHealth {
	return &ServiceHealth{}
}

// MarkReady performs the single Unavailable -> Ready transition. It reports
// whether this call made the transition.
func (h *ServiceHealth) MarkReady() bool {
	transitioned := false
	h.once.Do(func() {
		h.ready.Store(true)
		transitioned = true
	})
	return transitioned
}

// IsReady is safe for concurrent use.
func (h *ServiceHealth) IsReady() bool {
	return h.ready.Load()
}

func (h *ServiceHealth) State() HealthState {
	if h.IsReady() {
		return StateReady
	}
	return StateUnavailable
}

// Status renders the state the way the health endpoint reports it.
func (h *ServiceHealth) Status() string {
	if h.IsReady() {
		return "healthy"
	}
	return "unhealthy"
}
