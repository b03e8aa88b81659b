package entity

import "time"

// Estados del circuit breaker por organización.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// CircuitBreakerState estado compartido entre instancias del worker.
type CircuitBreakerState struct {
	OrganizationID      string     `json:"organization_id"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`  // reinicia con cada sonda fallida
	OpenSince           *time.Time `json:"open_since,omitempty"` // primera apertura sin cierre intermedio
	LastProbeAt         *time.Time `json:"last_probe_at,omitempty"`
}

// NewCircuitBreakerState estado inicial cerrado.
func NewCircuitBreakerState(orgID string) *CircuitBreakerState {
	return &CircuitBreakerState{OrganizationID: orgID, State: CircuitClosed}
}

// OpenFor duración continua sin cerrarse (0 si está cerrado).
func (s *CircuitBreakerState) OpenFor(now time.Time) time.Duration {
	if s == nil || s.State == CircuitClosed || s.OpenSince == nil {
		return 0
	}
	return now.Sub(*s.OpenSince)
}
