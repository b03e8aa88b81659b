package afip

import (
	"time"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// CircuitPolicy umbrales del circuit breaker por organización.
type CircuitPolicy struct {
	FailureThreshold int           // fallos transitorios consecutivos para abrir
	OpenTimeout      time.Duration // tiempo abierto antes de pasar a half_open
	ProbeInterval    time.Duration // separación mínima entre sondas en half_open
}

// DefaultCircuitPolicy 5 fallos, 5 minutos abierto, una sonda cada 30 segundos.
func DefaultCircuitPolicy() CircuitPolicy {
	return CircuitPolicy{FailureThreshold: 5, OpenTimeout: 5 * time.Minute, ProbeInterval: 30 * time.Second}
}

// Decision resultado de Allow.
type Decision struct {
	Allowed bool
	Probe   bool      // la llamada permitida es la sonda de half_open
	RetryAt time.Time // próximo momento en que podría permitirse (si !Allowed)
}

// Allow decide si se permite una llamada en now y muta s en consecuencia
// (open → half_open al vencer OpenTimeout; registra LastProbeAt al permitir una sonda).
func (p CircuitPolicy) Allow(s *entity.CircuitBreakerState, now time.Time) Decision {
	switch s.State {
	case entity.CircuitOpen:
		openedAt := now
		if s.OpenedAt != nil {
			openedAt = *s.OpenedAt
		}
		if now.Sub(openedAt) < p.OpenTimeout {
			return Decision{RetryAt: openedAt.Add(p.OpenTimeout)}
		}
		s.State = entity.CircuitHalfOpen
		s.LastProbeAt = nil
		fallthrough
	case entity.CircuitHalfOpen:
		if s.LastProbeAt != nil && now.Sub(*s.LastProbeAt) < p.ProbeInterval {
			return Decision{RetryAt: s.LastProbeAt.Add(p.ProbeInterval)}
		}
		t := now
		s.LastProbeAt = &t
		return Decision{Allowed: true, Probe: true}
	default:
		return Decision{Allowed: true}
	}
}

// Advance aplica solo el paso temporal open → half_open (lecturas de estado).
func (p CircuitPolicy) Advance(s *entity.CircuitBreakerState, now time.Time) {
	if s.State == entity.CircuitOpen && s.OpenedAt != nil && now.Sub(*s.OpenedAt) >= p.OpenTimeout {
		s.State = entity.CircuitHalfOpen
		s.LastProbeAt = nil
	}
}

// RecordSuccess: en half_open cierra y reinicia el contador; en closed reinicia el contador.
// Un éxito tardío con el circuito abierto no lo cierra.
func (p CircuitPolicy) RecordSuccess(s *entity.CircuitBreakerState, now time.Time) {
	switch s.State {
	case entity.CircuitHalfOpen:
		s.State = entity.CircuitClosed
		s.ConsecutiveFailures = 0
		s.OpenedAt = nil
		s.OpenSince = nil
		s.LastProbeAt = nil
	case entity.CircuitClosed:
		s.ConsecutiveFailures = 0
	}
}

// RecordFailure registra un fallo transitorio.
func (p CircuitPolicy) RecordFailure(s *entity.CircuitBreakerState, now time.Time) {
	s.ConsecutiveFailures++
	t := now
	switch s.State {
	case entity.CircuitHalfOpen:
		s.State = entity.CircuitOpen
		s.OpenedAt = &t
	case entity.CircuitClosed:
		if s.ConsecutiveFailures >= p.FailureThreshold {
			s.State = entity.CircuitOpen
			s.OpenedAt = &t
			s.OpenSince = &t
		}
	}
}
