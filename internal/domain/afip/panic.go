package afip

import (
	"time"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// PanicPolicy umbrales del modo pánico por organización.
type PanicPolicy struct {
	MaxQueueDepth      int
	MaxAvgLatency      time.Duration
	MaxCircuitOpen     time.Duration
	Window             time.Duration // ventana móvil de muestras y espera mínima antes de resolver
	ResolveFailureRate float64
}

// DefaultPanicPolicy profundidad > 100, latencia > 5m, circuito abierto > 15m; resuelve con < 10% de fallos.
func DefaultPanicPolicy() PanicPolicy {
	return PanicPolicy{
		MaxQueueDepth:      100,
		MaxAvgLatency:      5 * time.Minute,
		MaxCircuitOpen:     15 * time.Minute,
		Window:             5 * time.Minute,
		ResolveFailureRate: 0.10,
	}
}

// HealthSignals señales observadas en un ciclo de monitoreo.
type HealthSignals struct {
	QueueDepth     int
	Window         entity.WindowStats
	CircuitOpenFor time.Duration
}

// PanicTransition cambio producido por Evaluate.
type PanicTransition int

const (
	PanicUnchanged PanicTransition = iota
	PanicTriggered
	PanicResolved
)

// TriggerReason devuelve el primer umbral superado o "" si ninguno.
func (p PanicPolicy) TriggerReason(sig HealthSignals) string {
	switch {
	case sig.QueueDepth > p.MaxQueueDepth:
		return entity.PanicReasonQueueDepth
	case sig.Window.AvgLatency > p.MaxAvgLatency:
		return entity.PanicReasonLatency
	case sig.CircuitOpenFor > p.MaxCircuitOpen:
		return entity.PanicReasonCircuitOpen
	}
	return ""
}

// Evaluate aplica las reglas de activación y resolución sobre s.
func (p PanicPolicy) Evaluate(s *entity.PanicState, sig HealthSignals, now time.Time) PanicTransition {
	if !s.Active {
		reason := p.TriggerReason(sig)
		if reason == "" {
			return PanicUnchanged
		}
		p.Trigger(s, reason, now)
		return PanicTriggered
	}
	if p.CanResolve(s, sig.Window, now) {
		p.Resolve(s, now)
		return PanicResolved
	}
	return PanicUnchanged
}

// CanResolve: pasó la espera mínima, hay al menos una muestra y la tasa de fallos es menor al umbral.
func (p PanicPolicy) CanResolve(s *entity.PanicState, w entity.WindowStats, now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.AutoResolveAt != nil && now.Before(*s.AutoResolveAt) {
		return false
	}
	return w.Samples > 0 && w.FailureRate() < p.ResolveFailureRate
}

// Trigger activa el modo pánico.
func (p PanicPolicy) Trigger(s *entity.PanicState, reason string, now time.Time) {
	t := now
	at := now.Add(p.Window)
	s.Active = true
	s.Reason = reason
	s.TriggeredAt = &t
	s.AutoResolveAt = &at
	s.ResolvedAt = nil
}

// Resolve desactiva el modo pánico.
func (p PanicPolicy) Resolve(s *entity.PanicState, now time.Time) {
	t := now
	s.Active = false
	s.ResolvedAt = &t
	s.AutoResolveAt = nil
}
