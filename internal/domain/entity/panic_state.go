package entity

import "time"

// Motivos de activación del modo pánico.
const (
	PanicReasonQueueDepth  = "queue_depth"
	PanicReasonLatency     = "latency"
	PanicReasonCircuitOpen = "circuit_open"
	PanicReasonManual      = "manual"
)

// PanicState registro explícito por organización del modo pánico.
type PanicState struct {
	OrganizationID string     `json:"organization_id"`
	Active         bool       `json:"active"`
	Reason         string     `json:"reason,omitempty"`
	TriggeredAt    *time.Time `json:"triggered_at,omitempty"`
	AutoResolveAt  *time.Time `json:"auto_resolve_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// AttemptSample muestra de un intento de autorización (o sonda FEDummy) para ventanas móviles.
type AttemptSample struct {
	At      time.Time
	Success bool
	Latency time.Duration // 0 cuando no aplica (fallos, sondas)
}

// WindowStats agregado de muestras en la ventana.
type WindowStats struct {
	Samples    int
	Failures   int
	AvgLatency time.Duration
}

// FailureRate fracción de fallos (0 si no hay muestras).
func (w WindowStats) FailureRate() float64 {
	if w.Samples == 0 {
		return 0
	}
	return float64(w.Failures) / float64(w.Samples)
}

// Aggregate calcula WindowStats; la latencia promedia solo muestras exitosas con latencia.
func Aggregate(samples []AttemptSample) WindowStats {
	var st WindowStats
	var total time.Duration
	var measured int
	for _, s := range samples {
		st.Samples++
		if !s.Success {
			st.Failures++
			continue
		}
		if s.Latency > 0 {
			total += s.Latency
			measured++
		}
	}
	if measured > 0 {
		st.AvgLatency = total / time.Duration(measured)
	}
	return st
}
