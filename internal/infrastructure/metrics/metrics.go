// Package metrics expone métricas Prometheus del núcleo AFIP.
// Todos los métodos aceptan receptor nil (métricas deshabilitadas).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// Resultados de llamadas SOAP.
const (
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeTransient = "transient"
	OutcomeAuth      = "auth"
)

// Metrics agrupa los colectores registrados.
type Metrics struct {
	soapDuration   *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	authLatency    prometheus.Histogram
	tokenRefreshes *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec
	panicActive    *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	rateLimited    *prometheus.CounterVec
	driftWarnings  *prometheus.CounterVec
}

// New registra los colectores en registerer (prometheus.DefaultRegisterer si es nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		soapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "afip_soap_call_duration_seconds",
			Help:    "Duración de llamadas SOAP a WSAA, WSFEv1 y Padrón por operación y resultado.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"operation", "outcome"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_authorization_outcomes_total",
			Help: "Resultados de intentos de autorización (authorized, rejected, retry, parked, short_circuited).",
		}, []string{"outcome"}),
		authLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "afip_authorization_latency_seconds",
			Help:    "Latencia desde el encolado hasta el resultado final de la factura.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_wsaa_token_refresh_total",
			Help: "Renovaciones de ticket WSAA por servicio y resultado.",
		}, []string{"service", "outcome"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afip_circuit_state",
			Help: "Estado del circuit breaker por organización (0 closed, 1 half_open, 2 open).",
		}, []string{"organization_id"}),
		panicActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afip_panic_mode_active",
			Help: "1 si la organización está en modo pánico.",
		}, []string{"organization_id"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afip_pending_queue_depth",
			Help: "Facturas pendientes de autorización por organización.",
		}, []string{"organization_id"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_rate_limited_total",
			Help: "Esperas impuestas por el limitador de llamadas por organización.",
		}, []string{"organization_id"}),
		driftWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_sequence_drift_total",
			Help: "Desvíos detectados entre la numeración local y el último autorizado en AFIP.",
		}, []string{"organization_id"}),
	}
	registerer.MustRegister(
		m.soapDuration, m.outcomes, m.authLatency, m.tokenRefreshes,
		m.circuitState, m.panicActive, m.queueDepth, m.rateLimited, m.driftWarnings,
	)
	return m
}

// ObserveSOAP registra la duración de una llamada SOAP.
func (m *Metrics) ObserveSOAP(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.soapDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// Outcome cuenta un resultado de autorización.
func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// AuthorizationLatency observa la latencia encolado → resultado.
func (m *Metrics) AuthorizationLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.authLatency.Observe(d.Seconds())
}

// TokenRefresh cuenta una renovación WSAA.
func (m *Metrics) TokenRefresh(service, outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(service, outcome).Inc()
}

// CircuitState publica el estado del breaker.
func (m *Metrics) CircuitState(orgID, state string) {
	if m == nil {
		return
	}
	v := 0.0
	switch state {
	case entity.CircuitHalfOpen:
		v = 1
	case entity.CircuitOpen:
		v = 2
	}
	m.circuitState.WithLabelValues(orgID).Set(v)
}

// PanicActive publica el modo pánico.
func (m *Metrics) PanicActive(orgID string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.panicActive.WithLabelValues(orgID).Set(v)
}

// QueueDepth publica la profundidad de cola.
func (m *Metrics) QueueDepth(orgID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(orgID).Set(float64(depth))
}

// RateLimited cuenta una espera del limitador.
func (m *Metrics) RateLimited(orgID string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(orgID).Inc()
}

// SequenceDrift cuenta un desvío de numeración.
func (m *Metrics) SequenceDrift(orgID string) {
	if m == nil {
		return
	}
	m.driftWarnings.WithLabelValues(orgID).Inc()
}
