package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/application/dto"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
)

// queuedStatuses estados que cuentan como profundidad de cola.
var queuedStatuses = []string{entity.InvoiceStatusPending, entity.InvoiceStatusReserved, entity.InvoiceStatusSubmitted}

// PanicHandler evalúa las señales de salud por organización y activa o resuelve el modo pánico.
type PanicHandler struct {
	invoices repository.InvoiceRepository
	creds    repository.CredentialRepository
	wsfe     AuthorizationService
	breaker  *CircuitBreaker
	panics   PanicStore
	samples  SampleStore
	policy   afipdomain.PanicPolicy
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewPanicHandler construye el handler.
func NewPanicHandler(
	invoices repository.InvoiceRepository,
	creds repository.CredentialRepository,
	wsfe AuthorizationService,
	breaker *CircuitBreaker,
	panics PanicStore,
	samples SampleStore,
	policy afipdomain.PanicPolicy,
	log zerolog.Logger,
	m *metrics.Metrics,
) *PanicHandler {
	return &PanicHandler{
		invoices: invoices,
		creds:    creds,
		wsfe:     wsfe,
		breaker:  breaker,
		panics:   panics,
		samples:  samples,
		policy:   policy,
		log:      log.With().Str("component", "panic-mode").Logger(),
		metrics:  m,
		now:      time.Now,
	}
}

// Signals recolecta profundidad de cola, ventana móvil y tiempo de circuito abierto.
func (h *PanicHandler) Signals(ctx context.Context, orgID string) (afipdomain.HealthSignals, *entity.CircuitBreakerState, error) {
	now := h.now()
	depth, err := h.invoices.CountByStatus(ctx, orgID, queuedStatuses...)
	if err != nil {
		return afipdomain.HealthSignals{}, nil, fmt.Errorf("contando cola: %w", err)
	}
	samples, err := h.samples.Samples(ctx, orgID, now.Add(-h.policy.Window))
	if err != nil {
		return afipdomain.HealthSignals{}, nil, fmt.Errorf("leyendo muestras: %w", err)
	}
	circuit, err := h.breaker.State(ctx, orgID)
	if err != nil {
		return afipdomain.HealthSignals{}, nil, fmt.Errorf("leyendo circuit breaker: %w", err)
	}
	h.metrics.QueueDepth(orgID, depth)
	return afipdomain.HealthSignals{
		QueueDepth:     depth,
		Window:         entity.Aggregate(samples),
		CircuitOpenFor: circuit.OpenFor(now),
	}, circuit, nil
}

// Evaluate ejecuta un ciclo de monitoreo para la organización. Con el modo pánico activo
// sondea FEDummy antes de decidir la resolución.
func (h *PanicHandler) Evaluate(ctx context.Context, orgID string) (afipdomain.PanicTransition, error) {
	st, err := h.panics.GetPanic(ctx, orgID)
	if err != nil {
		return afipdomain.PanicUnchanged, err
	}
	if st.Active {
		h.Probe(ctx, orgID)
	}
	sig, _, err := h.Signals(ctx, orgID)
	if err != nil {
		return afipdomain.PanicUnchanged, err
	}
	now := h.now()
	tr := h.policy.Evaluate(st, sig, now)
	switch tr {
	case afipdomain.PanicTriggered:
		if err := h.panics.SavePanic(ctx, st); err != nil {
			return afipdomain.PanicUnchanged, err
		}
		h.metrics.PanicActive(orgID, true)
		h.log.Error().
			Str("organization_id", orgID).
			Str("reason", st.Reason).
			Int("queue_depth", sig.QueueDepth).
			Dur("avg_latency", sig.Window.AvgLatency).
			Dur("circuit_open_for", sig.CircuitOpenFor).
			Msg("modo pánico activado")
	case afipdomain.PanicResolved:
		if _, err := h.release(ctx, st); err != nil {
			return afipdomain.PanicUnchanged, err
		}
		h.log.Info().
			Str("organization_id", orgID).
			Int("samples", sig.Window.Samples).
			Float64("failure_rate", sig.Window.FailureRate()).
			Msg("modo pánico resuelto automáticamente")
	default:
		if !st.Active {
			if err := h.releaseStranded(ctx, orgID); err != nil {
				return afipdomain.PanicUnchanged, err
			}
		}
	}
	return tr, nil
}

// Resolve resolución manual por un operador. Devuelve la cantidad de facturas liberadas.
func (h *PanicHandler) Resolve(ctx context.Context, orgID, operator string) (int, error) {
	st, err := h.panics.GetPanic(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if !st.Active {
		return 0, nil
	}
	h.policy.Resolve(st, h.now())
	released, err := h.release(ctx, st)
	if err != nil {
		return 0, err
	}
	h.log.Warn().Str("organization_id", orgID).Str("operator", operator).Msg("modo pánico resuelto manualmente")
	return released, nil
}

// Trigger activación manual (motivo manual).
func (h *PanicHandler) Trigger(ctx context.Context, orgID, operator string) error {
	st, err := h.panics.GetPanic(ctx, orgID)
	if err != nil {
		return err
	}
	if st.Active {
		return nil
	}
	h.policy.Trigger(st, entity.PanicReasonManual, h.now())
	if err := h.panics.SavePanic(ctx, st); err != nil {
		return err
	}
	h.metrics.PanicActive(orgID, true)
	h.log.Warn().Str("organization_id", orgID).Str("operator", operator).Msg("modo pánico activado manualmente")
	return nil
}

// Probe llama a FEDummy en el ambiente de la organización y registra la muestra.
func (h *PanicHandler) Probe(ctx context.Context, orgID string) bool {
	cred, err := h.creds.GetByOrganization(ctx, orgID)
	if err != nil {
		h.log.Warn().Err(err).Str("organization_id", orgID).Msg("sonda FEDummy sin credencial")
		return false
	}
	perr := h.wsfe.Dummy(ctx, cred.Environment)
	if err := h.samples.AddSample(ctx, orgID, entity.AttemptSample{At: h.now(), Success: perr == nil}); err != nil {
		h.log.Warn().Err(err).Str("organization_id", orgID).Msg("no se pudo registrar la muestra de la sonda")
	}
	if perr != nil {
		h.log.Debug().Err(perr).Str("organization_id", orgID).Msg("sonda FEDummy fallida")
	}
	return perr == nil
}

// Status estado consolidado para GET /api/afip/status.
func (h *PanicHandler) Status(ctx context.Context, orgID string) (*dto.OrganizationStatusResponse, error) {
	st, err := h.panics.GetPanic(ctx, orgID)
	if err != nil {
		return nil, err
	}
	sig, circuit, err := h.Signals(ctx, orgID)
	if err != nil {
		return nil, err
	}
	queue := make(map[string]int, len(queuedStatuses)+2)
	for _, s := range append([]string{entity.InvoiceStatusDraft, entity.InvoiceStatusParked}, queuedStatuses...) {
		n, err := h.invoices.CountByStatus(ctx, orgID, s)
		if err != nil {
			return nil, err
		}
		queue[s] = n
	}
	return &dto.OrganizationStatusResponse{
		OrganizationID: orgID,
		Circuit: dto.CircuitDTO{
			State:               circuit.State,
			ConsecutiveFailures: circuit.ConsecutiveFailures,
			OpenedAt:            circuit.OpenedAt,
			OpenForSeconds:      sig.CircuitOpenFor.Seconds(),
		},
		Panic: dto.PanicDTO{
			Active:        st.Active,
			Reason:        st.Reason,
			TriggeredAt:   st.TriggeredAt,
			AutoResolveAt: st.AutoResolveAt,
			ResolvedAt:    st.ResolvedAt,
		},
		Queue: queue,
		Window: dto.WindowStatsDTO{
			Samples:           sig.Window.Samples,
			Failures:          sig.Window.Failures,
			FailureRate:       sig.Window.FailureRate(),
			AvgLatencySeconds: sig.Window.AvgLatency.Seconds(),
		},
	}, nil
}

// ActiveOrganizations organizaciones que el worker debe omitir.
func (h *PanicHandler) ActiveOrganizations(ctx context.Context) ([]string, error) {
	return h.panics.ActiveOrganizations(ctx)
}

// release persiste la resolución y libera las facturas retenidas en draft.
func (h *PanicHandler) release(ctx context.Context, st *entity.PanicState) (int, error) {
	if err := h.panics.SavePanic(ctx, st); err != nil {
		return 0, err
	}
	h.metrics.PanicActive(st.OrganizationID, false)
	n, err := h.invoices.ReleaseDrafts(ctx, st.OrganizationID, h.now())
	if err != nil {
		return 0, fmt.Errorf("liberando borradores: %w", err)
	}
	h.log.Info().Str("organization_id", st.OrganizationID).Int("released", n).Msg("facturas draft liberadas a la cola")
	return n, nil
}

// releaseStranded libera borradores creados después de la última resolución
// (Submit leyó el pánico activo y persistió el draft tras ReleaseDrafts).
func (h *PanicHandler) releaseStranded(ctx context.Context, orgID string) error {
	drafts, err := h.invoices.CountByStatus(ctx, orgID, entity.InvoiceStatusDraft)
	if err != nil {
		return err
	}
	if drafts == 0 {
		return nil
	}
	n, err := h.invoices.ReleaseDrafts(ctx, orgID, h.now())
	if err != nil {
		return fmt.Errorf("liberando borradores: %w", err)
	}
	h.log.Warn().Str("organization_id", orgID).Int("released", n).Msg("borradores sin modo pánico activo liberados a la cola")
	return nil
}
