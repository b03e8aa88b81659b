package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
)

// Evaluator ciclo de monitoreo por organización (billing.PanicHandler).
type Evaluator interface {
	Evaluate(ctx context.Context, orgID string) (afipdomain.PanicTransition, error)
}

// OrganizationLister organizaciones con credencial.
type OrganizationLister interface {
	ListOrganizations(ctx context.Context) ([]string, error)
}

// Monitor evalúa periódicamente las señales de salud de cada organización.
type Monitor struct {
	orgs     OrganizationLister
	eval     Evaluator
	interval time.Duration
	log      zerolog.Logger
}

// NewMonitor interval 0 = 30s.
func NewMonitor(orgs OrganizationLister, eval Evaluator, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{orgs: orgs, eval: eval, interval: interval, log: log.With().Str("component", "panic-monitor").Logger()}
}

// Run evalúa al iniciar y luego en cada intervalo hasta que ctx se cancele.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info().Dur("interval", m.interval).Msg("monitor de modo pánico iniciado")
	for {
		m.Tick(ctx)
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor de modo pánico detenido")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick un ciclo sobre todas las organizaciones. Devuelve cuántas cambiaron de estado.
func (m *Monitor) Tick(ctx context.Context) int {
	orgs, err := m.orgs.ListOrganizations(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("no se pudieron listar organizaciones")
		return 0
	}
	changed := 0
	for _, org := range orgs {
		if ctx.Err() != nil {
			return changed
		}
		tr, err := m.eval.Evaluate(ctx, org)
		if err != nil {
			m.log.Error().Err(err).Str("organization_id", org).Msg("evaluación de salud fallida")
			continue
		}
		if tr != afipdomain.PanicUnchanged {
			changed++
		}
	}
	return changed
}
