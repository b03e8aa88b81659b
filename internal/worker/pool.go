// Package worker ejecuta la cola de autorización y el monitor del modo pánico.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
)

// Processor ciclo de autorización de una factura (billing.CAEOrchestrator).
type Processor interface {
	Process(ctx context.Context, invoiceID string) (billing.Outcome, error)
}

// RateLimiter cupo de llamadas a AFIP por organización.
type RateLimiter interface {
	Wait(ctx context.Context, orgID string) (time.Duration, error)
}

// PanicGate organizaciones retenidas por modo pánico.
type PanicGate interface {
	ActiveOrganizations(ctx context.Context) ([]string, error)
}

// Config parámetros del pool.
type Config struct {
	ID           string // prefijo del dueño del lease; vacío = hostname
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
}

// Pool N goroutines que toman facturas de la cola y las procesan de punta a punta.
type Pool struct {
	queue   repository.InvoiceQueue
	proc    Processor
	limiter RateLimiter
	panics  PanicGate
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewPool construye el pool. Valores cero: 2 workers, sondeo 2s, lease 2m.
func NewPool(queue repository.InvoiceQueue, proc Processor, limiter RateLimiter, panics PanicGate, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.ID == "" {
		host, _ := os.Hostname()
		cfg.ID = host + "-" + uuid.NewString()[:8]
	}
	return &Pool{
		queue:   queue,
		proc:    proc,
		limiter: limiter,
		panics:  panics,
		cfg:     cfg,
		log:     log.With().Str("component", "worker").Logger(),
		metrics: m,
	}
}

// Run bloquea hasta que ctx se cancele. Cada worker termina la factura en curso antes de salir.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		owner := fmt.Sprintf("%s/%d", p.cfg.ID, i)
		g.Go(func() error {
			p.loop(gctx, owner)
			return nil
		})
	}
	p.log.Info().Int("workers", p.cfg.Concurrency).Str("id", p.cfg.ID).Msg("pool de autorización iniciado")
	err := g.Wait()
	p.log.Info().Msg("pool de autorización detenido")
	return err
}

func (p *Pool) loop(ctx context.Context, owner string) {
	for {
		worked, err := p.RunOnce(ctx, owner)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Str("worker", owner).Msg("ciclo de worker fallido")
		}
		if ctx.Err() != nil {
			return
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce toma una factura elegible y la procesa. Devuelve false si no había trabajo.
func (p *Pool) RunOnce(ctx context.Context, owner string) (bool, error) {
	excluded, err := p.panics.ActiveOrganizations(ctx)
	if err != nil {
		return false, fmt.Errorf("leyendo organizaciones en pánico: %w", err)
	}
	inv, err := p.queue.Claim(ctx, repository.ClaimRequest{
		Owner:        owner,
		Lease:        p.cfg.Lease,
		Now:          time.Now(),
		ExcludedOrgs: excluded,
	})
	if err != nil {
		return false, fmt.Errorf("tomando factura: %w", err)
	}
	if inv == nil {
		return false, nil
	}
	defer func() {
		if err := p.queue.ReleaseLease(context.WithoutCancel(ctx), inv.ID, owner); err != nil {
			p.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("no se pudo liberar el lease")
		}
	}()

	waited, err := p.limiter.Wait(ctx, inv.OrganizationID)
	if err != nil {
		return true, err
	}
	if waited > 0 {
		p.metrics.RateLimited(inv.OrganizationID)
	}

	start := time.Now()
	outcome, err := p.proc.Process(ctx, inv.ID)
	if err != nil {
		return true, fmt.Errorf("procesando %s: %w", inv.ID, err)
	}
	p.log.Debug().
		Str("worker", owner).
		Str("organization_id", inv.OrganizationID).
		Str("invoice_id", inv.ID).
		Str("outcome", string(outcome)).
		Dur("duracion", time.Since(start)).
		Msg("factura procesada")
	return true, nil
}
