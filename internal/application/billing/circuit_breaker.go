package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
)

// CircuitBreaker aplica CircuitPolicy sobre el estado compartido de cada organización.
type CircuitBreaker struct {
	store   CircuitStore
	policy  afipdomain.CircuitPolicy
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCircuitBreaker construye el breaker.
func NewCircuitBreaker(store CircuitStore, policy afipdomain.CircuitPolicy, log zerolog.Logger, m *metrics.Metrics) *CircuitBreaker {
	return &CircuitBreaker{
		store:   store,
		policy:  policy,
		log:     log.With().Str("component", "circuit-breaker").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Allow decide si la organización puede llamar a WSFE ahora.
func (b *CircuitBreaker) Allow(ctx context.Context, orgID string) (afipdomain.Decision, error) {
	var d afipdomain.Decision
	before := ""
	st, err := b.store.UpdateCircuit(ctx, orgID, func(s *entity.CircuitBreakerState) error {
		before = s.State
		d = b.policy.Allow(s, b.now())
		return nil
	})
	if err != nil {
		return afipdomain.Decision{}, err
	}
	b.transition(orgID, before, st.State)
	return d, nil
}

// Success registra una llamada exitosa.
func (b *CircuitBreaker) Success(ctx context.Context, orgID string) error {
	return b.record(ctx, orgID, b.policy.RecordSuccess)
}

// Failure registra un fallo transitorio.
func (b *CircuitBreaker) Failure(ctx context.Context, orgID string) error {
	return b.record(ctx, orgID, b.policy.RecordFailure)
}

// State estado actual con la transición temporal open → half_open aplicada.
func (b *CircuitBreaker) State(ctx context.Context, orgID string) (*entity.CircuitBreakerState, error) {
	st, err := b.store.GetCircuit(ctx, orgID)
	if err != nil {
		return nil, err
	}
	b.policy.Advance(st, b.now())
	return st, nil
}

func (b *CircuitBreaker) record(ctx context.Context, orgID string, apply func(*entity.CircuitBreakerState, time.Time)) error {
	before := ""
	st, err := b.store.UpdateCircuit(ctx, orgID, func(s *entity.CircuitBreakerState) error {
		before = s.State
		apply(s, b.now())
		return nil
	})
	if err != nil {
		return err
	}
	b.transition(orgID, before, st.State)
	return nil
}

func (b *CircuitBreaker) transition(orgID, before, after string) {
	b.metrics.CircuitState(orgID, after)
	if before == after {
		return
	}
	b.log.Warn().
		Str("organization_id", orgID).
		Str("from", before).
		Str("to", after).
		Msg("cambio de estado del circuit breaker")
}
