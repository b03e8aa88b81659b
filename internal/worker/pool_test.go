package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/application/billing"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/memory"
	"github.com/jhoicas/afip-core/internal/worker"
)

// rejectingProcessor saca la factura de la cola marcándola rechazada.
type rejectingProcessor struct {
	repo *memory.InvoiceRepo
	mu   sync.Mutex
	seen map[string]int
}

func (p *rejectingProcessor) Process(ctx context.Context, id string) (billing.Outcome, error) {
	p.mu.Lock()
	p.seen[id]++
	p.mu.Unlock()
	inv, err := p.repo.GetByID(ctx, id)
	if err != nil || inv == nil {
		return billing.OutcomeSkipped, errors.New("factura inexistente")
	}
	inv.Status = entity.InvoiceStatusRejected
	return billing.OutcomeRejected, p.repo.Update(ctx, inv)
}

type countingLimiter struct {
	mu   sync.Mutex
	orgs []string
}

func (l *countingLimiter) Wait(_ context.Context, org string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orgs = append(l.orgs, org)
	return 0, nil
}

type fixture struct {
	store   *memory.Store
	proc    *rejectingProcessor
	limiter *countingLimiter
	panics  *memory.PanicStore
	pool    *worker.Pool
}

func newFixture(concurrency int) *fixture {
	store := memory.NewStore()
	f := &fixture{
		store:   store,
		proc:    &rejectingProcessor{repo: store.Invoices(), seen: map[string]int{}},
		limiter: &countingLimiter{},
		panics:  memory.NewPanicStore(),
	}
	f.pool = worker.NewPool(store.Queue(), f.proc, f.limiter, f.panics, worker.Config{
		ID: "test", Concurrency: concurrency, PollInterval: 10 * time.Millisecond, Lease: time.Minute,
	}, zerolog.Nop(), nil)
	return f
}

func (f *fixture) enqueue(t *testing.T, org string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		id := fmt.Sprintf("%s-%02d", org, i)
		now := time.Now()
		require.NoError(t, f.store.Invoices().Create(context.Background(), &entity.Invoice{
			ID: id, OrganizationID: org, ExternalReference: id, PointOfSale: 1, InvoiceType: "B",
			Status: entity.InvoiceStatusPending, CreatedAt: now, QueuedAt: now,
		}))
		ids[i] = id
	}
	return ids
}

func TestPool_RunOnceWithoutWork(t *testing.T) {
	f := newFixture(1)
	worked, err := f.pool.RunOnce(context.Background(), "w")
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestPool_RunOnceProcessesAndReleasesLease(t *testing.T) {
	f := newFixture(1)
	ids := f.enqueue(t, "org-1", 1)
	ctx := context.Background()

	worked, err := f.pool.RunOnce(ctx, "w")
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, 1, f.proc.seen[ids[0]])
	assert.Equal(t, []string{"org-1"}, f.limiter.orgs)

	inv, err := f.store.Invoices().GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, inv.LeaseOwner)
	assert.Nil(t, inv.LeaseUntil)
}

func TestPool_SkipsOrganizationsInPanic(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	f.enqueue(t, "org-panico", 2)
	now := time.Now()
	require.NoError(t, f.panics.SavePanic(ctx, &entity.PanicState{OrganizationID: "org-panico", Active: true, TriggeredAt: &now}))

	worked, err := f.pool.RunOnce(ctx, "w")
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Empty(t, f.proc.seen)
}

func TestPool_RunProcessesEachInvoiceOnce(t *testing.T) {
	f := newFixture(3)
	ids := append(f.enqueue(t, "org-1", 6), f.enqueue(t, "org-2", 6)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := f.store.Invoices().CountByStatus(context.Background(), "org-1", entity.InvoiceStatusRejected)
		m, _ := f.store.Invoices().CountByStatus(context.Background(), "org-2", entity.InvoiceStatusRejected)
		return n+m == len(ids)
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	f.proc.mu.Lock()
	defer f.proc.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, 1, f.proc.seen[id], id)
	}
}

type scriptedEvaluator struct {
	mu    sync.Mutex
	calls []string
	out   map[string]afipdomain.PanicTransition
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, org string) (afipdomain.PanicTransition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, org)
	if org == "org-rota" {
		return afipdomain.PanicUnchanged, errors.New("sin datos")
	}
	return e.out[org], nil
}

func TestMonitor_TickEvaluatesEveryOrganization(t *testing.T) {
	creds := memory.NewCredentialRepo(
		entity.Credential{OrganizationID: "org-1"},
		entity.Credential{OrganizationID: "org-2"},
		entity.Credential{OrganizationID: "org-rota"},
	)
	eval := &scriptedEvaluator{out: map[string]afipdomain.PanicTransition{"org-2": afipdomain.PanicTriggered}}
	m := worker.NewMonitor(creds, eval, time.Hour, zerolog.Nop())

	changed := m.Tick(context.Background())
	assert.Equal(t, 1, changed)
	assert.ElementsMatch(t, []string{"org-1", "org-2", "org-rota"}, eval.calls)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	creds := memory.NewCredentialRepo(entity.Credential{OrganizationID: "org-1"})
	eval := &scriptedEvaluator{}
	m := worker.NewMonitor(creds, eval, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	eval.mu.Lock()
	defer eval.mu.Unlock()
	assert.GreaterOrEqual(t, len(eval.calls), 3)
}
