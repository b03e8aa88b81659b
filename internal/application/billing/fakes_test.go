package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/application/dto"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/memory"
	"github.com/jhoicas/afip-core/pkg/afip"
)

const (
	orgID      = "org-1"
	issuerCUIT = "30716595540"
	testCAE    = "74123456789012"
)

// ── WSFE falso ───────────────────────────────────────────────────────────────

type fakeWSFE struct {
	mu          sync.Mutex
	last        map[int]int64 // por tipo de comprobante
	issued      map[int64]*afipdomain.CAEResponse
	requestErrs []error // se consumen en orden antes de aprobar
	reject      *afipdomain.CAEResponse
	dummyErr    error
	requests    []*afipdomain.CAERequest
	tokensSeen  []string
	dummyCalls  int
	queryCalls  int
}

func newFakeWSFE() *fakeWSFE {
	return &fakeWSFE{last: map[int]int64{}, issued: map[int64]*afipdomain.CAEResponse{}}
}

func (f *fakeWSFE) Dummy(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dummyCalls++
	return f.dummyErr
}

func (f *fakeWSFE) LastAuthorized(_ context.Context, _ afipdomain.Session, _ int, invoiceType int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[invoiceType], nil
}

func (f *fakeWSFE) RequestCAE(_ context.Context, s afipdomain.Session, req *afipdomain.CAERequest) (*afipdomain.CAEResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.tokensSeen = append(f.tokensSeen, s.Token)
	if len(f.requestErrs) > 0 {
		err := f.requestErrs[0]
		f.requestErrs = f.requestErrs[1:]
		return nil, err
	}
	if f.reject != nil {
		return f.reject, nil
	}
	resp := &afipdomain.CAEResponse{
		Result:    afipdomain.ResultApproved,
		Number:    req.Number,
		CAE:       testCAE,
		CAEExpiry: time.Now().Add(10 * 24 * time.Hour).Truncate(24 * time.Hour),
	}
	f.last[req.InvoiceTypeCode] = req.Number
	f.issued[req.Number] = resp
	return resp, nil
}

func (f *fakeWSFE) QueryInvoice(_ context.Context, _ afipdomain.Session, _, _ int, number int64) (*afipdomain.CAEResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	return f.issued[number], nil
}

func (f *fakeWSFE) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// ── Tickets falsos ───────────────────────────────────────────────────────────

type fakeTokens struct {
	mu        sync.Mutex
	current   string
	refreshes int
	err       error
}

func (f *fakeTokens) GetToken(_ context.Context, org, service string) (*entity.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.current == "" {
		f.current = "tok-1"
	}
	return &entity.AuthToken{OrganizationID: org, Service: service, Token: f.current, Sign: "sign", ExpiresAt: time.Now().Add(12 * time.Hour)}, nil
}

func (f *fakeTokens) ForceRefresh(ctx context.Context, org, service string, _ *entity.AuthToken) (*entity.AuthToken, error) {
	f.mu.Lock()
	f.refreshes++
	f.current = "tok-2"
	f.mu.Unlock()
	return f.GetToken(ctx, org, service)
}

// ── Eventos ──────────────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []billing.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev billing.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// ── Armado del núcleo ────────────────────────────────────────────────────────

type harness struct {
	store    *memory.Store
	creds    *memory.CredentialRepo
	wsfe     *fakeWSFE
	tokens   *fakeTokens
	events   *recordingPublisher
	circuits *memory.CircuitStore
	panics   *memory.PanicStore
	samples  *memory.SampleStore
	breaker  *billing.CircuitBreaker
	orch     *billing.CAEOrchestrator
	invoices *billing.InvoiceUseCase
	panic    *billing.PanicHandler
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	circuit afipdomain.CircuitPolicy
	panic   afipdomain.PanicPolicy
	orch    billing.OrchestratorConfig
}

func withCircuit(p afipdomain.CircuitPolicy) harnessOption {
	return func(c *harnessConfig) { c.circuit = p }
}

func withPanic(p afipdomain.PanicPolicy) harnessOption {
	return func(c *harnessConfig) { c.panic = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{circuit: afipdomain.DefaultCircuitPolicy(), panic: afipdomain.DefaultPanicPolicy()}
	for _, o := range opts {
		o(&cfg)
	}
	log := zerolog.Nop()
	h := &harness{
		store: memory.NewStore(),
		creds: memory.NewCredentialRepo(entity.Credential{
			OrganizationID: orgID,
			CUIT:           issuerCUIT,
			Environment:    afip.EnvHomologacion,
			PointsOfSale:   []int{1, 2},
			TaxCondition:   afip.TaxConditionResponsableInscripto,
		}),
		wsfe:     newFakeWSFE(),
		tokens:   &fakeTokens{},
		events:   &recordingPublisher{},
		circuits: memory.NewCircuitStore(),
		panics:   memory.NewPanicStore(),
		samples:  memory.NewSampleStore(0),
	}
	invRepo := h.store.Invoices()
	h.breaker = billing.NewCircuitBreaker(h.circuits, cfg.circuit, log, nil)
	h.orch = billing.NewCAEOrchestrator(
		invRepo, h.creds, h.tokens, h.wsfe,
		billing.NewNumberingService(h.store),
		h.breaker, h.samples, h.events, cfg.orch, log, nil,
	)
	h.invoices = billing.NewInvoiceUseCase(invRepo, h.creds, h.panics, log)
	h.panic = billing.NewPanicHandler(invRepo, h.creds, h.wsfe, h.breaker, h.panics, h.samples, cfg.panic, log, nil)
	return h
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// threeLineRequest 3 líneas a 21% y 10,5% para un consumidor final (factura B).
func threeLineRequest(ref string) dto.SubmitInvoiceRequest {
	return dto.SubmitInvoiceRequest{
		ExternalReference: ref,
		PointOfSale:       1,
		Concept:           afip.ConceptGoods,
		Items: []dto.InvoiceItemRequest{
			{Description: "Resma A4", Quantity: d("2"), UnitPrice: d("1000"), Category: "21"},
			{Description: "Libro", Quantity: d("1"), UnitPrice: d("500"), Category: "10.5"},
			{Description: "Lapicera", Quantity: d("3"), UnitPrice: d("100.33"), Category: "21"},
		},
	}
}

func (h *harness) submit(t *testing.T, ref string) string {
	t.Helper()
	st, err := h.invoices.Submit(context.Background(), orgID, threeLineRequest(ref))
	require.NoError(t, err)
	return st.ID
}

func (h *harness) load(t *testing.T, id string) *entity.Invoice {
	t.Helper()
	inv, err := h.store.Invoices().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}
