package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

func fillQueue(t *testing.T, h *harness, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.submit(t, fmt.Sprintf("cola-%03d", i))
	}
}

func TestPanic_QueueDepthTriggersWithinOneCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fillQueue(t, h, 100)

	tr, err := h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, afipdomain.PanicUnchanged, tr, "100 no supera el umbral")

	h.submit(t, "cola-100")
	tr, err = h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, afipdomain.PanicTriggered, tr)

	st, err := h.panics.GetPanic(ctx, orgID)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, entity.PanicReasonQueueDepth, st.Reason)
	require.NotNil(t, st.AutoResolveAt)
	assert.Equal(t, st.TriggeredAt.Add(5*time.Minute), *st.AutoResolveAt)

	// nuevas facturas quedan retenidas
	held, err := h.invoices.Submit(ctx, orgID, threeLineRequest("retenida"))
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusDraft, held.Status)

	// el worker omite la organización
	active, err := h.panic.ActiveOrganizations(ctx)
	require.NoError(t, err)
	claimed, err := h.store.Queue().Claim(ctx, repository.ClaimRequest{
		Owner: "w1", Lease: time.Minute, Now: time.Now(), ExcludedOrgs: active,
	})
	require.NoError(t, err)
	assert.Nil(t, claimed)

	// una factura draft tampoco se procesa si llega al orquestador
	out, err := h.orch.Process(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, out)
	assert.Zero(t, h.wsfe.requestCount())
}

func TestPanic_AutoResolveReleasesDrafts(t *testing.T) {
	policy := afipdomain.DefaultPanicPolicy()
	policy.MaxQueueDepth = 2
	policy.Window = 30 * time.Millisecond
	h := newHarness(t, withPanic(policy))
	ctx := context.Background()
	fillQueue(t, h, 3)

	tr, err := h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, afipdomain.PanicTriggered, tr)
	held := h.submit(t, "retenida")
	require.Equal(t, entity.InvoiceStatusDraft, h.load(t, held).Status)

	// antes de AutoResolveAt no se resuelve aunque la sonda funcione
	tr, err = h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, afipdomain.PanicUnchanged, tr)

	time.Sleep(40 * time.Millisecond)
	tr, err = h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, afipdomain.PanicResolved, tr)
	assert.GreaterOrEqual(t, h.wsfe.dummyCalls, 2, "cada ciclo activo sondea FEDummy")

	inv := h.load(t, held)
	assert.Equal(t, entity.InvoiceStatusPending, inv.Status)
	assert.True(t, inv.QueuedAt.After(inv.CreatedAt))

	st, err := h.panics.GetPanic(ctx, orgID)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.NotNil(t, st.ResolvedAt)
}

func TestPanic_FailingProbesKeepPanicActive(t *testing.T) {
	policy := afipdomain.DefaultPanicPolicy()
	policy.MaxQueueDepth = 0
	policy.Window = 20 * time.Millisecond
	h := newHarness(t, withPanic(policy))
	ctx := context.Background()
	fillQueue(t, h, 1)
	h.wsfe.dummyErr = &domain.TransientServiceError{Op: "FEDummy", Code: "HTTP_503"}

	_, err := h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	tr, err := h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, afipdomain.PanicUnchanged, tr)
	st, _ := h.panics.GetPanic(ctx, orgID)
	assert.True(t, st.Active)
}

func TestPanic_ManualTriggerAndResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.panic.Trigger(ctx, orgID, "operador@example.com"))
	id := h.submit(t, "retenida")
	require.Equal(t, entity.InvoiceStatusDraft, h.load(t, id).Status)

	released, err := h.panic.Resolve(ctx, orgID, "operador@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, entity.InvoiceStatusPending, h.load(t, id).Status)

	released, err = h.panic.Resolve(ctx, orgID, "operador@example.com")
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestPanic_StatusReportsQueueAndCircuit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fillQueue(t, h, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.breaker.Failure(ctx, orgID))
	}

	st, err := h.panic.Status(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, orgID, st.OrganizationID)
	assert.Equal(t, 3, st.Queue[entity.InvoiceStatusPending])
	assert.Equal(t, entity.CircuitOpen, st.Circuit.State)
	assert.Equal(t, 5, st.Circuit.ConsecutiveFailures)
	assert.False(t, st.Panic.Active)
}

// resolvingPanicStore reporta pánico activo y resuelve antes de devolver,
// como un ciclo del monitor entre la lectura de Submit y el alta del draft.
type resolvingPanicStore struct {
	billing.PanicStore
	resolve func()
}

func (s *resolvingPanicStore) GetPanic(_ context.Context, orgID string) (*entity.PanicState, error) {
	s.resolve()
	return &entity.PanicState{OrganizationID: orgID, Active: true}, nil
}

func TestPanic_DraftCreatedAfterResolveIsReleasedNextCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.panic.Trigger(ctx, orgID, "operador@example.com"))

	racing := &resolvingPanicStore{PanicStore: h.panics, resolve: func() {
		released, err := h.panic.Resolve(ctx, orgID, "operador@example.com")
		require.NoError(t, err)
		assert.Zero(t, released)
	}}
	uc := billing.NewInvoiceUseCase(h.store.Invoices(), h.creds, racing, zerolog.Nop())
	st, err := uc.Submit(ctx, orgID, threeLineRequest("tardia"))
	require.NoError(t, err)
	require.Equal(t, entity.InvoiceStatusDraft, h.load(t, st.ID).Status)

	tr, err := h.panic.Evaluate(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, afipdomain.PanicUnchanged, tr)
	assert.Equal(t, entity.InvoiceStatusPending, h.load(t, st.ID).Status)

	n, err := h.store.Invoices().CountByStatus(ctx, orgID, entity.InvoiceStatusDraft)
	require.NoError(t, err)
	assert.Zero(t, n)
}
