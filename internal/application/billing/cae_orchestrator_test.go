package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// ── Camino feliz ─────────────────────────────────────────────────────────────

func TestProcess_ThreeLinesEndAuthorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.wsfe.last[6] = 41 // último B autorizado en AFIP

	id := h.submit(t, "venta-001")
	inv := h.load(t, id)
	assert.Equal(t, entity.InvoiceStatusPending, inv.Status)
	assert.Equal(t, afip.InvoiceTypeB, inv.InvoiceType, "RI → consumidor final")
	require.Len(t, inv.IVABreakdown, 2)
	sum := inv.NetAmount.Add(inv.IVATotal)
	assert.True(t, inv.Total.Equal(sum))
	assert.True(t, inv.Total.Equal(d("3336.70")))

	out, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeAuthorized, out)

	inv = h.load(t, id)
	assert.Equal(t, entity.InvoiceStatusAuthorized, inv.Status)
	assert.Equal(t, int64(42), inv.NumberValue(), "secuencia inicializada desde el último autorizado")
	assert.Equal(t, testCAE, inv.CAE)
	require.NotNil(t, inv.CAEExpiry)
	assert.True(t, inv.CAEExpiry.After(time.Now()))
	assert.Contains(t, inv.QRURL, afipdomain.QRBaseURL)
	assert.Equal(t, 1, inv.Attempts)

	p, err := afipdomain.DecodeQRURL(inv.QRURL)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.NroCmp)
	assert.Equal(t, int64(74123456789012), p.CodAut)

	require.Len(t, h.events.events, 1)
	ev := h.events.events[0]
	assert.Equal(t, billing.EventInvoiceAuthorized, ev.Type)
	assert.Equal(t, id, ev.InvoiceID)
	assert.Equal(t, testCAE, ev.CAE)
	assert.Equal(t, inv.QRURL, ev.QRURL)

	req := h.wsfe.requests[0]
	assert.Equal(t, int64(42), req.Number)
	assert.True(t, req.Total.Equal(d("3336.70")))
	assert.Len(t, req.IVA, 2)
}

func TestProcess_AuthorizedInvoiceIsNeverReprocessed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "venta-001")
	_, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	before := h.load(t, id)

	out, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, out)
	assert.Equal(t, 1, h.wsfe.requestCount())

	_, err = h.invoices.Archive(ctx, orgID, id)
	assert.ErrorIs(t, err, domain.ErrInvoiceImmutable)

	after := h.load(t, id)
	assert.Equal(t, before.NumberValue(), after.NumberValue())
	assert.Equal(t, before.CAE, after.CAE)
	assert.Equal(t, *before.CAEExpiry, *after.CAEExpiry)
	assert.True(t, before.Total.Equal(after.Total))
}

// ── Rechazos ─────────────────────────────────────────────────────────────────

func TestProcess_BusinessRejectionIsFinal(t *testing.T) {
	h := newHarness(t)
	h.wsfe.reject = &afipdomain.CAEResponse{
		Result: afipdomain.ResultRejected,
		Errors: []afipdomain.Message{{Code: 10016, Msg: "El numero de comprobante no es el proximo a autorizar"}},
	}
	id := h.submit(t, "venta-001")

	out, err := h.orch.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeRejected, out)

	inv := h.load(t, id)
	assert.Equal(t, entity.InvoiceStatusRejected, inv.Status)
	assert.Equal(t, "10016", inv.LastErrorCode)
	assert.Nil(t, inv.NextRetryAt)
	assert.Equal(t, []string{billing.EventInvoiceRejected}, h.events.types())
	assert.Equal(t, "10016", h.events.events[0].ReasonCode)
}

func TestProcess_PermanentRequestErrorRejects(t *testing.T) {
	h := newHarness(t)
	h.wsfe.requestErrs = []error{&domain.PermanentRequestError{Code: "10015", Message: "documento inválido"}}
	id := h.submit(t, "venta-001")

	out, err := h.orch.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeRejected, out)
	assert.Equal(t, "10015", h.load(t, id).LastErrorCode)
}

// ── Autenticación ────────────────────────────────────────────────────────────

func TestProcess_AuthErrorRefreshesTokenAndRetriesOnce(t *testing.T) {
	h := newHarness(t)
	h.wsfe.requestErrs = []error{&domain.AuthError{Code: "600", Message: "ValidacionDeToken: token vencido"}}
	id := h.submit(t, "venta-001")

	out, err := h.orch.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeAuthorized, out)
	assert.Equal(t, 1, h.tokens.refreshes)
	assert.Equal(t, []string{"tok-1", "tok-2"}, h.wsfe.tokensSeen)
	assert.Equal(t, 1, h.load(t, id).Attempts, "la re-autenticación no consume otro intento")
}

func TestProcess_SecondAuthErrorBacksOffWithoutTrippingCircuit(t *testing.T) {
	h := newHarness(t)
	authErr := &domain.AuthError{Code: "600", Message: "token inválido"}
	h.wsfe.requestErrs = []error{authErr, authErr}
	id := h.submit(t, "venta-001")

	out, err := h.orch.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeRetry, out)
	assert.Equal(t, 1, h.tokens.refreshes)

	inv := h.load(t, id)
	assert.Equal(t, entity.InvoiceStatusReserved, inv.Status)
	require.NotNil(t, inv.NextRetryAt)

	st, err := h.breaker.State(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestProcess_CredentialErrorParks(t *testing.T) {
	h := newHarness(t)
	h.tokens.err = &domain.CredentialError{OrganizationID: orgID, Reason: "certificado vencido"}
	id := h.submit(t, "venta-001")

	out, err := h.orch.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeParked, out)
	assert.Equal(t, entity.InvoiceStatusParked, h.load(t, id).Status)
	assert.Zero(t, h.wsfe.requestCount())
	assert.Equal(t, []string{billing.EventInvoiceParked}, h.events.types())
}

// ── Transitorios ─────────────────────────────────────────────────────────────

func transient() error {
	return &domain.TransientServiceError{Op: "FECAESolicitar", Code: "HTTP_503", Message: "Service Unavailable"}
}

func TestProcess_TransientFailuresFollowBackoffThenPark(t *testing.T) {
	h := newHarness(t, withCircuit(afipdomain.CircuitPolicy{FailureThreshold: 100, OpenTimeout: time.Minute, ProbeInterval: time.Second}))
	ctx := context.Background()
	h.wsfe.requestErrs = []error{transient(), transient(), transient(), transient(), transient(), transient()}
	id := h.submit(t, "venta-001")

	want := afipdomain.DefaultBackoff()
	var number int64
	for i, delay := range want {
		start := time.Now()
		out, err := h.orch.Process(ctx, id)
		require.NoError(t, err)
		require.Equal(t, billing.OutcomeRetry, out, "intento %d", i+1)

		inv := h.load(t, id)
		assert.Equal(t, i+1, inv.Attempts)
		assert.Equal(t, entity.InvoiceStatusReserved, inv.Status)
		assert.Equal(t, "HTTP_503", inv.LastErrorCode)
		require.NotNil(t, inv.NextRetryAt)
		assert.WithinDuration(t, start.Add(delay), *inv.NextRetryAt, 2*time.Second)
		if number == 0 {
			number = inv.NumberValue()
		}
		assert.Equal(t, number, inv.NumberValue(), "el número reservado se conserva entre reintentos")
	}

	out, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeParked, out)
	inv := h.load(t, id)
	assert.Equal(t, entity.InvoiceStatusParked, inv.Status)
	assert.Equal(t, number, inv.NumberValue())

	// reencolado manual: conserva el número y se autoriza
	_, err = h.invoices.Retry(ctx, orgID, id)
	require.NoError(t, err)
	out, err = h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeAuthorized, out)
	assert.Equal(t, number, h.load(t, id).NumberValue())
}

func TestProcess_RetryAfterHintExtendsBackoff(t *testing.T) {
	h := newHarness(t)
	h.wsfe.requestErrs = []error{&domain.TransientServiceError{Op: "FECAESolicitar", RetryAfter: 120}}
	id := h.submit(t, "venta-001")

	start := time.Now()
	_, err := h.orch.Process(context.Background(), id)
	require.NoError(t, err)
	inv := h.load(t, id)
	require.NotNil(t, inv.NextRetryAt)
	assert.WithinDuration(t, start.Add(2*time.Minute), *inv.NextRetryAt, 2*time.Second)
}

func TestProcess_OpenCircuitShortCircuitsWithoutConsumingAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.breaker.Failure(ctx, orgID))
	}
	id := h.submit(t, "venta-001")

	out, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeShortCircuited, out)
	assert.Zero(t, h.wsfe.requestCount())

	inv := h.load(t, id)
	assert.Equal(t, 0, inv.Attempts)
	assert.False(t, inv.HasNumber(), "sin llamada no se reserva número")
	require.NotNil(t, inv.NextRetryAt)
	assert.True(t, inv.NextRetryAt.After(time.Now().Add(4*time.Minute)))
}

func TestProcess_FifthTransientFailureOpensCircuit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.wsfe.requestErrs = append(h.wsfe.requestErrs, transient())
	}
	for i := 0; i < 5; i++ {
		id := h.submit(t, "venta-"+string(rune('a'+i)))
		out, err := h.orch.Process(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeRetry, out)
	}
	st, err := h.breaker.State(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, entity.CircuitOpen, st.State)
}

// ── Recuperación tras respuesta perdida ──────────────────────────────────────

func TestProcess_RecoversCAEIssuedBeforeTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "venta-001")

	// AFIP otorgó el CAE pero la respuesta se perdió
	h.wsfe.requestErrs = []error{transient()}
	out, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	require.Equal(t, billing.OutcomeRetry, out)
	inv := h.load(t, id)
	h.wsfe.last[6] = inv.NumberValue()
	h.wsfe.issued[inv.NumberValue()] = &afipdomain.CAEResponse{
		Result: afipdomain.ResultApproved, Number: inv.NumberValue(), CAE: "71999999999999",
		CAEExpiry: time.Now().Add(240 * time.Hour),
	}

	out, err = h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeAuthorized, out)
	assert.Equal(t, "71999999999999", h.load(t, id).CAE)
	assert.Equal(t, 1, h.wsfe.queryCalls)
	assert.Equal(t, 1, h.wsfe.requestCount(), "no se vuelve a solicitar el CAE")
}

func TestProcess_DriftIsAlertOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Sequences().Seed(ctx, entity.SequenceKey{OrganizationID: orgID, PointOfSale: 1, InvoiceType: afip.InvoiceTypeB}, 10))
	h.wsfe.last[6] = 7

	id := h.submit(t, "venta-001")
	out, err := h.orch.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeAuthorized, out)
	assert.Equal(t, int64(11), h.load(t, id).NumberValue(), "la secuencia local no se corrige")
}

func TestProcess_MissingInvoice(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Process(context.Background(), "no-existe")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
