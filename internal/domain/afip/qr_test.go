package afip_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
)

const testCAE = "74123456789012"

func authorizedInvoice(t *testing.T) *entity.Invoice {
	t.Helper()
	b, err := afipdomain.BuildInvoice(threeLineInput())
	require.NoError(t, err)
	inv := &entity.Invoice{ID: "inv-qr", PointOfSale: 3}
	afipdomain.ApplyTotals(inv, b)
	n := int64(128)
	inv.Number = &n
	return inv
}

// ── BuildQR / ValidateQR ───────────────────────────────────────────────────────

func TestBuildQR_RoundTrip(t *testing.T) {
	inv := authorizedInvoice(t)
	payload, url, err := afipdomain.BuildQR(inv, "33-69345023-9", testCAE)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, afipdomain.QRBaseURL))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, afipdomain.QRBaseURL))
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(raw))

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, float64(1), m["ver"])
	assert.Equal(t, "2024-03-15", m["fecha"])
	assert.Equal(t, float64(3336.70), m["importe"], "el importe viaja como número JSON")
	assert.Equal(t, "E", m["tipoCodAut"])

	p, err := afipdomain.ValidateQR(url, &afipdomain.QRExpectation{
		CUIT: 33693450239, PointOfSale: 3, InvoiceType: 1, Number: 128, Total: inv.Total, CAE: testCAE,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(128), p.NroCmp)
	assert.Equal(t, "PES", p.Moneda)
	assert.Equal(t, 80, p.TipoDocRec)
}

func TestValidateQR_DetectsMismatch(t *testing.T) {
	inv := authorizedInvoice(t)
	_, url, err := afipdomain.BuildQR(inv, "33-69345023-9", testCAE)
	require.NoError(t, err)

	_, err = afipdomain.ValidateQR(url, &afipdomain.QRExpectation{Total: d("10")})
	require.Error(t, err)
	assert.ErrorIs(t, err, afipdomain.ErrInvalidQR)
	assert.Contains(t, err.Error(), "importe")
}

func TestValidateQR_RejectsForeignURLAndBadCAE(t *testing.T) {
	_, err := afipdomain.ValidateQR("https://example.com/fe/qr/?p=e30=", nil)
	assert.ErrorIs(t, err, afipdomain.ErrInvalidQR)

	body := base64.StdEncoding.EncodeToString([]byte(`{"ver":1,"fecha":"2024-03-15","cuit":33693450239,"ptoVta":1,"tipoCmp":6,"nroCmp":1,"importe":10,"moneda":"PES","ctz":1,"tipoCodAut":"E","codAut":123}`))
	_, err = afipdomain.ValidateQR(afipdomain.QRBaseURL+body, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAE")
}

func TestBuildQR_RequiresCAEAndNumber(t *testing.T) {
	inv := authorizedInvoice(t)
	_, _, err := afipdomain.BuildQR(inv, "33-69345023-9", "123")
	assert.Error(t, err)

	inv.Number = nil
	_, _, err = afipdomain.BuildQR(inv, "33-69345023-9", testCAE)
	assert.Error(t, err)
}
