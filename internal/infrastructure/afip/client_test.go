package afip_test

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/afip"
	"github.com/jhoicas/afip-core/internal/infrastructure/afip/signer/signertest"
	pkgafip "github.com/jhoicas/afip-core/pkg/afip"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

type captured struct {
	action string
	body   string
}

// soapServer responde siempre status/body y guarda la última request recibida.
func soapServer(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c.action = r.Header.Get("SOAPAction")
		c.body = string(raw)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func envelope(inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		inner + `</soap:Body></soap:Envelope>`
}

func fault(code, msg string) string {
	return envelope(`<soap:Fault><faultcode>` + code + `</faultcode><faultstring>` + msg + `</faultstring></soap:Fault>`)
}

var session = afipdomain.Session{Token: "TOKEN", Sign: "SIGN", CUIT: 30716595540, Environment: pkgafip.EnvHomologacion}

func testCredential(t *testing.T) *entity.Credential {
	t.Helper()
	certPath, keyPath := signertest.WritePEM(t, t.TempDir(), signertest.Valid(t))
	return &entity.Credential{
		OrganizationID: "org-1",
		CUIT:           "30716595540",
		CertPath:       certPath,
		KeyPath:        keyPath,
		Environment:    pkgafip.EnvHomologacion,
	}
}

// ── WSAA ─────────────────────────────────────────────────────────────────────

func TestWSAA_Login_OK(t *testing.T) {
	exp := time.Now().Add(12 * time.Hour).Truncate(time.Second)
	ticket := `<?xml version="1.0" encoding="UTF-8"?><loginTicketResponse version="1.0"><header>` +
		`<generationTime>` + time.Now().Format(time.RFC3339) + `</generationTime>` +
		`<expirationTime>` + exp.Format(time.RFC3339) + `</expirationTime></header>` +
		`<credentials><token>PD94bWwg</token><sign>c2lnbg==</sign></credentials></loginTicketResponse>`
	srv, got := soapServer(t, http.StatusOK, envelope(
		`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>`+
			html.EscapeString(ticket)+`</loginCmsReturn></loginCmsResponse>`))

	c := afip.NewWSAAClient(afip.WSAAConfig{Endpoints: afip.Single(srv.URL)}, nil, zerolog.Nop(), nil)
	tok, err := c.Login(context.Background(), testCredential(t), pkgafip.ServiceWSFE)
	require.NoError(t, err)

	assert.Equal(t, "PD94bWwg", tok.Token)
	assert.Equal(t, "c2lnbg==", tok.Sign)
	assert.Equal(t, "org-1", tok.OrganizationID)
	assert.Equal(t, pkgafip.ServiceWSFE, tok.Service)
	assert.True(t, tok.ExpiresAt.Equal(exp))
	assert.Contains(t, got.body, "<in0>")
	assert.Contains(t, got.body, "loginCms")
}

func TestWSAA_Login_FaultClassification(t *testing.T) {
	cases := []struct {
		code  string
		check func(t *testing.T, err error)
	}{
		{"ns1:coe.alreadyAuthenticated", func(t *testing.T, err error) {
			var te *domain.TransientServiceError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, 60, te.RetryAfter)
		}},
		{"ns1:cms.cert.expired", func(t *testing.T, err error) {
			var ce *domain.CredentialError
			require.ErrorAs(t, err, &ce)
		}},
		{"ns1:cms.sign.invalid", func(t *testing.T, err error) {
			var ae *domain.AuthError
			require.ErrorAs(t, err, &ae)
			assert.True(t, ae.Permanent)
		}},
		{"soapenv:Server", func(t *testing.T, err error) {
			var te *domain.TransientServiceError
			require.ErrorAs(t, err, &te)
		}},
	}
	cred := testCredential(t)
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			srv, _ := soapServer(t, http.StatusInternalServerError, fault(tc.code, "mensaje"))
			c := afip.NewWSAAClient(afip.WSAAConfig{Endpoints: afip.Single(srv.URL)}, nil, zerolog.Nop(), nil)
			_, err := c.Login(context.Background(), cred, pkgafip.ServiceWSFE)
			tc.check(t, err)
		})
	}
}

func TestWSAA_Login_MissingCertificate(t *testing.T) {
	c := afip.NewWSAAClient(afip.WSAAConfig{Endpoints: afip.Single("http://127.0.0.1:1")}, nil, zerolog.Nop(), nil)
	cred := &entity.Credential{OrganizationID: "org-1", CertPath: "/no/existe.p12", Environment: pkgafip.EnvHomologacion}

	_, err := c.Login(context.Background(), cred, pkgafip.ServiceWSFE)
	var ce *domain.CredentialError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "org-1", ce.OrganizationID)
}

// ── WSFEv1 ───────────────────────────────────────────────────────────────────

func approvedCAEResponse(number int64) string {
	return envelope(fmt.Sprintf(`<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult>`+
		`<FeCabResp><Cuit>30716595540</Cuit><PtoVta>1</PtoVta><CbteTipo>6</CbteTipo><Resultado>A</Resultado></FeCabResp>`+
		`<FeDetResp><FECAEDetResponse><Concepto>1</Concepto><CbteDesde>%d</CbteDesde><CbteHasta>%d</CbteHasta>`+
		`<Resultado>A</Resultado><CAE>74123456789012</CAE><CAEFchVto>20261024</CAEFchVto></FECAEDetResponse></FeDetResp>`+
		`</FECAESolicitarResult></FECAESolicitarResponse>`, number, number))
}

func sampleRequest() *afipdomain.CAERequest {
	return &afipdomain.CAERequest{
		PointOfSale: 1, InvoiceTypeCode: 6, Concept: 1, DocType: 99, DocNumber: 0, Number: 43, ReceptorConditionID: 5,
		IssueDate:    time.Date(2026, 10, 14, 10, 0, 0, 0, afipdomain.ArgentinaTZ),
		Total:        decimal.RequireFromString("3336.70"),
		NonTaxed:     decimal.Zero,
		Net:          decimal.RequireFromString("2800.99"),
		Exempt:       decimal.Zero,
		Tributes:     decimal.Zero,
		IVATotal:     decimal.RequireFromString("535.71"),
		Currency:     pkgafip.CurrencyPesos,
		ExchangeRate: decimal.NewFromInt(1),
		IVA: []entity.IVASubtotal{
			{AliquotID: 4, Base: decimal.RequireFromString("500"), Amount: decimal.RequireFromString("52.5")},
			{AliquotID: 5, Base: decimal.RequireFromString("2300.99"), Amount: decimal.RequireFromString("483.21")},
		},
	}
}

func TestWSFE_RequestCAE_Approved(t *testing.T) {
	srv, got := soapServer(t, http.StatusOK, approvedCAEResponse(43))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	resp, err := c.RequestCAE(context.Background(), session, sampleRequest())
	require.NoError(t, err)

	assert.True(t, resp.Approved())
	assert.Equal(t, "74123456789012", resp.CAE)
	assert.Equal(t, "20261024", afipdomain.FormatDate(resp.CAEExpiry))
	assert.Equal(t, `"http://ar.gov.afip.dif.FEV1/FECAESolicitar"`, got.action)
	assert.Contains(t, got.body, "<ImpTotal>3336.70</ImpTotal>")
	assert.Contains(t, got.body, "<ImpIVA>535.71</ImpIVA>")
	assert.Contains(t, got.body, "<Importe>52.50</Importe>")
	assert.Contains(t, got.body, "<CbteDesde>43</CbteDesde>")
	assert.Contains(t, got.body, "<Cuit>30716595540</Cuit>")
}

func TestWSFE_RequestCAE_BusinessRejection(t *testing.T) {
	srv, _ := soapServer(t, http.StatusOK, envelope(`<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult>`+
		`<FeCabResp><Resultado>R</Resultado></FeCabResp><FeDetResp><FECAEDetResponse><CbteDesde>43</CbteDesde><Resultado>R</Resultado>`+
		`<Observaciones><Obs><Code>10016</Code><Msg>El numero o fecha del comprobante no se corresponde</Msg></Obs></Observaciones>`+
		`</FECAEDetResponse></FeDetResp></FECAESolicitarResult></FECAESolicitarResponse>`))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	resp, err := c.RequestCAE(context.Background(), session, sampleRequest())
	require.NoError(t, err)
	assert.False(t, resp.Approved())
	code, msg := resp.FirstReason()
	assert.Equal(t, "10016", code)
	assert.Contains(t, msg, "comprobante")
}

func TestWSFE_RequestCAE_AuthError(t *testing.T) {
	srv, _ := soapServer(t, http.StatusOK, envelope(`<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult>`+
		`<Errors><Err><Code>600</Code><Msg>ValidacionDeToken: No validaron las firmas digitales</Msg></Err></Errors>`+
		`</FECAESolicitarResult></FECAESolicitarResponse>`))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	_, err := c.RequestCAE(context.Background(), session, sampleRequest())
	var ae *domain.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "600", ae.Code)
}

func TestWSFE_NoResultsOutsideQueryIsNotAuth(t *testing.T) {
	srv, _ := soapServer(t, http.StatusOK, envelope(`<FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompUltimoAutorizadoResult>`+
		`<Errors><Err><Code>602</Code><Msg>Sin Resultados</Msg></Err></Errors>`+
		`</FECompUltimoAutorizadoResult></FECompUltimoAutorizadoResponse>`))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	_, err := c.LastAuthorized(context.Background(), session, 1, 6)
	var ae *domain.AuthError
	assert.False(t, errors.As(err, &ae))
	var pe *domain.PermanentRequestError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "602", pe.Code)
}

func TestWSFE_ServerErrorIsTransient(t *testing.T) {
	srv, _ := soapServer(t, http.StatusServiceUnavailable, "<html>Service Unavailable</html>")
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	_, err := c.RequestCAE(context.Background(), session, sampleRequest())
	var te *domain.TransientServiceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "HTTP_503", te.Code)
}

func TestWSFE_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL), Timeout: 50 * time.Millisecond}, zerolog.Nop(), nil)

	_, err := c.RequestCAE(context.Background(), session, sampleRequest())
	var te *domain.TransientServiceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "TIMEOUT", te.Code)
}

func TestWSFE_ClientFaultIsPermanent(t *testing.T) {
	srv, _ := soapServer(t, http.StatusInternalServerError, fault("soap:Client", "Server was unable to read request"))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	_, err := c.RequestCAE(context.Background(), session, sampleRequest())
	var pe *domain.PermanentRequestError
	require.ErrorAs(t, err, &pe)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestWSFE_LastAuthorized(t *testing.T) {
	srv, got := soapServer(t, http.StatusOK, envelope(`<FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/">`+
		`<FECompUltimoAutorizadoResult><PtoVta>1</PtoVta><CbteTipo>6</CbteTipo><CbteNro>42</CbteNro></FECompUltimoAutorizadoResult>`+
		`</FECompUltimoAutorizadoResponse>`))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	last, err := c.LastAuthorized(context.Background(), session, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(42), last)
	assert.Contains(t, got.body, "<PtoVta>1</PtoVta>")
}

func TestWSFE_QueryInvoice(t *testing.T) {
	t.Run("encontrado", func(t *testing.T) {
		srv, _ := soapServer(t, http.StatusOK, envelope(`<FECompConsultarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompConsultarResult>`+
			`<ResultGet><CbteDesde>43</CbteDesde><Resultado>A</Resultado><CodAutorizacion>74123456789012</CodAutorizacion>`+
			`<EmisionTipo>CAE</EmisionTipo><FchVto>20261024</FchVto></ResultGet></FECompConsultarResult></FECompConsultarResponse>`))
		c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

		resp, err := c.QueryInvoice(context.Background(), session, 1, 6, 43)
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.True(t, resp.Approved())
		assert.Equal(t, int64(43), resp.Number)
	})
	t.Run("inexistente", func(t *testing.T) {
		srv, _ := soapServer(t, http.StatusOK, envelope(`<FECompConsultarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompConsultarResult>`+
			`<Errors><Err><Code>602</Code><Msg>Sin Resultados</Msg></Err></Errors></FECompConsultarResult></FECompConsultarResponse>`))
		c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

		resp, err := c.QueryInvoice(context.Background(), session, 1, 6, 43)
		require.NoError(t, err)
		assert.Nil(t, resp)
	})
}

func TestWSFE_Dummy(t *testing.T) {
	srv, _ := soapServer(t, http.StatusOK, envelope(`<FEDummyResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEDummyResult>`+
		`<AppServer>OK</AppServer><DbServer>OK</DbServer><AuthServer>OK</AuthServer></FEDummyResult></FEDummyResponse>`))
	c := afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)
	require.NoError(t, c.Dummy(context.Background(), pkgafip.EnvHomologacion))

	down, _ := soapServer(t, http.StatusOK, envelope(`<FEDummyResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEDummyResult>`+
		`<AppServer>OK</AppServer><DbServer>NO</DbServer><AuthServer>OK</AuthServer></FEDummyResult></FEDummyResponse>`))
	c = afip.NewWSFEClient(afip.WSFEConfig{Endpoints: afip.Single(down.URL)}, zerolog.Nop(), nil)
	var te *domain.TransientServiceError
	require.ErrorAs(t, c.Dummy(context.Background(), pkgafip.EnvHomologacion), &te)
}

// ── Padrón A5 ────────────────────────────────────────────────────────────────

func TestPadron_GetPersona(t *testing.T) {
	srv, got := soapServer(t, http.StatusOK, envelope(`<ns2:getPersona_v2Response xmlns:ns2="http://a5.soap.ws.server.puc.sr/"><personaReturn>`+
		`<datosGenerales><idPersona>30716595540</idPersona><tipoPersona>JURIDICA</tipoPersona><estadoClave>ACTIVO</estadoClave>`+
		`<razonSocial>EMPRESA DE PRUEBA SA</razonSocial><domicilioFiscal><direccion>AV CORRIENTES 1234</direccion>`+
		`<localidad>CABA</localidad><descripcionProvincia>CIUDAD AUTONOMA BUENOS AIRES</descripcionProvincia></domicilioFiscal></datosGenerales>`+
		`<datosRegimenGeneral><impuesto><idImpuesto>30</idImpuesto><descripcionImpuesto>IVA</descripcionImpuesto><estadoImpuesto>AC</estadoImpuesto></impuesto></datosRegimenGeneral>`+
		`</personaReturn></ns2:getPersona_v2Response>`))
	c := afip.NewPadronClient(afip.PadronConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	tp, err := c.GetPersona(context.Background(), session, "30716595540")
	require.NoError(t, err)
	assert.True(t, tp.Valid)
	assert.Equal(t, "30-71659554-0", tp.CUIT)
	assert.Equal(t, pkgafip.TaxConditionResponsableInscripto, tp.TaxCondition)
	assert.Equal(t, "EMPRESA DE PRUEBA SA", tp.LegalName)
	assert.Equal(t, entity.TaxpayerStatusActive, tp.Status)
	assert.True(t, strings.HasPrefix(tp.Address, "AV CORRIENTES 1234"))
	assert.Contains(t, got.body, "<idPersona>30716595540</idPersona>")
	assert.Contains(t, got.body, "a5:getPersona_v2")
}

func TestPadron_GetPersona_NotFound(t *testing.T) {
	srv, _ := soapServer(t, http.StatusInternalServerError, fault("soap:Server", "No existe persona con ese Id"))
	c := afip.NewPadronClient(afip.PadronConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	_, err := c.GetPersona(context.Background(), session, "20123456786")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPadron_GetPersona_TokenFault(t *testing.T) {
	srv, _ := soapServer(t, http.StatusInternalServerError, fault("soap:Server", "El token ha expirado"))
	c := afip.NewPadronClient(afip.PadronConfig{Endpoints: afip.Single(srv.URL)}, zerolog.Nop(), nil)

	_, err := c.GetPersona(context.Background(), session, "20123456786")
	var ae *domain.AuthError
	require.ErrorAs(t, err, &ae)
}
