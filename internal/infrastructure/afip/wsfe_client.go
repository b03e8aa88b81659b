package afip

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
)

// Códigos de error WSFEv1 con tratamiento especial.
var (
	wsfeAuthCodes      = map[int]bool{600: true, 601: true}
	wsfeTransientCodes = map[int]bool{500: true, 501: true, 502: true, 1000: true}
)

const wsfeNoResults = 602 // en FECompConsultar: comprobante inexistente

// ── Estructuras de request ────────────────────────────────────────────────────

type feAuth struct {
	Token string `xml:"Token"`
	Sign  string `xml:"Sign"`
	Cuit  int64  `xml:"Cuit"`
}

type feDummyRequest struct {
	XMLName xml.Name `xml:"FEDummy"`
	Xmlns   string   `xml:"xmlns,attr"`
}

type feCompUltimoAutorizadoRequest struct {
	XMLName  xml.Name `xml:"FECompUltimoAutorizado"`
	Xmlns    string   `xml:"xmlns,attr"`
	Auth     feAuth   `xml:"Auth"`
	PtoVta   int      `xml:"PtoVta"`
	CbteTipo int      `xml:"CbteTipo"`
}

type feCompConsultarRequest struct {
	XMLName xml.Name `xml:"FECompConsultar"`
	Xmlns   string   `xml:"xmlns,attr"`
	Auth    feAuth   `xml:"Auth"`
	Req     struct {
		CbteTipo int   `xml:"CbteTipo"`
		CbteNro  int64 `xml:"CbteNro"`
		PtoVta   int   `xml:"PtoVta"`
	} `xml:"FeCompConsReq"`
}

type feCAESolicitarRequest struct {
	XMLName xml.Name `xml:"FECAESolicitar"`
	Xmlns   string   `xml:"xmlns,attr"`
	Auth    feAuth   `xml:"Auth"`
	Req     feCAEReq `xml:"FeCAEReq"`
}

type feCAEReq struct {
	Cab feCabReq          `xml:"FeCabReq"`
	Det []feCAEDetRequest `xml:"FeDetReq>FECAEDetRequest"`
}

type feCabReq struct {
	CantReg  int `xml:"CantReg"`
	PtoVta   int `xml:"PtoVta"`
	CbteTipo int `xml:"CbteTipo"`
}

// El orden de los campos sigue el WSDL; ASMX valida la secuencia.
type feCAEDetRequest struct {
	Concepto               int         `xml:"Concepto"`
	DocTipo                int         `xml:"DocTipo"`
	DocNro                 int64       `xml:"DocNro"`
	CbteDesde              int64       `xml:"CbteDesde"`
	CbteHasta              int64       `xml:"CbteHasta"`
	CbteFch                string      `xml:"CbteFch"`
	ImpTotal               string      `xml:"ImpTotal"`
	ImpTotConc             string      `xml:"ImpTotConc"`
	ImpNeto                string      `xml:"ImpNeto"`
	ImpOpEx                string      `xml:"ImpOpEx"`
	ImpTrib                string      `xml:"ImpTrib"`
	ImpIVA                 string      `xml:"ImpIVA"`
	FchServDesde           string      `xml:"FchServDesde,omitempty"`
	FchServHasta           string      `xml:"FchServHasta,omitempty"`
	FchVtoPago             string      `xml:"FchVtoPago,omitempty"`
	MonId                  string      `xml:"MonId"`
	MonCotiz               string      `xml:"MonCotiz"`
	CondicionIVAReceptorId int         `xml:"CondicionIVAReceptorId"`
	Iva                    []feAlicIva `xml:"Iva>AlicIva,omitempty"`
}

type feAlicIva struct {
	Id      int    `xml:"Id"`
	BaseImp string `xml:"BaseImp"`
	Importe string `xml:"Importe"`
}

// ── Estructuras de respuesta ──────────────────────────────────────────────────

type feMsg struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type feDummyResponse struct {
	Result struct {
		AppServer  string `xml:"AppServer"`
		DbServer   string `xml:"DbServer"`
		AuthServer string `xml:"AuthServer"`
	} `xml:"FEDummyResult"`
}

type feCompUltimoAutorizadoResponse struct {
	Result struct {
		PtoVta   int     `xml:"PtoVta"`
		CbteTipo int     `xml:"CbteTipo"`
		CbteNro  int64   `xml:"CbteNro"`
		Errors   []feMsg `xml:"Errors>Err"`
	} `xml:"FECompUltimoAutorizadoResult"`
}

type feCAESolicitarResponse struct {
	Result struct {
		Cab struct {
			Resultado string `xml:"Resultado"`
		} `xml:"FeCabResp"`
		Det    []feCAEDetResponse `xml:"FeDetResp>FECAEDetResponse"`
		Errors []feMsg            `xml:"Errors>Err"`
		Events []feMsg            `xml:"Events>Evt"`
	} `xml:"FECAESolicitarResult"`
}

type feCAEDetResponse struct {
	CbteDesde     int64   `xml:"CbteDesde"`
	Resultado     string  `xml:"Resultado"`
	Observaciones []feMsg `xml:"Observaciones>Obs"`
	CAE           string  `xml:"CAE"`
	CAEFchVto     string  `xml:"CAEFchVto"`
}

type feCompConsultarResponse struct {
	Result struct {
		Get *struct {
			CbteDesde       int64   `xml:"CbteDesde"`
			Resultado       string  `xml:"Resultado"`
			CodAutorizacion string  `xml:"CodAutorizacion"`
			EmisionTipo     string  `xml:"EmisionTipo"`
			FchVto          string  `xml:"FchVto"`
			Observaciones   []feMsg `xml:"Observaciones>Obs"`
		} `xml:"ResultGet"`
		Errors []feMsg `xml:"Errors>Err"`
	} `xml:"FECompConsultarResult"`
}

// ── Cliente ───────────────────────────────────────────────────────────────────

// WSFEConfig parámetros del cliente WSFEv1.
type WSFEConfig struct {
	Endpoints Endpoints
	Timeout   time.Duration
}

// WSFEClient adaptador de WSFEv1 (implementa billing.AuthorizationService).
type WSFEClient struct {
	soap *soapCaller
	cfg  WSFEConfig
}

// NewWSFEClient construye el cliente. cfg.Endpoints vacío usa los endpoints oficiales.
func NewWSFEClient(cfg WSFEConfig, log zerolog.Logger, m *metrics.Metrics) *WSFEClient {
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = WSFEEndpoints()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WSFEClient{soap: newSOAPCaller(cfg.Timeout, log.With().Str("component", "wsfe").Logger(), m), cfg: cfg}
}

// Dummy verifica AppServer, DbServer y AuthServer. No requiere autenticación.
func (c *WSFEClient) Dummy(ctx context.Context, env string) error {
	out, err := call[feDummyResponse](ctx, c, env, "FEDummy", &feDummyRequest{Xmlns: wsfeNS})
	if err != nil {
		return err
	}
	r := out.Result
	if r.AppServer != "OK" || r.DbServer != "OK" || r.AuthServer != "OK" {
		return &domain.TransientServiceError{Op: "FEDummy", Code: "DEGRADADO",
			Message: fmt.Sprintf("app=%s db=%s auth=%s", r.AppServer, r.DbServer, r.AuthServer)}
	}
	return nil
}

// LastAuthorized devuelve el último número autorizado para punto de venta y tipo.
func (c *WSFEClient) LastAuthorized(ctx context.Context, s afipdomain.Session, pos, invoiceType int) (int64, error) {
	out, err := call[feCompUltimoAutorizadoResponse](ctx, c, s.Environment, "FECompUltimoAutorizado", &feCompUltimoAutorizadoRequest{
		Xmlns: wsfeNS, Auth: authOf(s), PtoVta: pos, CbteTipo: invoiceType,
	})
	if err != nil {
		return 0, err
	}
	if err := errorsToError("FECompUltimoAutorizado", out.Result.Errors); err != nil {
		return 0, err
	}
	return out.Result.CbteNro, nil
}

// RequestCAE solicita el CAE de un comprobante. Un rechazo de negocio se devuelve
// como respuesta con Result "R"; los errores de autenticación o servicio como error.
func (c *WSFEClient) RequestCAE(ctx context.Context, s afipdomain.Session, req *afipdomain.CAERequest) (*afipdomain.CAEResponse, error) {
	out, err := call[feCAESolicitarResponse](ctx, c, s.Environment, "FECAESolicitar", &feCAESolicitarRequest{
		Xmlns: wsfeNS,
		Auth:  authOf(s),
		Req: feCAEReq{
			Cab: feCabReq{CantReg: 1, PtoVta: req.PointOfSale, CbteTipo: req.InvoiceTypeCode},
			Det: []feCAEDetRequest{detailOf(req)},
		},
	})
	if err != nil {
		return nil, err
	}
	r := out.Result
	resp := &afipdomain.CAEResponse{Result: r.Cab.Resultado, Number: req.Number, Errors: toMessages(r.Errors)}
	if len(r.Det) == 0 {
		// sin detalle: error de cabecera (auth, servicio o validación del lote)
		if err := errorsToError("FECAESolicitar", r.Errors); err != nil {
			if _, perm := err.(*domain.PermanentRequestError); !perm {
				return nil, err
			}
		}
		resp.Result = afipdomain.ResultRejected
		return resp, nil
	}
	det := r.Det[0]
	resp.Result = det.Resultado
	resp.Observations = toMessages(det.Observaciones)
	if det.Resultado == afipdomain.ResultApproved {
		resp.CAE = strings.TrimSpace(det.CAE)
		exp, err := afipdomain.ParseDate(det.CAEFchVto)
		if err != nil {
			return nil, &domain.TransientServiceError{Op: "FECAESolicitar", Code: "CAEFchVto", Message: "vencimiento de CAE ilegible", Err: err}
		}
		resp.CAEExpiry = exp
	}
	return resp, nil
}

// QueryInvoice consulta un comprobante emitido (recupera el CAE tras una respuesta perdida).
// Devuelve nil, nil si AFIP no lo registra.
func (c *WSFEClient) QueryInvoice(ctx context.Context, s afipdomain.Session, pos, invoiceType int, number int64) (*afipdomain.CAEResponse, error) {
	reqBody := &feCompConsultarRequest{Xmlns: wsfeNS, Auth: authOf(s)}
	reqBody.Req.CbteTipo = invoiceType
	reqBody.Req.CbteNro = number
	reqBody.Req.PtoVta = pos
	out, err := call[feCompConsultarResponse](ctx, c, s.Environment, "FECompConsultar", reqBody)
	if err != nil {
		return nil, err
	}
	r := out.Result
	for _, e := range r.Errors {
		if e.Code == wsfeNoResults {
			return nil, nil
		}
	}
	if err := errorsToError("FECompConsultar", r.Errors); err != nil {
		return nil, err
	}
	if r.Get == nil {
		return nil, nil
	}
	resp := &afipdomain.CAEResponse{Result: r.Get.Resultado, Number: r.Get.CbteDesde, Observations: toMessages(r.Get.Observaciones)}
	if r.Get.Resultado == afipdomain.ResultApproved && r.Get.EmisionTipo == "CAE" {
		resp.CAE = strings.TrimSpace(r.Get.CodAutorizacion)
		if exp, err := afipdomain.ParseDate(r.Get.FchVto); err == nil {
			resp.CAEExpiry = exp
		}
	}
	return resp, nil
}

func call[T any](ctx context.Context, c *WSFEClient, env, op string, body interface{}) (*T, error) {
	url, err := c.cfg.Endpoints.For(env)
	if err != nil {
		return nil, err
	}
	res, err := c.soap.post(ctx, op, url, wsfeAction+op, body)
	if err != nil {
		return nil, err
	}
	out, fault, err := decode[T](op, res)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		// soap:Client indica request mal formado; el resto se reintenta
		if strings.Contains(strings.ToLower(fault.FaultCode), "client") {
			return nil, &domain.PermanentRequestError{Code: "SOAP_CLIENT", Message: fault.FaultString}
		}
		return nil, &domain.TransientServiceError{Op: op, Code: fault.Code(), Message: fault.FaultString}
	}
	return out, nil
}

// errorsToError clasifica los Errors>Err de WSFEv1.
func errorsToError(op string, errs []feMsg) error {
	if len(errs) == 0 {
		return nil
	}
	for _, e := range errs {
		if wsfeAuthCodes[e.Code] {
			return &domain.AuthError{Code: strconv.Itoa(e.Code), Message: e.Msg}
		}
	}
	for _, e := range errs {
		if wsfeTransientCodes[e.Code] {
			return &domain.TransientServiceError{Op: op, Code: strconv.Itoa(e.Code), Message: e.Msg}
		}
	}
	return &domain.PermanentRequestError{Code: strconv.Itoa(errs[0].Code), Message: errs[0].Msg}
}

func authOf(s afipdomain.Session) feAuth {
	return feAuth{Token: s.Token, Sign: s.Sign, Cuit: s.CUIT}
}

func detailOf(r *afipdomain.CAERequest) feCAEDetRequest {
	d := feCAEDetRequest{
		Concepto:               r.Concept,
		DocTipo:                r.DocType,
		DocNro:                 r.DocNumber,
		CbteDesde:              r.Number,
		CbteHasta:              r.Number,
		CbteFch:                afipdomain.FormatDate(r.IssueDate),
		ImpTotal:               amount(r.Total),
		ImpTotConc:             amount(r.NonTaxed),
		ImpNeto:                amount(r.Net),
		ImpOpEx:                amount(r.Exempt),
		ImpTrib:                amount(r.Tributes),
		ImpIVA:                 amount(r.IVATotal),
		MonId:                  r.Currency,
		MonCotiz:               r.ExchangeRate.String(),
		CondicionIVAReceptorId: r.ReceptorConditionID,
	}
	if r.ServiceFrom != nil {
		d.FchServDesde = afipdomain.FormatDate(*r.ServiceFrom)
	}
	if r.ServiceTo != nil {
		d.FchServHasta = afipdomain.FormatDate(*r.ServiceTo)
	}
	if r.PaymentDue != nil {
		d.FchVtoPago = afipdomain.FormatDate(*r.PaymentDue)
	}
	for _, iva := range r.IVA {
		d.Iva = append(d.Iva, feAlicIva{Id: iva.AliquotID, BaseImp: amount(iva.Base), Importe: amount(iva.Amount)})
	}
	return d
}

func amount(d decimal.Decimal) string { return d.StringFixed(2) }

func toMessages(in []feMsg) []afipdomain.Message {
	out := make([]afipdomain.Message, 0, len(in))
	for _, m := range in {
		out = append(out, afipdomain.Message{Code: m.Code, Msg: m.Msg})
	}
	return out
}
