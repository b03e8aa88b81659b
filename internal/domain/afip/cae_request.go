package afip

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// Resultados de FECAESolicitar.
const (
	ResultApproved = "A"
	ResultRejected = "R"
	ResultPartial  = "P"
)

// Session datos de autenticación para cada llamada WSFE / Padrón.
type Session struct {
	Token       string
	Sign        string
	CUIT        int64
	Environment string
}

// CAERequest comprobante listo para FECAESolicitar (un comprobante por lote).
type CAERequest struct {
	PointOfSale         int
	InvoiceTypeCode     int
	Concept             int
	DocType             int
	DocNumber           int64
	Number              int64
	IssueDate           time.Time
	Total               decimal.Decimal
	NonTaxed            decimal.Decimal
	Net                 decimal.Decimal
	Exempt              decimal.Decimal
	Tributes            decimal.Decimal
	IVATotal            decimal.Decimal
	ServiceFrom         *time.Time
	ServiceTo           *time.Time
	PaymentDue          *time.Time
	Currency            string
	ExchangeRate        decimal.Decimal
	ReceptorConditionID int
	IVA                 []entity.IVASubtotal
}

// Message código y texto devueltos por AFIP (Obs, Err, Evt).
type Message struct {
	Code int
	Msg  string
}

func (m Message) String() string { return fmt.Sprintf("%d: %s", m.Code, m.Msg) }

// CAEResponse resultado de FECAESolicitar o FECompConsultar.
type CAEResponse struct {
	Result       string
	Number       int64
	CAE          string
	CAEExpiry    time.Time
	Observations []Message
	Errors       []Message
}

// Approved indica CAE otorgado.
func (r *CAEResponse) Approved() bool {
	return r != nil && r.Result == ResultApproved && r.CAE != ""
}

// FirstReason primer código/mensaje de rechazo (observación o error).
func (r *CAEResponse) FirstReason() (string, string) {
	if r == nil {
		return "", ""
	}
	for _, list := range [][]Message{r.Observations, r.Errors} {
		if len(list) > 0 {
			return strconv.Itoa(list[0].Code), list[0].Msg
		}
	}
	return "RECHAZADO", "comprobante rechazado por AFIP sin detalle"
}

// NewCAERequest arma la solicitud a partir de una factura con número reservado.
func NewCAERequest(inv *entity.Invoice) (*CAERequest, error) {
	if inv.Number == nil {
		return nil, fmt.Errorf("afip: factura %s sin número reservado", inv.ID)
	}
	code, err := afip.InvoiceTypeCode(inv.InvoiceType)
	if err != nil {
		return nil, err
	}
	docNumber, err := strconv.ParseInt(inv.Buyer.DocNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("afip: número de documento %q inválido: %w", inv.Buyer.DocNumber, err)
	}
	req := &CAERequest{
		PointOfSale:         inv.PointOfSale,
		InvoiceTypeCode:     code,
		Concept:             inv.Concept,
		DocType:             inv.Buyer.DocType,
		DocNumber:           docNumber,
		Number:              *inv.Number,
		IssueDate:           inv.IssueDate,
		Total:               inv.Total,
		NonTaxed:            inv.NonTaxedAmount,
		Net:                 inv.NetAmount,
		Exempt:              inv.ExemptAmount,
		Tributes:            decimal.Zero,
		IVATotal:            inv.IVATotal,
		ServiceFrom:         inv.ServiceFrom,
		ServiceTo:           inv.ServiceTo,
		PaymentDue:          inv.PaymentDue,
		Currency:            inv.Currency,
		ExchangeRate:        inv.ExchangeRate,
		ReceptorConditionID: inv.Buyer.TaxCondition.ReceptorConditionID(),
	}
	if inv.InvoiceType != afip.InvoiceTypeC {
		req.IVA = inv.IVABreakdown
	}
	return req, nil
}

// ApplyTotals copia el resultado del builder sobre la factura.
func ApplyTotals(inv *entity.Invoice, b *Built) {
	inv.InvoiceType = b.InvoiceType
	inv.Concept = b.Concept
	inv.Buyer = b.Buyer
	inv.LineItems = b.Items
	inv.IssueDate = b.IssueDate
	inv.ServiceFrom = b.ServiceFrom
	inv.ServiceTo = b.ServiceTo
	inv.PaymentDue = b.PaymentDue
	inv.Currency = b.Currency
	inv.ExchangeRate = b.ExchangeRate
	inv.IVABreakdown = b.IVA
	inv.NetAmount = b.Net
	inv.ExemptAmount = b.Exempt
	inv.NonTaxedAmount = b.NonTaxed
	inv.IVATotal = b.IVATotal
	inv.Total = b.Total
}

// FormatDate fecha AFIP yyyymmdd en hora argentina.
func FormatDate(t time.Time) string {
	return t.In(ArgentinaTZ).Format("20060102")
}

// ParseDate inversa de FormatDate.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, ArgentinaTZ)
}
