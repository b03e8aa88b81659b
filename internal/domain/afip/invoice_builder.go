// Package afip contiene la lógica de dominio pura de facturación electrónica AFIP:
// armado de importes e IVA, tipo de comprobante, QR, circuit breaker y modo pánico.
// No realiza E/S.
package afip

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// ArgentinaTZ huso horario de las fechas AFIP (UTC-3, sin horario de verano).
var ArgentinaTZ = time.FixedZone("ART", -3*60*60)

// BuildInput datos del comprobante antes de calcular importes.
type BuildInput struct {
	InvoiceType  string
	Concept      int
	Buyer        entity.Buyer
	Items        []entity.LineItem
	IssueDate    time.Time
	ServiceFrom  *time.Time
	ServiceTo    *time.Time
	PaymentDue   *time.Time
	Currency     string
	ExchangeRate decimal.Decimal
}

// Totals importes del comprobante tal como se informan a WSFEv1.
type Totals struct {
	IVA      []entity.IVASubtotal
	Net      decimal.Decimal // ImpNeto
	Exempt   decimal.Decimal // ImpOpEx
	NonTaxed decimal.Decimal // ImpTotConc
	IVATotal decimal.Decimal // ImpIVA
	Total    decimal.Decimal // ImpTotal
}

// Built resultado del builder: entrada normalizada + importes.
type Built struct {
	BuildInput
	Totals
}

// BuildInvoice valida la entrada y calcula subtotales por alícuota.
// Base por línea = cantidad × precio redondeado a 2 decimales; IVA por alícuota
// = Σ bases × alícuota redondeado a 2 decimales. Los errores son *domain.PermanentRequestError.
func BuildInvoice(in BuildInput) (*Built, error) {
	if _, err := afip.InvoiceTypeCode(in.InvoiceType); err != nil {
		return nil, domain.NewPermanent("invoice_type", "tipo de comprobante %q no soportado", in.InvoiceType)
	}
	if in.Concept < afip.ConceptGoods || in.Concept > afip.ConceptBoth {
		return nil, domain.NewPermanent("concept", "concepto %d inválido (1 productos, 2 servicios, 3 ambos)", in.Concept)
	}
	if len(in.Items) == 0 {
		return nil, domain.NewPermanent("items", "la factura debe tener al menos una línea")
	}
	if in.IssueDate.IsZero() {
		return nil, domain.NewPermanent("issue_date", "la fecha de emisión es obligatoria")
	}
	if err := normalizeCurrency(&in); err != nil {
		return nil, err
	}
	if err := normalizeServiceDates(&in); err != nil {
		return nil, err
	}
	if err := normalizeBuyer(&in); err != nil {
		return nil, err
	}

	var t *Totals
	var err error
	if in.InvoiceType == afip.InvoiceTypeC {
		t, err = totalsWithoutIVA(in.Items)
	} else {
		t, err = totalsWithIVA(in.Items)
	}
	if err != nil {
		return nil, err
	}
	if !t.Total.IsPositive() {
		return nil, domain.NewPermanent("items", "el importe total debe ser mayor a cero")
	}
	return &Built{BuildInput: in, Totals: *t}, nil
}

// ChooseInvoiceType elige A, B o C según la condición de emisor y receptor.
func ChooseInvoiceType(issuer, buyer afip.TaxCondition) (string, error) {
	switch issuer {
	case afip.TaxConditionResponsableInscripto:
		if buyer == afip.TaxConditionResponsableInscripto {
			return afip.InvoiceTypeA, nil
		}
		return afip.InvoiceTypeB, nil
	case afip.TaxConditionMonotributo, afip.TaxConditionExento:
		return afip.InvoiceTypeC, nil
	}
	return "", domain.NewPermanent("tax_condition", "la condición del emisor %q no permite emitir comprobantes", issuer)
}

func lineBase(it entity.LineItem, idx int) (decimal.Decimal, error) {
	if !it.Quantity.IsPositive() {
		return decimal.Zero, domain.NewPermanent("items", "línea %d: la cantidad debe ser mayor a cero", idx+1)
	}
	if it.UnitPrice.IsNegative() {
		return decimal.Zero, domain.NewPermanent("items", "línea %d: el precio unitario no puede ser negativo", idx+1)
	}
	return it.Quantity.Mul(it.UnitPrice).Round(2), nil
}

func totalsWithIVA(items []entity.LineItem) (*Totals, error) {
	t := &Totals{}
	bases := map[afip.IVACategory]decimal.Decimal{}
	for i, it := range items {
		if !it.Category.Valid() {
			return nil, domain.NewPermanent("items", "línea %d: categoría de IVA %q desconocida", i+1, it.Category)
		}
		base, err := lineBase(it, i)
		if err != nil {
			return nil, err
		}
		switch it.Category {
		case afip.IVAExempt:
			t.Exempt = t.Exempt.Add(base)
		case afip.IVANonTaxed:
			t.NonTaxed = t.NonTaxed.Add(base)
		default:
			bases[it.Category] = bases[it.Category].Add(base)
		}
	}
	for cat, base := range bases {
		id, _ := cat.AliquotID()
		amount := base.Mul(cat.Rate()).Round(2)
		t.IVA = append(t.IVA, entity.IVASubtotal{AliquotID: id, Rate: cat.Rate(), Base: base, Amount: amount})
		t.Net = t.Net.Add(base)
		t.IVATotal = t.IVATotal.Add(amount)
	}
	sort.Slice(t.IVA, func(a, b int) bool { return t.IVA[a].AliquotID < t.IVA[b].AliquotID })
	t.Total = t.Net.Add(t.Exempt).Add(t.NonTaxed).Add(t.IVATotal)
	return t, nil
}

// Comprobante C: sin IVA discriminado, todo el importe va a ImpNeto.
func totalsWithoutIVA(items []entity.LineItem) (*Totals, error) {
	t := &Totals{}
	for i, it := range items {
		if it.Category != "" && it.Category != afip.IVA0 {
			return nil, domain.NewPermanent("items", "línea %d: los comprobantes C no discriminan IVA", i+1)
		}
		base, err := lineBase(it, i)
		if err != nil {
			return nil, err
		}
		t.Net = t.Net.Add(base)
	}
	t.Total = t.Net
	return t, nil
}

func normalizeCurrency(in *BuildInput) error {
	if in.Currency == "" {
		in.Currency = afip.CurrencyPesos
	}
	if in.ExchangeRate.IsZero() {
		in.ExchangeRate = decimal.NewFromInt(1)
	}
	if in.ExchangeRate.IsNegative() {
		return domain.NewPermanent("exchange_rate", "la cotización no puede ser negativa")
	}
	if in.Currency == afip.CurrencyPesos && !in.ExchangeRate.Equal(decimal.NewFromInt(1)) {
		return domain.NewPermanent("exchange_rate", "la cotización en pesos debe ser 1")
	}
	return nil
}

// Servicios: fechas de servicio y vencimiento obligatorias en WSFE; se completan con la fecha de emisión.
func normalizeServiceDates(in *BuildInput) error {
	if !afip.ConceptRequiresServiceDates(in.Concept) {
		in.ServiceFrom, in.ServiceTo, in.PaymentDue = nil, nil, nil
		return nil
	}
	issue := in.IssueDate
	if in.ServiceFrom == nil {
		in.ServiceFrom = &issue
	}
	if in.ServiceTo == nil {
		in.ServiceTo = &issue
	}
	if in.PaymentDue == nil {
		in.PaymentDue = &issue
	}
	if in.ServiceTo.Before(*in.ServiceFrom) {
		return domain.NewPermanent("service_to", "el fin del período de servicio es anterior al inicio")
	}
	if in.PaymentDue.Before(truncateDay(issue)) {
		return domain.NewPermanent("payment_due", "el vencimiento de pago no puede ser anterior a la emisión")
	}
	return nil
}

func normalizeBuyer(in *BuildInput) error {
	b := &in.Buyer
	if b.TaxCondition == "" {
		b.TaxCondition = afip.TaxConditionConsumidorFinal
	}
	if !b.TaxCondition.Valid() {
		return domain.NewPermanent("buyer.tax_condition", "condición frente al IVA %q desconocida", b.TaxCondition)
	}
	if b.DocType == 0 {
		if b.DocNumber != "" && afip.ValidateCUIT(b.DocNumber) == nil {
			b.DocType = afip.DocTypeCUIT
		} else if b.DocNumber == "" {
			b.DocType = afip.DocTypeConsumidorFinal
		} else {
			b.DocType = afip.DocTypeDNI
		}
	}
	switch b.DocType {
	case afip.DocTypeCUIT, afip.DocTypeCUIL:
		if err := afip.ValidateCUIT(b.DocNumber); err != nil {
			return &domain.PermanentRequestError{Code: "CUIT_INVALIDO", Field: "buyer.doc_number", Message: err.Error()}
		}
		b.DocNumber = afip.NormalizeCUIT(b.DocNumber)
	case afip.DocTypeConsumidorFinal:
		b.DocNumber = "0"
	case afip.DocTypeDNI:
		if d := afip.NormalizeCUIT(b.DocNumber); len(d) < 7 || len(d) > 8 {
			return domain.NewPermanent("buyer.doc_number", "DNI %q inválido", b.DocNumber)
		}
		b.DocNumber = afip.NormalizeCUIT(b.DocNumber)
	default:
		return domain.NewPermanent("buyer.doc_type", "tipo de documento %d no soportado", b.DocType)
	}
	if in.InvoiceType == afip.InvoiceTypeA && b.DocType != afip.DocTypeCUIT {
		return domain.NewPermanent("buyer.doc_type", "los comprobantes A requieren CUIT del receptor")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.In(ArgentinaTZ)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, ArgentinaTZ)
}
