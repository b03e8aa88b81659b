// Package afip contiene catálogos y validaciones de Factura Electrónica AFIP
// (WSFEv1, RG 4291) y del CUIT.
package afip

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Servicios WSAA (campo <service> del TRA)
// =============================================================================

const (
	ServiceWSFE   = "wsfe"
	ServicePadron = "ws_sr_padron_a5"
)

// =============================================================================
// Ambientes
// =============================================================================

const (
	EnvHomologacion = "homologacion"
	EnvProduccion   = "produccion"
)

// ValidEnvironment indica si env es un ambiente AFIP conocido.
func ValidEnvironment(env string) bool {
	return env == EnvHomologacion || env == EnvProduccion
}

// =============================================================================
// Tipos de comprobante (FEParamGetTiposCbte)
// =============================================================================

const (
	InvoiceTypeA = "A"
	InvoiceTypeB = "B"
	InvoiceTypeC = "C"
)

var invoiceTypeCodes = map[string]int{
	InvoiceTypeA: 1,  // Factura A
	InvoiceTypeB: 6,  // Factura B
	InvoiceTypeC: 11, // Factura C
}

// InvoiceTypeCode devuelve el código AFIP del tipo de comprobante (A=1, B=6, C=11).
func InvoiceTypeCode(t string) (int, error) {
	c, ok := invoiceTypeCodes[strings.ToUpper(t)]
	if !ok {
		return 0, fmt.Errorf("afip: tipo de comprobante %q no soportado", t)
	}
	return c, nil
}

// InvoiceTypeFromCode es la inversa de InvoiceTypeCode.
func InvoiceTypeFromCode(code int) (string, bool) {
	for k, v := range invoiceTypeCodes {
		if v == code {
			return k, true
		}
	}
	return "", false
}

// =============================================================================
// Conceptos (FEParamGetTiposConcepto)
// =============================================================================

const (
	ConceptGoods    = 1 // Productos
	ConceptServices = 2 // Servicios
	ConceptBoth     = 3 // Productos y servicios
)

// ConceptRequiresServiceDates indica si el concepto exige FchServDesde/Hasta y FchVtoPago.
func ConceptRequiresServiceDates(c int) bool {
	return c == ConceptServices || c == ConceptBoth
}

// =============================================================================
// Tipos de documento del receptor (FEParamGetTiposDoc)
// =============================================================================

const (
	DocTypeCUIT            = 80
	DocTypeCUIL            = 86
	DocTypeDNI             = 96
	DocTypeConsumidorFinal = 99
)

// =============================================================================
// Condición frente al IVA
// =============================================================================

// TaxCondition es la condición frente al IVA de un contribuyente.
type TaxCondition string

const (
	TaxConditionResponsableInscripto TaxCondition = "responsable_inscripto"
	TaxConditionMonotributo          TaxCondition = "monotributo"
	TaxConditionExento               TaxCondition = "exento"
	TaxConditionConsumidorFinal      TaxCondition = "consumidor_final"
)

// Valid indica si la condición es conocida.
func (c TaxCondition) Valid() bool {
	switch c {
	case TaxConditionResponsableInscripto, TaxConditionMonotributo, TaxConditionExento, TaxConditionConsumidorFinal:
		return true
	}
	return false
}

// ReceptorConditionID devuelve el código de CondicionIVAReceptorId (RG 5616).
func (c TaxCondition) ReceptorConditionID() int {
	switch c {
	case TaxConditionResponsableInscripto:
		return 1
	case TaxConditionExento:
		return 4
	case TaxConditionMonotributo:
		return 6
	default:
		return 5 // Consumidor final
	}
}

// =============================================================================
// Alícuotas de IVA (FEParamGetTiposIva)
// =============================================================================

// IVACategory identifica la alícuota o el tratamiento de una línea.
type IVACategory string

const (
	IVA0        IVACategory = "0"
	IVA2_5      IVACategory = "2.5"
	IVA5        IVACategory = "5"
	IVA10_5     IVACategory = "10.5"
	IVA21       IVACategory = "21"
	IVA27       IVACategory = "27"
	IVAExempt   IVACategory = "exento"     // operación exenta (ImpOpEx)
	IVANonTaxed IVACategory = "no_gravado" // no gravado (ImpTotConc)
)

type aliquot struct {
	id   int
	rate decimal.Decimal
}

var aliquots = map[IVACategory]aliquot{
	IVA0:    {id: 3, rate: decimal.Zero},
	IVA10_5: {id: 4, rate: decimal.RequireFromString("0.105")},
	IVA21:   {id: 5, rate: decimal.RequireFromString("0.21")},
	IVA27:   {id: 6, rate: decimal.RequireFromString("0.27")},
	IVA5:    {id: 8, rate: decimal.RequireFromString("0.05")},
	IVA2_5:  {id: 9, rate: decimal.RequireFromString("0.025")},
}

// Taxed indica si la categoría lleva alícuota (incluida 0%).
func (c IVACategory) Taxed() bool {
	_, ok := aliquots[c]
	return ok
}

// Valid indica si la categoría es conocida.
func (c IVACategory) Valid() bool {
	return c.Taxed() || c == IVAExempt || c == IVANonTaxed
}

// AliquotID devuelve el Id de AlicIva de la categoría.
func (c IVACategory) AliquotID() (int, error) {
	a, ok := aliquots[c]
	if !ok {
		return 0, fmt.Errorf("afip: la categoría %q no tiene alícuota de IVA", c)
	}
	return a.id, nil
}

// Rate devuelve la alícuota como fracción (0.21 para 21%).
func (c IVACategory) Rate() decimal.Decimal {
	return aliquots[c].rate
}

// =============================================================================
// Monedas
// =============================================================================

const CurrencyPesos = "PES"
