package afip

import "github.com/jhoicas/afip-core/pkg/afip"

// Impuestos del padrón relevantes para la condición frente al IVA.
const (
	TaxIDMonotributo = 20
	TaxIDIVA         = 30
	TaxIDIVAExento   = 32
)

// TaxConditionFromRegistry mapea los impuestos registrados a la condición frente al IVA.
// activeTaxIDs son los idImpuesto con estado activo en régimen general.
func TaxConditionFromRegistry(activeTaxIDs []int, hasMonotributo bool) afip.TaxCondition {
	has := func(id int) bool {
		for _, t := range activeTaxIDs {
			if t == id {
				return true
			}
		}
		return false
	}
	switch {
	case has(TaxIDIVA):
		return afip.TaxConditionResponsableInscripto
	case hasMonotributo, has(TaxIDMonotributo):
		return afip.TaxConditionMonotributo
	case has(TaxIDIVAExento):
		return afip.TaxConditionExento
	}
	return afip.TaxConditionConsumidorFinal
}
