package entity

import (
	"time"

	"github.com/jhoicas/afip-core/pkg/afip"
)

// Estados de clave fiscal informados por el padrón.
const (
	TaxpayerStatusActive   = "ACTIVO"
	TaxpayerStatusInactive = "INACTIVO"
	TaxpayerStatusUnknown  = "INEXISTENTE"
)

// Taxpayer resultado de una consulta de CUIT.
type Taxpayer struct {
	CUIT         string            `json:"cuit"`
	Valid        bool              `json:"valid"`
	TaxCondition afip.TaxCondition `json:"tax_condition,omitempty"`
	LegalName    string            `json:"legal_name,omitempty"`
	Status       string            `json:"status,omitempty"`
	PersonType   string            `json:"person_type,omitempty"` // FISICA | JURIDICA
	Address      string            `json:"address,omitempty"`
	CheckedAt    time.Time         `json:"checked_at"`
}
