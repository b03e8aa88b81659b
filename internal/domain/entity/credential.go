package entity

import "github.com/jhoicas/afip-core/pkg/afip"

// Credential material de autenticación AFIP de una organización. Solo lectura para este núcleo.
// CertPassword nunca se registra en logs.
type Credential struct {
	OrganizationID string
	CUIT           string
	CertPath       string // .p12/.pfx o certificado PEM
	KeyPath        string // llave PEM; vacío cuando CertPath es .p12
	CertPassword   string
	Environment    string // homologacion | produccion
	PointsOfSale   []int
	TaxCondition   afip.TaxCondition // condición del emisor
}

// AllowsPointOfSale indica si el punto de venta está habilitado para la organización.
func (c *Credential) AllowsPointOfSale(pos int) bool {
	for _, p := range c.PointsOfSale {
		if p == pos {
			return true
		}
	}
	return false
}

// String omite la contraseña del certificado.
func (c Credential) String() string {
	return "Credential{org=" + c.OrganizationID + ", cuit=" + c.CUIT + ", env=" + c.Environment + "}"
}
