package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/afip-core/internal/application/taxpayer"
)

// TaxpayerHandler consulta de CUITs en el padrón (protegido).
type TaxpayerHandler struct {
	uc *taxpayer.LookupUseCase
}

func NewTaxpayerHandler(uc *taxpayer.LookupUseCase) *TaxpayerHandler {
	return &TaxpayerHandler{uc: uc}
}

// Lookup GET /api/taxpayers/:cuit
// Un CUIT con dígito verificador inválido responde 200 con valid=false.
func (h *TaxpayerHandler) Lookup(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	tp, err := h.uc.Lookup(c.UserContext(), orgID, c.Params("cuit"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(taxpayer.ToResponse(tp))
}
