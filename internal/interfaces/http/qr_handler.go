package http

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/afip-core/internal/application/dto"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
)

// QRHandler validación de URLs de QR fiscal.
type QRHandler struct{}

func NewQRHandler() *QRHandler { return &QRHandler{} }

// Validate GET /api/qr/validate?url=...
func (h *QRHandler) Validate(c *fiber.Ctx) error {
	raw := c.Query("url")
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "parámetro url requerido", Field: "url"})
	}
	p, err := afipdomain.ValidateQR(raw, nil)
	resp := dto.QRValidationResponse{Valid: err == nil}
	if err != nil {
		resp.Errors = flatten(err)
	}
	if p != nil {
		if b, merr := json.Marshal(p); merr == nil {
			_ = json.Unmarshal(b, &resp.Payload)
		}
	}
	return c.JSON(resp)
}

// flatten mensajes individuales de un error compuesto, sin el sentinel ErrInvalidQR.
func flatten(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if multi, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range multi.Unwrap() {
				walk(inner)
			}
			return
		}
		if e != afipdomain.ErrInvalidQR {
			out = append(out, e.Error())
		}
	}
	walk(err)
	return out
}
