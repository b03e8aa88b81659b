package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/application/dto"
	"github.com/jhoicas/afip-core/internal/infrastructure/qrcode"
)

// InvoiceHandler recepción y consulta de facturas (protegido).
type InvoiceHandler struct {
	uc  *billing.InvoiceUseCase
	log zerolog.Logger
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(uc *billing.InvoiceUseCase, log zerolog.Logger) *InvoiceHandler {
	return &InvoiceHandler{uc: uc, log: log}
}

// Submit encola una factura para autorización. Idempotente por external_reference.
// POST /api/invoices
func (h *InvoiceHandler) Submit(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	var in dto.SubmitInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	st, err := h.uc.Submit(c.UserContext(), orgID, in)
	if err != nil {
		return h.fail(c, err)
	}
	c.Location("/api/invoices/" + st.ID)
	return c.Status(fiber.StatusAccepted).JSON(dto.AcceptedResponse{ID: st.ID, Status: st.Status})
}

// GetByID factura completa con importes, CAE y URL del QR.
// GET /api/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	inv, err := h.uc.GetResponse(c.UserContext(), orgID, c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(inv)
}

// Status estado para polling.
// GET /api/invoices/:id/status
func (h *InvoiceHandler) Status(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	st, err := h.uc.Status(c.UserContext(), orgID, c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

// Archive POST /api/invoices/:id/archive
func (h *InvoiceHandler) Archive(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	st, err := h.uc.Archive(c.UserContext(), orgID, c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

// Retry reencola una factura parked.
// POST /api/invoices/:id/retry
func (h *InvoiceHandler) Retry(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	st, err := h.uc.Retry(c.UserContext(), orgID, c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(st)
}

// QRImage PNG del QR fiscal de una factura autorizada.
// GET /api/invoices/:id/qr.png?size=256
func (h *InvoiceHandler) QRImage(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	inv, err := h.uc.Get(c.UserContext(), orgID, c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if inv.QRURL == "" {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "SIN_CAE", Message: "la factura aún no tiene CAE"})
	}
	size, _ := strconv.Atoi(c.Query("size"))
	if size > 1024 {
		size = 1024
	}
	img, err := qrcode.RenderPNG(inv.QRURL, size)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "private, max-age=86400")
	return c.Send(img)
}

func (h *InvoiceHandler) fail(c *fiber.Ctx, err error) error {
	if isInternal(err) {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("error atendiendo factura")
	}
	return respondError(c, err)
}
