package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/application/billing"
)

// AFIPHandler estado de integración por organización y operación del modo pánico.
type AFIPHandler struct {
	panic *billing.PanicHandler
	log   zerolog.Logger
}

func NewAFIPHandler(panic *billing.PanicHandler, log zerolog.Logger) *AFIPHandler {
	return &AFIPHandler{panic: panic, log: log}
}

// Status circuito, modo pánico, cola y ventana móvil de la organización del token.
// GET /api/afip/status
func (h *AFIPHandler) Status(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	st, err := h.panic.Status(c.UserContext(), orgID)
	if err != nil {
		h.log.Error().Err(err).Str("organization_id", orgID).Msg("estado AFIP no disponible")
		return respondError(c, err)
	}
	return c.JSON(st)
}

// ResolvePanic resolución manual (rol operator). Libera las facturas retenidas.
// POST /api/afip/panic/resolve
func (h *AFIPHandler) ResolvePanic(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	released, err := h.panic.Resolve(c.UserContext(), orgID, GetSubject(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"organization_id": orgID, "released": released})
}

// TriggerPanic activación manual (rol operator).
// POST /api/afip/panic/trigger
func (h *AFIPHandler) TriggerPanic(c *fiber.Ctx) error {
	orgID := GetOrganizationID(c)
	if orgID == "" {
		return unauthorized(c)
	}
	if err := h.panic.Trigger(c.UserContext(), orgID, GetSubject(c)); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"organization_id": orgID, "active": true})
}
