package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/afip-core/internal/application/dto"
	"github.com/jhoicas/afip-core/internal/domain"
)

// errorResponse traduce errores de dominio a estado HTTP y cuerpo. Los errores internos
// no exponen detalle al colaborador.
func errorResponse(err error) (int, dto.ErrorResponse, int) {
	var (
		perm  *domain.PermanentRequestError
		cred  *domain.CredentialError
		trans *domain.TransientServiceError
		auth  *domain.AuthError
	)
	switch {
	case errors.As(err, &perm):
		return fiber.StatusUnprocessableEntity, dto.ErrorResponse{Code: perm.Code, Message: perm.Message, Field: perm.Field}, 0
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"}, 0
	case errors.Is(err, domain.ErrInvoiceImmutable):
		return fiber.StatusConflict, dto.ErrorResponse{Code: "INMUTABLE", Message: err.Error()}, 0
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return fiber.StatusConflict, dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()}, 0
	case errors.As(err, &cred):
		return fiber.StatusUnprocessableEntity, dto.ErrorResponse{Code: "CREDENCIAL", Message: cred.Reason}, 0
	case errors.As(err, &trans):
		return fiber.StatusServiceUnavailable, dto.ErrorResponse{Code: "AFIP_NO_DISPONIBLE", Message: "servicio AFIP no disponible, reintente más tarde"}, trans.RetryAfter
	case errors.As(err, &auth):
		return fiber.StatusBadGateway, dto.ErrorResponse{Code: "AFIP_AUTH", Message: auth.Message}, 0
	}
	return fiber.StatusInternalServerError, dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"}, 0
}

func respondError(c *fiber.Ctx, err error) error {
	status, body, retryAfter := errorResponse(err)
	if retryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	}
	return c.Status(status).JSON(body)
}

func isInternal(err error) bool {
	status, _, _ := errorResponse(err)
	return status >= fiber.StatusInternalServerError
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
}
