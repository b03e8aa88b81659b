package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jhoicas/afip-core/internal/domain"
)

// ErrorClass categoría de un fallo de autorización.
type ErrorClass int

const (
	// ClassTransient red, 5xx, timeout, servicio degradado: backoff y cuenta para el circuito.
	ClassTransient ErrorClass = iota
	// ClassAuth token o firma rechazados: re-autenticar y reintentar una vez.
	ClassAuth
	// ClassPermanent rechazo de negocio: rejected, sin reintento.
	ClassPermanent
	// ClassCredential material de firma inválido o no autorizado: requiere un operador.
	ClassCredential
	// ClassInternal fallo propio (base de datos, conflicto de versión): backoff sin afectar el circuito.
	ClassInternal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "auth"
	case ClassPermanent:
		return "permanent"
	case ClassCredential:
		return "credential"
	}
	return "internal"
}

// Classify asigna la categoría de err.
func Classify(err error) ErrorClass {
	var (
		credErr *domain.CredentialError
		authErr *domain.AuthError
		permErr *domain.PermanentRequestError
		tranErr *domain.TransientServiceError
	)
	switch {
	case errors.As(err, &credErr):
		return ClassCredential
	case errors.As(err, &authErr):
		if authErr.Permanent {
			return ClassCredential
		}
		return ClassAuth
	case errors.As(err, &permErr):
		return ClassPermanent
	case errors.As(err, &tranErr):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassInternal
}

// ErrorCode código corto para last_error_code.
func ErrorCode(err error) string {
	var (
		authErr *domain.AuthError
		permErr *domain.PermanentRequestError
		tranErr *domain.TransientServiceError
		credErr *domain.CredentialError
	)
	switch {
	case errors.As(err, &permErr):
		return permErr.Code
	case errors.As(err, &authErr):
		return authErr.Code
	case errors.As(err, &tranErr):
		if tranErr.Code != "" {
			return tranErr.Code
		}
		return "TRANSITORIO"
	case errors.As(err, &credErr):
		return "CREDENCIAL"
	}
	return "INTERNO"
}

// RetryAfter espera sugerida por el servicio (coe.alreadyAuthenticated), 0 si no hay.
func RetryAfter(err error) time.Duration {
	var te *domain.TransientServiceError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return time.Duration(te.RetryAfter) * time.Second
	}
	return 0
}
