package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound           = errors.New("recurso no encontrado")
	ErrInvalidInput       = errors.New("entrada inválida")
	ErrDuplicate          = errors.New("recurso duplicado")
	ErrUnauthorized       = errors.New("no autorizado")
	ErrForbidden          = errors.New("acceso denegado")
	ErrConflict           = errors.New("conflicto con el estado actual")
	ErrInvoiceImmutable   = errors.New("la factura autorizada no admite cambios fiscales")
	ErrServiceUnavailable = errors.New("servicio AFIP no disponible")
)

// CredentialError: material de firma mal formado, ausente o vencido. Fatal, requiere operador.
type CredentialError struct {
	OrganizationID string
	Reason         string
	Err            error
}

func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("credencial AFIP inválida (org %s): %s", e.OrganizationID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() error { return e.Err }

// AuthError: token o firma rechazados por AFIP. Fuerza re-autenticación, se reintenta una vez.
type AuthError struct {
	Code    string
	Message string
	// Permanent marca rechazos de WSAA que no se resuelven renovando el ticket (cms.*: firma/certificado).
	Permanent bool
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("autenticación AFIP rechazada [%s]: %s", e.Code, e.Message)
}

// TransientServiceError: red, 5xx o timeout. Se reintenta con backoff y cuenta para el circuit breaker.
type TransientServiceError struct {
	Op         string
	Code       string
	Message    string
	RetryAfter int // segundos sugeridos; 0 = usar la tabla de backoff
	Err        error
}

func (e *TransientServiceError) Error() string {
	msg := fmt.Sprintf("servicio AFIP no disponible (%s)", e.Op)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// PermanentRequestError: rechazo de negocio (CUIT inválido, punto de venta, número duplicado).
// Se informa al colaborador y nunca se reintenta.
type PermanentRequestError struct {
	Code    string
	Message string
	Field   string
}

func (e *PermanentRequestError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite errors.Is(err, ErrInvalidInput).
func (e *PermanentRequestError) Unwrap() error { return ErrInvalidInput }

// NewPermanent construye un PermanentRequestError de validación local.
func NewPermanent(field, format string, args ...any) *PermanentRequestError {
	return &PermanentRequestError{Code: "VALIDATION", Field: field, Message: fmt.Sprintf(format, args...)}
}

// SequenceDriftWarning: el último número autorizado en AFIP no coincide con la secuencia local.
// Solo se registra y alerta; no bloquea el procesamiento.
type SequenceDriftWarning struct {
	OrganizationID string
	PointOfSale    int
	InvoiceType    string
	LocalNumber    int64
	RemoteLast     int64
}

func (w *SequenceDriftWarning) Error() string {
	return fmt.Sprintf("desvío de numeración org=%s pv=%d tipo=%s: local=%d, último AFIP=%d",
		w.OrganizationID, w.PointOfSale, w.InvoiceType, w.LocalNumber, w.RemoteLast)
}
