package billing

import (
	"context"
	"time"

	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

// AuthorizationService puerto WSFEv1 (implementado por infrastructure/afip.WSFEClient).
type AuthorizationService interface {
	Dummy(ctx context.Context, env string) error
	LastAuthorized(ctx context.Context, s afipdomain.Session, pos, invoiceType int) (int64, error)
	RequestCAE(ctx context.Context, s afipdomain.Session, req *afipdomain.CAERequest) (*afipdomain.CAEResponse, error)
	// QueryInvoice devuelve nil, nil si AFIP no registra el comprobante.
	QueryInvoice(ctx context.Context, s afipdomain.Session, pos, invoiceType int, number int64) (*afipdomain.CAEResponse, error)
}

// TokenProvider tickets WSAA (implementado por auth.TokenService).
type TokenProvider interface {
	GetToken(ctx context.Context, orgID, service string) (*entity.AuthToken, error)
	ForceRefresh(ctx context.Context, orgID, service string, stale *entity.AuthToken) (*entity.AuthToken, error)
}

// NumberingTxRunner ejecuta fn en una transacción con secuencia y facturas atadas a ella.
type NumberingTxRunner interface {
	RunNumbering(ctx context.Context, fn func(seq repository.SequenceRepository, invoices repository.InvoiceRepository) error) error
}

// EventPublisher publica resultados para los colaboradores.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// CircuitStore estado del circuit breaker compartido entre instancias.
type CircuitStore interface {
	// GetCircuit devuelve el estado cerrado inicial si no hay registro.
	GetCircuit(ctx context.Context, orgID string) (*entity.CircuitBreakerState, error)
	// UpdateCircuit aplica fn de forma atómica (reintenta ante escrituras concurrentes).
	UpdateCircuit(ctx context.Context, orgID string, fn func(*entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error)
}

// PanicStore estado explícito del modo pánico por organización.
type PanicStore interface {
	// GetPanic devuelve un estado inactivo si no hay registro.
	GetPanic(ctx context.Context, orgID string) (*entity.PanicState, error)
	SavePanic(ctx context.Context, st *entity.PanicState) error
	ActiveOrganizations(ctx context.Context) ([]string, error)
}

// SampleStore muestras de intentos para ventanas móviles.
type SampleStore interface {
	AddSample(ctx context.Context, orgID string, s entity.AttemptSample) error
	Samples(ctx context.Context, orgID string, since time.Time) ([]entity.AttemptSample, error)
}
