package repository

import (
	"context"
	"time"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// InvoiceRepository define el puerto de persistencia de facturas.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	// Update persiste el estado con control optimista por Version. Devuelve
	// domain.ErrConflict si la versión cambió y domain.ErrInvoiceImmutable si ya está autorizada.
	Update(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	GetByExternalReference(ctx context.Context, orgID, ref string) (*entity.Invoice, error)
	CountByStatus(ctx context.Context, orgID string, statuses ...string) (int, error)
	// ReleaseDrafts pasa todas las facturas draft de la organización a pending.
	ReleaseDrafts(ctx context.Context, orgID string, now time.Time) (int, error)
}

// ClaimRequest parámetros para tomar la próxima factura elegible.
type ClaimRequest struct {
	Owner        string
	Lease        time.Duration
	Now          time.Time
	ExcludedOrgs []string // organizaciones en modo pánico
}

// InvoiceQueue cola de trabajo sobre la tabla de facturas (SKIP LOCKED + lease).
type InvoiceQueue interface {
	// Claim devuelve nil, nil si no hay trabajo elegible.
	Claim(ctx context.Context, req ClaimRequest) (*entity.Invoice, error)
	ReleaseLease(ctx context.Context, invoiceID, owner string) error
}
