package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

var _ repository.InvoiceQueue = (*InvoiceQueue)(nil)

// InvoiceQueue cola de autorización sobre la tabla invoices.
// Varias instancias compiten con FOR UPDATE SKIP LOCKED; el lease evita dobles envíos
// mientras una instancia procesa la factura fuera de la transacción.
type InvoiceQueue struct {
	q Querier
}

// NewInvoiceQueue construye la cola. Pasar el pool.
func NewInvoiceQueue(q Querier) *InvoiceQueue {
	return &InvoiceQueue{q: q}
}

// Claim toma la factura elegible más antigua y le asigna un lease. nil, nil si no hay trabajo.
// submitted entra en la cola solo con lease vencido: el envío anterior quedó sin respuesta.
func (qu *InvoiceQueue) Claim(ctx context.Context, req repository.ClaimRequest) (*entity.Invoice, error) {
	excluded := req.ExcludedOrgs
	if excluded == nil {
		excluded = []string{}
	}
	query := `
		WITH next AS (
			SELECT id FROM invoices
			WHERE status IN ('pending', 'reserved', 'submitted')
			  AND (next_retry_at IS NULL OR next_retry_at <= $1)
			  AND (lease_until IS NULL OR lease_until < $1)
			  AND NOT (organization_id = ANY($2))
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE invoices i
		SET lease_owner = $3, lease_until = $4, version = i.version + 1
		FROM next
		WHERE i.id = next.id
		RETURNING ` + prefixed("i.", invoiceColumns)
	inv, err := scanInvoice(qu.q.QueryRow(ctx, query, req.Now, excluded, req.Owner, req.Now.Add(req.Lease)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim invoice: %w", err)
	}
	return inv, nil
}

// ReleaseLease libera el lease si sigue perteneciendo a owner.
func (qu *InvoiceQueue) ReleaseLease(ctx context.Context, invoiceID, owner string) error {
	_, err := qu.q.Exec(ctx,
		`UPDATE invoices SET lease_owner = NULL, lease_until = NULL WHERE id = $1 AND lease_owner = $2`,
		invoiceID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
