package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

var _ repository.SequenceRepository = (*SequenceRepo)(nil)

// SequenceRepo numeración por (organización, punto de venta, tipo). Usar dentro de RunNumbering.
type SequenceRepo struct {
	q Querier
}

// NewSequenceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSequenceRepository(q Querier) *SequenceRepo {
	return &SequenceRepo{q: q}
}

// Next incrementa la secuencia. El upsert bloquea la fila hasta el fin de la transacción,
// serializando reservas concurrentes de la misma clave.
func (r *SequenceRepo) Next(ctx context.Context, key entity.SequenceKey) (int64, error) {
	const query = `
		INSERT INTO invoice_sequences (organization_id, point_of_sale, invoice_type, last_number, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (organization_id, point_of_sale, invoice_type)
		DO UPDATE SET last_number = invoice_sequences.last_number + 1, updated_at = now()
		RETURNING last_number`
	var n int64
	if err := r.q.QueryRow(ctx, query, key.OrganizationID, key.PointOfSale, key.InvoiceType).Scan(&n); err != nil {
		return 0, fmt.Errorf("reservar número: %w", err)
	}
	return n, nil
}

// Seed crea la secuencia con lastNumber si no existe.
func (r *SequenceRepo) Seed(ctx context.Context, key entity.SequenceKey, lastNumber int64) error {
	const query = `
		INSERT INTO invoice_sequences (organization_id, point_of_sale, invoice_type, last_number, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (organization_id, point_of_sale, invoice_type) DO NOTHING`
	if _, err := r.q.Exec(ctx, query, key.OrganizationID, key.PointOfSale, key.InvoiceType, lastNumber); err != nil {
		return fmt.Errorf("inicializar secuencia: %w", err)
	}
	return nil
}

// Current devuelve el último número consumido y si la secuencia existe.
func (r *SequenceRepo) Current(ctx context.Context, key entity.SequenceKey) (int64, bool, error) {
	const query = `
		SELECT last_number FROM invoice_sequences
		WHERE organization_id = $1 AND point_of_sale = $2 AND invoice_type = $3`
	var n int64
	err := r.q.QueryRow(ctx, query, key.OrganizationID, key.PointOfSale, key.InvoiceType).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("leer secuencia: %w", err)
	}
	return n, true, nil
}
