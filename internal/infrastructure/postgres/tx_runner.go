package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

var _ billing.NumberingTxRunner = (*TxRunner)(nil)

// ErrSequenceBusy otra transacción retiene la fila de secuencia más allá de numberingLockTimeout.
var ErrSequenceBusy = errors.New("secuencia de numeración bloqueada por otra transacción")

// numberingLockTimeout espera máxima por el lock de la fila de secuencia.
const numberingLockTimeout = "5s"

// TxRunner ejecuta la reserva de número dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunNumbering abre una transacción READ COMMITTED con los repos de secuencia y facturas atados a ella.
// El incremento de la secuencia y la escritura del número en la factura confirman juntos o no confirman.
func (r *TxRunner) RunNumbering(ctx context.Context, fn func(seq repository.SequenceRepository, invoices repository.InvoiceRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+numberingLockTimeout+"'"); err != nil {
		return fmt.Errorf("lock_timeout: %w", err)
	}
	if err := fn(NewSequenceRepository(tx), NewInvoiceRepository(tx)); err != nil {
		if isLockTimeout(err) {
			return fmt.Errorf("%w: %v", ErrSequenceBusy, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isLockTimeout lock_not_available (55P03).
func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
