package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

// NumberingService reserva números sin huecos dentro de la transacción que los escribe.
type NumberingService struct {
	tx  NumberingTxRunner
	now func() time.Time
}

// NewNumberingService construye el servicio.
func NewNumberingService(tx NumberingTxRunner) *NumberingService {
	return &NumberingService{tx: tx, now: time.Now}
}

// Reserve consume el próximo número de la secuencia de inv y lo persiste junto con el
// estado reserved. Si la transacción falla el número no se consume.
// remoteLast inicializa una secuencia inexistente (último autorizado en AFIP).
func (n *NumberingService) Reserve(ctx context.Context, inv *entity.Invoice, remoteLast int64) (int64, error) {
	if inv.HasNumber() {
		return inv.NumberValue(), nil
	}
	key := entity.SequenceKeyOf(inv)
	var reserved *entity.Invoice
	err := n.tx.RunNumbering(ctx, func(seq repository.SequenceRepository, invoices repository.InvoiceRepository) error {
		if err := seq.Seed(ctx, key, remoteLast); err != nil {
			return fmt.Errorf("inicializando secuencia: %w", err)
		}
		number, err := seq.Next(ctx, key)
		if err != nil {
			return fmt.Errorf("reservando número: %w", err)
		}
		c := inv.Clone()
		if err := c.Reserve(number, n.now()); err != nil {
			return err
		}
		if err := invoices.Update(ctx, c); err != nil {
			return err
		}
		reserved = c
		return nil
	})
	if err != nil {
		return 0, err
	}
	*inv = *reserved
	return inv.NumberValue(), nil
}

// Current último número consumido (false si la secuencia no existe).
func (n *NumberingService) Current(ctx context.Context, key entity.SequenceKey) (int64, bool, error) {
	var (
		last int64
		ok   bool
	)
	err := n.tx.RunNumbering(ctx, func(seq repository.SequenceRepository, _ repository.InvoiceRepository) error {
		var err error
		last, ok, err = seq.Current(ctx, key)
		return err
	})
	return last, ok, err
}
