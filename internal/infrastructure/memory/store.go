// Package memory implementa los puertos de persistencia y estado compartido en memoria
// para una sola instancia (desarrollo y tests). Las semánticas replican los adaptadores
// de Postgres y Redis: control optimista por versión, inmutabilidad de facturas
// autorizadas y numeración transaccional.
package memory

import (
	"context"
	"sync"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

// Store datos de facturas y secuencias protegidos por un único mutex.
type Store struct {
	mu        sync.Mutex
	invoices  map[string]*entity.Invoice
	sequences map[entity.SequenceKey]int64
}

// NewStore crea un almacén vacío.
func NewStore() *Store {
	return &Store{
		invoices:  make(map[string]*entity.Invoice),
		sequences: make(map[entity.SequenceKey]int64),
	}
}

// Invoices repositorio de facturas fuera de transacción.
func (s *Store) Invoices() *InvoiceRepo { return &InvoiceRepo{s: s} }

// Sequences repositorio de secuencias fuera de transacción.
func (s *Store) Sequences() *SequenceRepo { return &SequenceRepo{s: s} }

// Queue cola de autorización.
func (s *Store) Queue() *InvoiceQueue { return &InvoiceQueue{s: s} }

// RunNumbering ejecuta fn con el almacén bloqueado. Si fn falla se restauran facturas y
// secuencias al estado previo, por lo que un número reservado sin persistir no se consume.
func (s *Store) RunNumbering(ctx context.Context, fn func(seq repository.SequenceRepository, invoices repository.InvoiceRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	invSnap := make(map[string]*entity.Invoice, len(s.invoices))
	for id, inv := range s.invoices {
		invSnap[id] = inv
	}
	seqSnap := make(map[entity.SequenceKey]int64, len(s.sequences))
	for k, v := range s.sequences {
		seqSnap[k] = v
	}
	if err := fn(&SequenceRepo{s: s, locked: true}, &InvoiceRepo{s: s, locked: true}); err != nil {
		s.invoices = invSnap
		s.sequences = seqSnap
		return err
	}
	return nil
}

// lock toma el mutex salvo que el repositorio ya corra dentro de RunNumbering.
func (s *Store) lock(locked bool) func() {
	if locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
