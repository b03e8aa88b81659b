package repository

import (
	"context"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// SequenceRepository numeración sin huecos por (organización, punto de venta, tipo).
type SequenceRepository interface {
	// Next incrementa y devuelve el número consumido. Debe ejecutarse dentro de la
	// misma transacción que escribe el número en la factura.
	Next(ctx context.Context, key entity.SequenceKey) (int64, error)
	// Seed crea la secuencia con lastNumber si no existe. Nunca baja una secuencia existente.
	Seed(ctx context.Context, key entity.SequenceKey, lastNumber int64) error
	Current(ctx context.Context, key entity.SequenceKey) (int64, bool, error)
}
