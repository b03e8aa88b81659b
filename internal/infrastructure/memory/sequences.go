package memory

import (
	"context"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

var _ repository.SequenceRepository = (*SequenceRepo)(nil)

// SequenceRepo numeración en memoria.
type SequenceRepo struct {
	s      *Store
	locked bool
}

func (r *SequenceRepo) Next(_ context.Context, key entity.SequenceKey) (int64, error) {
	defer r.s.lock(r.locked)()
	r.s.sequences[key]++
	return r.s.sequences[key], nil
}

func (r *SequenceRepo) Seed(_ context.Context, key entity.SequenceKey, lastNumber int64) error {
	defer r.s.lock(r.locked)()
	if _, ok := r.s.sequences[key]; !ok {
		r.s.sequences[key] = lastNumber
	}
	return nil
}

func (r *SequenceRepo) Current(_ context.Context, key entity.SequenceKey) (int64, bool, error) {
	defer r.s.lock(r.locked)()
	v, ok := r.s.sequences[key]
	return v, ok, nil
}
