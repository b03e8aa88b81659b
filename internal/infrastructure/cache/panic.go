package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// PanicStore registro del modo pánico por organización más el conjunto de activas.
type PanicStore struct {
	rdb  *redis.Client
	keys Keys
}

// NewPanicStore estado del modo pánico y set de organizaciones activas.
func NewPanicStore(rdb *redis.Client, keys Keys) *PanicStore {
	return &PanicStore{rdb: rdb, keys: keys}
}

func (s *PanicStore) GetPanic(ctx context.Context, orgID string) (*entity.PanicState, error) {
	raw, err := s.rdb.Get(ctx, s.keys.Panic(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &entity.PanicState{OrganizationID: orgID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leyendo modo pánico: %w", err)
	}
	var st entity.PanicState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("modo pánico corrupto: %w", err)
	}
	return &st, nil
}

// SavePanic guarda el registro y actualiza el conjunto de activas en la misma transacción.
func (s *PanicStore) SavePanic(ctx context.Context, st *entity.PanicState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.keys.Panic(st.OrganizationID), raw, 0)
		if st.Active {
			p.SAdd(ctx, s.keys.PanicActive(), st.OrganizationID)
		} else {
			p.SRem(ctx, s.keys.PanicActive(), st.OrganizationID)
		}
		return nil
	})
	return err
}

func (s *PanicStore) ActiveOrganizations(ctx context.Context) ([]string, error) {
	out, err := s.rdb.SMembers(ctx, s.keys.PanicActive()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
