package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

const maxWatchRetries = 20

// CircuitStore estado del circuit breaker con actualización optimista (WATCH/MULTI).
type CircuitStore struct {
	rdb  *redis.Client
	keys Keys
}

// NewCircuitStore estado del circuit breaker por organización en Redis.
func NewCircuitStore(rdb *redis.Client, keys Keys) *CircuitStore {
	return &CircuitStore{rdb: rdb, keys: keys}
}

// GetCircuit devuelve el estado cerrado inicial si no hay registro.
func (s *CircuitStore) GetCircuit(ctx context.Context, orgID string) (*entity.CircuitBreakerState, error) {
	return readCircuit(ctx, s.rdb, s.keys.Circuit(orgID), orgID)
}

// UpdateCircuit aplica fn sobre el estado vigente y lo guarda; reintenta si otra instancia
// escribió entre la lectura y el EXEC.
func (s *CircuitStore) UpdateCircuit(ctx context.Context, orgID string, fn func(*entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error) {
	key := s.keys.Circuit(orgID)
	var out *entity.CircuitBreakerState
	txf := func(tx *redis.Tx) error {
		st, err := readCircuit(ctx, tx, key, orgID)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		raw, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			out = st
		}
		return err
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("circuit breaker de %s: demasiadas escrituras concurrentes", orgID)
}

func readCircuit(ctx context.Context, c redis.Cmdable, key, orgID string) (*entity.CircuitBreakerState, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.NewCircuitBreakerState(orgID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("leyendo circuit breaker: %w", err)
	}
	var st entity.CircuitBreakerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("circuit breaker corrupto: %w", err)
	}
	return &st, nil
}
