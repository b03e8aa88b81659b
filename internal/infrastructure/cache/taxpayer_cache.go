package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// TaxpayerCache resultados del padrón por CUIT normalizado.
type TaxpayerCache struct {
	rdb  *redis.Client
	keys Keys
}

// NewTaxpayerCache caché de consultas al padrón con TTL.
func NewTaxpayerCache(rdb *redis.Client, keys Keys) *TaxpayerCache {
	return &TaxpayerCache{rdb: rdb, keys: keys}
}

func (c *TaxpayerCache) Get(ctx context.Context, cuit string) (*entity.Taxpayer, error) {
	raw, err := c.rdb.Get(ctx, c.keys.Taxpayer(cuit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tp entity.Taxpayer
	if err := json.Unmarshal(raw, &tp); err != nil {
		return nil, nil
	}
	return &tp, nil
}

func (c *TaxpayerCache) Set(ctx context.Context, cuit string, tp *entity.Taxpayer, ttl time.Duration) error {
	raw, err := json.Marshal(tp)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.keys.Taxpayer(cuit), raw, ttl).Err()
}
