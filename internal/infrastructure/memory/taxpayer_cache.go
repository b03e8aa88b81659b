package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

type cachedTaxpayer struct {
	tp      entity.Taxpayer
	expires time.Time
}

// TaxpayerCache caché de consultas al padrón con TTL.
type TaxpayerCache struct {
	mu    sync.Mutex
	items map[string]cachedTaxpayer
	now   func() time.Time
}

func NewTaxpayerCache() *TaxpayerCache {
	return &TaxpayerCache{items: make(map[string]cachedTaxpayer), now: time.Now}
}

// Get devuelve nil, nil si no hay entrada vigente.
func (c *TaxpayerCache) Get(_ context.Context, cuit string) (*entity.Taxpayer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[cuit]
	if !ok || !it.expires.After(c.now()) {
		return nil, nil
	}
	tp := it.tp
	return &tp, nil
}

func (c *TaxpayerCache) Set(_ context.Context, cuit string, tp *entity.Taxpayer, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[cuit] = cachedTaxpayer{tp: *tp, expires: c.now().Add(ttl)}
	return nil
}
