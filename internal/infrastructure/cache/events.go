package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/afip-core/internal/application/billing"
)

// StreamPublisher publica los eventos de resultado en el stream de Redis.
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher maxLen 0 = 100000 entradas (recorte aproximado).
func NewStreamPublisher(rdb *redis.Client, keys Keys, maxLen int64) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &StreamPublisher{rdb: rdb, stream: keys.Events(), maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev billing.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":            ev.Type,
			"organization_id": ev.OrganizationID,
			"invoice_id":      ev.InvoiceID,
			"payload":         string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publicando %s: %w", ev.Type, err)
	}
	return nil
}
