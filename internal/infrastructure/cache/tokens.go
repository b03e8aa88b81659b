package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// TokenStore tickets WSAA por organización y servicio. La clave expira con el ticket.
type TokenStore struct {
	rdb  *redis.Client
	keys Keys
}

// NewTokenStore tickets WSAA por organización y servicio.
func NewTokenStore(rdb *redis.Client, keys Keys) *TokenStore {
	return &TokenStore{rdb: rdb, keys: keys}
}

// GetToken devuelve nil, nil si no hay ticket.
func (s *TokenStore) GetToken(ctx context.Context, orgID, service string) (*entity.AuthToken, error) {
	raw, err := s.rdb.Get(ctx, s.keys.Token(orgID, service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leyendo ticket: %w", err)
	}
	var tok entity.AuthToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("ticket cacheado corrupto: %w", err)
	}
	return &tok, nil
}

func (s *TokenStore) SaveToken(ctx context.Context, tok *entity.AuthToken) error {
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keys.Token(tok.OrganizationID, tok.Service), raw, ttl).Err()
}

func (s *TokenStore) DeleteToken(ctx context.Context, orgID, service string) error {
	return s.rdb.Del(ctx, s.keys.Token(orgID, service)).Err()
}
