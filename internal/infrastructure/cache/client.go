// Package cache implementa el estado compartido entre instancias sobre Redis: tickets WSAA,
// locks de renovación, circuit breaker, modo pánico, muestras de latencia, limitador por
// organización, caché del padrón y el stream de eventos.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient crea el cliente y valida la conexión.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL inválida: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("no se pudo conectar a Redis: %w", err)
	}
	return rdb, nil
}

// Keys arma las claves con el prefijo configurado (por defecto "afip").
type Keys struct {
	prefix string
}

// NewKeys prefijo vacío = "afip".
func NewKeys(prefix string) Keys {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "afip"
	}
	return Keys{prefix: prefix}
}

func (k Keys) join(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func (k Keys) Token(orgID, service string) string { return k.join("wsaa", "token", orgID, service) }
func (k Keys) Lock(name string) string            { return k.join("lock", name) }
func (k Keys) Circuit(orgID string) string        { return k.join("circuit", orgID) }
func (k Keys) Panic(orgID string) string          { return k.join("panic", orgID) }
func (k Keys) PanicActive() string                { return k.join("panic", "active") }
func (k Keys) Samples(orgID string) string        { return k.join("samples", orgID) }
func (k Keys) RateLimit(orgID string) string      { return k.join("ratelimit", orgID) }
func (k Keys) Taxpayer(cuit string) string        { return k.join("padron", cuit) }
func (k Keys) Events() string                     { return k.join("events") }
