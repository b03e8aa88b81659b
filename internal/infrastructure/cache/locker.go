package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker lock distribuido SETNX con token de propietario.
type Locker struct {
	rdb    *redis.Client
	keys   Keys
	script *redis.Script
}

// NewLocker crea el locker con el script de liberación cargado.
func NewLocker(rdb *redis.Client, keys Keys) *Locker {
	return &Locker{rdb: rdb, keys: keys, script: redis.NewScript(lockReleaseScript)}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("clave de lock vacía")
	}
	if ttl <= 0 {
		return "", false, errors.New("el ttl del lock debe ser positivo")
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.keys.Lock(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release borra el lock solo si token sigue siendo el propietario.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.rdb, []string{l.keys.Lock(key)}, token).Err()
}
