package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript devuelve {permitido, milisegundos hasta la próxima ficha}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, wait}
`

// RateLimiter token bucket por organización compartido entre instancias.
type RateLimiter struct {
	rdb    *redis.Client
	keys   Keys
	script *redis.Script
	rate   float64 // fichas por segundo
	burst  int
}

// NewRateLimiter perMinute llamadas por minuto con ráfaga burst.
func NewRateLimiter(rdb *redis.Client, keys Keys, perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rdb:    rdb,
		keys:   keys,
		script: redis.NewScript(tokenBucketScript),
		rate:   float64(perMinute) / 60,
		burst:  burst,
	}
}

// Allow consume una ficha si hay cupo; si no, devuelve la espera sugerida.
func (l *RateLimiter) Allow(ctx context.Context, orgID string) (bool, time.Duration, error) {
	ttl := time.Duration(math.Ceil(float64(l.burst)/l.rate*2)) * time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	res, err := l.script.Run(ctx, l.rdb, []string{l.keys.RateLimit(orgID)}, l.rate, l.burst, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("limitador: %w", err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("limitador: respuesta inválida del script")
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

// Wait bloquea hasta obtener cupo para orgID y devuelve el tiempo esperado.
func (l *RateLimiter) Wait(ctx context.Context, orgID string) (time.Duration, error) {
	start := time.Now()
	for {
		ok, wait, err := l.Allow(ctx, orgID)
		if err != nil {
			return time.Since(start), err
		}
		if ok {
			return time.Since(start), nil
		}
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(wait):
		}
	}
}
