package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// SampleStore muestras en un sorted set por organización (score = unix ms).
type SampleStore struct {
	rdb       *redis.Client
	keys      Keys
	retention time.Duration
}

type sampleMember struct {
	ID        string `json:"id"`
	Success   bool   `json:"ok"`
	LatencyMS int64  `json:"lat_ms,omitempty"`
}

// NewSampleStore retention 0 = 1 hora.
func NewSampleStore(rdb *redis.Client, keys Keys, retention time.Duration) *SampleStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &SampleStore{rdb: rdb, keys: keys, retention: retention}
}

// AddSample agrega la muestra y descarta las que exceden la retención.
func (s *SampleStore) AddSample(ctx context.Context, orgID string, sample entity.AttemptSample) error {
	raw, err := json.Marshal(sampleMember{ID: uuid.NewString(), Success: sample.Success, LatencyMS: sample.Latency.Milliseconds()})
	if err != nil {
		return err
	}
	key := s.keys.Samples(orgID)
	cutoff := sample.At.Add(-s.retention).UnixMilli()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(sample.At.UnixMilli()), Member: raw})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, key, s.retention)
		return nil
	})
	return err
}

func (s *SampleStore) Samples(ctx context.Context, orgID string, since time.Time) ([]entity.AttemptSample, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, s.keys.Samples(orgID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("leyendo muestras: %w", err)
	}
	out := make([]entity.AttemptSample, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var m sampleMember
		if err := json.Unmarshal([]byte(member), &m); err != nil {
			continue
		}
		out = append(out, entity.AttemptSample{
			At:      time.UnixMilli(int64(z.Score)),
			Success: m.Success,
			Latency: time.Duration(m.LatencyMS) * time.Millisecond,
		})
	}
	return out, nil
}
