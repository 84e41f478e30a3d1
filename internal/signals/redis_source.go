package signals

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/dropwatch/internal/domain"
)

// RedisSource читает срез из хэша (HGETALL). Сюда пишут счетчики витрины и трекеры трафика.
// Числа и true/false распознаются, остальное — категориальные значения.
// Поле "quality" (если есть) трактуется как качество данных.
type RedisSource struct {
	rdb *redis.Client
	key string
}

func NewRedisSource(rdb *redis.Client, key string) *RedisSource {
	return &RedisSource{rdb: rdb, key: key}
}

func (s *RedisSource) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis source %s: %w", s.key, err)
	}

	values := make(map[string]any, len(raw))
	quality := 1.0
	for k, v := range raw {
		if k == "quality" {
			if q, err := strconv.ParseFloat(v, 64); err == nil {
				quality = q
			}
			continue
		}
		values[k] = parseScalar(v)
	}
	return domain.NewSnapshot("", time.Time{}, values).WithQuality(quality), nil
}

func parseScalar(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
