package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// warmupLockTTL: сколько держится блокировка прогрева, если инстанс упал посреди заливки.
const warmupLockTTL = 30 * time.Second

// WarmupState прогревает L1 (RAM) из БД и, если L2 (Redis set) пуст, заливает туда те же ids.
// Если в Redis уже есть данные (их положили другие реплики), они тоже применяются к L1.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	dbIDs []string,
	setKey string,
	lockKey string,
	applyL1 func([]string),
) error {
	// 1. База — источник истины при старте
	applyL1(dbIDs)

	// 2. Реплики могли записать изменения, еще не видимые в нашей выборке
	members, err := rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		logger.Warn("could not read Redis set, relying on DB state",
			zap.String("key", setKey), zap.Error(err))
		return nil
	}
	if len(members) > 0 {
		applyL1(members)
		return nil
	}
	if len(dbIDs) == 0 {
		return nil
	}

	// 3. Redis пуст: заливает только один инстанс (SetNX)
	ok, err := rdb.SetNX(ctx, lockKey, "processing", warmupLockTTL).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет
	}

	logger.Info("Redis set is empty, performing warm-up from DB...",
		zap.String("key", setKey), zap.Int("count", len(dbIDs)))

	pipe := rdb.Pipeline()
	for _, id := range dbIDs {
		pipe.SAdd(ctx, setKey, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
