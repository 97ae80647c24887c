package cache

import (
	"context"
	"encoding/json"
	"time"

	"readecho/logger"
	"readecho/model"

	"github.com/redis/go-redis/v9"
)

// SetAssetCache stores an asset's metadata and timings in Redis.
func SetAssetCache(key string, asset *model.AudioAsset, expiration time.Duration) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}

	if err := RedisClient.Set(ctx, key, data, expiration).Err(); err != nil {
		logger.Error("failed to set asset cache",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("asset cache set",
		logger.String("key", key),
		logger.Duration("expiration", expiration))
	return nil
}

// GetAssetCache retrieves an asset from Redis. A miss or an unavailable
// Redis returns (nil, nil) so the caller degrades to the next tier.
func GetAssetCache(key string) (*model.AudioAsset, error) {
	if RedisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	maxRetries := 2
	retryDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := RedisClient.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return nil, nil
			}

			if attempt < maxRetries-1 {
				logger.Warn("failed to get asset cache, retrying",
					logger.String("key", key),
					logger.Int("attempt", attempt+1),
					logger.ErrorField(err))
				time.Sleep(retryDelay)
				retryDelay *= 2
				continue
			}

			// Degrade to the persistent tier rather than erroring.
			logger.Error("asset cache unavailable, falling through",
				logger.String("key", key),
				logger.ErrorField(err))
			return nil, nil
		}

		var asset model.AudioAsset
		if err := json.Unmarshal(data, &asset); err != nil {
			logger.Warn("corrupt asset cache entry, dropping",
				logger.String("key", key),
				logger.ErrorField(err))
			_ = RedisClient.Del(ctx, key).Err()
			return nil, nil
		}
		return &asset, nil
	}

	return nil, nil
}

// DeleteAssetCache removes an asset entry.
func DeleteAssetCache(key string) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return RedisClient.Del(ctx, key).Err()
}

// SetAudioPayload caches a raw audio payload so the serving route can skip
// object storage for hot sentences.
func SetAudioPayload(key string, data []byte, expiration time.Duration) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Set(ctx, "payload:"+key, data, expiration).Err(); err != nil {
		logger.Error("failed to cache audio payload",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// GetAudioPayload retrieves a cached audio payload, (nil, nil) on miss.
func GetAudioPayload(key string) ([]byte, error) {
	if RedisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := RedisClient.Get(ctx, "payload:"+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logger.Warn("audio payload cache unavailable",
			logger.String("key", key),
			logger.ErrorField(err))
		return nil, nil
	}
	return data, nil
}
