package selector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"walkable-city/config"
	"walkable-city/metrics"
	"walkable-city/query"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "selector:"

// Cache 选择结果缓存，读写失败都不影响查询
type Cache interface {
	Get(ctx context.Context, key string) (query.Selection, bool)
	Set(ctx context.Context, key string, sel query.Selection)
}

// cacheKey 地点 + 改写后的文本
func cacheKey(location, text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(location)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	return cacheKeyPrefix + strconv.FormatUint(h.Sum64(), 16)
}

// RedisCache 基于 Redis 的缓存
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// OpenRedis 未配置地址时返回 nil
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

// NewRedisCache rdb 为 nil 时返回 nil
func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (query.Selection, bool) {
	s, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("selector_cache_get_failed", "error", err)
		}
		metrics.SelectorCacheMissesTotal.Inc()
		return query.Selection{}, false
	}
	var sel query.Selection
	if err := json.Unmarshal([]byte(s), &sel); err != nil || sel.Name == "" {
		metrics.SelectorCacheMissesTotal.Inc()
		return query.Selection{}, false
	}
	metrics.SelectorCacheHitsTotal.Inc()
	return sel, true
}

func (c *RedisCache) Set(ctx context.Context, key string, sel query.Selection) {
	b, err := json.Marshal(sel)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, string(b), c.ttl).Err(); err != nil {
		c.logger.Debug("selector_cache_set_failed", "error", err)
	}
}
