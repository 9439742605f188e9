// Package redis 提供 Redis 缓存实现
package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recall-ai-api/internal/application/retrieval"
	"recall-ai-api/pkg/logger"
)

var cacheTracer = otel.Tracer("redis.cache")

const queryKeyPattern = "query:*"

// QueryCache 检索结果缓存。
// 缓存读写失败一律降级为未命中，不把 Redis 故障放大为查询失败。
type QueryCache struct {
	client *Client
	ttl    time.Duration
}

// NewQueryCache 创建查询缓存
func NewQueryCache(client *Client, ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{client: client, ttl: ttl}
}

var _ retrieval.QueryCache = (*QueryCache)(nil)

// GetQuery 读取缓存的查询结果
func (c *QueryCache) GetQuery(ctx context.Context, key string) (*retrieval.QueryOutput, bool) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetQuery",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !IsNil(err) {
			span.RecordError(err)
			logger.Warn(ctx, "query cache read failed", "error", err.Error())
		}
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	var out retrieval.QueryOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		span.RecordError(err)
		return nil, false
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &out, true
}

// SetQuery 写入查询结果，TTL 由配置决定
func (c *QueryCache) SetQuery(ctx context.Context, key string, out *retrieval.QueryOutput) {
	ctx, span := cacheTracer.Start(ctx, "cache.SetQuery",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", c.ttl.Milliseconds()),
		))
	defer span.End()

	raw, err := json.Marshal(out)
	if err != nil {
		span.RecordError(err)
		return
	}
	if err := c.client.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "query cache write failed", "error", err.Error())
	}
}

// InvalidateQueries 使全部查询缓存失效（摄取或清除改变底层记忆后调用）
func (c *QueryCache) InvalidateQueries(ctx context.Context) error {
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidateQueries")
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, queryKeyPattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return err
	}

	if len(keys) > 0 {
		span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
		return c.client.rdb.Del(ctx, keys...).Err()
	}
	return nil
}
