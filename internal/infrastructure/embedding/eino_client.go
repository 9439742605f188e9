// Package embedding 提供文本嵌入服务客户端
package embedding

import (
	"context"
	"fmt"
	"time"

	"recall-ai-api/internal/config"
	"recall-ai-api/pkg/metrics"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// NewEinoEmbedder 创建基于 Eino 的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	// 使用 Eino 的 OpenAI 适配器
	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}

	return &timedEmbedder{inner: embedder}, nil
}

// timedEmbedder 为嵌入调用记录耗时指标
type timedEmbedder struct {
	inner embedding.Embedder
}

func (t *timedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	started := time.Now()
	vectors, err := t.inner.EmbedStrings(ctx, texts, opts...)
	metrics.EmbeddingDuration.Observe(time.Since(started).Seconds())
	return vectors, err
}
