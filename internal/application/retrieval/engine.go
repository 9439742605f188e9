package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "recall-ai-api/pkg/errors"
	"recall-ai-api/pkg/logger"
	"recall-ai-api/pkg/metrics"
)

const (
	defaultTopK = 10
	maxTopK     = 50
)

// Engine 检索门面：校验请求，查缓存，扇出召回，统一评分。
// 相同查询并发到达时经 singleflight 合并为一次后端调用。
type Engine struct {
	aggregator      *Aggregator
	ranker          *Ranker
	cache           QueryCache
	defaultStrategy Strategy
	group           singleflight.Group
}

// NewEngine 创建检索引擎。cache 可为 nil，表示不启用查询缓存。
func NewEngine(aggregator *Aggregator, ranker *Ranker, cache QueryCache, defaultStrategy Strategy) *Engine {
	if defaultStrategy == "" {
		defaultStrategy = StrategyHybrid
	}
	return &Engine{
		aggregator:      aggregator,
		ranker:          ranker,
		cache:           cache,
		defaultStrategy: defaultStrategy,
	}
}

// Query 执行一次检索
func (e *Engine) Query(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	return e.query(ctx, in, false)
}

// DebugQuery 执行一次检索并返回调试信息，跳过缓存
func (e *Engine) DebugQuery(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	in.Debug = true
	return e.query(ctx, in, true)
}

func (e *Engine) query(ctx context.Context, in QueryInput, bypassCache bool) (*QueryOutput, error) {
	in.Query = strings.TrimSpace(in.Query)
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "user_id is required")
	}
	if in.Query == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "query is required").WithError(ErrEmptyQuery)
	}
	if in.TopK <= 0 {
		in.TopK = defaultTopK
	}
	if in.TopK > maxTopK {
		in.TopK = maxTopK
	}
	if in.Strategy == "" {
		in.Strategy = e.defaultStrategy
	}
	if err := validateWeights(in.VectorWeight, in.GraphWeight); err != nil {
		return nil, err
	}

	key := cacheKey(in)
	if !bypassCache && e.cache != nil {
		if cached, ok := e.cache.GetQuery(ctx, key); ok {
			metrics.QueriesTotal.WithLabelValues(string(in.Strategy), strconv.FormatBool(cached.Degraded)).Inc()
			if in.Debug {
				if cached.Debug == nil {
					cached.Debug = &DebugInfo{}
				}
				cached.Debug.CacheHit = true
			}
			return cached, nil
		}
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.execute(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	out := v.(*QueryOutput)

	// 降级结果不写缓存，避免后端恢复后继续吐残缺结果
	if !bypassCache && e.cache != nil && !out.Degraded {
		e.cache.SetQuery(ctx, key, out)
	}
	return out, nil
}

func (e *Engine) execute(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	start := time.Now()

	merged, degraded, dbg, err := e.aggregator.Fanout(ctx, in)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(string(in.Strategy), "failed").Inc()
		if err == ErrAllBackendsFailed {
			return nil, apperrors.Wrap(err, apperrors.CodeBackendUnavailable, "all memory backends unavailable")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeRetrievalFailed, "retrieval failed")
	}

	ranker := e.ranker
	if in.VectorWeight > 0 {
		ranker = ranker.WithHybridWeights(in.VectorWeight, in.GraphWeight)
	}
	results := ranker.Rank(in.Strategy, merged, time.Now())
	if len(results) > in.TopK {
		results = results[:in.TopK]
	}

	out := &QueryOutput{
		Results:        results,
		Strategy:       in.Strategy,
		Degraded:       degraded != "",
		DegradedReason: degraded,
	}
	if in.Debug {
		out.Debug = dbg
	}

	metrics.QueriesTotal.WithLabelValues(string(in.Strategy), strconv.FormatBool(out.Degraded)).Inc()
	logger.Debug(ctx, "query executed",
		"strategy", in.Strategy,
		"results", len(results),
		"degraded", out.Degraded,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// validateWeights 校验请求级混合权重：要么都不给，要么均为正且和为 1
func validateWeights(vectorWeight, graphWeight float64) error {
	if vectorWeight == 0 && graphWeight == 0 {
		return nil
	}
	if vectorWeight <= 0 || graphWeight <= 0 {
		return apperrors.New(apperrors.CodeInvalidParam, "both vector and graph weights must be positive")
	}
	if math.Abs(vectorWeight+graphWeight-1) > 1e-6 {
		return apperrors.New(apperrors.CodeInvalidParam, "vector and graph weights must sum to 1.0")
	}
	return nil
}

// cacheKey 由用户、策略与查询参数派生缓存键
func cacheKey(in QueryInput) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%t|%s|%g|%g|%s",
		in.UserID, in.Strategy, in.TopK, in.IncludeShared, in.Filters.fingerprint(),
		in.VectorWeight, in.GraphWeight, in.Query))
	return "query:" + hex.EncodeToString(h[:16])
}
