// Package retrieval 实现双后端记忆检索：并发召回、去重合并与统一可解释评分
package retrieval

import (
	"fmt"
	"strings"

	"recall-ai-api/internal/domain/memory"
)

// Strategy 检索策略
type Strategy string

const (
	// StrategyVector 仅向量召回
	StrategyVector Strategy = "vector"
	// StrategyGraph 仅图召回
	StrategyGraph Strategy = "graph"
	// StrategyHybrid 双后端并发召回，按权重混合评分
	StrategyHybrid Strategy = "hybrid"
	// StrategyEnsemble 双后端并发召回，按排名倒数融合 (RRF)
	StrategyEnsemble Strategy = "ensemble"
)

// ParseStrategy 解析策略字符串；空串返回 fallback
func ParseStrategy(s string, fallback Strategy) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return fallback, nil
	case StrategyVector:
		return StrategyVector, nil
	case StrategyGraph:
		return StrategyGraph, nil
	case StrategyHybrid:
		return StrategyHybrid, nil
	case StrategyEnsemble:
		return StrategyEnsemble, nil
	default:
		return "", fmt.Errorf("unknown retrieval strategy %q", s)
	}
}

// dual 策略是否需要两个后端
func (s Strategy) dual() bool {
	return s == StrategyHybrid || s == StrategyEnsemble
}

func (s Strategy) wantsVector() bool { return s != StrategyGraph }
func (s Strategy) wantsGraph() bool  { return s != StrategyVector }

// QueryFilters 候选范围过滤。零值表示不过滤。
// SourceIDs 与时间范围同时作用于两个后端；Tags 仅向量后端可过滤。
type QueryFilters struct {
	SourceIDs    []string
	Tags         []string
	OccurredFrom int64
	OccurredTo   int64
}

// IsZero 是否未指定任何过滤条件
func (f QueryFilters) IsZero() bool {
	return len(f.SourceIDs) == 0 && len(f.Tags) == 0 && f.OccurredFrom == 0 && f.OccurredTo == 0
}

// fingerprint 过滤条件的规范化串，用于缓存键
func (f QueryFilters) fingerprint() string {
	if f.IsZero() {
		return ""
	}
	return fmt.Sprintf("src=%s;tag=%s;from=%d;to=%d",
		strings.Join(f.SourceIDs, ","), strings.Join(f.Tags, ","), f.OccurredFrom, f.OccurredTo)
}

// QueryInput 一次检索请求
type QueryInput struct {
	UserID        string
	Query         string
	Strategy      Strategy
	TopK          int
	IncludeShared bool
	Filters       QueryFilters
	// VectorWeight/GraphWeight 为本次请求覆盖 hybrid 混合权重；
	// 均为 0 时使用配置默认值，否则两者必须为正且和为 1
	VectorWeight float64
	GraphWeight  float64
	Debug        bool
}

// QueryOutput 检索响应。Degraded 表示一个后端失败或超时、结果来自另一后端。
type QueryOutput struct {
	Results        []memory.RankedResult `json:"results"`
	Strategy       Strategy              `json:"strategy"`
	Degraded       bool                  `json:"degraded"`
	DegradedReason string                `json:"degraded_reason,omitempty"`
	Debug          *DebugInfo            `json:"debug,omitempty"`
}

// DebugInfo 调试信息，仅在 debug 查询时返回
type DebugInfo struct {
	VectorTimeMs     int64    `json:"vector_time_ms"`
	GraphTimeMs      int64    `json:"graph_time_ms"`
	VectorCandidates int      `json:"vector_candidates"`
	GraphCandidates  int      `json:"graph_candidates"`
	MergedCandidates int      `json:"merged_candidates"`
	QueryEntities    []string `json:"query_entities,omitempty"`
	CacheHit         bool     `json:"cache_hit"`
}
