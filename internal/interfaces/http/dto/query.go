// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"recall-ai-api/internal/application/retrieval"
	"recall-ai-api/internal/domain/memory"
)

// QueryFiltersRequest 候选范围过滤条件
type QueryFiltersRequest struct {
	SourceIDs    []string `json:"source_ids" binding:"omitempty,max=16,dive,max=96"`
	Tags         []string `json:"tags" binding:"omitempty,max=16,dive,max=32"`
	OccurredFrom int64    `json:"occurred_from" binding:"omitempty,gte=0"`
	OccurredTo   int64    `json:"occurred_to" binding:"omitempty,gte=0"`
}

// QueryWeightsRequest 请求级混合权重，需同时给出且和为 1
type QueryWeightsRequest struct {
	Vector float64 `json:"vector" binding:"required,gt=0,lt=1"`
	Graph  float64 `json:"graph" binding:"required,gt=0,lt=1"`
}

// QueryRequest 记忆查询请求
type QueryRequest struct {
	UserID        string               `json:"user_id" binding:"required,max=64"`
	Query         string               `json:"query" binding:"required,max=2048"`
	Strategy      string               `json:"strategy" binding:"omitempty,oneof=vector graph hybrid ensemble"`
	TopK          int                  `json:"top_k" binding:"omitempty,gte=1,lte=50"`
	IncludeShared bool                 `json:"include_shared"`
	Filters       *QueryFiltersRequest `json:"filters" binding:"omitempty"`
	Weights       *QueryWeightsRequest `json:"weights" binding:"omitempty"`
}

// RankingFactorResponse 单个排序因子的解释
type RankingFactorResponse struct {
	Name         string  `json:"name"`
	RawValue     float64 `json:"raw_value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Explanation  string  `json:"explanation"`
}

// RankedResultResponse 单条检索结果
type RankedResultResponse struct {
	ChunkID      string                  `json:"chunk_id"`
	Text         string                  `json:"text"`
	UnifiedScore float64                 `json:"unified_score"`
	SourceTypes  []string                `json:"source_types"`
	Factors      []RankingFactorResponse `json:"factors"`
}

// QueryDebugResponse 查询调试信息
type QueryDebugResponse struct {
	VectorTimeMs     int64    `json:"vector_time_ms"`
	GraphTimeMs      int64    `json:"graph_time_ms"`
	VectorCandidates int      `json:"vector_candidates"`
	GraphCandidates  int      `json:"graph_candidates"`
	MergedCandidates int      `json:"merged_candidates"`
	QueryEntities    []string `json:"query_entities,omitempty"`
	CacheHit         bool     `json:"cache_hit"`
}

// QueryResponse 记忆查询响应
type QueryResponse struct {
	Results        []RankedResultResponse `json:"results"`
	Strategy       string                 `json:"strategy"`
	Degraded       bool                   `json:"degraded"`
	DegradedReason string                 `json:"degraded_reason,omitempty"`
	Debug          *QueryDebugResponse    `json:"debug,omitempty"`
}

// FromQueryOutput 将检索输出转换为响应对象
func FromQueryOutput(out *retrieval.QueryOutput) *QueryResponse {
	resp := &QueryResponse{
		Results:        make([]RankedResultResponse, 0, len(out.Results)),
		Strategy:       string(out.Strategy),
		Degraded:       out.Degraded,
		DegradedReason: out.DegradedReason,
	}
	for _, r := range out.Results {
		resp.Results = append(resp.Results, fromRankedResult(r))
	}
	if out.Debug != nil {
		resp.Debug = &QueryDebugResponse{
			VectorTimeMs:     out.Debug.VectorTimeMs,
			GraphTimeMs:      out.Debug.GraphTimeMs,
			VectorCandidates: out.Debug.VectorCandidates,
			GraphCandidates:  out.Debug.GraphCandidates,
			MergedCandidates: out.Debug.MergedCandidates,
			QueryEntities:    out.Debug.QueryEntities,
			CacheHit:         out.Debug.CacheHit,
		}
	}
	return resp
}

func fromRankedResult(r memory.RankedResult) RankedResultResponse {
	out := RankedResultResponse{
		ChunkID:      r.ChunkID,
		Text:         r.Text,
		UnifiedScore: r.UnifiedScore,
		SourceTypes:  make([]string, 0, len(r.SourceTypes)),
		Factors:      make([]RankingFactorResponse, 0, len(r.Factors)),
	}
	for _, st := range r.SourceTypes {
		out.SourceTypes = append(out.SourceTypes, string(st))
	}
	for _, f := range r.Factors {
		out.Factors = append(out.Factors, RankingFactorResponse{
			Name:         f.Name,
			RawValue:     f.RawValue,
			Weight:       f.Weight,
			Contribution: f.Contribution,
			Explanation:  f.Explanation,
		})
	}
	return out
}
