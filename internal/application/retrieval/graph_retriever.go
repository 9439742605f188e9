package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/domain/memory"
	apperrors "recall-ai-api/pkg/errors"
	"recall-ai-api/pkg/logger"
)

const (
	defaultMaxHops    = 2
	defaultHopPenalty = 0.5
	// minTermLength 过滤掉过短的查询词项，避免图侧模糊匹配爆炸
	minTermLength = 3
)

// GraphRetriever 结构召回：从查询中识别实体，沿提及边与关联实体遍历取回分块。
// 直接提及为 0 跳；经关联实体每多一跳，结构得分乘一次 hopPenalty。
type GraphRetriever struct {
	extractor  ingestion.EntityExtractor
	store      GraphSearcher
	maxHops    int
	hopPenalty float64
}

// NewGraphRetriever 创建图召回器
func NewGraphRetriever(extractor ingestion.EntityExtractor, store GraphSearcher, maxHops int, hopPenalty float64) *GraphRetriever {
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	if hopPenalty <= 0 || hopPenalty > 1 {
		hopPenalty = defaultHopPenalty
	}
	return &GraphRetriever{
		extractor:  extractor,
		store:      store,
		maxHops:    maxHops,
		hopPenalty: hopPenalty,
	}
}

// Enabled 图后端是否可用
func (r *GraphRetriever) Enabled() bool {
	return r != nil && r.store != nil
}

// Retrieve 执行实体图召回。查询中识别不出任何实体时返回空结果而非错误。
func (r *GraphRetriever) Retrieve(ctx context.Context, in QueryInput) ([]memory.RetrievalCandidate, []string, error) {
	if !r.Enabled() {
		return nil, nil, ErrGraphDisabled
	}

	keys, terms := r.queryEntities(ctx, in.Query)
	if len(keys) == 0 && len(terms) == 0 {
		return nil, nil, nil
	}

	candidates, err := r.store.SearchChunks(ctx, &GraphSearchParams{
		UserID:        in.UserID,
		EntityKeys:    keys,
		NameTerms:     terms,
		MaxHops:       r.maxHops,
		TopK:          in.TopK,
		IncludeShared: in.IncludeShared,
		SourceIDs:     in.Filters.SourceIDs,
		OccurredFrom:  in.Filters.OccurredFrom,
		OccurredTo:    in.Filters.OccurredTo,
	})
	if err != nil {
		return nil, keys, apperrors.Wrap(err, apperrors.CodeGraphDBError, "graph search failed")
	}

	for i := range candidates {
		candidates[i].RawScore = r.structuralScore(&candidates[i])
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].RawScore > candidates[b].RawScore
	})
	if in.TopK > 0 && len(candidates) > in.TopK {
		candidates = candidates[:in.TopK]
	}
	return candidates, keys, nil
}

// structuralScore 折算结构得分：跳数衰减 × 提及强度。
// mention 强度用 log1p 压缩，高频实体不至于淹没一切。
func (r *GraphRetriever) structuralScore(c *memory.RetrievalCandidate) float64 {
	decay := math.Pow(r.hopPenalty, float64(c.HopDistance))
	strength := 1.0
	if len(c.MatchedEntities) > 1 {
		strength += 0.1 * float64(len(c.MatchedEntities)-1)
	}
	if c.MentionCount > 0 {
		strength += 0.05 * math.Log1p(float64(c.MentionCount))
	}
	score := decay * strength
	if score > 1 {
		score = 1
	}
	return score
}

// queryEntities 从查询文本中识别实体：优先走抽取服务，失败时退化为词项匹配
func (r *GraphRetriever) queryEntities(ctx context.Context, query string) (keys []string, terms []string) {
	if r.extractor != nil {
		mentions, err := r.extractor.Extract(ctx, query, "")
		if err != nil {
			logger.Warn(ctx, "query entity extraction failed, falling back to term matching", "error", err.Error())
		}
		seen := make(map[string]bool, len(mentions))
		for _, m := range mentions {
			key := ingestion.NormalizeKey(m.RawName, m.Type)
			if ingestion.NormalizeName(m.RawName) == "" || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if len(keys) > 0 {
		return keys, nil
	}
	return nil, queryTerms(query)
}

// queryTerms 抽取服务不可用时的退化路径：取查询中的长词项做名称匹配
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTermLength || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
