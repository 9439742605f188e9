package retrieval

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"recall-ai-api/internal/domain/memory"
)

// 统一评分因子名
const (
	FactorSemantic   = "semantic_similarity"
	FactorStructural = "structural_relevance"
	FactorFusion     = "rank_fusion"
	FactorRecency    = "temporal_recency"
	FactorDiversity  = "source_diversity"
)

// RankerOptions 统一评分器参数。
// Semantic+Structural+Recency+Diversity 构成总权重；
// hybrid 策略下语义/结构两项按 VectorWeight/GraphWeight 再分配。
type RankerOptions struct {
	SemanticWeight   float64
	StructuralWeight float64
	RecencyWeight    float64
	DiversityBonus   float64
	VectorWeight     float64
	GraphWeight      float64
	RecencyHalfLife  time.Duration
}

// Ranker 将合并候选折算为统一得分，每个因子附带原始值、权重与解释。
// 输出完全确定：同分候选按 chunk_id 升序。
type Ranker struct {
	opts RankerOptions
}

// NewRanker 创建统一评分器
func NewRanker(opts RankerOptions) *Ranker {
	if opts.SemanticWeight <= 0 {
		opts.SemanticWeight = 0.4
	}
	if opts.StructuralWeight <= 0 {
		opts.StructuralWeight = 0.3
	}
	if opts.RecencyWeight <= 0 {
		opts.RecencyWeight = 0.2
	}
	if opts.DiversityBonus <= 0 {
		opts.DiversityBonus = 0.1
	}
	if opts.VectorWeight <= 0 && opts.GraphWeight <= 0 {
		opts.VectorWeight, opts.GraphWeight = 0.6, 0.4
	}
	if opts.RecencyHalfLife <= 0 {
		opts.RecencyHalfLife = 720 * time.Hour
	}
	return &Ranker{opts: opts}
}

// WithHybridWeights 返回按给定混合权重评分的副本；两参数需为正且和为 1
func (r *Ranker) WithHybridWeights(vectorWeight, graphWeight float64) *Ranker {
	opts := r.opts
	opts.VectorWeight = vectorWeight
	opts.GraphWeight = graphWeight
	return &Ranker{opts: opts}
}

// Rank 评分并降序排序。now 注入以保证可测试性。
func (r *Ranker) Rank(strategy Strategy, merged []memory.MergedCandidate, now time.Time) []memory.RankedResult {
	if len(merged) == 0 {
		return nil
	}

	maxFused := 0.0
	for _, m := range merged {
		if m.FusedScore > maxFused {
			maxFused = m.FusedScore
		}
	}

	results := make([]memory.RankedResult, 0, len(merged))
	for _, m := range merged {
		factors := r.score(strategy, &m, maxFused, now)
		total := 0.0
		for _, f := range factors {
			total += f.Contribution
		}
		results = append(results, memory.RankedResult{
			ChunkID:      m.ChunkID,
			Text:         m.Text,
			UnifiedScore: round(total),
			Factors:      factors,
			SourceTypes:  m.Sources,
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].UnifiedScore != results[b].UnifiedScore {
			return results[a].UnifiedScore > results[b].UnifiedScore
		}
		return results[a].ChunkID < results[b].ChunkID
	})
	return results
}

func (r *Ranker) score(strategy Strategy, m *memory.MergedCandidate, maxFused float64, now time.Time) []memory.RankingFactor {
	factors := make([]memory.RankingFactor, 0, 4)

	if strategy == StrategyEnsemble {
		// ensemble 下语义+结构合并为融合因子，raw 为归一化 RRF 得分
		raw := 0.0
		if maxFused > 0 {
			raw = m.FusedScore / maxFused
		}
		factors = append(factors, factor(FactorFusion,
			raw, r.opts.SemanticWeight+r.opts.StructuralWeight,
			fmt.Sprintf("reciprocal rank fusion over %s", strings.Join(sourceNames(m.Sources), "+"))))
	} else {
		semWeight, structWeight := r.relevanceWeights(strategy)

		semRaw := 0.0
		semExpl := "not recalled by vector backend"
		if m.Vector != nil {
			semRaw = clamp01(m.Vector.CosineSimilarity)
			semExpl = fmt.Sprintf("cosine similarity %.3f against query embedding", m.Vector.CosineSimilarity)
		}
		factors = append(factors, factor(FactorSemantic, semRaw, semWeight, semExpl))

		structRaw := 0.0
		structExpl := "not recalled by graph backend"
		if m.Graph != nil {
			structRaw = clamp01(m.Graph.RawScore)
			structExpl = fmt.Sprintf("matched entities [%s] at hop %d",
				strings.Join(m.Graph.MatchedEntities, ", "), m.Graph.HopDistance)
		}
		factors = append(factors, factor(FactorStructural, structRaw, structWeight, structExpl))
	}

	recRaw := 0.0
	recExpl := "occurrence time unknown"
	if m.OccurredAt > 0 {
		age := now.Sub(time.Unix(m.OccurredAt, 0))
		if age < 0 {
			age = 0
		}
		recRaw = math.Exp(-math.Ln2 * age.Hours() / r.opts.RecencyHalfLife.Hours())
		recExpl = fmt.Sprintf("occurred %.0fh ago, half-life %.0fh", age.Hours(), r.opts.RecencyHalfLife.Hours())
	}
	factors = append(factors, factor(FactorRecency, recRaw, r.opts.RecencyWeight, recExpl))

	divRaw := 0.0
	divExpl := fmt.Sprintf("recalled by %s only", strings.Join(sourceNames(m.Sources), "+"))
	if len(m.Sources) > 1 {
		divRaw = 1.0
		divExpl = "recalled by both vector and graph backends"
	}
	factors = append(factors, factor(FactorDiversity, divRaw, r.opts.DiversityBonus, divExpl))

	return factors
}

// relevanceWeights 相关性权重分配：单后端策略下全部权重给该后端，
// hybrid 下按 VectorWeight/GraphWeight 比例切分
func (r *Ranker) relevanceWeights(strategy Strategy) (semantic, structural float64) {
	pool := r.opts.SemanticWeight + r.opts.StructuralWeight
	switch strategy {
	case StrategyVector:
		return pool, 0
	case StrategyGraph:
		return 0, pool
	default:
		sum := r.opts.VectorWeight + r.opts.GraphWeight
		return pool * r.opts.VectorWeight / sum, pool * r.opts.GraphWeight / sum
	}
}

func factor(name string, raw, weight float64, explanation string) memory.RankingFactor {
	return memory.RankingFactor{
		Name:         name,
		RawValue:     round(raw),
		Weight:       weight,
		Contribution: round(raw * weight),
		Explanation:  explanation,
	}
}

func sourceNames(sources []memory.SourceType) []string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, string(s))
	}
	return names
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round 得分统一保留六位小数，避免序列化时的浮点噪声
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
