package retrieval

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"recall-ai-api/internal/domain/memory"
	"recall-ai-api/pkg/logger"
	"recall-ai-api/pkg/metrics"
)

// rrfK 排名倒数融合常数，压制榜首的绝对优势
const rrfK = 60

// Aggregator 并发扇出两个召回后端并按 chunk_id 去重合并。
// 双后端策略下单侧失败或超时不致命：结果降级为另一侧，Degraded 置位。
type Aggregator struct {
	vector         *VectorRetriever
	graph          *GraphRetriever
	backendTimeout time.Duration
}

// NewAggregator 创建召回聚合器
func NewAggregator(vector *VectorRetriever, graph *GraphRetriever, backendTimeout time.Duration) *Aggregator {
	if backendTimeout <= 0 {
		backendTimeout = 800 * time.Millisecond
	}
	return &Aggregator{
		vector:         vector,
		graph:          graph,
		backendTimeout: backendTimeout,
	}
}

// fanoutResult 单个后端的召回结果
type fanoutResult struct {
	candidates []memory.RetrievalCandidate
	entities   []string
	elapsed    time.Duration
	err        error
}

// Fanout 按策略并发召回、合并去重。
// 返回合并候选、降级原因（空串表示未降级）与调试信息。
func (a *Aggregator) Fanout(ctx context.Context, in QueryInput) ([]memory.MergedCandidate, string, *DebugInfo, error) {
	var vecRes, graphRes fanoutResult
	g, gctx := errgroup.WithContext(ctx)

	if in.Strategy.wantsVector() {
		g.Go(func() error {
			vecRes = a.runVector(gctx, in)
			return nil
		})
	}
	if in.Strategy.wantsGraph() {
		g.Go(func() error {
			graphRes = a.runGraph(gctx, in)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, "", nil, err
	}

	degraded, err := a.assess(in.Strategy, vecRes.err, graphRes.err)
	if err != nil {
		return nil, "", nil, err
	}

	merged := merge(vecRes.candidates, graphRes.candidates)
	if in.Strategy == StrategyEnsemble {
		fuse(merged, vecRes.candidates, graphRes.candidates)
	}

	dbg := &DebugInfo{
		VectorTimeMs:     vecRes.elapsed.Milliseconds(),
		GraphTimeMs:      graphRes.elapsed.Milliseconds(),
		VectorCandidates: len(vecRes.candidates),
		GraphCandidates:  len(graphRes.candidates),
		MergedCandidates: len(merged),
		QueryEntities:    graphRes.entities,
	}
	return merged, degraded, dbg, nil
}

func (a *Aggregator) runVector(ctx context.Context, in QueryInput) fanoutResult {
	ctx, cancel := context.WithTimeout(ctx, a.backendTimeout)
	defer cancel()

	start := time.Now()
	candidates, err := a.vector.Retrieve(ctx, in)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		logger.Warn(ctx, "vector backend failed", "error", err.Error())
	}
	metrics.RetrievalBackendTotal.WithLabelValues("vector", status).Inc()
	metrics.RetrievalBackendDuration.WithLabelValues("vector").Observe(elapsed.Seconds())
	return fanoutResult{candidates: candidates, elapsed: elapsed, err: err}
}

func (a *Aggregator) runGraph(ctx context.Context, in QueryInput) fanoutResult {
	ctx, cancel := context.WithTimeout(ctx, a.backendTimeout)
	defer cancel()

	start := time.Now()
	candidates, entities, err := a.graph.Retrieve(ctx, in)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		logger.Warn(ctx, "graph backend failed", "error", err.Error())
	}
	metrics.RetrievalBackendTotal.WithLabelValues("graph", status).Inc()
	metrics.RetrievalBackendDuration.WithLabelValues("graph").Observe(elapsed.Seconds())
	return fanoutResult{candidates: candidates, entities: entities, elapsed: elapsed, err: err}
}

// assess 判定降级与失败：单后端策略下失败即错误；双后端策略下单侧失败仅降级
func (a *Aggregator) assess(strategy Strategy, vecErr, graphErr error) (string, error) {
	switch strategy {
	case StrategyVector:
		if vecErr != nil {
			return "", vecErr
		}
	case StrategyGraph:
		if graphErr != nil {
			return "", graphErr
		}
	default:
		if vecErr != nil && graphErr != nil {
			logger.Warn(context.Background(), "all retrieval backends failed",
				"vector_error", vecErr.Error(), "graph_error", graphErr.Error())
			return "", ErrAllBackendsFailed
		}
		if vecErr != nil {
			return "vector backend unavailable: " + vecErr.Error(), nil
		}
		if graphErr != nil {
			return "graph backend unavailable: " + graphErr.Error(), nil
		}
	}
	return "", nil
}

// merge 按 chunk_id 去重合并两侧候选，输出顺序稳定（chunk_id 升序）
func merge(vector, graph []memory.RetrievalCandidate) []memory.MergedCandidate {
	byID := make(map[string]*memory.MergedCandidate, len(vector)+len(graph))

	add := func(c memory.RetrievalCandidate) {
		m, ok := byID[c.ChunkID]
		if !ok {
			m = &memory.MergedCandidate{ChunkID: c.ChunkID}
			byID[c.ChunkID] = m
		}
		if m.Text == "" {
			m.Text = c.Text
		}
		if m.OccurredAt == 0 {
			m.OccurredAt = c.OccurredAt
		}
		if !m.HasSource(c.SourceType) {
			m.Sources = append(m.Sources, c.SourceType)
		}
		switch c.SourceType {
		case memory.SourceTypeVector:
			m.Vector = &c
		case memory.SourceTypeGraph:
			m.Graph = &c
		}
	}
	for _, c := range vector {
		add(c)
	}
	for _, c := range graph {
		add(c)
	}

	merged := make([]memory.MergedCandidate, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, *m)
	}
	sort.Slice(merged, func(a, b int) bool {
		return merged[a].ChunkID < merged[b].ChunkID
	})
	return merged
}

// fuse 排名倒数融合：score = Σ 1/(k + rank)，两侧榜单各贡献一项
func fuse(merged []memory.MergedCandidate, vector, graph []memory.RetrievalCandidate) {
	ranks := make(map[string]float64, len(vector)+len(graph))
	for i, c := range vector {
		ranks[c.ChunkID] += 1.0 / float64(rrfK+i+1)
	}
	for i, c := range graph {
		ranks[c.ChunkID] += 1.0 / float64(rrfK+i+1)
	}
	for i := range merged {
		merged[i].FusedScore = ranks[merged[i].ChunkID]
	}
}
