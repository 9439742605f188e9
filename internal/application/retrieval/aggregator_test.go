package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai-api/internal/domain/memory"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{0.5, 0.5}
	}
	return out, nil
}

type stubVectorSearcher struct {
	candidates []memory.RetrievalCandidate
	err        error
	lastParams *VectorSearchParams
}

func (s *stubVectorSearcher) SearchChunks(_ context.Context, params *VectorSearchParams) ([]memory.RetrievalCandidate, error) {
	s.lastParams = params
	return s.candidates, s.err
}

type stubGraphSearcher struct {
	candidates []memory.RetrievalCandidate
	err        error
}

func (s *stubGraphSearcher) SearchChunks(context.Context, *GraphSearchParams) ([]memory.RetrievalCandidate, error) {
	return s.candidates, s.err
}

type stubExtractor struct {
	mentions []memory.RawMention
	err      error
}

func (s *stubExtractor) Extract(context.Context, string, string) ([]memory.RawMention, error) {
	return s.mentions, s.err
}

func vecCand(chunkID string, sim float64) memory.RetrievalCandidate {
	return memory.RetrievalCandidate{
		ChunkID:          chunkID,
		SourceType:       memory.SourceTypeVector,
		RawScore:         sim,
		CosineSimilarity: sim,
		Text:             "text of " + chunkID,
	}
}

func graphCand(chunkID string, hop int) memory.RetrievalCandidate {
	return memory.RetrievalCandidate{
		ChunkID:         chunkID,
		SourceType:      memory.SourceTypeGraph,
		HopDistance:     hop,
		MatchedEntities: []string{"person:alice"},
		Text:            "text of " + chunkID,
	}
}

func newTestAggregator(vec *stubVectorSearcher, graph *stubGraphSearcher) *Aggregator {
	vr := NewVectorRetriever(&stubEmbedder{}, vec)
	gr := NewGraphRetriever(
		&stubExtractor{mentions: []memory.RawMention{{RawName: "Alice", Type: memory.EntityTypePerson}}},
		graph, 2, 0.5,
	)
	return NewAggregator(vr, gr, 100*time.Millisecond)
}

func hybridInput() QueryInput {
	return QueryInput{UserID: "u1", Query: "what did Alice say", Strategy: StrategyHybrid, TopK: 10}
}

func TestFanoutMergesAndDeduplicates(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{
		vecCand("s1#0000", 0.9),
		vecCand("s1#0001", 0.8),
	}}
	graph := &stubGraphSearcher{candidates: []memory.RetrievalCandidate{
		graphCand("s1#0001", 0),
		graphCand("s1#0002", 1),
	}}

	merged, degraded, dbg, err := newTestAggregator(vec, graph).Fanout(context.Background(), hybridInput())
	require.NoError(t, err)
	assert.Empty(t, degraded)

	require.Len(t, merged, 3)
	assert.Equal(t, "s1#0000", merged[0].ChunkID)
	assert.Equal(t, "s1#0001", merged[1].ChunkID)
	assert.Equal(t, "s1#0002", merged[2].ChunkID)

	dual := merged[1]
	assert.Len(t, dual.Sources, 2)
	require.NotNil(t, dual.Vector)
	require.NotNil(t, dual.Graph)
	assert.NotEmpty(t, dual.Text)

	require.NotNil(t, dbg)
	assert.Equal(t, 2, dbg.VectorCandidates)
	assert.Equal(t, 2, dbg.GraphCandidates)
	assert.Equal(t, 3, dbg.MergedCandidates)
	assert.Equal(t, []string{"person:alice"}, dbg.QueryEntities)
}

func TestFanoutDegradesOnSingleBackendFailure(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	graph := &stubGraphSearcher{err: errors.New("neo4j down")}

	merged, degraded, _, err := newTestAggregator(vec, graph).Fanout(context.Background(), hybridInput())
	require.NoError(t, err)
	assert.Contains(t, degraded, "graph backend unavailable")
	require.Len(t, merged, 1)
	assert.Equal(t, "s1#0000", merged[0].ChunkID)
}

// hangingGraphSearcher 一直阻塞到 ctx 超时，模拟图后端无响应
type hangingGraphSearcher struct{}

func (hangingGraphSearcher) SearchChunks(ctx context.Context, _ *GraphSearchParams) ([]memory.RetrievalCandidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFanoutDegradesOnGraphBackendTimeout(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	vr := NewVectorRetriever(&stubEmbedder{}, vec)
	gr := NewGraphRetriever(
		&stubExtractor{mentions: []memory.RawMention{{RawName: "Alice", Type: memory.EntityTypePerson}}},
		hangingGraphSearcher{}, 2, 0.5,
	)
	agg := NewAggregator(vr, gr, 100*time.Millisecond)

	start := time.Now()
	merged, degraded, _, err := agg.Fanout(context.Background(), hybridInput())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Contains(t, degraded, "graph backend unavailable")
	require.Len(t, merged, 1)
	assert.Equal(t, "s1#0000", merged[0].ChunkID)
	assert.Equal(t, []memory.SourceType{memory.SourceTypeVector}, merged[0].Sources)
	assert.Less(t, elapsed, 500*time.Millisecond, "timeout must be bounded per backend, not per request")
}

func TestFanoutFailsWhenAllBackendsFail(t *testing.T) {
	vec := &stubVectorSearcher{err: errors.New("milvus down")}
	graph := &stubGraphSearcher{err: errors.New("neo4j down")}

	_, _, _, err := newTestAggregator(vec, graph).Fanout(context.Background(), hybridInput())
	assert.ErrorIs(t, err, ErrAllBackendsFailed)
}

func TestFanoutSingleStrategyFailureIsFatal(t *testing.T) {
	vec := &stubVectorSearcher{err: errors.New("milvus down")}
	in := hybridInput()
	in.Strategy = StrategyVector

	_, _, _, err := newTestAggregator(vec, &stubGraphSearcher{}).Fanout(context.Background(), in)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAllBackendsFailed)
}

func TestFanoutEnsembleComputesRRF(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{
		vecCand("s1#0000", 0.9),
		vecCand("s1#0001", 0.8),
	}}
	graph := &stubGraphSearcher{candidates: []memory.RetrievalCandidate{
		graphCand("s1#0000", 0),
	}}

	in := hybridInput()
	in.Strategy = StrategyEnsemble
	merged, _, _, err := newTestAggregator(vec, graph).Fanout(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	// 两侧第一名：1/61 + 1/61；仅向量第二名：1/62
	assert.InDelta(t, 2.0/61.0, merged[0].FusedScore, 1e-9)
	assert.InDelta(t, 1.0/62.0, merged[1].FusedScore, 1e-9)
}

func TestGraphRetrieverFallsBackToTerms(t *testing.T) {
	graph := &stubGraphSearcher{}
	gr := NewGraphRetriever(&stubExtractor{err: errors.New("ner down")}, graph, 2, 0.5)

	_, keys, err := gr.Retrieve(context.Background(), QueryInput{UserID: "u1", Query: "dinner with Bob in Lisbon", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, keys, "fallback path matches by name terms, not normalized keys")
}

func TestGraphRetrieverNoEntitiesNoResults(t *testing.T) {
	gr := NewGraphRetriever(&stubExtractor{}, &stubGraphSearcher{
		candidates: []memory.RetrievalCandidate{graphCand("s1#0000", 0)},
	}, 2, 0.5)

	// 查询里没有任何可用词项（全部短于阈值）
	candidates, _, err := gr.Retrieve(context.Background(), QueryInput{UserID: "u1", Query: "a of to", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestQueryTerms(t *testing.T) {
	terms := queryTerms("Dinner with Bob, in LISBON! bob again")
	assert.Equal(t, []string{"dinner", "with", "bob", "lisbon", "again"}, terms)
}
