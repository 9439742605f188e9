package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai-api/internal/domain/memory"
	apperrors "recall-ai-api/pkg/errors"
)

type fakeCache struct {
	store map[string]*QueryOutput
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string]*QueryOutput)}
}

func (f *fakeCache) GetQuery(_ context.Context, key string) (*QueryOutput, bool) {
	out, ok := f.store[key]
	return out, ok
}

func (f *fakeCache) SetQuery(_ context.Context, key string, out *QueryOutput) {
	f.sets++
	f.store[key] = out
}

func newTestEngine(vec *stubVectorSearcher, graph *stubGraphSearcher, cache QueryCache) *Engine {
	return NewEngine(
		newTestAggregator(vec, graph),
		defaultRanker(),
		cache,
		StrategyHybrid,
	)
}

func TestQueryValidation(t *testing.T) {
	e := newTestEngine(&stubVectorSearcher{}, &stubGraphSearcher{}, nil)

	_, err := e.Query(context.Background(), QueryInput{Query: "hello"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)

	_, err = e.Query(context.Background(), QueryInput{UserID: "u1", Query: "   "})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)
}

func TestQueryDefaultsAndTopKClamp(t *testing.T) {
	candidates := make([]memory.RetrievalCandidate, 0, 60)
	for i := 0; i < 60; i++ {
		candidates = append(candidates, vecCand(memory.ChunkID("s1", i), 0.9-float64(i)*0.001))
	}
	e := newTestEngine(&stubVectorSearcher{candidates: candidates}, &stubGraphSearcher{}, nil)

	out, err := e.Query(context.Background(), QueryInput{UserID: "u1", Query: "everything", TopK: 500})
	require.NoError(t, err)
	assert.Equal(t, StrategyHybrid, out.Strategy)
	assert.Len(t, out.Results, 50, "top_k must be clamped to the maximum")

	out, err = e.Query(context.Background(), QueryInput{UserID: "u1", Query: "everything"})
	require.NoError(t, err)
	assert.Len(t, out.Results, 10, "top_k defaults when unset")
}

func TestQueryResultsOrderedByScore(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{
		vecCand("s1#0001", 0.5),
		vecCand("s1#0000", 0.9),
	}}
	e := newTestEngine(vec, &stubGraphSearcher{}, nil)

	out, err := e.Query(context.Background(), QueryInput{UserID: "u1", Query: "alice", TopK: 10})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "s1#0000", out.Results[0].ChunkID)
	assert.GreaterOrEqual(t, out.Results[0].UnifiedScore, out.Results[1].UnifiedScore)
	require.NotEmpty(t, out.Results[0].Factors)
}

func TestQueryCachesSuccessfulResults(t *testing.T) {
	cache := newFakeCache()
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	e := newTestEngine(vec, &stubGraphSearcher{}, cache)

	in := QueryInput{UserID: "u1", Query: "alice", TopK: 10}
	_, err := e.Query(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	// 第二次命中缓存，后端即便清空也返回相同结果
	vec.candidates = nil
	out, err := e.Query(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 1, cache.sets)
}

func TestQueryDegradedResultsNotCached(t *testing.T) {
	cache := newFakeCache()
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	graph := &stubGraphSearcher{err: assertAnError}
	e := newTestEngine(vec, graph, cache)

	out, err := e.Query(context.Background(), QueryInput{UserID: "u1", Query: "alice", TopK: 10})
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.NotEmpty(t, out.DegradedReason)
	assert.Zero(t, cache.sets, "degraded output must not be cached")
}

func TestQueryAllBackendsDownMapsToBackendUnavailable(t *testing.T) {
	e := newTestEngine(&stubVectorSearcher{err: assertAnError}, &stubGraphSearcher{err: assertAnError}, nil)

	_, err := e.Query(context.Background(), QueryInput{UserID: "u1", Query: "alice"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeBackendUnavailable, apperrors.AsAppError(err).Code)
}

func TestDebugQueryBypassesCacheAndReportsTimings(t *testing.T) {
	cache := newFakeCache()
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	e := newTestEngine(vec, &stubGraphSearcher{}, cache)

	out, err := e.DebugQuery(context.Background(), QueryInput{UserID: "u1", Query: "alice", TopK: 10})
	require.NoError(t, err)
	require.NotNil(t, out.Debug)
	assert.False(t, out.Debug.CacheHit)
	assert.Equal(t, 1, out.Debug.VectorCandidates)
	assert.Zero(t, cache.sets, "debug path must not populate the cache")
}

func TestCacheKeyDiscriminates(t *testing.T) {
	base := QueryInput{UserID: "u1", Query: "alice", Strategy: StrategyHybrid, TopK: 10}

	other := base
	other.UserID = "u2"
	assert.NotEqual(t, cacheKey(base), cacheKey(other))

	other = base
	other.Strategy = StrategyEnsemble
	assert.NotEqual(t, cacheKey(base), cacheKey(other))

	other = base
	other.IncludeShared = true
	assert.NotEqual(t, cacheKey(base), cacheKey(other))

	other = base
	other.Filters = QueryFilters{SourceIDs: []string{"s1"}}
	assert.NotEqual(t, cacheKey(base), cacheKey(other))

	other = base
	other.VectorWeight, other.GraphWeight = 0.8, 0.2
	assert.NotEqual(t, cacheKey(base), cacheKey(other))

	assert.Equal(t, cacheKey(base), cacheKey(base))
}

func TestQueryWeightValidation(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	e := newTestEngine(vec, &stubGraphSearcher{}, nil)

	_, err := e.Query(context.Background(), QueryInput{
		UserID: "u1", Query: "alice", VectorWeight: 0.8, GraphWeight: 0.3,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)

	_, err = e.Query(context.Background(), QueryInput{
		UserID: "u1", Query: "alice", VectorWeight: 0.8,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)

	_, err = e.Query(context.Background(), QueryInput{
		UserID: "u1", Query: "alice", VectorWeight: 0.8, GraphWeight: 0.2,
	})
	require.NoError(t, err)
}

func TestQueryFiltersReachVectorBackend(t *testing.T) {
	vec := &stubVectorSearcher{candidates: []memory.RetrievalCandidate{vecCand("s1#0000", 0.9)}}
	e := newTestEngine(vec, &stubGraphSearcher{}, nil)

	_, err := e.Query(context.Background(), QueryInput{
		UserID: "u1",
		Query:  "alice",
		Filters: QueryFilters{
			SourceIDs:    []string{"s1"},
			Tags:         []string{"work"},
			OccurredFrom: 100,
			OccurredTo:   200,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, vec.lastParams)
	assert.Equal(t, []string{"s1"}, vec.lastParams.SourceIDs)
	assert.Equal(t, []string{"work"}, vec.lastParams.Tags)
	assert.EqualValues(t, 100, vec.lastParams.OccurredFrom)
	assert.EqualValues(t, 200, vec.lastParams.OccurredTo)
}

var assertAnError = errSentinel("backend down")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
