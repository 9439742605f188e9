package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai-api/internal/domain/memory"
	apperrors "recall-ai-api/pkg/errors"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeExtractor struct {
	mentions []memory.RawMention
	err      error
}

func (f *fakeExtractor) Extract(context.Context, string, string) ([]memory.RawMention, error) {
	return f.mentions, f.err
}

type fakeVectorStore struct {
	mu       sync.Mutex
	upserts  []*VectorChunk
	failures int
	deleted  []string
}

func (f *fakeVectorStore) EnsureCollection(context.Context) error { return nil }

func (f *fakeVectorStore) UpsertChunks(_ context.Context, chunks []*VectorChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("milvus unavailable")
	}
	f.upserts = append(f.upserts, chunks...)
	return nil
}

func (f *fakeVectorStore) DeleteBySource(_ context.Context, _, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sourceID)
	return nil
}

type fakeGraphStore struct {
	mu       sync.Mutex
	upserts  []*GraphUpsert
	failures int
	err      error
	purged   []string
}

func (f *fakeGraphStore) UpsertChunkGraph(_ context.Context, in *GraphUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("neo4j unavailable")
	}
	f.upserts = append(f.upserts, in)
	return nil
}

func (f *fakeGraphStore) PurgeSource(_ context.Context, _, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, sourceID)
	return nil
}

type fakeStatusStore struct {
	mu       sync.Mutex
	runs     []string
	recorded []memory.ChunkOutcome
}

func (f *fakeStatusStore) StartRun(_ context.Context, _, runID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, runID)
	return nil
}

func (f *fakeStatusStore) RecordChunk(_ context.Context, _, _ string, outcome memory.ChunkOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, outcome)
	return nil
}

func (f *fakeStatusStore) LatestReport(context.Context, string) (*memory.IngestionReport, error) {
	return nil, apperrors.ErrSourceNotFound
}

func (f *fakeStatusStore) PurgeSource(context.Context, string) error { return nil }

func (f *fakeStatusStore) statuses(chunkID string) []memory.ChunkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.ChunkStatus
	for _, o := range f.recorded {
		if o.ChunkID == chunkID {
			out = append(out, o.Status)
		}
	}
	return out
}

func newTestCoordinator(vec *fakeVectorStore, graph *fakeGraphStore, status *fakeStatusStore, extractor EntityExtractor) *Coordinator {
	return NewCoordinator(
		NewChunker(10, 2, 0),
		&fakeEmbedder{},
		extractor,
		vec,
		graph,
		status,
		Options{
			MaxRetries:       2,
			RetryInitial:     time.Millisecond,
			RetryMax:         2 * time.Millisecond,
			RetryMultiplier:  2.0,
			ChunkConcurrency: 2,
		},
	)
}

func TestIngestValidation(t *testing.T) {
	c := newTestCoordinator(&fakeVectorStore{}, &fakeGraphStore{}, &fakeStatusStore{}, &fakeExtractor{})

	_, err := c.Ingest(context.Background(), IngestInput{UserID: "u1", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)

	_, err = c.Ingest(context.Background(), IngestInput{SourceID: "s1", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)
}

func TestIngestHappyPath(t *testing.T) {
	vec := &fakeVectorStore{}
	graph := &fakeGraphStore{}
	status := &fakeStatusStore{}
	extractor := &fakeExtractor{mentions: []memory.RawMention{
		{RawName: "Alice", Type: memory.EntityTypePerson, Position: 0},
		{RawName: "alice", Type: memory.EntityTypePerson, Position: 3},
		{RawName: "Berlin", Type: memory.EntityTypePlace, Position: 5},
	}}
	c := newTestCoordinator(vec, graph, status, extractor)

	report, err := c.Ingest(context.Background(), IngestInput{
		SourceID:   "s1",
		UserID:     "u1",
		Text:       words(25),
		Language:   "en",
		Tags:       []string{"work", "meeting"},
		OccurredAt: 1700000000,
	})
	require.NoError(t, err)

	assert.Equal(t, report.TotalChunks, report.Indexed)
	assert.Zero(t, report.Partial)
	assert.Zero(t, report.Failed)
	assert.True(t, report.Complete())
	require.NotEmpty(t, report.Chunks)
	for i, o := range report.Chunks {
		assert.Equal(t, i, o.OrdinalIndex)
		assert.Equal(t, memory.ChunkStatusIndexed, o.Status)
		assert.True(t, o.VectorDone)
		assert.True(t, o.GraphDone)
	}

	// 向量元数据已消毒：语言非空、标签折叠为标量
	require.NotEmpty(t, vec.upserts)
	meta := vec.upserts[0].Meta
	assert.Equal(t, "u1", meta.UserID)
	assert.Equal(t, "s1", meta.SourceID)
	assert.Equal(t, "work,meeting", meta.Tags)
	assert.Equal(t, int64(1700000000), meta.OccurredAt)

	// 同块内同键提及去重；Alice/alice 归并为一个实体
	require.NotEmpty(t, graph.upserts)
	first := graph.upserts[0]
	assert.Len(t, first.Entities, 2)
	assert.Len(t, first.Mentions, 2)
	keys := map[string]bool{}
	for _, e := range first.Entities {
		keys[e.NormalizedKey] = true
	}
	assert.True(t, keys["person:alice"])
	assert.True(t, keys["place:berlin"])
}

func TestIngestMissingLanguageDefaultsUnd(t *testing.T) {
	vec := &fakeVectorStore{}
	c := newTestCoordinator(vec, &fakeGraphStore{}, &fakeStatusStore{}, &fakeExtractor{})

	_, err := c.Ingest(context.Background(), IngestInput{SourceID: "s1", UserID: "u1", Text: "hello there"})
	require.NoError(t, err)
	require.NotEmpty(t, vec.upserts)
	assert.Equal(t, "und", vec.upserts[0].Meta.Language)
}

func TestIngestPartialThenRecovered(t *testing.T) {
	vec := &fakeVectorStore{}
	graph := &fakeGraphStore{failures: 1} // 首次图写入失败，重试成功
	status := &fakeStatusStore{}
	c := newTestCoordinator(vec, graph, status, &fakeExtractor{})

	report, err := c.Ingest(context.Background(), IngestInput{SourceID: "s1", UserID: "u1", Text: "just one chunk"})
	require.NoError(t, err)

	require.Len(t, report.Chunks, 1)
	out := report.Chunks[0]
	assert.Equal(t, memory.ChunkStatusIndexed, out.Status)
	assert.True(t, out.Attempts > 2, "retry should add attempts, got %d", out.Attempts)

	// 中间态 partially_indexed 先于终态 indexed 持久化
	statuses := status.statuses(out.ChunkID)
	require.Len(t, statuses, 2)
	assert.Equal(t, memory.ChunkStatusPartiallyIndexed, statuses[0])
	assert.Equal(t, memory.ChunkStatusIndexed, statuses[1])
}

func TestIngestGraphExhaustedMarksFailed(t *testing.T) {
	vec := &fakeVectorStore{}
	graph := &fakeGraphStore{err: errors.New("neo4j down")}
	status := &fakeStatusStore{}
	c := newTestCoordinator(vec, graph, status, &fakeExtractor{})

	report, err := c.Ingest(context.Background(), IngestInput{SourceID: "s1", UserID: "u1", Text: "just one chunk"})
	require.NoError(t, err)

	require.Len(t, report.Chunks, 1)
	out := report.Chunks[0]
	assert.Equal(t, memory.ChunkStatusFailed, out.Status)
	assert.True(t, out.VectorDone)
	assert.False(t, out.GraphDone)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Complete())

	// 失败分块不影响向量侧已完成的写入
	assert.NotEmpty(t, vec.upserts)
}

func TestIngestConflictTreatedAsDone(t *testing.T) {
	vec := &fakeVectorStore{}
	graph := &fakeGraphStore{err: apperrors.New(apperrors.CodeConflict, "already exists")}
	c := newTestCoordinator(vec, graph, &fakeStatusStore{}, &fakeExtractor{})

	report, err := c.Ingest(context.Background(), IngestInput{SourceID: "s1", UserID: "u1", Text: "just one chunk"})
	require.NoError(t, err)

	require.Len(t, report.Chunks, 1)
	assert.Equal(t, memory.ChunkStatusIndexed, report.Chunks[0].Status)
}

func TestIngestChunkIDsStableAcrossRuns(t *testing.T) {
	vec := &fakeVectorStore{}
	c := newTestCoordinator(vec, &fakeGraphStore{}, &fakeStatusStore{}, &fakeExtractor{})
	in := IngestInput{SourceID: "s1", UserID: "u1", Text: words(25)}

	r1, err := c.Ingest(context.Background(), in)
	require.NoError(t, err)
	r2, err := c.Ingest(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, len(r1.Chunks), len(r2.Chunks))
	for i := range r1.Chunks {
		assert.Equal(t, r1.Chunks[i].ChunkID, r2.Chunks[i].ChunkID)
	}
	assert.NotEqual(t, r1.RunID, r2.RunID)
}

func TestPurge(t *testing.T) {
	vec := &fakeVectorStore{}
	graph := &fakeGraphStore{}
	c := newTestCoordinator(vec, graph, &fakeStatusStore{}, &fakeExtractor{})

	require.NoError(t, c.Purge(context.Background(), "u1", "s1"))
	assert.Equal(t, []string{"s1"}, vec.deleted)
	assert.Equal(t, []string{"s1"}, graph.purged)

	err := c.Purge(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.AsAppError(err).Code)
}
