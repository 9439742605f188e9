package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/domain/memory"
)

// bagEmbedder 词袋嵌入：词映射到固定维度并归一化，词重叠即相似。
// 摄取与查询共用同一实例，保证两侧语义空间一致。
type bagEmbedder struct{}

func (bagEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, 64)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,!?\"'")
			if w == "" {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			vec[h.Sum32()%64]++
		}
		norm := 0.0
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] /= norm
			}
		}
		out[i] = vec
	}
	return out, nil
}

// dictExtractor 词典式实体抽取：按固定名单在文本中查找提及
type dictExtractor struct{}

var knownEntities = []struct {
	name string
	typ  memory.EntityType
}{
	{"maria garcia", memory.EntityTypePerson},
	{"project atlas", memory.EntityTypeProject},
	{"ada", memory.EntityTypePerson},
	{"maria", memory.EntityTypePerson},
	{"redis", memory.EntityTypeTopic},
	{"scalability", memory.EntityTypeTopic},
}

func (dictExtractor) Extract(_ context.Context, text, _ string) ([]memory.RawMention, error) {
	lower := strings.ToLower(text)
	var mentions []memory.RawMention
	claimed := make([]bool, len(lower))
	for _, e := range knownEntities {
		pos := strings.Index(lower, e.name)
		if pos < 0 || claimed[pos] {
			continue
		}
		for i := pos; i < pos+len(e.name); i++ {
			claimed[i] = true
		}
		mentions = append(mentions, memory.RawMention{RawName: e.name, Type: e.typ, Position: pos})
	}
	return mentions, nil
}

type storedChunk struct {
	vector     []float64
	text       string
	userID     string
	shared     bool
	occurredAt int64
	entities   []string
}

// memBackend 同时充当向量与图两套记忆后端的内存实现
type memBackend struct {
	mu          sync.Mutex
	chunks      map[string]*storedChunk
	entityNames map[string]string
}

func newMemBackend() *memBackend {
	return &memBackend{
		chunks:      make(map[string]*storedChunk),
		entityNames: make(map[string]string),
	}
}

func (b *memBackend) EnsureCollection(context.Context) error { return nil }

func (b *memBackend) UpsertChunks(_ context.Context, chunks []*ingestion.VectorChunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range chunks {
		vec := make([]float64, len(c.Vector))
		for i, v := range c.Vector {
			vec[i] = float64(v)
		}
		sc := b.chunk(c.ID)
		sc.vector = vec
		sc.text = c.Text
		sc.userID = c.Meta.UserID
		sc.shared = c.Meta.Shared
		sc.occurredAt = c.Meta.OccurredAt
	}
	return nil
}

func (b *memBackend) UpsertChunkGraph(_ context.Context, in *ingestion.GraphUpsert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := b.chunk(in.Chunk.ID)
	sc.text = in.Chunk.Text
	sc.userID = in.UserID
	sc.shared = in.Shared
	sc.occurredAt = in.OccurredAt
	for _, e := range in.Entities {
		b.entityNames[e.NormalizedKey] = e.DisplayName
	}
	for _, m := range in.Mentions {
		if !contains(sc.entities, m.EntityKey) {
			sc.entities = append(sc.entities, m.EntityKey)
		}
	}
	return nil
}

func (b *memBackend) DeleteBySource(_ context.Context, _, sourceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.chunks {
		if strings.HasPrefix(id, sourceID+"#") {
			delete(b.chunks, id)
		}
	}
	return nil
}

func (b *memBackend) PurgeSource(ctx context.Context, userID, sourceID string) error {
	return b.DeleteBySource(ctx, userID, sourceID)
}

func (b *memBackend) chunk(id string) *storedChunk {
	sc, ok := b.chunks[id]
	if !ok {
		sc = &storedChunk{}
		b.chunks[id] = sc
	}
	return sc
}

func (b *memBackend) visible(sc *storedChunk, userID string, includeShared bool) bool {
	return sc.userID == userID || (sc.shared && includeShared)
}

// SearchChunks 余弦近邻检索（VectorSearcher 实现）
func (b *memBackend) SearchChunks(_ context.Context, params *VectorSearchParams) ([]memory.RetrievalCandidate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []memory.RetrievalCandidate
	for id, sc := range b.chunks {
		if sc.vector == nil || !b.visible(sc, params.UserID, params.IncludeShared) {
			continue
		}
		sim := 0.0
		for i, v := range params.QueryVector {
			if i < len(sc.vector) {
				sim += float64(v) * sc.vector[i]
			}
		}
		out = append(out, memory.RetrievalCandidate{
			ChunkID:          id,
			SourceType:       memory.SourceTypeVector,
			RawScore:         sim,
			CosineSimilarity: sim,
			Text:             sc.text,
			OccurredAt:       sc.occurredAt,
		})
	}
	sort.Slice(out, func(a, c int) bool {
		if out[a].RawScore != out[c].RawScore {
			return out[a].RawScore > out[c].RawScore
		}
		return out[a].ChunkID < out[c].ChunkID
	})
	if params.TopK > 0 && len(out) > params.TopK {
		out = out[:params.TopK]
	}
	return out, nil
}

// graphSearcher 将 memBackend 暴露为 GraphSearcher：
// 直接提及为 0 跳，经共现实体扩展为 1 跳
type graphSearcher struct {
	backend *memBackend
}

func (g graphSearcher) SearchChunks(_ context.Context, params *GraphSearchParams) ([]memory.RetrievalCandidate, error) {
	b := g.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	seeds := make(map[string]bool)
	for _, k := range params.EntityKeys {
		seeds[k] = true
	}
	for _, t := range params.NameTerms {
		for key, name := range b.entityNames {
			if strings.Contains(strings.ToLower(name), t) {
				seeds[key] = true
			}
		}
	}

	byID := make(map[string]*memory.RetrievalCandidate)
	related := make(map[string]bool)
	for id, sc := range b.chunks {
		if !b.visible(sc, params.UserID, params.IncludeShared) {
			continue
		}
		var matched []string
		for _, e := range sc.entities {
			if seeds[e] {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		sort.Strings(matched)
		byID[id] = &memory.RetrievalCandidate{
			ChunkID:         id,
			SourceType:      memory.SourceTypeGraph,
			Text:            sc.text,
			OccurredAt:      sc.occurredAt,
			HopDistance:     0,
			MatchedEntities: matched,
			MentionCount:    int64(len(matched)),
		}
		for _, e := range sc.entities {
			if !seeds[e] {
				related[e] = true
			}
		}
	}

	if params.MaxHops >= 1 {
		for id, sc := range b.chunks {
			if _, ok := byID[id]; ok {
				continue
			}
			if !b.visible(sc, params.UserID, params.IncludeShared) {
				continue
			}
			var matched []string
			for _, e := range sc.entities {
				if related[e] {
					matched = append(matched, e)
				}
			}
			if len(matched) == 0 {
				continue
			}
			sort.Strings(matched)
			byID[id] = &memory.RetrievalCandidate{
				ChunkID:         id,
				SourceType:      memory.SourceTypeGraph,
				Text:            sc.text,
				OccurredAt:      sc.occurredAt,
				HopDistance:     1,
				MatchedEntities: matched,
				MentionCount:    int64(len(matched)),
			}
		}
	}

	out := make([]memory.RetrievalCandidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(a, c int) bool { return out[a].ChunkID < out[c].ChunkID })
	return out, nil
}

type noopStatusStore struct{}

func (noopStatusStore) StartRun(context.Context, string, string, int) error { return nil }
func (noopStatusStore) RecordChunk(context.Context, string, string, memory.ChunkOutcome) error {
	return nil
}
func (noopStatusStore) LatestReport(context.Context, string) (*memory.IngestionReport, error) {
	return &memory.IngestionReport{}, nil
}
func (noopStatusStore) PurgeSource(context.Context, string) error { return nil }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// newScenarioStack 组装摄取协调器与检索引擎，共享同一内存后端
func newScenarioStack(t *testing.T) (*ingestion.Coordinator, *Engine) {
	t.Helper()
	backend := newMemBackend()
	embedder := bagEmbedder{}
	extractor := dictExtractor{}

	coordinator := ingestion.NewCoordinator(
		ingestion.NewChunker(100, 10, 5),
		embedder, extractor, backend, backend, noopStatusStore{},
		ingestion.Options{MaxRetries: 1, RetryInitial: time.Millisecond, RetryMax: time.Millisecond},
	)

	vr := NewVectorRetriever(embedder, backend)
	gr := NewGraphRetriever(extractor, graphSearcher{backend: backend}, 2, 0.5)
	agg := NewAggregator(vr, gr, time.Second)
	engine := NewEngine(agg, defaultRanker(), nil, StrategyHybrid)
	return coordinator, engine
}

func TestHybridQueryFindsDiscussionByTopicAndSpeaker(t *testing.T) {
	coordinator, engine := newScenarioStack(t)
	ctx := context.Background()

	report, err := coordinator.Ingest(ctx, ingestion.IngestInput{
		SourceID: "meeting-1",
		UserID:   "u1",
		Text:     "Ada discusses Redis and scalability with Maria",
	})
	require.NoError(t, err)
	require.True(t, report.Complete())

	out, err := engine.DebugQuery(ctx, QueryInput{
		UserID:   "u1",
		Query:    "What did Ada say about scalability?",
		Strategy: StrategyHybrid,
		TopK:     10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)

	top := out.Results[0]
	assert.Equal(t, memory.ChunkID("meeting-1", 0), top.ChunkID)
	assert.Contains(t, top.SourceTypes, memory.SourceTypeVector)
	assert.Contains(t, out.Debug.QueryEntities, "person:ada")

	var structural memory.RankingFactor
	for _, f := range top.Factors {
		if f.Name == FactorStructural {
			structural = f
		}
	}
	assert.Contains(t, structural.Explanation, "person:ada")
}

func TestGraphQuerySurfacesRelatedEntityChunkAtHopOne(t *testing.T) {
	coordinator, engine := newScenarioStack(t)
	ctx := context.Background()

	_, err := coordinator.Ingest(ctx, ingestion.IngestInput{
		SourceID: "planning",
		UserID:   "u1",
		Text:     "Maria Garcia kicked off Project Atlas with the team",
	})
	require.NoError(t, err)
	_, err = coordinator.Ingest(ctx, ingestion.IngestInput{
		SourceID: "budget",
		UserID:   "u1",
		Text:     "Maria Garcia reviewed the quarterly budget",
	})
	require.NoError(t, err)

	out, err := engine.Query(ctx, QueryInput{
		UserID:   "u1",
		Query:    "Who is connected to Project Atlas",
		Strategy: StrategyGraph,
		TopK:     10,
	})
	require.NoError(t, err)

	var budget *memory.RankedResult
	for i := range out.Results {
		if out.Results[i].ChunkID == memory.ChunkID("budget", 0) {
			budget = &out.Results[i]
		}
	}
	require.NotNil(t, budget, "chunk mentioning only the related person must surface")
	assert.Equal(t, []memory.SourceType{memory.SourceTypeGraph}, budget.SourceTypes)

	var semantic, structural memory.RankingFactor
	for _, f := range budget.Factors {
		switch f.Name {
		case FactorSemantic:
			semantic = f
		case FactorStructural:
			structural = f
		}
	}
	assert.Zero(t, semantic.RawValue)
	assert.Positive(t, structural.Contribution)
	assert.Contains(t, structural.Explanation, "hop 1")

	// 直接命中的分块排在 1 跳扩展之前
	require.Greater(t, len(out.Results), 1)
	assert.Equal(t, memory.ChunkID("planning", 0), out.Results[0].ChunkID)
}

func TestOwnershipIsolationAcrossUsers(t *testing.T) {
	coordinator, engine := newScenarioStack(t)
	ctx := context.Background()

	_, err := coordinator.Ingest(ctx, ingestion.IngestInput{
		SourceID: "private",
		UserID:   "u1",
		Text:     "Ada prototyped the Redis cache eviction policy",
	})
	require.NoError(t, err)
	_, err = coordinator.Ingest(ctx, ingestion.IngestInput{
		SourceID: "handbook",
		UserID:   "u2",
		Shared:   true,
		Text:     "Redis deployment guidelines for every team",
	})
	require.NoError(t, err)

	out, err := engine.Query(ctx, QueryInput{UserID: "u2", Query: "Redis eviction policy", TopK: 10})
	require.NoError(t, err)
	for _, r := range out.Results {
		assert.NotEqual(t, memory.ChunkID("private", 0), r.ChunkID, "another user's private memory must not leak")
	}

	out, err = engine.Query(ctx, QueryInput{UserID: "u1", Query: "Redis deployment guidelines", TopK: 10, IncludeShared: true})
	require.NoError(t, err)
	found := false
	for _, r := range out.Results {
		if r.ChunkID == memory.ChunkID("handbook", 0) {
			found = true
		}
	}
	assert.True(t, found, "shared memory must be visible when requested")
}
