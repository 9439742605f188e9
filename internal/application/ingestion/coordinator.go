package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"recall-ai-api/internal/domain/memory"
	apperrors "recall-ai-api/pkg/errors"
	"recall-ai-api/pkg/logger"
	"recall-ai-api/pkg/metrics"
)

const (
	defaultMaxRetries       = 3
	defaultChunkConcurrency = 4
)

// Options 协调器可调参数
type Options struct {
	MaxRetries       int
	RetryInitial     time.Duration
	RetryMax         time.Duration
	RetryMultiplier  float64
	ChunkConcurrency int
}

// Coordinator 双写摄取协调器。
// 每个分块的向量写入与图写入独立尝试、独立重试；单块失败不影响其余分块。
// 分块 ID、向量 upsert 与图 MERGE 均幂等，整个 Ingest 可被队列安全重投递。
type Coordinator struct {
	chunker   *Chunker
	embedder  embedding.Embedder
	extractor EntityExtractor
	vector    VectorStore
	graph     GraphStore
	status    StatusStore
	opts      Options
}

// NewCoordinator 创建摄取协调器
func NewCoordinator(
	chunker *Chunker,
	embedder embedding.Embedder,
	extractor EntityExtractor,
	vector VectorStore,
	graph GraphStore,
	status StatusStore,
	opts Options,
) *Coordinator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 10 * time.Second
	}
	if opts.RetryMultiplier <= 1 {
		opts.RetryMultiplier = 2.0
	}
	if opts.ChunkConcurrency <= 0 {
		opts.ChunkConcurrency = defaultChunkConcurrency
	}
	return &Coordinator{
		chunker:   chunker,
		embedder:  embedder,
		extractor: extractor,
		vector:    vector,
		graph:     graph,
		status:    status,
		opts:      opts,
	}
}

// IngestInput 一次来源摄取的输入
type IngestInput struct {
	SourceID   string
	UserID     string
	Text       string
	Language   string
	Tags       []string
	Category   string
	OccurredAt int64
	Shared     bool
}

// Ingest 将一段来源文本切块并双写到向量索引与实体图。
// 返回按序号排列的结构化报告；分块级失败记录在报告中，不会中断整体摄取。
func (c *Coordinator) Ingest(ctx context.Context, in IngestInput) (*memory.IngestionReport, error) {
	if strings.TrimSpace(in.SourceID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "source_id is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "user_id is required")
	}

	started := time.Now()
	runID := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.SourceIDKey, in.SourceID)

	chunks := c.chunker.Chunk(in.SourceID, in.Text, in.Language)
	for i := range chunks {
		chunks[i].Tags = in.Tags
		chunks[i].Category = in.Category
	}

	if c.status != nil {
		if err := c.status.StartRun(ctx, in.SourceID, runID, len(chunks)); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to start ingestion run")
		}
	}

	outcomes := make([]memory.ChunkOutcome, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ChunkConcurrency)
	for i := range chunks {
		g.Go(func() error {
			outcomes[i] = c.ingestChunk(gctx, in, chunks[i], runID)
			return nil
		})
	}
	// worker 内不返回错误；g.Wait 仅用于汇合
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(a, b int) bool {
		return outcomes[a].OrdinalIndex < outcomes[b].OrdinalIndex
	})

	report := &memory.IngestionReport{
		SourceID:    in.SourceID,
		RunID:       runID,
		TotalChunks: len(chunks),
		Chunks:      outcomes,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	for _, o := range outcomes {
		switch o.Status {
		case memory.ChunkStatusIndexed:
			report.Indexed++
		case memory.ChunkStatusPartiallyIndexed:
			report.Partial++
		case memory.ChunkStatusFailed:
			report.Failed++
		}
		metrics.IngestChunksTotal.WithLabelValues(string(o.Status)).Inc()
	}
	metrics.IngestSourceDuration.Observe(time.Since(started).Seconds())

	logger.Info(ctx, "source ingested",
		"run_id", runID,
		"total", report.TotalChunks,
		"indexed", report.Indexed,
		"failed", report.Failed,
	)
	return report, nil
}

// ingestChunk 对单个分块执行双写状态机：
// pending → (一半成功) partially_indexed → 重试 → indexed | failed
func (c *Coordinator) ingestChunk(ctx context.Context, in IngestInput, chunk memory.Chunk, runID string) memory.ChunkOutcome {
	out := memory.ChunkOutcome{
		ChunkID:      chunk.ID,
		OrdinalIndex: chunk.OrdinalIndex,
		Status:       memory.ChunkStatusPending,
	}

	vectorWrite := func() error { return c.writeVector(ctx, in, chunk) }
	graphWrite := func() error { return c.writeGraph(ctx, in, chunk) }

	// 首次尝试：两个后端独立写入
	vecErr := c.attempt(ctx, "vector", &out.Attempts, vectorWrite)
	graphErr := c.attempt(ctx, "graph", &out.Attempts, graphWrite)
	out.VectorDone = vecErr == nil
	out.GraphDone = graphErr == nil

	if out.VectorDone != out.GraphDone {
		out.Status = memory.ChunkStatusPartiallyIndexed
		c.record(ctx, in.SourceID, runID, out)
	}

	// 有界重试失败的一侧
	if vecErr != nil {
		vecErr = c.retry(ctx, "vector", &out.Attempts, vectorWrite)
		out.VectorDone = vecErr == nil
	}
	if graphErr != nil {
		graphErr = c.retry(ctx, "graph", &out.Attempts, graphWrite)
		out.GraphDone = graphErr == nil
	}

	switch {
	case out.VectorDone && out.GraphDone:
		out.Status = memory.ChunkStatusIndexed
		out.Error = ""
	default:
		out.Status = memory.ChunkStatusFailed
		out.Error = firstError(vecErr, graphErr).Error()
		logger.Error(ctx, "chunk ingestion failed", firstError(vecErr, graphErr),
			"chunk_id", chunk.ID,
			"vector_done", out.VectorDone,
			"graph_done", out.GraphDone,
		)
	}
	c.record(ctx, in.SourceID, runID, out)
	return out
}

// attempt 执行一次写入；冲突错误记录后跳过（视为已写入），不计为失败
func (c *Coordinator) attempt(ctx context.Context, backend string, attempts *int, fn func() error) error {
	*attempts++
	err := fn()
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.CodeConflict {
		logger.Warn(ctx, "conflicting write skipped", "backend", backend, "error", err.Error())
		return nil
	}
	return err
}

// retry 以指数退避重试写入，至多 MaxRetries 次
func (c *Coordinator) retry(ctx context.Context, backend string, attempts *int, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInitial
	bo.MaxInterval = c.opts.RetryMax
	bo.Multiplier = c.opts.RetryMultiplier

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		metrics.IngestRetriesTotal.WithLabelValues(backend).Inc()
		if err := c.attempt(ctx, backend, attempts, fn); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.opts.MaxRetries)),
	)
	return err
}

// writeVector 计算嵌入并 upsert 到向量索引
func (c *Coordinator) writeVector(ctx context.Context, in IngestInput, chunk memory.Chunk) error {
	if c.embedder == nil || c.vector == nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "vector backend not configured")
	}
	vecs, err := c.embedder.EmbedStrings(ctx, []string{chunk.Text})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeEmbeddingFailed, "failed to embed chunk")
	}
	if len(vecs) == 0 {
		return apperrors.New(apperrors.CodeEmbeddingFailed, "empty embedding result")
	}
	f32 := make([]float32, 0, len(vecs[0]))
	for _, x := range vecs[0] {
		f32 = append(f32, float32(x))
	}

	return c.vector.UpsertChunks(ctx, []*VectorChunk{{
		ID:     chunk.ID,
		Vector: f32,
		Text:   chunk.Text,
		Meta:   SanitizeMeta(chunk, in.UserID, in.OccurredAt, in.Shared),
	}})
}

// writeGraph 抽取并规范化实体，upsert 实体节点与提及边
func (c *Coordinator) writeGraph(ctx context.Context, in IngestInput, chunk memory.Chunk) error {
	if c.graph == nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "graph backend not configured")
	}

	var mentions []memory.RawMention
	if c.extractor != nil {
		var err error
		mentions, err = c.extractor.Extract(ctx, chunk.Text, chunk.Language)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeExtractionFailed, "entity extraction failed")
		}
	}

	entities, edges := c.resolveMentions(chunk.ID, mentions)
	return c.graph.UpsertChunkGraph(ctx, &GraphUpsert{
		UserID:     in.UserID,
		Chunk:      chunk,
		OccurredAt: in.OccurredAt,
		Shared:     in.Shared,
		Entities:   entities,
		Mentions:   edges,
	})
}

// resolveMentions 规范化原始提及并按 (chunk, key) 去重
func (c *Coordinator) resolveMentions(chunkID string, raw []memory.RawMention) ([]memory.Entity, []memory.Mention) {
	seen := make(map[string]bool, len(raw))
	entities := make([]memory.Entity, 0, len(raw))
	edges := make([]memory.Mention, 0, len(raw))
	for _, m := range raw {
		name := NormalizeName(m.RawName)
		if name == "" {
			continue
		}
		key := NormalizeKey(m.RawName, m.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, memory.Entity{
			NormalizedKey: key,
			DisplayName:   strings.TrimSpace(m.RawName),
			Type:          m.Type,
		})
		edges = append(edges, memory.Mention{
			ChunkID:         chunkID,
			EntityKey:       key,
			PositionInChunk: m.Position,
		})
	}
	return entities, edges
}

// record 持久化分块状态；状态存储不可用时仅记日志，不影响摄取
func (c *Coordinator) record(ctx context.Context, sourceID, runID string, out memory.ChunkOutcome) {
	if c.status == nil {
		return
	}
	if err := c.status.RecordChunk(ctx, sourceID, runID, out); err != nil {
		logger.Warn(ctx, "failed to record chunk status", "chunk_id", out.ChunkID, "error", err.Error())
	}
}

// Report 返回来源最近一次摄取的报告
func (c *Coordinator) Report(ctx context.Context, sourceID string) (*memory.IngestionReport, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "source_id is required")
	}
	if c.status == nil {
		return nil, apperrors.New(apperrors.CodeServiceUnavailable, "status store not configured")
	}
	return c.status.LatestReport(ctx, sourceID)
}

// Purge 删除来源的向量分片、图提及与状态记录
func (c *Coordinator) Purge(ctx context.Context, userID, sourceID string) error {
	if strings.TrimSpace(sourceID) == "" {
		return apperrors.New(apperrors.CodeInvalidParam, "source_id is required")
	}
	if c.vector != nil {
		if err := c.vector.DeleteBySource(ctx, userID, sourceID); err != nil {
			return apperrors.Wrap(err, apperrors.CodeVectorDBError, "failed to purge vector segments")
		}
	}
	if c.graph != nil {
		if err := c.graph.PurgeSource(ctx, userID, sourceID); err != nil {
			return apperrors.Wrap(err, apperrors.CodeGraphDBError, "failed to purge graph mentions")
		}
	}
	if c.status != nil {
		if err := c.status.PurgeSource(ctx, sourceID); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to purge ingestion status")
		}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("unknown ingestion failure")
}
