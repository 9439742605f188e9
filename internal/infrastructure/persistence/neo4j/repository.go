// Package neo4j 提供实体图数据库访问层实现
package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/application/retrieval"
	"recall-ai-api/internal/domain/memory"
)

// Repository 实体图仓储。
// 图模型：(:Chunk)-[:MENTIONS {position}]->(:Entity)，
// Entity 按规范化 key 唯一，mention_count 仅在提及边新建时累加。
type Repository struct {
	client *Client
}

// NewRepository 创建实体图仓储
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

var (
	_ ingestion.GraphStore    = (*Repository)(nil)
	_ retrieval.GraphSearcher = (*Repository)(nil)
)

// EnsureConstraints 确保唯一性约束存在（幂等）
func (r *Repository) EnsureConstraints(ctx context.Context) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("neo4j client not configured")
	}
	ctx, span := tracer.Start(ctx, "neo4j.EnsureConstraints")
	defer span.End()

	session := r.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (ch:Chunk) REQUIRE ch.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_key_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.key IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create constraint: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

// UpsertChunkGraph 在一个写事务中 upsert 分块节点、实体节点与提及边。
// 整体幂等：重复摄取不产生重复边，也不虚增 mention_count。
func (r *Repository) UpsertChunkGraph(ctx context.Context, in *ingestion.GraphUpsert) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("neo4j client not configured")
	}
	if in == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "neo4j.UpsertChunkGraph",
		trace.WithAttributes(
			attribute.String("chunk_id", in.Chunk.ID),
			attribute.Int("entities", len(in.Entities)),
		))
	defer span.End()

	entityRows := make([]map[string]any, 0, len(in.Entities))
	for _, e := range in.Entities {
		entityRows = append(entityRows, map[string]any{
			"key":  e.NormalizedKey,
			"name": e.DisplayName,
			"type": string(e.Type),
		})
	}
	mentionRows := make([]map[string]any, 0, len(in.Mentions))
	for _, m := range in.Mentions {
		mentionRows = append(mentionRows, map[string]any{
			"key":      m.EntityKey,
			"position": m.PositionInChunk,
		})
	}

	session := r.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MERGE (ch:Chunk {id: $id})
SET ch.source_id = $source_id,
    ch.user_id = $user_id,
    ch.shared = $shared,
    ch.ordinal = $ordinal,
    ch.occurred_at = $occurred_at,
    ch.text = $text
`, map[string]any{
			"id":          in.Chunk.ID,
			"source_id":   in.Chunk.SourceID,
			"user_id":     in.UserID,
			"shared":      in.Shared,
			"ordinal":     in.Chunk.OrdinalIndex,
			"occurred_at": in.OccurredAt,
			"text":        in.Chunk.Text,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(entityRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $entities AS e
MERGE (me:Entity {key: e.key})
ON CREATE SET me.name = e.name, me.type = e.type, me.mention_count = 0
`, map[string]any{"entities": entityRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(mentionRows) > 0 {
			// mention_count 只在边首次创建时 +1，重复摄取不累加
			res, err := tx.Run(ctx, `
UNWIND $mentions AS m
MATCH (ch:Chunk {id: $chunk_id})
MATCH (me:Entity {key: m.key})
MERGE (ch)-[rel:MENTIONS]->(me)
ON CREATE SET rel.position = m.position, me.mention_count = me.mention_count + 1
`, map[string]any{"chunk_id": in.Chunk.ID, "mentions": mentionRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert chunk graph: %w", err)
	}
	return nil
}

// SearchChunks 图召回：直接提及为 0 跳，经共现实体扩展为 1..MaxHops 跳。
// 所有权过滤在分块上生效：仅返回本用户或共享的分块。
func (r *Repository) SearchChunks(ctx context.Context, params *retrieval.GraphSearchParams) ([]memory.RetrievalCandidate, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("neo4j client not configured")
	}
	if params == nil || (len(params.EntityKeys) == 0 && len(params.NameTerms) == 0) {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "neo4j.SearchChunks",
		trace.WithAttributes(
			attribute.String("user_id", params.UserID),
			attribute.Int("entity_keys", len(params.EntityKeys)),
			attribute.Int("max_hops", params.MaxHops),
		))
	defer span.End()

	limit := params.TopK
	if limit <= 0 {
		limit = 10
	}

	session := r.client.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	byID := make(map[string]memory.RetrievalCandidate)

	direct, err := r.directMentions(ctx, session, params, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, c := range direct {
		byID[c.ChunkID] = c
	}

	if params.MaxHops > 0 {
		related, err := r.relatedChunks(ctx, session, params, limit)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		// 直接提及优先：同一分块已在 0 跳命中时不降级为多跳
		for _, c := range related {
			if _, ok := byID[c.ChunkID]; !ok {
				byID[c.ChunkID] = c
			}
		}
	}

	candidates := make([]memory.RetrievalCandidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}
	span.SetAttributes(attribute.Int("result_count", len(candidates)))
	return candidates, nil
}

// chunkScopeCypher 分块所有权与范围过滤，两条召回查询共用
const chunkScopeCypher = `
  AND (ch.user_id = $user_id OR (ch.shared = true AND $include_shared))
  AND (size($source_ids) = 0 OR ch.source_id IN $source_ids)
  AND ($occurred_from = 0 OR ch.occurred_at >= $occurred_from)
  AND ($occurred_to = 0 OR ch.occurred_at <= $occurred_to)`

const directMentionsCypher = `
MATCH (ch:Chunk)-[:MENTIONS]->(e:Entity)
WHERE (e.key IN $keys OR any(t IN $terms WHERE toLower(e.name) CONTAINS t))` + chunkScopeCypher + `
WITH ch, collect(DISTINCT e.key) AS matched, sum(e.mention_count) AS mentions
RETURN ch.id AS id, ch.text AS text, ch.occurred_at AS occurred_at,
       matched, mentions
ORDER BY size(matched) DESC, id ASC
LIMIT $limit`

// scopeParams 两条召回查询共用的过滤参数
func scopeParams(params *retrieval.GraphSearchParams, limit int) map[string]any {
	return map[string]any{
		"keys":           stringsAny(params.EntityKeys),
		"terms":          stringsAny(params.NameTerms),
		"user_id":        params.UserID,
		"include_shared": params.IncludeShared,
		"source_ids":     stringsAny(params.SourceIDs),
		"occurred_from":  params.OccurredFrom,
		"occurred_to":    params.OccurredTo,
		"limit":          limit,
	}
}

// directMentions 0 跳：直接提及查询实体的分块
func (r *Repository) directMentions(ctx context.Context, session neo4j.SessionWithContext, params *retrieval.GraphSearchParams, limit int) ([]memory.RetrievalCandidate, error) {
	records, err := r.collect(ctx, session, directMentionsCypher, scopeParams(params, limit))
	if err != nil {
		return nil, fmt.Errorf("direct mention search failed: %w", err)
	}
	return decodeCandidates(records, 0), nil
}

// relatedChunks 1..MaxHops 跳：经共现实体扩展。
// 实体间一跳对应两条 MENTIONS 边（经过中间分块），路径长度恒为偶数。
func (r *Repository) relatedChunks(ctx context.Context, session neo4j.SessionWithContext, params *retrieval.GraphSearchParams, limit int) ([]memory.RetrievalCandidate, error) {
	// 变长模式的跳数上界不可参数化，由配置折算后拼入
	query := fmt.Sprintf(`
MATCH (seed:Entity)
WHERE seed.key IN $keys OR any(t IN $terms WHERE toLower(seed.name) CONTAINS t)
MATCH p = (seed)-[:MENTIONS*2..%d]-(related:Entity)
WHERE related <> seed
WITH related, min(length(p)) / 2 AS hop
MATCH (ch:Chunk)-[:MENTIONS]->(related)
WHERE true`+chunkScopeCypher+`
WITH ch, min(hop) AS hop, collect(DISTINCT related.key) AS matched, sum(related.mention_count) AS mentions
RETURN ch.id AS id, ch.text AS text, ch.occurred_at AS occurred_at,
       hop, matched, mentions
ORDER BY hop ASC, id ASC
LIMIT $limit`, 2*params.MaxHops)

	records, err := r.collect(ctx, session, query, scopeParams(params, limit))
	if err != nil {
		return nil, fmt.Errorf("related entity search failed: %w", err)
	}
	return decodeCandidates(records, -1), nil
}

// PurgeSource 删除来源的分块节点与提及边，并清理不再被提及的孤儿实体
func (r *Repository) PurgeSource(ctx context.Context, userID, sourceID string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("neo4j client not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "neo4j.PurgeSource",
		trace.WithAttributes(attribute.String("source_id", sourceID)))
	defer span.End()

	session := r.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MATCH (ch:Chunk {source_id: $source_id})
WHERE ch.user_id = $user_id OR ch.shared = true
DETACH DELETE ch
`, map[string]any{"source_id": sourceID, "user_id": userID}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		res, err := tx.Run(ctx, `
MATCH (e:Entity)
WHERE NOT (e)<-[:MENTIONS]-()
DELETE e
`, nil)
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to purge source graph: %w", err)
	}
	return nil
}

// collect 在只读事务中执行查询并收集全部记录
func (r *Repository) collect(ctx context.Context, session neo4j.SessionWithContext, query string, params map[string]any) ([]*neo4j.Record, error) {
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

// decodeCandidates 将查询记录转为检索候选。
// fixedHop >= 0 时所有候选取该跳数，否则读取记录中的 hop 字段。
func decodeCandidates(records []*neo4j.Record, fixedHop int) []memory.RetrievalCandidate {
	candidates := make([]memory.RetrievalCandidate, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		c := memory.RetrievalCandidate{
			SourceType:  memory.SourceTypeGraph,
			HopDistance: fixedHop,
		}
		if v, ok := rec.Get("id"); ok {
			c.ChunkID, _ = v.(string)
		}
		if v, ok := rec.Get("text"); ok {
			c.Text, _ = v.(string)
		}
		if v, ok := rec.Get("occurred_at"); ok {
			c.OccurredAt, _ = v.(int64)
		}
		if v, ok := rec.Get("mentions"); ok {
			c.MentionCount, _ = v.(int64)
		}
		if fixedHop < 0 {
			if v, ok := rec.Get("hop"); ok {
				if hop, ok := v.(int64); ok {
					c.HopDistance = int(hop)
				}
			}
		}
		if v, ok := rec.Get("matched"); ok {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					if key, ok := item.(string); ok {
						c.MatchedEntities = append(c.MatchedEntities, key)
					}
				}
			}
		}
		if c.ChunkID == "" {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func stringsAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
