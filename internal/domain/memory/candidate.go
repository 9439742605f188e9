// Package memory 定义双重记忆领域模型
package memory

// SourceType 候选的召回来源
type SourceType string

const (
	SourceTypeVector SourceType = "vector"
	SourceTypeGraph  SourceType = "graph"
)

// RetrievalCandidate 单个召回后端产出的候选（仅存在于内存中，不落盘）
type RetrievalCandidate struct {
	ChunkID    string     `json:"chunk_id"`
	SourceType SourceType `json:"source_type"`
	// RawScore 后端原始得分：vector 为余弦相似度，graph 为结构得分
	RawScore float64 `json:"raw_score"`
	Text     string  `json:"text,omitempty"`
	// OccurredAt 分块来源的发生时间（unix 秒），用于时间新近度
	OccurredAt int64 `json:"occurred_at,omitempty"`

	// vector 侧解释字段
	CosineSimilarity float64 `json:"cosine_similarity,omitempty"`

	// graph 侧解释字段
	HopDistance     int      `json:"hop_distance,omitempty"`
	MatchedEntities []string `json:"matched_entities,omitempty"`
	MentionCount    int64    `json:"mention_count,omitempty"`
}

// MergedCandidate 去重合并后的候选：同一 chunk_id 的召回结果汇聚为一条
type MergedCandidate struct {
	ChunkID    string       `json:"chunk_id"`
	Text       string       `json:"text,omitempty"`
	OccurredAt int64        `json:"occurred_at,omitempty"`
	Sources    []SourceType `json:"sources"`

	Vector *RetrievalCandidate `json:"vector,omitempty"`
	Graph  *RetrievalCandidate `json:"graph,omitempty"`

	// FusedScore ensemble 策略下的 RRF 融合得分；其他策略为 0
	FusedScore float64 `json:"fused_score,omitempty"`
}

// HasSource 候选是否来自指定后端
func (m *MergedCandidate) HasSource(s SourceType) bool {
	for _, src := range m.Sources {
		if src == s {
			return true
		}
	}
	return false
}

// RankingFactor 统一得分中的一个可解释因子
type RankingFactor struct {
	Name         string  `json:"name"`
	RawValue     float64 `json:"raw_value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Explanation  string  `json:"explanation"`
}

// RankedResult 对外可见的去重评分结果
type RankedResult struct {
	ChunkID      string          `json:"chunk_id"`
	Text         string          `json:"text,omitempty"`
	UnifiedScore float64         `json:"unified_score"`
	Factors      []RankingFactor `json:"ranking_factors"`
	SourceTypes  []SourceType    `json:"source_types"`
}
