// Package memory 定义双重记忆领域模型
package memory

// EntityType 实体类型
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypePlace        EntityType = "place"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeTopic        EntityType = "topic"
	EntityTypeProject      EntityType = "project"
)

// Entity 规范化后的真实世界指称（人物/地点/组织/主题/项目）。
// NormalizedKey 唯一；MentionCount 只增不减，由图存储侧原子累加。
type Entity struct {
	NormalizedKey string     `json:"normalized_key"`
	DisplayName   string     `json:"display_name"`
	Type          EntityType `json:"type"`
	MentionCount  int64      `json:"mention_count"`
}

// Mention 分块到实体的引用边。
// (chunk_id, entity_key) 至多一条（幂等 upsert，而非多重集）。
type Mention struct {
	ChunkID         string `json:"chunk_id"`
	EntityKey       string `json:"entity_key"`
	PositionInChunk int    `json:"position_in_chunk,omitempty"`
}

// RawMention 抽取服务返回的未规范化实体提及
type RawMention struct {
	RawName  string     `json:"raw_name"`
	Type     EntityType `json:"type"`
	Position int        `json:"position"`
}
