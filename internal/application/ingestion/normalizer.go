package ingestion

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"recall-ai-api/internal/domain/memory"
)

// 去变音符变换：NFD 分解后移除组合标记，再 NFC 重组
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName 规范化实体名称表面形式：小写、去变音符、折叠空白、修剪。
// 纯函数；仅处理表面形式差异，不做语义别名合并。
func NormalizeName(raw string) string {
	s, _, err := transform.String(stripMarks, raw)
	if err != nil {
		s = raw
	}
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// NormalizeKey 由类型与规范化名称派生实体唯一键。
// 规范化到同一键的两次提及视为同一实体。
func NormalizeKey(rawName string, entityType memory.EntityType) string {
	return string(entityType) + ":" + NormalizeName(rawName)
}
