package ingestion

import (
	"strings"
	"time"
	"unicode"

	"recall-ai-api/internal/domain/memory"
)

const (
	defaultChunkSizeWords         = 150
	defaultChunkOverlapWords      = 25
	defaultSentenceLookaheadWords = 15
)

// Chunker 将转写文本切分为带重叠窗口的定长分块。
// 给定相同文本与配置，输出完全确定。
type Chunker struct {
	sizeWords      int
	overlapWords   int
	lookaheadWords int
}

// NewChunker 创建分块器
func NewChunker(sizeWords, overlapWords, lookaheadWords int) *Chunker {
	if sizeWords <= 0 {
		sizeWords = defaultChunkSizeWords
	}
	if overlapWords < 0 {
		overlapWords = 0
	}
	if overlapWords >= sizeWords {
		overlapWords = sizeWords / 2
	}
	if lookaheadWords < 0 {
		lookaheadWords = defaultSentenceLookaheadWords
	}
	return &Chunker{
		sizeWords:      sizeWords,
		overlapWords:   overlapWords,
		lookaheadWords: lookaheadWords,
	}
}

// wordSpan 原文中一个词的字节区间
type wordSpan struct {
	start int
	end   int
}

// Chunk 切分来源文本。空白文本返回零个分块；短于目标词数的文本返回一个分块。
func (c *Chunker) Chunk(sourceID, text, language string) []memory.Chunk {
	words := scanWords(text)
	if len(words) == 0 {
		return nil
	}

	now := time.Now()
	step := c.sizeWords - c.overlapWords
	if step <= 0 {
		step = c.sizeWords
	}

	chunks := make([]memory.Chunk, 0, len(words)/step+1)
	ordinal := 0
	start := 0
	for start < len(words) {
		end := start + c.sizeWords
		if end > len(words) {
			end = len(words)
		} else if end < len(words) {
			// 在探查窗口内向前寻找句终止符，使边界落在句尾
			end = c.snapToSentence(text, words, end)
			// 余下词数不超过重叠宽度时并入当前分块，
			// 避免产生几乎全是重叠内容的尾块
			if len(words)-end <= c.overlapWords {
				end = len(words)
			}
		}

		span := text[words[start].start:words[end-1].end]
		chunks = append(chunks, memory.Chunk{
			ID:           memory.ChunkID(sourceID, ordinal),
			SourceID:     sourceID,
			OrdinalIndex: ordinal,
			Text:         span,
			StartOffset:  words[start].start,
			EndOffset:    words[end-1].end,
			Language:     language,
			CreatedAt:    now,
		})
		ordinal++

		if end >= len(words) {
			break
		}
		next := end - c.overlapWords
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// snapToSentence 若 [end, end+lookahead) 内存在句终止词，返回其后一位作为新边界
func (c *Chunker) snapToSentence(text string, words []wordSpan, end int) int {
	limit := end + c.lookaheadWords
	if limit > len(words) {
		limit = len(words)
	}
	for i := end - 1; i < limit; i++ {
		w := text[words[i].start:words[i].end]
		if endsSentence(w) {
			return i + 1
		}
	}
	return end
}

// endsSentence 词尾是否为句终止符（允许尾随引号/括号）
func endsSentence(w string) bool {
	trimmed := strings.TrimRight(w, `"')]}」』”`)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	r := []rune(trimmed)
	switch r[len(r)-1] {
	case '。', '！', '？':
		return true
	}
	return false
}

// scanWords 扫描文本中的词及其字节区间
func scanWords(text string) []wordSpan {
	var spans []wordSpan
	inWord := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				spans = append(spans, wordSpan{start: start, end: i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		spans = append(spans, wordSpan{start: start, end: len(text)})
	}
	return spans
}
