package ingestion

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%03d", i)
	}
	return strings.Join(out, " ")
}

func TestChunkerEmptyText(t *testing.T) {
	c := NewChunker(150, 25, 15)

	assert.Nil(t, c.Chunk("src-1", "", "en"))
	assert.Nil(t, c.Chunk("src-1", "   \n\t  ", "en"))
}

func TestChunkerShortTextSingleChunk(t *testing.T) {
	c := NewChunker(150, 25, 15)
	text := "short transcript with only a few words"

	chunks := c.Chunk("src-1", text, "en")

	require.Len(t, chunks, 1)
	assert.Equal(t, "src-1#0000", chunks[0].ID)
	assert.Equal(t, 0, chunks[0].OrdinalIndex)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(text), chunks[0].EndOffset)
	assert.Equal(t, "en", chunks[0].Language)
}

func TestChunkerOverlapWindows(t *testing.T) {
	c := NewChunker(10, 3, 0)
	text := words(25)

	chunks := c.Chunk("src-1", text, "en")

	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.OrdinalIndex)
		assert.Equal(t, fmt.Sprintf("src-1#%04d", i), ch.ID)
		assert.Equal(t, "src-1", ch.SourceID)
	}

	// 相邻分块共享 overlap 个词
	first := strings.Fields(chunks[0].Text)
	second := strings.Fields(chunks[1].Text)
	assert.Equal(t, first[len(first)-3:], second[:3])

	// 偏移量可还原原文片段
	for _, ch := range chunks {
		assert.Equal(t, ch.Text, text[ch.StartOffset:ch.EndOffset])
	}
	assert.Equal(t, len(text), chunks[2].EndOffset)
}

func TestChunkerFoldsShortTailIntoFinalChunk(t *testing.T) {
	// 25 词、窗口 10、重叠 3：若不折叠，第 4 块只会新增 1 个词
	c := NewChunker(10, 3, 0)
	text := words(25)

	chunks := c.Chunk("src-1", text, "en")

	require.Len(t, chunks, 3)
	last := strings.Fields(chunks[2].Text)
	assert.Len(t, last, 11, "tail remainder folds into the final window")
	assert.Equal(t, "w014", last[0])
	assert.Equal(t, "w024", last[len(last)-1])

	// 折叠不影响相邻分块的重叠宽度
	second := strings.Fields(chunks[1].Text)
	assert.Equal(t, second[len(second)-3:], last[:3])
}

func TestChunkerDeterministic(t *testing.T) {
	c := NewChunker(10, 3, 5)
	text := words(60)

	a := c.Chunk("src-1", text, "en")
	b := c.Chunk("src-1", text, "en")

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Equal(t, a[i].Text, b[i].Text)
		assert.Equal(t, a[i].StartOffset, b[i].StartOffset)
		assert.Equal(t, a[i].EndOffset, b[i].EndOffset)
	}
}

func TestChunkerSnapsToSentenceBoundary(t *testing.T) {
	// 第 11 个词以句号结尾，落在探查窗口内
	parts := make([]string, 20)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%02d", i)
	}
	parts[10] = "done."
	text := strings.Join(parts, " ")

	c := NewChunker(10, 0, 5)
	chunks := c.Chunk("src-1", text, "en")

	require.True(t, len(chunks) >= 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "done."),
		"first chunk should end at the sentence terminator, got %q", chunks[0].Text)
}

func TestChunkerCJKTerminators(t *testing.T) {
	assert.True(t, endsSentence("好的。"))
	assert.True(t, endsSentence("真的！"))
	assert.True(t, endsSentence(`question?"`))
	assert.False(t, endsSentence("trailing,"))
	assert.False(t, endsSentence(`""`))
}

func TestChunkerDegenerateConfig(t *testing.T) {
	// overlap >= size 时收敛为 size/2，切分仍会推进并终止
	c := NewChunker(10, 10, 0)
	chunks := c.Chunk("src-1", words(30), "en")

	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.OrdinalIndex)
	}
}
