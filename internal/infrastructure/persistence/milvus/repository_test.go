package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildScalarFilterEmpty(t *testing.T) {
	assert.Empty(t, buildScalarFilter(&SearchParams{UserID: "u1", TopK: 10}))
}

func TestBuildScalarFilterClauses(t *testing.T) {
	expr := buildScalarFilter(&SearchParams{
		SourceIDs:    []string{"s1", "s2"},
		Tags:         []string{"work", "meeting"},
		OccurredFrom: 100,
		OccurredTo:   200,
	})

	assert.Equal(t,
		`source_id in ["s1", "s2"] and (tags like "%work%" or tags like "%meeting%") and occurred_at >= 100 and occurred_at <= 200`,
		expr)
}

func TestBuildScalarFilterEscapesValues(t *testing.T) {
	expr := buildScalarFilter(&SearchParams{
		SourceIDs: []string{`s1" or true`},
	})
	assert.NotContains(t, expr, `""`)
	assert.Equal(t, `source_id in ["s1 or true"]`, expr)
}
