package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("  Hybrid ", "")
	require.NoError(t, err)
	assert.Equal(t, StrategyHybrid, s)

	s, err = ParseStrategy("", StrategyEnsemble)
	require.NoError(t, err)
	assert.Equal(t, StrategyEnsemble, s)

	_, err = ParseStrategy("keyword", "")
	assert.Error(t, err)
}

func TestStrategyBackends(t *testing.T) {
	assert.True(t, StrategyVector.wantsVector())
	assert.False(t, StrategyVector.wantsGraph())
	assert.False(t, StrategyGraph.wantsVector())
	assert.True(t, StrategyGraph.wantsGraph())
	for _, s := range []Strategy{StrategyHybrid, StrategyEnsemble} {
		assert.True(t, s.wantsVector())
		assert.True(t, s.wantsGraph())
		assert.True(t, s.dual())
	}
}
