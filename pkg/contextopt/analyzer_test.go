package contextopt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkContextNormalizesBlocks(t *testing.T) {
	a := NewHeuristicAnalyzer(nil)

	out, err := a.ChunkContext(context.Background(), "first block\nstill first\n\n  second block  \n\n\nthird")
	require.NoError(t, err)
	assert.Equal(t, "first block\nstill first\nsecond block\nthird", out)
}

func TestScoreAndFilterDropsShortLines(t *testing.T) {
	a := NewHeuristicAnalyzer(nil)

	out, err := a.ScoreAndFilter(context.Background(), "meaningful line\nok\n-\nanother real line")
	require.NoError(t, err)
	assert.Equal(t, "meaningful line\nanother real line", out)
}

func TestPrioritizeElementsDropsLowestQuarter(t *testing.T) {
	a := NewHeuristicAnalyzer(map[string]float64{"tests": 0.9, "implementation": 0.7})

	lines := []string{
		"x",
		"the tests cover the dispatcher",
		"implementation of the sliding window",
		"tests and implementation intersect here",
	}
	out, err := a.PrioritizeElements(context.Background(), strings.Join(lines, "\n"))
	require.NoError(t, err)

	kept := strings.Split(out, "\n")
	assert.Len(t, kept, 3)
	assert.NotContains(t, kept, "x")
	// Survivors keep their original relative order.
	assert.Equal(t, "the tests cover the dispatcher", kept[0])
}

func TestPrioritizeElementsKeepsSmallInputs(t *testing.T) {
	a := NewHeuristicAnalyzer(nil)

	in := "one\ntwo\nthree"
	out, err := a.PrioritizeElements(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDefaultPipelineOrder(t *testing.T) {
	a := NewHeuristicAnalyzer(nil)
	pipeline := DefaultPipeline(a)

	require.Len(t, pipeline, 3)
	assert.Equal(t, "semantic-chunking", pipeline[0].Name)
	assert.Equal(t, "relevance-scoring", pipeline[1].Name)
	assert.Equal(t, "priority-retention", pipeline[2].Name)
}
