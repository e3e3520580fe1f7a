package contextopt

import (
	"context"
	"sort"
	"strings"
)

// HeuristicAnalyzer is the stock Analyzer. It works on line granularity
// with keyword scoring, so the pipeline runs without any external
// knowledge service.
type HeuristicAnalyzer struct {
	// Priorities maps lowercase keywords to weights. Lines mentioning
	// higher-weight keywords survive retention first.
	Priorities map[string]float64
}

func NewHeuristicAnalyzer(priorities map[string]float64) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{Priorities: priorities}
}

// ChunkContext normalizes paragraph blocks into single lines so the
// later stages can score uniform units.
func (a *HeuristicAnalyzer) ChunkContext(ctx context.Context, text string) (string, error) {
	blocks := strings.Split(text, "\n\n")
	lines := make([]string, 0, len(blocks))
	for _, block := range blocks {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ScoreAndFilter drops lines too short to carry meaning.
func (a *HeuristicAnalyzer) ScoreAndFilter(ctx context.Context, text string) (string, error) {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if len(strings.TrimSpace(line)) >= 3 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// PrioritizeElements removes the lowest-scoring quarter of the lines,
// keeping the survivors in their original order.
func (a *HeuristicAnalyzer) PrioritizeElements(ctx context.Context, text string) (string, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 4 {
		return text, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	items := make([]scored, len(lines))
	for i, line := range lines {
		items[i] = scored{idx: i, score: a.scoreLine(line)}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].score < items[j].score })

	drop := len(lines) / 4
	keep := make(map[int]bool, len(lines)-drop)
	for _, it := range items[drop:] {
		keep[it.idx] = true
	}

	kept := make([]string, 0, len(lines)-drop)
	for i, line := range lines {
		if keep[i] {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

func (a *HeuristicAnalyzer) scoreLine(line string) float64 {
	lower := strings.ToLower(line)
	score := float64(len(line)) / 100
	for keyword, weight := range a.Priorities {
		if strings.Contains(lower, keyword) {
			score += weight
		}
	}
	return score
}
