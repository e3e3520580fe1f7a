package contextopt

import "context"

// Analyzer is the external content-analysis collaborator supplying the
// three stock compression stages.
type Analyzer interface {
	// ChunkContext splits text along semantic boundaries.
	ChunkContext(ctx context.Context, text string) (string, error)
	// ScoreAndFilter drops low-relevance chunks.
	ScoreAndFilter(ctx context.Context, text string) (string, error)
	// PrioritizeElements retains the highest-priority elements.
	PrioritizeElements(ctx context.Context, text string) (string, error)
}

// DefaultPipeline returns the stock strategy chain in priority order:
// semantic chunking, then relevance scoring, then priority retention.
func DefaultPipeline(a Analyzer) []Strategy {
	return []Strategy{
		{Name: "semantic-chunking", Apply: a.ChunkContext},
		{Name: "relevance-scoring", Apply: a.ScoreAndFilter},
		{Name: "priority-retention", Apply: a.PrioritizeElements},
	}
}
