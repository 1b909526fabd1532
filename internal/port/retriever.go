package port

import (
	"context"

	"codesearch/internal/domain"
)

// Searcher answers hybrid queries over the indexed content.
type Searcher interface {
	// Search runs a query and returns fused results ordered by rank.
	Search(ctx context.Context, query string, opts domain.QueryOptions) (domain.QueryResponse, error)
}
