// Package search embeds queries and serves ranked retrieval results.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Service is the read path over the knowledge base. Failures degrade to
// empty results rather than propagating to an interactive caller.
type Service struct {
	provider   embeddings.Provider
	store      vectorstore.Store
	collection string
	logger     *zap.Logger
}

// New creates a search service over the given collection.
func New(provider embeddings.Provider, store vectorstore.Store, collection string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:   provider,
		store:      store,
		collection: collection,
		logger:     logger,
	}
}

// Search embeds the query and returns up to limit results ordered by
// similarity descending. Embedding or store failures return an empty list.
func (s *Service) Search(ctx context.Context, query string, limit int) []vectorstore.SearchResult {
	if query == "" || limit <= 0 {
		return []vectorstore.SearchResult{}
	}

	vector, err := s.provider.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed", zap.Error(err))
		return []vectorstore.SearchResult{}
	}

	results, err := s.store.Search(ctx, s.collection, vector, limit, nil)
	if err != nil {
		s.logger.Warn("search failed",
			zap.String("collection", s.collection),
			zap.Error(err),
		)
		return []vectorstore.SearchResult{}
	}
	return results
}

// SearchSource restricts results to chunks from one source file.
func (s *Service) SearchSource(ctx context.Context, query, source string, limit int) []vectorstore.SearchResult {
	if query == "" || limit <= 0 {
		return []vectorstore.SearchResult{}
	}

	vector, err := s.provider.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed", zap.Error(err))
		return []vectorstore.SearchResult{}
	}

	results, err := s.store.Search(ctx, s.collection, vector, limit, map[string]any{"source": source})
	if err != nil {
		s.logger.Warn("search failed",
			zap.String("collection", s.collection),
			zap.Error(err),
		)
		return []vectorstore.SearchResult{}
	}
	return results
}
