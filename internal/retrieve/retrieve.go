// Package retrieve turns a user question into ranked textbook context.
//
// Retrieval degrades to empty rather than failing: if the embedder or
// the index is unavailable, the caller gets no context and the
// conversation continues on general knowledge alone.
package retrieve

import (
	"context"
	"log/slog"

	"github.com/corvidlabs/lectern/internal/store"
)

// DefaultTopK is how many context items a query retrieves.
const DefaultTopK = 5

// Embedder embeds the query text, satisfied by *embedder.Service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher queries the vector index, satisfied by *store.Store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]store.ScoredPoint, error)
}

// ContextItem is one retrieved piece of textbook content, carrying
// the provenance the answer layer cites.
type ContextItem struct {
	Text   string
	Header string
	DocID  string
	Source string
}

// Retriever retrieves context for questions.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	topK     int
	logger   *slog.Logger
}

// New creates a Retriever. topK <= 0 selects DefaultTopK.
func New(e Embedder, s Searcher, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: e, searcher: s, topK: topK, logger: logger}
}

// Retrieve returns up to topK context items for the query, most
// similar first. Every failure degrades the same way: embedder or
// index outages, timeouts, and context cancellation all yield an
// empty slice, and the conversation continues without context.
func (r *Retriever) Retrieve(ctx context.Context, query string) []ContextItem {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("embedding query failed, answering without context", "error", err)
		return nil
	}

	hits, err := r.searcher.Search(ctx, vector, r.topK)
	if err != nil {
		r.logger.Warn("index search failed, answering without context", "error", err)
		return nil
	}

	items := make([]ContextItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, ContextItem{
			Text:   h.Payload.Text,
			Header: h.Payload.Header,
			DocID:  h.Payload.DocID,
			Source: h.Payload.Source,
		})
	}

	r.logger.Debug("retrieved context", "items", len(items))
	return items
}
