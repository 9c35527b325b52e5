// Package qa turns a user question into a grounded, cited answer: it
// retrieves the most similar chunks from the store and assembles them into a
// context the generation backend may not step outside of.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/gamma-omg/docqa/docstore"
	"github.com/gamma-omg/docqa/embedding"
)

type vectorStore interface {
	Query(ctx context.Context, vector []float32, topK int, filter *docstore.Filter) ([]docstore.SearchResult, error)
}

type Retriever struct {
	embedder    embedding.Embedder
	store       vectorStore
	defaultTopK int
	maxTopK     int
	minScore    float32
}

func NewRetriever(embedder embedding.Embedder, store vectorStore, defaultTopK, maxTopK int, minScore float32) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if maxTopK < defaultTopK {
		maxTopK = defaultTopK
	}

	return &Retriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
		maxTopK:     maxTopK,
		minScore:    minScore,
	}
}

// Retrieve embeds the question, queries the store for topK candidates and
// drops any below minScore. Zero topK falls back to the configured default;
// zero minScore falls back to the configured threshold, and a threshold of
// zero disables filtering. An empty result is a valid "insufficient
// knowledge" signal, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int, minScore float32) ([]docstore.SearchResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question must not be empty", docstore.ErrInvalidArgument)
	}

	if topK <= 0 {
		topK = r.defaultTopK
	}
	if topK > r.maxTopK {
		topK = r.maxTopK
	}
	if minScore <= 0 {
		minScore = r.minScore
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := r.store.Query(ctx, vector, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("querying store: %w", err)
	}

	if minScore <= 0 {
		return results, nil
	}

	filtered := results[:0]
	for _, res := range results {
		if res.Score >= minScore {
			filtered = append(filtered, res)
		}
	}

	return filtered, nil
}
