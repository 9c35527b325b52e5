// Package embedding maps text to fixed-dimension vectors through a
// chroma-go embedding function (OpenAI, Gemini). It owns no storage.
package embedding

import (
	"context"
	"errors"
	"fmt"

	chromaembed "github.com/amikos-tech/chroma-go/pkg/embeddings"
)

// ErrUnavailable marks a failed call to the embedding backend. Callers must
// fail the whole batch rather than substitute partial results.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder is the engine-facing contract: order-preserving batch embedding
// plus a single-query path.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Func is the slice of chroma-go's EmbeddingFunction the service calls;
// narrowed so tests can fake it.
type Func interface {
	EmbedDocuments(ctx context.Context, texts []string) ([]chromaembed.Embedding, error)
	EmbedQuery(ctx context.Context, text string) (chromaembed.Embedding, error)
}

var _ Func = (chromaembed.EmbeddingFunction)(nil)

type Service struct {
	ef        Func
	dim       int
	batchSize int
}

// NewService wraps a chroma-go embedding function. dim is the model's fixed
// vector dimension; batchSize caps how many texts go to the backend per
// request.
func NewService(ef Func, dim, batchSize int) (*Service, error) {
	if ef == nil {
		return nil, errors.New("embedding function is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	return &Service{ef: ef, dim: dim, batchSize: batchSize}, nil
}

func (s *Service) Dimension() int {
	return s.dim
}

// EmbedTexts embeds texts in request-size batches, preserving order. Any
// backend failure fails the whole call; no partial result is returned.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		batch, err := s.ef.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: embedding batch [%d:%d]: %v", ErrUnavailable, start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: backend returned %d embeddings for %d texts", ErrUnavailable, len(batch), end-start)
		}

		for i, e := range batch {
			v := e.ContentAsFloat32()
			if len(v) != s.dim {
				return nil, fmt.Errorf("embedding dimension %d for text %d, expected %d", len(v), start+i, s.dim)
			}
			vectors = append(vectors, v)
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e, err := s.ef.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}

	v := e.ContentAsFloat32()
	if len(v) != s.dim {
		return nil, fmt.Errorf("query embedding dimension %d, expected %d", len(v), s.dim)
	}

	return v, nil
}
