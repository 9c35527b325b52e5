// Package chunker splits normalized document text into overlapping
// token-bounded windows.
package chunker

import (
	"errors"
	"fmt"
	"unicode"
)

var ErrConfiguration = errors.New("invalid chunker configuration")

// Token is a contiguous non-whitespace run with its byte offsets in the
// source text.
type Token struct {
	Start int
	End   int
}

// Chunk is one emitted window. Text is the source text sliced from the first
// token's start to the last token's end, so byte offsets remain valid for
// locator lookups.
type Chunk struct {
	Index       int
	Text        string
	StartToken  int
	EndToken    int // exclusive
	StartOffset int
	EndOffset   int
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, size), got %d", ErrConfiguration, overlap)
	}

	return &Chunker{size: size, overlap: overlap}, nil
}

// Tokenize splits text into whitespace-delimited tokens with byte offsets.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Start: start, End: len(text)})
	}

	return tokens
}

// CountTokens reports how many tokens Chunk would see in text.
func CountTokens(text string) int {
	return len(Tokenize(text))
}

// Chunk emits the ordered window sequence over text. Empty input yields no
// chunks; input shorter than the window yields exactly one chunk. The final
// window may be shorter than size and is still emitted.
func (c *Chunker) Chunk(text string) []Chunk {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]Chunk, 0, len(tokens)/step+1)
	pos := 0

	for {
		end := min(pos+c.size, len(tokens))
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        text[tokens[pos].Start:tokens[end-1].End],
			StartToken:  pos,
			EndToken:    end,
			StartOffset: tokens[pos].Start,
			EndOffset:   tokens[end-1].End,
		})
		if end >= len(tokens) {
			break
		}

		pos += step
	}

	return chunks
}
