package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_New(t *testing.T) {
	var cases = []struct {
		size    int
		overlap int
		ok      bool
	}{
		{size: 512, overlap: 50, ok: true},
		{size: 1, overlap: 0, ok: true},
		{size: 0, overlap: 0, ok: false},
		{size: -3, overlap: 0, ok: false},
		{size: 4, overlap: 4, ok: false},
		{size: 4, overlap: 9, ok: false},
		{size: 4, overlap: -1, ok: false},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			_, err := New(c.size, c.overlap)
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfiguration)
			}
		})
	}
}

func Test_Chunk(t *testing.T) {
	var cases = []struct {
		input   string
		size    int
		overlap int
		output  []string
	}{
		{input: "a b c d e f g", size: 3, overlap: 0, output: []string{"a b c", "d e f", "g"}},
		{input: "a b c d e f g", size: 3, overlap: 1, output: []string{"a b c", "c d e", "e f g"}},
		{input: "a b c d e f g", size: 9, overlap: 5, output: []string{"a b c d e f g"}},
		{input: "", size: 9, overlap: 5, output: nil},
		{input: "   \n\t ", size: 9, overlap: 5, output: nil},
		{input: "one", size: 4, overlap: 1, output: []string{"one"}},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			ch, err := New(c.size, c.overlap)
			require.NoError(t, err)

			var texts []string
			for _, chunk := range ch.Chunk(c.input) {
				texts = append(texts, chunk.Text)
			}
			assert.Equal(t, c.output, texts)
		})
	}
}

func Test_Chunk_Coverage(t *testing.T) {
	var words []string
	for i := range 137 {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	text := strings.Join(words, " ")

	for _, cfg := range []struct{ size, overlap int }{
		{size: 10, overlap: 0},
		{size: 10, overlap: 3},
		{size: 7, overlap: 6},
		{size: 200, overlap: 20},
	} {
		t.Run(fmt.Sprintf("size_%d_overlap_%d", cfg.size, cfg.overlap), func(t *testing.T) {
			ch, err := New(cfg.size, cfg.overlap)
			require.NoError(t, err)

			chunks := ch.Chunk(text)
			require.NotEmpty(t, chunks)

			// Windows must tile the token sequence start to end with only
			// the configured overlap repeated and the tail included.
			assert.Equal(t, 0, chunks[0].StartToken)
			assert.Equal(t, len(words), chunks[len(chunks)-1].EndToken)
			for i := 1; i < len(chunks); i++ {
				assert.Equal(t, chunks[i-1].EndToken, chunks[i].StartToken+cfg.overlap)
			}

			// Reconstruct the token sequence from the windows.
			var rebuilt []string
			for i, c := range chunks {
				fields := strings.Fields(c.Text)
				if i > 0 {
					fields = fields[cfg.overlap:]
				}
				rebuilt = append(rebuilt, fields...)
			}
			assert.Equal(t, words, rebuilt)
		})
	}
}

func Test_Chunk_Deterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	ch, err := New(16, 4)
	require.NoError(t, err)

	first := ch.Chunk(text)
	for range 5 {
		assert.Equal(t, first, ch.Chunk(text))
	}
}

func Test_Chunk_OffsetsSliceSource(t *testing.T) {
	text := "alpha  beta\ngamma\tdelta epsilon"
	ch, err := New(2, 0)
	require.NoError(t, err)

	for _, c := range ch.Chunk(text) {
		assert.Equal(t, text[c.StartOffset:c.EndOffset], c.Text)
	}
}

func Test_Tokenize(t *testing.T) {
	tokens := Tokenize("  hi\nthere ")
	require.Len(t, tokens, 2)
	assert.Equal(t, Token{Start: 2, End: 4}, tokens[0])
	assert.Equal(t, Token{Start: 5, End: 10}, tokens[1])

	assert.Empty(t, Tokenize(""))
	assert.Equal(t, 2, CountTokens("hi there"))
}
