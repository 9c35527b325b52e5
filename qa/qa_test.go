package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamma-omg/docqa/docstore"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	panic("not used")
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) Dimension() int { return len(f.vector) }

type fakeStore struct {
	results  []docstore.SearchResult
	err      error
	gotTopK  int
	gotQuery []float32
}

func (f *fakeStore) Query(ctx context.Context, vector []float32, topK int, filter *docstore.Filter) ([]docstore.SearchResult, error) {
	f.gotTopK = topK
	f.gotQuery = vector
	return f.results, f.err
}

type fakeGenerator struct {
	output    string
	err       error
	calls     int
	gotPrompt string
	gotSystem string
}

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	f.gotSystem = system
	f.gotPrompt = prompt
	return f.output, f.err
}

func result(text, file, locator string, score float32) docstore.SearchResult {
	return docstore.SearchResult{Text: text, File: file, Locator: locator, Score: score}
}

func Test_Retrieve(t *testing.T) {
	store := &fakeStore{results: []docstore.SearchResult{
		result("high", "a.txt", "page 1", 0.9),
		result("mid", "a.txt", "page 2", 0.5),
		result("low", "b.txt", "page 1", 0.1),
	}}
	r := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, store, 5, 20, 0)

	res, err := r.Retrieve(context.Background(), "what is it?", 3, 0.4)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "high", res[0].Text)
	assert.Equal(t, "mid", res[1].Text)
	assert.Equal(t, 3, store.gotTopK)
	assert.Equal(t, []float32{1, 0}, store.gotQuery)
}

func Test_Retrieve_Defaults(t *testing.T) {
	store := &fakeStore{}
	r := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, store, 5, 8, 0)

	_, err := r.Retrieve(context.Background(), "q", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, store.gotTopK)

	// Requests above the cap are clamped.
	_, err = r.Retrieve(context.Background(), "q", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, store.gotTopK)
}

func Test_Retrieve_NoThresholdKeepsEverything(t *testing.T) {
	store := &fakeStore{results: []docstore.SearchResult{
		result("negative", "a.txt", "", -0.3),
	}}
	r := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, store, 5, 20, 0)

	res, err := r.Retrieve(context.Background(), "q", 5, 0)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func Test_Retrieve_EmptyQuestion(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, &fakeStore{}, 5, 20, 0)

	_, err := r.Retrieve(context.Background(), "   \n", 5, 0)
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func Test_Retrieve_EmbedderFailure(t *testing.T) {
	boom := errors.New("backend down")
	r := NewRetriever(&fakeEmbedder{err: boom}, &fakeStore{}, 5, 20, 0)

	_, err := r.Retrieve(context.Background(), "q", 5, 0)
	assert.ErrorIs(t, err, boom)
}

func Test_Retrieve_EmptyCollectionIsNotAnError(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, &fakeStore{}, 5, 20, 0.5)

	res, err := r.Retrieve(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func Test_Answer_EmptyRetrievalShortCircuits(t *testing.T) {
	gen := &fakeGenerator{}
	a := NewAssembler(gen, 100)

	ans, err := a.Answer(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, NoAnswerText, ans.Text)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, gen.calls)
}

func Test_Answer_CitationsFollowMarkers(t *testing.T) {
	gen := &fakeGenerator{output: "The value is 42 [Source 2]."}
	a := NewAssembler(gen, 1000)

	ans, err := a.Answer(context.Background(), "question", []docstore.SearchResult{
		result("first chunk", "a.pdf", "page 1", 0.9),
		result("second chunk", "b.pdf", "page 3", 0.8),
	})
	require.NoError(t, err)

	require.Len(t, ans.Citations, 1)
	assert.Equal(t, Citation{SourceFile: "b.pdf", Location: "page 3"}, ans.Citations[0])
	assert.Equal(t, 1, gen.calls)
}

func Test_Answer_NoMarkersCitesAllIncluded(t *testing.T) {
	gen := &fakeGenerator{output: "An answer without explicit markers."}
	a := NewAssembler(gen, 1000)

	ans, err := a.Answer(context.Background(), "question", []docstore.SearchResult{
		result("first", "a.pdf", "page 1", 0.9),
		result("second", "b.md", "section Intro", 0.8),
	})
	require.NoError(t, err)

	assert.Equal(t, []Citation{
		{SourceFile: "a.pdf", Location: "page 1"},
		{SourceFile: "b.md", Location: "section Intro"},
	}, ans.Citations)
}

func Test_Answer_PromptIsGrounded(t *testing.T) {
	gen := &fakeGenerator{output: "ok"}
	a := NewAssembler(gen, 1000)

	_, err := a.Answer(context.Background(), "what is the refund policy?", []docstore.SearchResult{
		result("refunds are issued in 30 days", "policy.pdf", "page 3", 0.9),
	})
	require.NoError(t, err)

	assert.Contains(t, gen.gotSystem, "ONLY")
	assert.Contains(t, gen.gotPrompt, "[Source 1] File: policy.pdf | page 3")
	assert.Contains(t, gen.gotPrompt, "refunds are issued in 30 days")
	assert.Contains(t, gen.gotPrompt, "what is the refund policy?")
}

func Test_Answer_BudgetLimitsContext(t *testing.T) {
	gen := &fakeGenerator{output: "ok"}
	a := NewAssembler(gen, 10)

	long := strings.Repeat("word ", 8)
	ans, err := a.Answer(context.Background(), "q", []docstore.SearchResult{
		result(long, "a.txt", "page 1", 0.9),
		result(long, "b.txt", "page 1", 0.8),
		result(long, "c.txt", "page 1", 0.7),
	})
	require.NoError(t, err)

	// Only the highest scored chunk fits the 10-token budget.
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "a.txt", ans.Sources[0].File)
	assert.NotContains(t, gen.gotPrompt, "b.txt")
}

func Test_Answer_GeneratorFailurePropagates(t *testing.T) {
	boom := errors.New("rate limited")
	a := NewAssembler(&fakeGenerator{err: boom}, 100)

	_, err := a.Answer(context.Background(), "q", []docstore.SearchResult{
		result("chunk", "a.txt", "page 1", 0.9),
	})
	assert.ErrorIs(t, err, boom)
}
