package qa

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gamma-omg/docqa/chunker"
	"github.com/gamma-omg/docqa/docstore"
	"github.com/gamma-omg/docqa/llm"
)

// NoAnswerText is returned verbatim when retrieval finds nothing relevant;
// the generation backend is not called in that case.
const NoAnswerText = "Not found in uploaded documents. Please upload relevant documents first."

const systemPrompt = `You are a helpful assistant that answers questions based ONLY on the provided context.

IMPORTANT RULES:
1. Use ONLY the information from the provided context chunks to answer questions
2. If the answer is not found in the context, respond with: "Not found in uploaded documents"
3. Do not use any external knowledge or information beyond what is provided
4. Always cite your sources by referencing the chunk numbers (e.g., [Source 1], [Source 2])
5. If the context is ambiguous or incomplete, say so clearly
6. Be concise but thorough in your answers`

var sourceMarker = regexp.MustCompile(`\[Source (\d+)\]`)

// Citation points the reader back at the uploaded file and the location the
// parser recorded for the cited chunk.
type Citation struct {
	SourceFile string `json:"source_file"`
	Location   string `json:"location"`
}

// Answer is the assembled result for one question.
type Answer struct {
	Text      string                  `json:"answer"`
	Citations []Citation              `json:"citations"`
	Sources   []docstore.SearchResult `json:"-"`
}

type Assembler struct {
	generator     llm.Generator
	contextBudget int // tokens
}

func NewAssembler(generator llm.Generator, contextBudget int) *Assembler {
	if contextBudget <= 0 {
		contextBudget = 3000
	}

	return &Assembler{generator: generator, contextBudget: contextBudget}
}

// Answer builds a token-bounded context from the retrieved chunks (highest
// score first), asks the generator to answer only from it, and maps the
// [Source N] markers in the output back to file/location citations. With no
// retrieved chunks it short-circuits to NoAnswerText without calling the
// generator.
func (a *Assembler) Answer(ctx context.Context, question string, retrieved []docstore.SearchResult) (Answer, error) {
	if len(retrieved) == 0 {
		return Answer{Text: NoAnswerText}, nil
	}

	included := a.fitToBudget(retrieved)
	prompt := buildPrompt(question, included)

	text, err := a.generator.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	return Answer{
		Text:      text,
		Citations: extractCitations(text, included),
		Sources:   included,
	}, nil
}

// fitToBudget keeps chunks in score order while their token counts stay
// within the context budget. The first chunk is always included so the
// generator sees some context even when a single chunk overflows the budget.
func (a *Assembler) fitToBudget(retrieved []docstore.SearchResult) []docstore.SearchResult {
	included := retrieved[:1]
	used := chunker.CountTokens(retrieved[0].Text)

	for _, res := range retrieved[1:] {
		n := chunker.CountTokens(res.Text)
		if used+n > a.contextBudget {
			break
		}
		included = retrieved[:len(included)+1]
		used += n
	}

	return included
}

func buildPrompt(question string, included []docstore.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Context from uploaded documents:\n")
	for i, res := range included {
		sb.WriteString(fmt.Sprintf("[Source %d] File: %s", i+1, res.File))
		if res.Locator != "" {
			sb.WriteString(" | " + res.Locator)
		}
		sb.WriteString("\n")
		sb.WriteString(res.Text)
		sb.WriteString("\n\n")
	}

	sb.WriteString(fmt.Sprintf("Question: %s\n\n", question))
	sb.WriteString("Answer the question using ONLY the context provided above. Include source references.")

	return sb.String()
}

// extractCitations resolves the [Source N] markers the generator emitted.
// When the output carries no markers, every included source is cited.
func extractCitations(text string, included []docstore.SearchResult) []Citation {
	cited := make([]bool, len(included))
	marked := false
	for _, m := range sourceMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(included) {
			continue
		}
		cited[n-1] = true
		marked = true
	}

	citations := make([]Citation, 0, len(included))
	for i, res := range included {
		if marked && !cited[i] {
			continue
		}
		citations = append(citations, Citation{SourceFile: res.File, Location: res.Locator})
	}

	return citations
}
