package readers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarkdownFileReader indexes markdown by its heading structure: every byte
// range under a heading is labelled with that section's title.
type MarkdownFileReader struct{}

func (r *MarkdownFileReader) CanRead(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".md" || ext == ".markdown"
}

func (r *MarkdownFileReader) Read(path string) (Parsed, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("reading markdown file: %w", err)
	}

	text := string(buf)
	return Parsed{Text: text, Locators: sectionSegments(text)}, nil
}

func sectionSegments(text string) LocatorIndex {
	var ix LocatorIndex
	label := "preamble"
	start := 0
	offset := 0

	flush := func(end int) {
		if end > start {
			ix = append(ix, Segment{Start: start, End: end, Label: label})
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush(offset)
			start = offset
			label = "section " + strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		offset += len(line)
	}
	flush(len(text))

	return ix
}
