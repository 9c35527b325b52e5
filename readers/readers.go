// Package readers extracts plain text from uploaded files. Every reader
// produces the same contract: the extracted text plus a locator index that
// maps byte offsets back to a human-readable location (page, line, row,
// section) for citations.
package readers

import (
	"fmt"
	"sort"
)

// Segment labels the half-open byte range [Start, End) of the extracted
// text with a source location.
type Segment struct {
	Start int
	End   int
	Label string
}

// LocatorIndex is an ordered, non-overlapping list of segments covering the
// extracted text.
type LocatorIndex []Segment

// Locate returns the label of the segment containing offset, or the last
// label when offset points past the indexed range.
func (ix LocatorIndex) Locate(offset int) string {
	if len(ix) == 0 {
		return ""
	}

	i := sort.Search(len(ix), func(i int) bool { return ix[i].End > offset })
	if i == len(ix) {
		return ix[len(ix)-1].Label
	}

	return ix[i].Label
}

// Parsed is the common output of every file reader.
type Parsed struct {
	Text     string
	Locators LocatorIndex
}

// FileReader converts one file type to the Parsed contract.
type FileReader interface {
	CanRead(path string) bool
	Read(path string) (Parsed, error)
}

// lineSegments indexes text line by line, labelling each "line N".
func lineSegments(text string) LocatorIndex {
	var ix LocatorIndex
	line := 1
	start := 0
	for i := range len(text) {
		if text[i] == '\n' {
			ix = append(ix, Segment{Start: start, End: i + 1, Label: fmt.Sprintf("line %d", line)})
			start = i + 1
			line++
		}
	}
	if start < len(text) {
		ix = append(ix, Segment{Start: start, End: len(text), Label: fmt.Sprintf("line %d", line)})
	}

	return ix
}
