package readers

import (
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

// PdfFileReader extracts text with docconv and indexes pages using the
// form-feed page breaks pdftotext emits.
type PdfFileReader struct{}

func (r *PdfFileReader) CanRead(path string) bool {
	return filepath.Ext(path) == ".pdf"
}

func (r *PdfFileReader) Read(path string) (Parsed, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("failed to read pdf document: %w", err)
	}

	return Parsed{Text: res.Body, Locators: pageSegments(res.Body)}, nil
}

func pageSegments(text string) LocatorIndex {
	var ix LocatorIndex
	start := 0
	page := 1
	for {
		i := strings.IndexByte(text[start:], '\f')
		if i < 0 {
			break
		}
		ix = append(ix, Segment{Start: start, End: start + i + 1, Label: fmt.Sprintf("page %d", page)})
		start += i + 1
		page++
	}
	if start < len(text) || len(ix) == 0 {
		ix = append(ix, Segment{Start: start, End: len(text), Label: fmt.Sprintf("page %d", page)})
	}

	return ix
}
