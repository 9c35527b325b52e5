package readers

import (
	"fmt"
	"path/filepath"

	"code.sajari.com/docconv/v2"
)

// UniversalFileReader is the docconv-backed fallback for formats without a
// dedicated reader. Locations degrade to line numbers of the extracted
// text.
type UniversalFileReader struct{}

func (r *UniversalFileReader) CanRead(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".docx" || ext == ".odt" || ext == ".rtf" || ext == ".xml" || ext == ".html"
}

func (r *UniversalFileReader) Read(path string) (Parsed, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("failed to read document: %w", err)
	}

	return Parsed{Text: res.Body, Locators: lineSegments(res.Body)}, nil
}
