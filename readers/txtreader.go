package readers

import (
	"fmt"
	"os"
	"path/filepath"
)

type TxtFileReader struct{}

func (r *TxtFileReader) CanRead(path string) bool {
	return filepath.Ext(path) == ".txt"
}

func (r *TxtFileReader) Read(path string) (Parsed, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("reading text file: %w", err)
	}

	text := string(buf)
	return Parsed{Text: text, Locators: lineSegments(text)}, nil
}
