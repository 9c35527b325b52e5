package readers

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CsvFileReader flattens a CSV into one text line per record, labelling the
// header row and numbering data rows from 1.
type CsvFileReader struct{}

func (r *CsvFileReader) CanRead(path string) bool {
	return filepath.Ext(path) == ".csv"
}

func (r *CsvFileReader) Read(path string) (Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("opening csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return Parsed{}, fmt.Errorf("parsing csv file: %w", err)
	}

	var sb strings.Builder
	var ix LocatorIndex
	for i, record := range records {
		start := sb.Len()
		sb.WriteString(strings.Join(record, ", "))
		sb.WriteString("\n")

		label := fmt.Sprintf("row %d", i)
		if i == 0 {
			label = "header"
		}
		ix = append(ix, Segment{Start: start, End: sb.Len(), Label: label})
	}

	return Parsed{Text: sb.String(), Locators: ix}, nil
}
