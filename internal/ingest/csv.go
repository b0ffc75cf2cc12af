package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// extractCSV flattens tabular data into prose-like lines so that row values
// stay associated with their column names after chunking. The first row is
// treated as the header.
func extractCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var b strings.Builder
	b.WriteString("Columns: ")
	b.WriteString(strings.Join(header, ", "))
	b.WriteByte('\n')

	for _, row := range records[1:] {
		pairs := make([]string, 0, len(row))
		for i, v := range row {
			name := fmt.Sprintf("column %d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = header[i]
			}
			pairs = append(pairs, name+": "+v)
		}
		b.WriteString(strings.Join(pairs, " | "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
