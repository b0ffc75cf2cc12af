package ingest

import (
	"fmt"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ExtractText converts raw document bytes into plain text using the extractor
// for the given format. Parse failures are wrapped in ErrExtraction.
func ExtractText(format models.Format, content []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case models.FormatPDF:
		text, err = extractPDF(content)
	case models.FormatDOCX:
		text, err = extractDOCX(content)
	case models.FormatTXT:
		text, err = extractPlain(content)
	case models.FormatCSV:
		text, err = extractCSV(content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return text, nil
}
