package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
)

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// zipMagic is the local file header signature of a ZIP archive (OOXML container).
var zipMagic = []byte("PK\x03\x04")

var extFormats = map[string]models.Format{
	".pdf":  models.FormatPDF,
	".docx": models.FormatDOCX,
	".txt":  models.FormatTXT,
	".csv":  models.FormatCSV,
}

// DetectFormat determines a document's format from its content where the
// content carries a recognizable signature, falling back to the filename
// extension. Content sniffing takes precedence so that a mislabeled file
// (say, a PDF saved as report.txt) is still handled by the right extractor.
func DetectFormat(filename string, content []byte) (models.Format, error) {
	if f, ok := sniffFormat(content); ok {
		return f, nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extFormats[ext]; ok {
		return f, nil
	}
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, filename)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// sniffFormat recognizes formats with unambiguous signatures. Plain text and
// CSV have none, so they always fall through to extension matching.
func sniffFormat(content []byte) (models.Format, bool) {
	if bytes.HasPrefix(content, pdfMagic) {
		return models.FormatPDF, true
	}
	if bytes.HasPrefix(content, zipMagic) && zipHasWordDocument(content) {
		return models.FormatDOCX, true
	}
	return "", false
}

// zipHasWordDocument reports whether the ZIP contains a word/ part, which
// distinguishes DOCX from other OOXML containers like XLSX.
func zipHasWordDocument(content []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "word/") {
			return true
		}
	}
	return false
}
