package ingest

import "errors"

var (
	// ErrUnsupportedFormat is returned when a file's format is not one of
	// PDF, DOCX, TXT, or CSV.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrExtraction is returned when a supported file cannot be parsed.
	ErrExtraction = errors.New("text extraction failed")

	// ErrEmptyDocument is returned when extraction yields no usable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrFileTooLarge is returned when an upload exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)
