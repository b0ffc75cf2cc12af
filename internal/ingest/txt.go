package ingest

import (
	"bytes"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// extractPlain returns content as a string. UTF-16 input with a BOM is
// decoded; otherwise invalid UTF-8 sequences are replaced with the
// replacement character rather than failing the whole document.
func extractPlain(content []byte) (string, error) {
	if s, ok := decodeUTF16(content); ok {
		return s, nil
	}
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	return string(content), nil
}

func decodeUTF16(content []byte) (string, bool) {
	if len(content) < 2 || len(content)%2 != 0 {
		return "", false
	}
	var bigEndian bool
	switch {
	case bytes.HasPrefix(content, []byte{0xFE, 0xFF}):
		bigEndian = true
	case bytes.HasPrefix(content, []byte{0xFF, 0xFE}):
		bigEndian = false
	default:
		return "", false
	}
	content = content[2:]
	units := make([]uint16, 0, len(content)/2)
	for i := 0; i+1 < len(content); i += 2 {
		if bigEndian {
			units = append(units, uint16(content[i])<<8|uint16(content[i+1]))
		} else {
			units = append(units, uint16(content[i+1])<<8|uint16(content[i]))
		}
	}
	return string(utf16.Decode(units)), true
}
