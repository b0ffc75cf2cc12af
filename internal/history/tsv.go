package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kaiwa/internal/models"
)

// timestampLayout fixes the wire form of timestamps in both log formats.
const timestampLayout = time.RFC3339Nano

// escapeTSV makes a field safe for one-record-per-line storage. Order
// matters: backslashes first, then the characters that would break framing.
func escapeTSV(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return s
}

// unescapeTSV reverses escapeTSV.
func unescapeTSV(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// formatTSV renders a record as one tab-separated line, newline terminated.
func formatTSV(rec *models.HistoryRecord) string {
	fields := []string{
		rec.Timestamp.Format(timestampLayout),
		escapeTSV(string(rec.Role)),
		escapeTSV(rec.SessionID),
		escapeTSV(rec.Content),
	}
	return strings.Join(fields, "\t") + "\n"
}

// parseTSV parses one line previously written by formatTSV.
func parseTSV(line string) (*models.HistoryRecord, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	ts, err := time.Parse(timestampLayout, parts[0])
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", parts[0], err)
	}
	return &models.HistoryRecord{
		Timestamp: ts,
		Role:      models.Role(unescapeTSV(parts[1])),
		SessionID: unescapeTSV(parts[2]),
		Content:   unescapeTSV(parts[3]),
	}, nil
}
