package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kaiwa/internal/models"
)

func TestEscapeTSVRoundTrip(t *testing.T) {
	tests := []string{
		"plain text",
		"tabs\there",
		"newline\nhere",
		"carriage\rreturn",
		`backslash \ and \t literal`,
		"mixed\t\n\\end",
		"",
	}
	for _, tt := range tests {
		escaped := escapeTSV(tt)
		if strings.ContainsAny(escaped, "\t\n\r") {
			t.Errorf("escapeTSV(%q) = %q still has framing characters", tt, escaped)
		}
		if got := unescapeTSV(escaped); got != tt {
			t.Errorf("round trip of %q = %q", tt, got)
		}
	}
}

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	txtPath := filepath.Join(dir, "history.txt")
	csvPath := filepath.Join(dir, "history.csv")
	s, err := NewStore(txtPath, csvPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, txtPath, csvPath
}

func rec(sessionID, role, content string, ts time.Time) *models.HistoryRecord {
	return &models.HistoryRecord{Timestamp: ts, Role: models.Role(role), SessionID: sessionID, Content: content}
}

func TestStore_AppendAndLoad(t *testing.T) {
	s, _, _ := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)

	records := []*models.HistoryRecord{
		rec("s1", "user", "what is in the report?", base),
		rec("s1", "assistant", "the report covers\nrevenue, with a\ttable", base.Add(time.Second)),
		rec("s2", "user", "unrelated session", base.Add(2*time.Second)),
	}
	for _, r := range records {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[1].Content != records[1].Content {
		t.Errorf("content = %q, want %q", got[1].Content, records[1].Content)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, base)
	}

	all, err := s.Load("")
	if err != nil {
		t.Fatalf("Load all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d records, want 3", len(all))
	}
}

func TestStore_BothFormatsAgree(t *testing.T) {
	s, _, _ := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = s.Append(rec("s1", "user", "multi\nline, with \"quotes\" and ,commas", base))
	_ = s.Append(rec("s1", "assistant", "reply", base.Add(time.Second)))

	fromCSV, err := s.loadCSV("")
	if err != nil {
		t.Fatalf("loadCSV: %v", err)
	}
	fromTSV, err := s.loadTSV("")
	if err != nil {
		t.Fatalf("loadTSV: %v", err)
	}
	if len(fromCSV) != len(fromTSV) {
		t.Fatalf("CSV has %d records, TSV has %d", len(fromCSV), len(fromTSV))
	}
	for i := range fromCSV {
		c, v := fromCSV[i], fromTSV[i]
		if c.Content != v.Content || c.Role != v.Role || c.SessionID != v.SessionID || !c.Timestamp.Equal(v.Timestamp) {
			t.Errorf("record %d differs: CSV %+v, TSV %+v", i, c, v)
		}
	}

	diffs, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(diffs) != 0 {
		t.Errorf("Verify found discrepancies: %v", diffs)
	}
}

func TestStore_FailedAppendLeavesTSVUntouched(t *testing.T) {
	s, txtPath, csvPath := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := s.Append(rec("s1", "user", "first", base)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, err := os.ReadFile(txtPath)
	if err != nil {
		t.Fatalf("read TSV: %v", err)
	}

	// Make the CSV append fail by replacing the file with a directory.
	if err := os.Remove(csvPath); err != nil {
		t.Fatalf("remove CSV: %v", err)
	}
	if err := os.Mkdir(csvPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err = s.Append(rec("s1", "user", "second", base.Add(time.Second)))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("error = %v, want ErrPersistence", err)
	}

	after, err := os.ReadFile(txtPath)
	if err != nil {
		t.Fatalf("read TSV: %v", err)
	}
	if string(after) != string(before) {
		t.Errorf("TSV changed after failed append:\nbefore: %q\nafter:  %q", before, after)
	}
}

func TestStore_LoadFallsBackToTSV(t *testing.T) {
	s, _, csvPath := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = s.Append(rec("s1", "user", "kept in both logs", base))

	// Corrupt the CSV beyond parsing; TSV should still serve reads.
	if err := os.WriteFile(csvPath, []byte("timestamp,role\n\"unclosed"), 0o644); err != nil {
		t.Fatalf("corrupt CSV: %v", err)
	}

	got, err := s.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Content != "kept in both logs" {
		t.Fatalf("fallback load = %+v", got)
	}
}

func TestStore_CSVHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	txtPath := filepath.Join(dir, "history.txt")
	csvPath := filepath.Join(dir, "history.csv")

	s1, err := NewStore(txtPath, csvPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_ = s1.Append(rec("s1", "user", "hello", time.Now().UTC()))

	// Reopening must not write a second header.
	if _, err := NewStore(txtPath, csvPath); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read CSV: %v", err)
	}
	if n := strings.Count(string(data), "timestamp,role,session_id,content"); n != 1 {
		t.Errorf("header appears %d times", n)
	}
}
