// Package history persists chat messages to two append-only logs, a
// tab-separated text file and a CSV file, kept in lockstep.
package history

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ErrPersistence is returned when a record could not be durably written to
// both logs. After it, neither log contains the record.
var ErrPersistence = errors.New("history persistence failed")

var csvHeader = []string{"timestamp", "role", "session_id", "content"}

// Store appends chat records to both logs under one lock, so records land in
// the same order in both files. A failed CSV append rolls the TSV file back
// by truncating it to its pre-append size.
type Store struct {
	txtPath string
	csvPath string
	mu      sync.Mutex
	logger  *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store writing to the two given paths, creating parent
// directories and the CSV header as needed.
func NewStore(txtPath, csvPath string, opts ...StoreOption) (*Store, error) {
	s := &Store{txtPath: txtPath, csvPath: csvPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range []string{txtPath, csvPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	if err := s.ensureCSVHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCSVHeader() error {
	info, err := os.Stat(s.csvPath)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat CSV log: %w", err)
	}
	f, err := os.OpenFile(s.csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create CSV log: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(csvHeader)
	w.Flush()
	err = w.Error()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	return nil
}

// Append durably records one message in both logs. On any failure the record
// is present in neither log and ErrPersistence is returned.
func (s *Store) Append(rec *models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txtSize, err := s.appendTSV(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.appendCSV(rec); err != nil {
		if terr := os.Truncate(s.txtPath, txtSize); terr != nil {
			s.logger.Error("history logs diverged: TSV rollback failed",
				zap.String("path", s.txtPath), zap.Error(terr))
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// appendTSV appends the record and returns the file size before the append,
// which Append uses as the rollback point.
func (s *Store) appendTSV(rec *models.HistoryRecord) (int64, error) {
	f, err := os.OpenFile(s.txtPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open TSV log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("stat TSV log: %w", err)
	}
	prevSize := info.Size()

	_, err = f.WriteString(formatTSV(rec))
	if serr := f.Sync(); err == nil {
		err = serr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if terr := os.Truncate(s.txtPath, prevSize); terr != nil {
			s.logger.Error("TSV rollback failed", zap.String("path", s.txtPath), zap.Error(terr))
		}
		return 0, fmt.Errorf("append TSV: %w", err)
	}
	return prevSize, nil
}

func (s *Store) appendCSV(rec *models.HistoryRecord) error {
	f, err := os.OpenFile(s.csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open CSV log: %w", err)
	}
	w := csv.NewWriter(f)
	err = w.Write([]string{
		rec.Timestamp.Format(timestampLayout),
		string(rec.Role),
		rec.SessionID,
		rec.Content,
	})
	if err == nil {
		w.Flush()
		err = w.Error()
	}
	if serr := f.Sync(); err == nil {
		err = serr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("append CSV: %w", err)
	}
	return nil
}

// Load returns records for a session in append order, preferring the CSV log
// and falling back to the TSV log when the CSV is missing or unreadable.
// An empty sessionID loads every session.
func (s *Store) Load(sessionID string) ([]*models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, csvErr := s.loadCSV(sessionID)
	if csvErr == nil {
		return recs, nil
	}
	s.logger.Warn("CSV log unreadable, falling back to TSV",
		zap.String("path", s.csvPath), zap.Error(csvErr))
	recs, tsvErr := s.loadTSV(sessionID)
	if tsvErr != nil {
		return nil, fmt.Errorf("%w: CSV: %v; TSV: %v", ErrPersistence, csvErr, tsvErr)
	}
	return recs, nil
}

func (s *Store) loadCSV(sessionID string) ([]*models.HistoryRecord, error) {
	f, err := os.Open(s.csvPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open CSV log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV log: %w", err)
	}

	var recs []*models.HistoryRecord
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == csvHeader[0] {
			continue
		}
		if len(row) != 4 {
			return nil, fmt.Errorf("CSV row %d: expected 4 fields, got %d", i+1, len(row))
		}
		ts, err := time.Parse(timestampLayout, row[0])
		if err != nil {
			return nil, fmt.Errorf("CSV row %d: parse timestamp: %w", i+1, err)
		}
		rec := &models.HistoryRecord{
			Timestamp: ts,
			Role:      models.Role(row[1]),
			SessionID: row[2],
			Content:   row[3],
		}
		if sessionID == "" || rec.SessionID == sessionID {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *Store) loadTSV(sessionID string) ([]*models.HistoryRecord, error) {
	f, err := os.Open(s.txtPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open TSV log: %w", err)
	}
	defer f.Close()

	var recs []*models.HistoryRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := parseTSV(line)
		if err != nil {
			return nil, fmt.Errorf("TSV line %d: %w", lineNo, err)
		}
		if sessionID == "" || rec.SessionID == sessionID {
			recs = append(recs, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read TSV log: %w", err)
	}
	return recs, nil
}

// Verify compares the two logs record by record and returns a description of
// each discrepancy. An empty slice means the logs agree.
func (s *Store) Verify() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	csvRecs, err := s.loadCSV("")
	if err != nil {
		return nil, err
	}
	tsvRecs, err := s.loadTSV("")
	if err != nil {
		return nil, err
	}

	var diffs []string
	if len(csvRecs) != len(tsvRecs) {
		diffs = append(diffs, fmt.Sprintf("record count: CSV has %d, TSV has %d", len(csvRecs), len(tsvRecs)))
	}
	n := len(csvRecs)
	if len(tsvRecs) < n {
		n = len(tsvRecs)
	}
	for i := 0; i < n; i++ {
		c, t := csvRecs[i], tsvRecs[i]
		if !c.Timestamp.Equal(t.Timestamp) || c.Role != t.Role || c.SessionID != t.SessionID || c.Content != t.Content {
			diffs = append(diffs, fmt.Sprintf("record %d differs between CSV and TSV", i))
		}
	}
	return diffs, nil
}
