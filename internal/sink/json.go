package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"pocket_archiver/internal/domain"
	"pocket_archiver/internal/fsutil"
)

// JSONFile keeps every record in one aggregated JSON array. The whole file is
// rewritten atomically on each append.
type JSONFile struct {
	mu      sync.Mutex
	path    string
	records map[string]domain.Record
}

// OpenJSONFile loads the records already written to path, if any.
func OpenJSONFile(path string) (*JSONFile, error) {
	s := &JSONFile{
		path:    path,
		records: make(map[string]domain.Record),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var existing []domain.Record
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil, fmt.Errorf("parse output file: %w", err)
	}
	for _, r := range existing {
		s.records[r.Item.ID] = r
	}

	return s, nil
}

func (s *JSONFile) Path() string {
	return s.path
}

func (s *JSONFile) Append(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.Record, len(s.records)+len(records))
	for id, r := range s.records {
		next[id] = r
	}
	for _, r := range records {
		existing, found := next[r.Item.ID]
		next[r.Item.ID] = merge(existing, found, r)
	}

	if err := s.flush(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *JSONFile) Records(ctx context.Context) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sorted(s.records), nil
}

func (s *JSONFile) Has(ctx context.Context, ids []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[string]bool)
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (s *JSONFile) sorted(records map[string]domain.Record) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sortByPosition(out)
	return out
}

func (s *JSONFile) flush(records map[string]domain.Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s.sorted(records)); err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
