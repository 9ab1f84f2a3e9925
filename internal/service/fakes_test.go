package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pocket_archiver/internal/domain"
)

func makeItems(n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{
			ID:      fmt.Sprintf("%d", 1000+i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Title:   fmt.Sprintf("Item %d", i),
			SavedAt: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		}
	}
	return items
}

// fakeSource serves a fixed list and fails once at the offsets in failAt.
type fakeSource struct {
	items  []domain.Item
	failAt map[int]error
	calls  []int
}

func (f *fakeSource) ID() string { return "fake" }

func (f *fakeSource) FetchPage(_ context.Context, _ domain.Credential, offset, count int) (*domain.Page, error) {
	f.calls = append(f.calls, offset)
	if err, ok := f.failAt[offset]; ok {
		delete(f.failAt, offset)
		return nil, err
	}

	end := offset + count
	if end > len(f.items) {
		end = len(f.items)
	}
	var items []domain.Item
	if offset < end {
		items = append(items, f.items[offset:end]...)
	}
	return &domain.Page{
		Offset:  offset,
		Items:   items,
		HasMore: len(items) > 0 && len(items) == count,
	}, nil
}

type memorySink struct {
	mu      sync.Mutex
	records map[string]domain.Record
	appends int
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[string]domain.Record)}
}

func (m *memorySink) Append(_ context.Context, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	for _, r := range records {
		if existing, ok := m.records[r.Item.ID]; ok && r.Extraction == nil {
			r.Extraction = existing.Extraction
		}
		m.records[r.Item.ID] = r
	}
	return nil
}

func (m *memorySink) Records(context.Context) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memorySink) Has(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (m *memorySink) ids() []string {
	records, _ := m.Records(context.Background())
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Item.ID
	}
	return ids
}

// failingSink reads through to memorySink but rejects every append.
type failingSink struct {
	*memorySink
	err error
}

func (f *failingSink) Append(context.Context, []domain.Record) error {
	return f.err
}

var errDiskFull = errors.New("no space left on device")

// memoryLedger fails the commit whose ordinal is in failCommit.
type memoryLedger struct {
	checkpoint domain.Checkpoint
	commits    int
	failCommit int
}

func (l *memoryLedger) Load(context.Context) (*domain.Checkpoint, error) {
	cp := l.checkpoint
	return &cp, nil
}

func (l *memoryLedger) Commit(_ context.Context, offset int) error {
	l.commits++
	if l.commits == l.failCommit {
		return errDiskFull
	}
	l.checkpoint.NextOffset = offset
	return nil
}

func (l *memoryLedger) MarkComplete(_ context.Context, offset int) error {
	l.checkpoint = domain.Checkpoint{NextOffset: offset, Complete: true}
	return nil
}

func (l *memoryLedger) Reset(context.Context) error {
	l.checkpoint = domain.Checkpoint{}
	return nil
}
