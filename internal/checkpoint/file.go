package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"pocket_archiver/internal/domain"
	"pocket_archiver/internal/fsutil"
)

// FileLedger keeps the checkpoint in a small JSON file that is replaced
// atomically on every update.
type FileLedger struct {
	path string
	now  func() time.Time
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path, now: time.Now}
}

func (l *FileLedger) Path() string {
	return l.path
}

// Load returns a fresh checkpoint when the file does not exist. A bare integer
// offset, as written by older exporters, is accepted too.
func (l *FileLedger) Load(ctx context.Context) (*domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &domain.Checkpoint{}, nil
	}

	if offset, err := strconv.Atoi(string(data)); err == nil {
		if offset < 0 {
			return nil, fmt.Errorf("parse checkpoint: negative offset %d", offset)
		}
		return &domain.Checkpoint{NextOffset: offset}, nil
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.NextOffset < 0 {
		return nil, fmt.Errorf("parse checkpoint: negative offset %d", cp.NextOffset)
	}
	return &cp, nil
}

// Commit records offset as the first position not yet persisted.
func (l *FileLedger) Commit(ctx context.Context, offset int) error {
	return l.write(ctx, domain.Checkpoint{NextOffset: offset})
}

// MarkComplete records that retrieval finished at offset.
func (l *FileLedger) MarkComplete(ctx context.Context, offset int) error {
	return l.write(ctx, domain.Checkpoint{NextOffset: offset, Complete: true})
}

// Reset forgets all progress.
func (l *FileLedger) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (l *FileLedger) write(ctx context.Context, cp domain.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp.UpdatedAt = l.now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := fsutil.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
