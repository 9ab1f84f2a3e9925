package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *FileLedger {
	t.Helper()
	ledger := NewFileLedger(filepath.Join(t.TempDir(), ".pocket_checkpoint"))
	ledger.now = func() time.Time { return time.Date(2025, 5, 22, 12, 0, 0, 0, time.UTC) }
	return ledger
}

func TestFileLedger_MissingFileIsFresh(t *testing.T) {
	ledger := newLedger(t)

	cp, err := ledger.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.NextOffset)
	assert.False(t, cp.Complete)
}

func TestFileLedger_CommitAndLoad(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	require.NoError(t, ledger.Commit(ctx, 30))
	require.NoError(t, ledger.Commit(ctx, 60))

	cp, err := ledger.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, cp.NextOffset)
	assert.False(t, cp.Complete)
	assert.Equal(t, time.Date(2025, 5, 22, 12, 0, 0, 0, time.UTC), cp.UpdatedAt)

	entries, err := os.ReadDir(filepath.Dir(ledger.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileLedger_MarkComplete(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	require.NoError(t, ledger.MarkComplete(ctx, 75))

	cp, err := ledger.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75, cp.NextOffset)
	assert.True(t, cp.Complete)
}

func TestFileLedger_LegacyIntegerFile(t *testing.T) {
	ledger := newLedger(t)
	require.NoError(t, os.WriteFile(ledger.Path(), []byte("90\n"), 0o644))

	cp, err := ledger.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90, cp.NextOffset)
	assert.False(t, cp.Complete)
}

func TestFileLedger_CorruptFile(t *testing.T) {
	ledger := newLedger(t)
	require.NoError(t, os.WriteFile(ledger.Path(), []byte("{not json"), 0o644))

	_, err := ledger.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse checkpoint")
}

func TestFileLedger_Reset(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	require.NoError(t, ledger.MarkComplete(ctx, 10))
	require.NoError(t, ledger.Reset(ctx))
	require.NoError(t, ledger.Reset(ctx))

	cp, err := ledger.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cp.NextOffset)
	assert.False(t, cp.Complete)
}
