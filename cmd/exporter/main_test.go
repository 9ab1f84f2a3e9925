package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocket_archiver/internal/domain"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNotifyShutdown_SignalCancelsContext(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	ctx, cancel := notifyShutdown(context.Background(), logger)
	defer cancel()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after SIGINT")
	}
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "received shutdown signal")
	}, time.Second, 10*time.Millisecond)
}

func TestNotifyShutdown_ReleaseDoesNotReportSignal(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	ctx, cancel := notifyShutdown(context.Background(), logger)
	cancel()

	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, out.String(), "received shutdown signal")
}

func TestPrintHarvest(t *testing.T) {
	tests := []struct {
		name  string
		stats domain.HarvestStats
		want  []string
	}{
		{
			name:  "already complete",
			stats: domain.HarvestStats{Resumed: true, Complete: true, EndOffset: 120},
			want:  []string{"Library already harvested (120 items)"},
		},
		{
			name:  "limit",
			stats: domain.HarvestStats{Items: 40, EndOffset: 40, LimitHit: true, Complete: true},
			want:  []string{"Harvested 40 items (limit reached at 40)"},
		},
		{
			name:  "recovered after shift",
			stats: domain.HarvestStats{Resumed: true, Items: 44, Pages: 2, StartOffset: 60, EndOffset: 74, Duplicates: 29, Recovered: 1, Complete: true},
			want: []string{
				"Harvested 44 items in 2 pages (offset 60 -> 74, 29 already stored)",
				"Recovered 1 items that moved behind the checkpoint",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printHarvest(&buf, &tt.stats)
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}
