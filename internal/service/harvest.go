package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pocket_archiver/internal/config"
	"pocket_archiver/internal/domain"
)

// HarvestService walks the remote list page by page, hands every page to
// the sink and only then advances the checkpoint.
type HarvestService struct {
	source   Source
	sink     Sink
	ledger   CheckpointLedger
	logger   *slog.Logger
	pageSize int
	limit    int
}

func NewHarvestService(
	source Source,
	sink Sink,
	ledger CheckpointLedger,
	logger *slog.Logger,
	cfg config.SyncConfig,
	pageSize int,
) *HarvestService {
	if pageSize <= 0 || pageSize > config.MaxPageSize {
		pageSize = config.MaxPageSize
	}
	return &HarvestService{
		source:   source,
		sink:     sink,
		ledger:   ledger,
		logger:   logger.With("source", source.ID()),
		pageSize: pageSize,
		limit:    cfg.Limit,
	}
}

// Reset forgets the stored position so the next Run starts from the first item.
func (s *HarvestService) Reset(ctx context.Context) error {
	if err := s.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	s.logger.Info("checkpoint reset")
	return nil
}

func (s *HarvestService) Run(ctx context.Context, cred domain.Credential) (*domain.HarvestStats, error) {
	startTime := time.Now()

	checkpoint, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	offset := checkpoint.NextOffset
	stats := &domain.HarvestStats{
		Resumed:     offset > 0 || checkpoint.Complete,
		StartOffset: offset,
		EndOffset:   offset,
	}
	defer func() { stats.Duration = time.Since(startTime) }()

	if checkpoint.Complete {
		stats.Complete = true
		s.logger.Info("harvest already complete", "offset", offset)
		return stats, nil
	}

	// Deletions behind the checkpoint shift later items to lower offsets, so
	// a resumed run re-reads the page before the checkpoint.
	rewound := 0
	if offset > 0 && (s.limit <= 0 || offset < s.limit) {
		rewound = min(s.pageSize, offset)
		offset -= rewound
	}

	s.logger.Info("starting harvest",
		"offset", offset,
		"checkpoint", checkpoint.NextOffset,
		"resumed", stats.Resumed,
		"page_size", s.pageSize,
		"limit", s.limit,
	)

	for {
		if s.limit > 0 && offset >= s.limit {
			return stats, s.finish(ctx, stats, offset, true)
		}

		count := s.pageSize
		if s.limit > 0 && s.limit-offset < count {
			count = s.limit - offset
		}

		page, err := s.source.FetchPage(ctx, cred, offset, count)
		if err != nil {
			s.logger.Error("harvest failed", "offset", offset, "error", err)
			return stats, fmt.Errorf("harvest: %w", err)
		}
		stats.Pages++

		items := page.Items
		if s.limit > 0 && offset+len(items) > s.limit {
			items = items[:s.limit-offset]
		}

		if len(items) > 0 {
			duplicates, err := s.persist(ctx, offset, items)
			if err != nil {
				return stats, err
			}
			if rewound > 0 {
				if missing := len(items) - duplicates; missing > 0 {
					s.logger.Warn("list shifted since last run, recovered items behind checkpoint",
						"checkpoint", checkpoint.NextOffset,
						"recovered", missing,
					)
					stats.Recovered += missing
				}
			}
			offset += len(items)
			stats.Items += len(items)
			stats.Duplicates += duplicates
			stats.EndOffset = offset

			s.logger.Info("page persisted",
				"offset", offset,
				"items", len(items),
				"duplicates", duplicates,
			)
		}

		rewound = 0

		if s.limit > 0 && offset >= s.limit {
			return stats, s.finish(ctx, stats, offset, true)
		}
		if !page.HasMore || len(page.Items) == 0 {
			return stats, s.finish(ctx, stats, offset, false)
		}
	}
}

// persist appends one page and commits the offset after it. A crash between
// the two re-delivers the page on the next run, which the sink absorbs.
func (s *HarvestService) persist(ctx context.Context, offset int, items []domain.Item) (int, error) {
	ids := make([]string, len(items))
	records := make([]domain.Record, len(items))
	for i, item := range items {
		ids[i] = item.ID
		records[i] = domain.Record{Position: offset + i, Item: item}
	}

	existing, err := s.sink.Has(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("check existing items: %w", err)
	}

	if err := s.sink.Append(ctx, records); err != nil {
		return 0, fmt.Errorf("append page at offset %d: %w", offset, err)
	}

	next := offset + len(items)
	if err := s.ledger.Commit(ctx, next); err != nil {
		return 0, fmt.Errorf("commit checkpoint %d: %w", next, err)
	}

	return len(existing), nil
}

func (s *HarvestService) finish(ctx context.Context, stats *domain.HarvestStats, offset int, limitHit bool) error {
	if err := s.ledger.MarkComplete(ctx, offset); err != nil {
		return fmt.Errorf("mark checkpoint complete: %w", err)
	}
	stats.Complete = true
	stats.LimitHit = limitHit

	s.logger.Info("harvest completed",
		"items", stats.Items,
		"pages", stats.Pages,
		"duplicates", stats.Duplicates,
		"recovered", stats.Recovered,
		"offset", offset,
		"limit_hit", limitHit,
	)
	return nil
}
