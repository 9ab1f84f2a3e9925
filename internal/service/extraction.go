package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pocket_archiver/internal/config"
	"pocket_archiver/internal/domain"
)

// ExtractionService fills in reader text for every harvested record that has
// none yet. Items are processed one at a time in list order and a failed
// item is recorded, not retried. Results reach the sink in batches, so an
// interrupt loses at most the items extracted since the last flush.
type ExtractionService struct {
	sink      Sink
	extractor ArticleExtractor
	publisher Publisher
	logger    *slog.Logger
	batchSize int
}

// NewExtractionService builds the service. publisher may be nil; a
// non-positive batchSize uses the list page size.
func NewExtractionService(sink Sink, extractor ArticleExtractor, publisher Publisher, logger *slog.Logger, batchSize int) *ExtractionService {
	if batchSize <= 0 {
		batchSize = config.MaxPageSize
	}
	return &ExtractionService{
		sink:      sink,
		extractor: extractor,
		publisher: publisher,
		logger:    logger.With("component", "extraction"),
		batchSize: batchSize,
	}
}

func (s *ExtractionService) Run(ctx context.Context) (*domain.ExtractionReport, error) {
	startTime := time.Now()
	report := &domain.ExtractionReport{}
	defer func() { report.Duration = time.Since(startTime) }()

	records, err := s.sink.Records(ctx)
	if err != nil {
		return report, fmt.Errorf("load records: %w", err)
	}

	var pending []domain.Record
	for _, r := range records {
		if r.Pending() {
			pending = append(pending, r)
		} else {
			report.Skipped++
		}
	}

	s.logger.Info("starting extraction",
		"pending", len(pending),
		"skipped", report.Skipped,
		"batch_size", s.batchSize,
	)

	batch := make([]domain.Record, 0, s.batchSize)
	for i := range pending {
		record := pending[i]
		result := s.extractor.Extract(ctx, record.Item)

		// an interrupted download is not the item's fault
		if err := ctx.Err(); err != nil {
			s.logger.Warn("extraction interrupted", "attempted", report.Attempted, "remaining", len(pending)-i)
			// results already in hand are kept but not published
			if ferr := s.store(context.WithoutCancel(ctx), batch); ferr != nil {
				s.logger.Error("failed to store extracted batch", "items", len(batch), "error", ferr)
			}
			return report, err
		}

		report.Attempted++
		record.Extraction = &result

		if result.OK() {
			report.Succeeded++
			s.logger.Debug("extracted", "item_id", record.Item.ID, "title", result.Title)
		} else {
			failure := &domain.ExtractionFailure{URL: record.Item.SourceURL(), Reason: result.Reason}
			report.RecordFailure(failure.Error())
			s.logger.Warn("extraction failed", "item_id", record.Item.ID, "url", failure.URL, "error", failure.Reason)
		}

		batch = append(batch, record)
		if len(batch) < s.batchSize {
			continue
		}
		if err := s.flush(ctx, batch, report); err != nil {
			return report, err
		}
		batch = batch[:0]
	}

	if err := s.flush(ctx, batch, report); err != nil {
		return report, err
	}

	s.logger.Info("extraction completed",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"published", report.Published,
		"duration", time.Since(startTime),
	)

	return report, nil
}

// flush stores a batch and then publishes its successful records.
func (s *ExtractionService) flush(ctx context.Context, batch []domain.Record, report *domain.ExtractionReport) error {
	if err := s.store(ctx, batch); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}

	for i := range batch {
		record := &batch[i]
		if !record.Extraction.OK() {
			continue
		}
		if err := s.publisher.Publish(ctx, record); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error("publish failed", "item_id", record.Item.ID, "error", err)
			continue
		}
		report.Published++
	}
	return nil
}

func (s *ExtractionService) store(ctx context.Context, batch []domain.Record) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.sink.Append(ctx, batch); err != nil {
		return fmt.Errorf("store extraction batch starting at item %s: %w", batch[0].Item.ID, err)
	}
	return nil
}
