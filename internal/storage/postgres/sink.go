package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"pocket_archiver/internal/domain"
)

// Sink stores records in the items, tags and item_tags tables. Each Append
// is one transaction, so a page is either fully stored or not at all.
type Sink struct {
	items *ItemStore
	tags  *TagStore
	tx    *TransactionManager
}

func NewSink(db *sqlx.DB) *Sink {
	return &Sink{
		items: NewItemStore(db),
		tags:  NewTagStore(db),
		tx:    NewTransactionManager(db),
	}
}

func (s *Sink) Append(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for i := range records {
			rec := &records[i]

			rowID, err := s.items.Upsert(txCtx, rec)
			if err != nil {
				return fmt.Errorf("upsert item %s: %w", rec.Item.ID, err)
			}

			// harvest deliveries carry tags; extraction updates leave them alone
			if rec.Extraction != nil && len(rec.Item.Tags) == 0 {
				continue
			}

			tags := append([]domain.Tag(nil), rec.Item.Tags...)
			if err := s.tags.UpsertBatch(txCtx, tags); err != nil {
				return fmt.Errorf("upsert tags: %w", err)
			}

			tagIDs := make([]int64, len(tags))
			for j, tag := range tags {
				tagIDs[j] = tag.ID
			}
			if err := s.tags.LinkToItem(txCtx, rowID, tagIDs); err != nil {
				return fmt.Errorf("link tags: %w", err)
			}
		}
		return nil
	})
}

func (s *Sink) Records(ctx context.Context) ([]domain.Record, error) {
	rowIDs, records, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	tags, err := s.tags.GetByItemIDs(ctx, rowIDs)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	for i, id := range rowIDs {
		records[i].Item.Tags = tags[id]
	}
	return records, nil
}

func (s *Sink) Has(ctx context.Context, ids []string) (map[string]bool, error) {
	found, err := s.items.GetExisting(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check existing items: %w", err)
	}
	return found, nil
}
