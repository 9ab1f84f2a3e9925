package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"pocket_archiver/internal/domain"
)

type Source interface {
	ID() string
	FetchPage(ctx context.Context, cred domain.Credential, offset, count int) (*domain.Page, error)
}

// Sink persists records keyed by item id. Appending a record whose id is
// already stored replaces it.
type Sink interface {
	Append(ctx context.Context, records []domain.Record) error
	Records(ctx context.Context) ([]domain.Record, error)
	Has(ctx context.Context, ids []string) (map[string]bool, error)
}

type CheckpointLedger interface {
	Load(ctx context.Context) (*domain.Checkpoint, error)
	Commit(ctx context.Context, offset int) error
	MarkComplete(ctx context.Context, offset int) error
	Reset(ctx context.Context) error
}

type ArticleExtractor interface {
	Extract(ctx context.Context, item domain.Item) domain.ExtractionResult
}

type Publisher interface {
	Publish(ctx context.Context, record *domain.Record) error
	Close() error
}
