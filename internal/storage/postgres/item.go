package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"pocket_archiver/internal/domain"
)

type ItemStore struct {
	db *sqlx.DB
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{db: db}
}

type itemRow struct {
	RowID int64 `db:"id"`
	domain.Item
	Position         int            `db:"position"`
	ExtractionStatus sql.NullString `db:"extraction_status"`
	ArticleTitle     sql.NullString `db:"article_title"`
	ContentHTML      sql.NullString `db:"content_html"`
	ContentText      sql.NullString `db:"content_text"`
	ExtractionError  sql.NullString `db:"extraction_error"`
	ExtractedAt      sql.NullTime   `db:"extracted_at"`
}

func (r itemRow) record() domain.Record {
	rec := domain.Record{Position: r.Position, Item: r.Item}
	rec.Item.SavedAt = rec.Item.SavedAt.UTC()
	if r.ExtractionStatus.Valid {
		rec.Extraction = &domain.ExtractionResult{
			Status:      domain.ExtractionStatus(r.ExtractionStatus.String),
			Title:       r.ArticleTitle.String,
			HTML:        r.ContentHTML.String,
			Text:        r.ContentText.String,
			Reason:      r.ExtractionError.String,
			ExtractedAt: r.ExtractedAt.Time.UTC(),
		}
	}
	return rec
}

// Upsert stores the record keyed by its item id and returns the row id.
// Metadata always follows the latest delivery; a record without an
// extraction leaves the stored extraction in place.
func (s *ItemStore) Upsert(ctx context.Context, rec *domain.Record) (int64, error) {
	query := `
		INSERT INTO items (
			item_id, position, url, given_url, title, excerpt, word_count, saved_at,
			extraction_status, article_title, content_html, content_text,
			extraction_error, extracted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (item_id) DO UPDATE SET
			position = EXCLUDED.position,
			url = EXCLUDED.url,
			given_url = EXCLUDED.given_url,
			title = EXCLUDED.title,
			excerpt = EXCLUDED.excerpt,
			word_count = EXCLUDED.word_count,
			saved_at = EXCLUDED.saved_at,
			extraction_status = COALESCE(EXCLUDED.extraction_status, items.extraction_status),
			article_title = CASE WHEN EXCLUDED.extraction_status IS NULL THEN items.article_title ELSE EXCLUDED.article_title END,
			content_html = CASE WHEN EXCLUDED.extraction_status IS NULL THEN items.content_html ELSE EXCLUDED.content_html END,
			content_text = CASE WHEN EXCLUDED.extraction_status IS NULL THEN items.content_text ELSE EXCLUDED.content_text END,
			extraction_error = CASE WHEN EXCLUDED.extraction_status IS NULL THEN items.extraction_error ELSE EXCLUDED.extraction_error END,
			extracted_at = CASE WHEN EXCLUDED.extraction_status IS NULL THEN items.extracted_at ELSE EXCLUDED.extracted_at END,
			updated_at = NOW()
		RETURNING id`

	var (
		status, title, html, text, reason sql.NullString
		extractedAt                       sql.NullTime
	)
	if e := rec.Extraction; e != nil {
		status = sql.NullString{String: string(e.Status), Valid: true}
		title = sql.NullString{String: e.Title, Valid: true}
		html = sql.NullString{String: e.HTML, Valid: true}
		text = sql.NullString{String: e.Text, Valid: true}
		reason = sql.NullString{String: e.Reason, Valid: true}
		extractedAt = sql.NullTime{Time: e.ExtractedAt, Valid: true}
	}

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		rec.Item.ID,
		rec.Position,
		rec.Item.URL,
		rec.Item.GivenURL,
		rec.Item.Title,
		rec.Item.Excerpt,
		rec.Item.WordCount,
		rec.Item.SavedAt,
		status,
		title,
		html,
		text,
		reason,
		extractedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *ItemStore) GetExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return make(map[string]bool), nil
	}

	query := `SELECT item_id FROM items WHERE item_id = ANY($1)`

	var found []string
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &found, query, pq.Array(ids)); err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(found))
	for _, id := range found {
		result[id] = true
	}
	return result, nil
}

// List returns every stored record ordered by list position, keyed by row id.
func (s *ItemStore) List(ctx context.Context) ([]int64, []domain.Record, error) {
	query := `
		SELECT id, item_id, position, url, given_url, title, excerpt, word_count, saved_at,
			extraction_status, article_title, content_html, content_text,
			extraction_error, extracted_at
		FROM items
		ORDER BY position, item_id`

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query); err != nil {
		return nil, nil, err
	}

	ids := make([]int64, len(rows))
	records := make([]domain.Record, len(rows))
	for i, r := range rows {
		ids[i] = r.RowID
		records[i] = r.record()
	}
	return ids, records, nil
}
