package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"pocket_archiver/internal/domain"
)

type TagStore struct {
	db *sqlx.DB
}

func NewTagStore(db *sqlx.DB) *TagStore {
	return &TagStore{db: db}
}

// UpsertBatch makes sure every label exists and fills in the tag ids.
func (s *TagStore) UpsertBatch(ctx context.Context, tags []domain.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	var sb strings.Builder
	sb.WriteString("INSERT INTO tags (label) VALUES ")
	valueArgs := make([]interface{}, 0, len(tags))

	for _, tag := range tags {
		if seen[tag.Label] {
			continue
		}
		seen[tag.Label] = true
		if len(valueArgs) > 0 {
			sb.WriteString(", ")
		}
		valueArgs = append(valueArgs, tag.Label)
		sb.WriteString("($")
		sb.WriteString(strconv.Itoa(len(valueArgs)))
		sb.WriteString(")")
	}
	sb.WriteString(" ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label RETURNING id, label")

	var stored []domain.Tag
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &stored, sb.String(), valueArgs...); err != nil {
		return err
	}

	ids := make(map[string]int64, len(stored))
	for _, t := range stored {
		ids[t.Label] = t.ID
	}
	for i := range tags {
		tags[i].ID = ids[tags[i].Label]
	}
	return nil
}

// LinkToItem replaces the tag set of an item.
func (s *TagStore) LinkToItem(ctx context.Context, itemID int64, tagIDs []int64) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx,
		"DELETE FROM item_tags WHERE item_id = $1",
		itemID,
	)
	if err != nil {
		return err
	}

	if len(tagIDs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO item_tags (item_id, tag_id) VALUES ")
	valueArgs := make([]interface{}, 0, len(tagIDs)+1)
	valueArgs = append(valueArgs, itemID)

	for i, tagID := range tagIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $")
		sb.WriteString(strconv.Itoa(i + 2))
		sb.WriteString(")")
		valueArgs = append(valueArgs, tagID)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

type itemTag struct {
	ItemID int64 `db:"item_id"`
	domain.Tag
}

// GetByItemIDs returns the tags of each item row, sorted by label.
func (s *TagStore) GetByItemIDs(ctx context.Context, itemIDs []int64) (map[int64][]domain.Tag, error) {
	result := make(map[int64][]domain.Tag)
	if len(itemIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT it.item_id, t.id, t.label
		FROM tags t
		INNER JOIN item_tags it ON it.tag_id = t.id
		WHERE it.item_id = ANY($1)
		ORDER BY it.item_id, t.label`

	var rows []itemTag
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, pq.Array(itemIDs)); err != nil {
		return nil, err
	}

	for _, r := range rows {
		result[r.ItemID] = append(result[r.ItemID], r.Tag)
	}
	return result, nil
}
