// Package sink persists harvested records to local files. Every sink is keyed
// by the stable item id, so delivering the same page twice rewrites the same
// entries instead of duplicating them.
package sink

import (
	"sort"

	"pocket_archiver/internal/domain"
)

// merge folds an incoming record into the stored one. Re-delivered metadata
// without an extraction result keeps the result already stored.
func merge(existing domain.Record, found bool, incoming domain.Record) domain.Record {
	if found && incoming.Extraction == nil {
		incoming.Extraction = existing.Extraction
	}
	return incoming
}

func sortByPosition(records []domain.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Position != records[j].Position {
			return records[i].Position < records[j].Position
		}
		return records[i].Item.ID < records[j].Item.ID
	})
}
