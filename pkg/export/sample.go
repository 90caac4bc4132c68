package export

import (
	"database/sql"
	"fmt"

	"github.com/japaniel/zimdict/pkg/config"
	"github.com/japaniel/zimdict/pkg/db"
)

// SampleDB copies the first n pages (by id) with all their child rows into a
// fresh database at destPath, so releases can ship a small browsable sample.
// Returns the number of pages copied.
func SampleDB(src *sql.DB, destPath string, n int, cfg config.SQLiteConfig) (int64, error) {
	if n <= 0 {
		n = 100
	}
	cfg.Overwrite = true

	dest, err := db.Open(destPath, cfg)
	if err != nil {
		return 0, err
	}
	defer dest.Close()

	pages, err := db.PagesAfter(src, 0, n, true)
	if err != nil {
		return 0, err
	}

	tx, err := dest.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin sample tx: %v", db.ErrDatabase, err)
	}
	defer tx.Rollback()

	var copied int64
	for _, p := range pages {
		srcID := p.ID
		page := p
		pageID, err := db.UpsertPage(tx, &page, cfg.EnableFTS)
		if err != nil {
			return copied, err
		}

		defs, err := db.DefinitionsForPage(src, srcID)
		if err != nil {
			return copied, err
		}
		if err := db.InsertDefinitions(tx, pageID, defs); err != nil {
			return copied, err
		}

		rels, err := db.RelationsForPage(src, srcID)
		if err != nil {
			return copied, err
		}
		if err := db.InsertRelations(tx, pageID, rels); err != nil {
			return copied, err
		}

		aliases, err := db.AliasesForPage(src, srcID)
		if err != nil {
			return copied, err
		}
		if err := db.InsertAliases(tx, pageID, aliases); err != nil {
			return copied, err
		}
		copied++
	}

	if err := tx.Commit(); err != nil {
		return copied, fmt.Errorf("%w: commit sample: %v", db.ErrDatabase, err)
	}
	return copied, nil
}
