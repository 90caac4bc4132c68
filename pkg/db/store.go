package db

import (
	"database/sql"
	"fmt"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or
// *sql.Tx, so the same statements serve one-off calls and batch transactions.
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// UpsertPage writes a page with clean-replace semantics: if a row for the
// same (namespace, url) exists it is updated in place, its child rows are
// deleted, and the full-text mirror is refreshed. Returns the page id.
//
// The FTS delete must quote the OLD column values; external-content fts5
// cannot look them up itself.
func UpsertPage(db DBExecutor, p *Page, fts bool) (int64, error) {
	var (
		oldID             int64
		oldTitle, oldText string
	)
	err := db.QueryRow(
		`SELECT id, title, plain_text FROM pages WHERE namespace = ? AND url = ?`,
		p.Namespace, p.URL,
	).Scan(&oldID, &oldTitle, &oldText)
	existed := err == nil
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup page: %w", err)
	}

	var id int64
	err = db.QueryRow(`INSERT INTO pages
		(namespace, url, mime_type, title, content_sha256, raw_html, plain_text, redirect_target)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, url) DO UPDATE SET
			mime_type       = excluded.mime_type,
			title           = excluded.title,
			content_sha256  = excluded.content_sha256,
			raw_html        = excluded.raw_html,
			plain_text      = excluded.plain_text,
			redirect_target = excluded.redirect_target,
			updated_at      = CURRENT_TIMESTAMP
		RETURNING id`,
		p.Namespace, p.URL, p.MimeType, p.Title, p.ContentSHA256,
		p.RawHTML, p.PlainText, p.RedirectTarget,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert page: %w", err)
	}

	if existed {
		for _, table := range []string{"definitions", "relations", "lemma_aliases"} {
			if _, err := db.Exec(`DELETE FROM `+table+` WHERE page_id = ?`, oldID); err != nil {
				return 0, fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if fts {
			if _, err := db.Exec(
				`INSERT INTO page_fts (page_fts, rowid, title, plain_text) VALUES ('delete', ?, ?, ?)`,
				oldID, oldTitle, oldText,
			); err != nil {
				return 0, fmt.Errorf("fts delete: %w", err)
			}
		}
	}
	if fts {
		if _, err := db.Exec(
			`INSERT INTO page_fts (rowid, title, plain_text) VALUES (?, ?, ?)`,
			id, p.Title, p.PlainText,
		); err != nil {
			return 0, fmt.Errorf("fts insert: %w", err)
		}
	}

	p.ID = id
	return id, nil
}

// InsertDefinitions inserts the page's definitions. Duplicate keys surface a
// constraint error for the caller's quarantine handling.
func InsertDefinitions(db DBExecutor, pageID int64, defs []Definition) error {
	for _, d := range defs {
		if _, err := db.Exec(`INSERT INTO definitions
			(page_id, language, part_of_speech, sense_number, sub_sense_path, text, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			pageID, d.Language, d.PartOfSpeech, d.SenseNumber, d.SubSensePath, d.Text, d.Confidence,
		); err != nil {
			return fmt.Errorf("insert definition: %w", err)
		}
	}
	return nil
}

// InsertRelations inserts the page's relations.
func InsertRelations(db DBExecutor, pageID int64, rels []Relation) error {
	for _, r := range rels {
		if _, err := db.Exec(`INSERT INTO relations
			(page_id, language, relation_type, target_lemma, target_language, qualifier)
			VALUES (?, ?, ?, ?, ?, ?)`,
			pageID, r.Language, r.Type, r.TargetLemma, r.TargetLanguage, r.Qualifier,
		); err != nil {
			return fmt.Errorf("insert relation: %w", err)
		}
	}
	return nil
}

// InsertAliases inserts the page's lemma aliases.
func InsertAliases(db DBExecutor, pageID int64, aliases []Alias) error {
	for _, a := range aliases {
		if _, err := db.Exec(`INSERT INTO lemma_aliases
			(page_id, language, alias, alias_kind)
			VALUES (?, ?, ?, ?)`,
			pageID, a.Language, a.Alias, a.Kind,
		); err != nil {
			return fmt.Errorf("insert alias: %w", err)
		}
	}
	return nil
}

// LoadCheckpoint returns the named checkpoint, or nil when none exists.
func LoadCheckpoint(db DBExecutor, name string) (*Checkpoint, error) {
	cp := &Checkpoint{Name: name}
	err := db.QueryRow(
		`SELECT last_entry_index, entries_processed, updated_at
		 FROM ingestion_checkpoints WHERE name = ?`, name,
	).Scan(&cp.LastEntryIndex, &cp.EntriesProcessed, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint upserts the named resume watermark.
func SaveCheckpoint(db DBExecutor, cp *Checkpoint) error {
	_, err := db.Exec(`INSERT INTO ingestion_checkpoints
		(name, last_entry_index, entries_processed, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			last_entry_index  = excluded.last_entry_index,
			entries_processed = excluded.entries_processed,
			updated_at        = CURRENT_TIMESTAMP`,
		cp.Name, cp.LastEntryIndex, cp.EntriesProcessed,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoint removes a named checkpoint, e.g. after a completed run.
func DeleteCheckpoint(db DBExecutor, name string) error {
	_, err := db.Exec(`DELETE FROM ingestion_checkpoints WHERE name = ?`, name)
	return err
}

// StartRun records a new ingestion run and returns its row id.
func StartRun(db DBExecutor, runUUID, configDigest string) (int64, error) {
	var id int64
	err := db.QueryRow(
		`INSERT INTO ingestion_runs (run_uuid, config_digest) VALUES (?, ?) RETURNING id`,
		runUUID, configDigest,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinalizeRun stamps the run with its final status and counters.
func FinalizeRun(db DBExecutor, runID int64, status string, c RunCounters) error {
	_, err := db.Exec(`UPDATE ingestion_runs SET
		finished_at         = CURRENT_TIMESTAMP,
		pages_seen          = ?,
		pages_written       = ?,
		definitions_written = ?,
		relations_written   = ?,
		aliases_written     = ?,
		errors_seen         = ?,
		status              = ?
		WHERE id = ?`,
		c.PagesSeen, c.PagesWritten, c.DefinitionsWritten, c.RelationsWritten,
		c.AliasesWritten, c.ErrorsSeen, status, runID,
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

// BumpRunCounters adds a batch's deltas onto the run row. Called inside the
// batch transaction so counters and data commit together.
func BumpRunCounters(db DBExecutor, runID int64, d RunCounters) error {
	_, err := db.Exec(`UPDATE ingestion_runs SET
		pages_seen          = pages_seen + ?,
		pages_written       = pages_written + ?,
		definitions_written = definitions_written + ?,
		relations_written   = relations_written + ?,
		aliases_written     = aliases_written + ?,
		errors_seen         = errors_seen + ?
		WHERE id = ?`,
		d.PagesSeen, d.PagesWritten, d.DefinitionsWritten, d.RelationsWritten,
		d.AliasesWritten, d.ErrorsSeen, runID,
	)
	if err != nil {
		return fmt.Errorf("bump run counters: %w", err)
	}
	return nil
}

// LoadReindexState returns the named reindex watermark, zero-valued when the
// row does not exist yet.
func LoadReindexState(db DBExecutor, name string) (*ReindexState, error) {
	st := &ReindexState{Name: name}
	err := db.QueryRow(
		`SELECT last_page_id_indexed, updated_at FROM reindex_state WHERE name = ?`, name,
	).Scan(&st.LastPageIDIndexed, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reindex state: %w", err)
	}
	return st, nil
}

// SaveReindexState upserts the reindex watermark.
func SaveReindexState(db DBExecutor, st *ReindexState) error {
	_, err := db.Exec(`INSERT INTO reindex_state
		(name, last_page_id_indexed, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			last_page_id_indexed = excluded.last_page_id_indexed,
			updated_at           = CURRENT_TIMESTAMP`,
		st.Name, st.LastPageIDIndexed,
	)
	if err != nil {
		return fmt.Errorf("save reindex state: %w", err)
	}
	return nil
}

// RebuildFTS drops and repopulates the whole full-text index from the pages
// content table in one statement.
func RebuildFTS(db DBExecutor) error {
	if _, err := db.Exec(`INSERT INTO page_fts (page_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("%w: fts rebuild: %v", ErrDatabase, err)
	}
	return nil
}

// IncrementalReindex indexes pages beyond the named watermark in batches of
// batchSize, advancing the watermark after each committed batch. Returns the
// number of pages indexed.
func IncrementalReindex(conn *sql.DB, name string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var indexed int64
	for {
		st, err := LoadReindexState(conn, name)
		if err != nil {
			return indexed, err
		}

		tx, err := conn.Begin()
		if err != nil {
			return indexed, fmt.Errorf("%w: begin reindex batch: %v", ErrDatabase, err)
		}

		rows, err := tx.Query(
			`SELECT id, title, plain_text FROM pages WHERE id > ? ORDER BY id LIMIT ?`,
			st.LastPageIDIndexed, batchSize,
		)
		if err != nil {
			tx.Rollback()
			return indexed, fmt.Errorf("%w: scan pages: %v", ErrDatabase, err)
		}

		type ftsRow struct {
			id          int64
			title, text string
		}
		var batch []ftsRow
		for rows.Next() {
			var r ftsRow
			if err := rows.Scan(&r.id, &r.title, &r.text); err != nil {
				rows.Close()
				tx.Rollback()
				return indexed, fmt.Errorf("%w: scan page: %v", ErrDatabase, err)
			}
			batch = append(batch, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			tx.Rollback()
			return indexed, fmt.Errorf("%w: scan pages: %v", ErrDatabase, err)
		}
		rows.Close()

		if len(batch) == 0 {
			tx.Rollback()
			return indexed, nil
		}

		for _, r := range batch {
			if _, err := tx.Exec(
				`INSERT INTO page_fts (rowid, title, plain_text) VALUES (?, ?, ?)`,
				r.id, r.title, r.text,
			); err != nil {
				tx.Rollback()
				return indexed, fmt.Errorf("%w: fts insert %d: %v", ErrDatabase, r.id, err)
			}
		}

		st.LastPageIDIndexed = batch[len(batch)-1].id
		if err := SaveReindexState(tx, st); err != nil {
			tx.Rollback()
			return indexed, err
		}
		if err := tx.Commit(); err != nil {
			return indexed, fmt.Errorf("%w: commit reindex batch: %v", ErrDatabase, err)
		}
		indexed += int64(len(batch))
	}
}

// PagesAfter returns up to limit pages with id greater than afterID, in id
// order, for batched export scans.
func PagesAfter(db DBExecutor, afterID int64, limit int, withRawHTML bool) ([]Page, error) {
	rawExpr := "NULL"
	if withRawHTML {
		rawExpr = "raw_html"
	}
	rows, err := db.Query(
		`SELECT id, namespace, url, mime_type, title, content_sha256, `+rawExpr+`,
			plain_text, redirect_target, created_at, updated_at
		 FROM pages WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		var raw []byte
		if err := rows.Scan(&p.ID, &p.Namespace, &p.URL, &p.MimeType, &p.Title,
			&p.ContentSHA256, &raw, &p.PlainText, &p.RedirectTarget,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.RawHTML = raw
		out = append(out, p)
	}
	return out, rows.Err()
}

// DefinitionsForPage returns a page's definitions in sense order.
func DefinitionsForPage(db DBExecutor, pageID int64) ([]Definition, error) {
	rows, err := db.Query(
		`SELECT id, page_id, language, part_of_speech, sense_number, sub_sense_path, text, confidence
		 FROM definitions WHERE page_id = ?
		 ORDER BY language, part_of_speech, sense_number, sub_sense_path`,
		pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var out []Definition
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.ID, &d.PageID, &d.Language, &d.PartOfSpeech,
			&d.SenseNumber, &d.SubSensePath, &d.Text, &d.Confidence); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RelationsForPage returns a page's relations.
func RelationsForPage(db DBExecutor, pageID int64) ([]Relation, error) {
	rows, err := db.Query(
		`SELECT id, page_id, language, relation_type, target_lemma, target_language, qualifier
		 FROM relations WHERE page_id = ?
		 ORDER BY language, relation_type, id`,
		pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.PageID, &r.Language, &r.Type,
			&r.TargetLemma, &r.TargetLanguage, &r.Qualifier); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AliasesForPage returns a page's lemma aliases.
func AliasesForPage(db DBExecutor, pageID int64) ([]Alias, error) {
	rows, err := db.Query(
		`SELECT id, page_id, language, alias, alias_kind
		 FROM lemma_aliases WHERE page_id = ? ORDER BY id`,
		pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []Alias
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.ID, &a.PageID, &a.Language, &a.Alias, &a.Kind); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountPages returns the number of rows in pages.
func CountPages(db DBExecutor) (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
