package db

import (
	"database/sql"
	"fmt"
)

// Migrations run in order inside one transaction each; schema_version records
// what has been applied so reopening an existing database is a no-op.
var migrations = []string{
	// 1: core relational schema.
	`
CREATE TABLE pages (
	id              INTEGER PRIMARY KEY,
	namespace       TEXT    NOT NULL,
	url             TEXT    NOT NULL,
	mime_type       TEXT    NOT NULL,
	title           TEXT    NOT NULL,
	content_sha256  TEXT    NOT NULL,
	raw_html        BLOB,
	plain_text      TEXT    NOT NULL DEFAULT '',
	redirect_target TEXT    NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (namespace, url)
);

CREATE TABLE definitions (
	id             INTEGER PRIMARY KEY,
	page_id        INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	language       TEXT    NOT NULL,
	part_of_speech TEXT    NOT NULL,
	sense_number   INTEGER NOT NULL,
	sub_sense_path TEXT    NOT NULL DEFAULT '',
	text           TEXT    NOT NULL,
	confidence     REAL    NOT NULL,
	UNIQUE (page_id, language, part_of_speech, sense_number, sub_sense_path)
);

CREATE TABLE relations (
	id              INTEGER PRIMARY KEY,
	page_id         INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	language        TEXT    NOT NULL,
	relation_type   TEXT    NOT NULL,
	target_lemma    TEXT    NOT NULL,
	target_language TEXT    NOT NULL DEFAULT '',
	qualifier       TEXT    NOT NULL DEFAULT '',
	UNIQUE (page_id, language, relation_type, target_lemma, target_language)
);

CREATE TABLE lemma_aliases (
	id         INTEGER PRIMARY KEY,
	page_id    INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	language   TEXT    NOT NULL,
	alias      TEXT    NOT NULL,
	alias_kind TEXT    NOT NULL,
	UNIQUE (page_id, language, alias, alias_kind)
);

CREATE TABLE ingestion_runs (
	id                  INTEGER PRIMARY KEY,
	run_uuid            TEXT    NOT NULL UNIQUE,
	started_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at         TIMESTAMP,
	pages_seen          INTEGER NOT NULL DEFAULT 0,
	pages_written       INTEGER NOT NULL DEFAULT 0,
	definitions_written INTEGER NOT NULL DEFAULT 0,
	relations_written   INTEGER NOT NULL DEFAULT 0,
	aliases_written     INTEGER NOT NULL DEFAULT 0,
	errors_seen         INTEGER NOT NULL DEFAULT 0,
	config_digest       TEXT    NOT NULL DEFAULT '',
	status              TEXT    NOT NULL DEFAULT 'running'
);

CREATE TABLE ingestion_checkpoints (
	name              TEXT PRIMARY KEY,
	last_entry_index  INTEGER NOT NULL,
	entries_processed INTEGER NOT NULL DEFAULT 0,
	updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE reindex_state (
	name                 TEXT PRIMARY KEY,
	last_page_id_indexed INTEGER NOT NULL DEFAULT 0,
	updated_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	// 2: lookup indexes.
	`
CREATE INDEX idx_definitions_page   ON definitions (page_id);
CREATE INDEX idx_definitions_lang   ON definitions (language, part_of_speech);
CREATE INDEX idx_relations_page     ON relations (page_id);
CREATE INDEX idx_relations_target   ON relations (target_lemma);
CREATE INDEX idx_aliases_alias      ON lemma_aliases (alias);
CREATE INDEX idx_pages_title        ON pages (title);
`,
	// 3: external-content full-text index over pages.
	`
CREATE VIRTUAL TABLE page_fts USING fts5(
	title,
	plain_text,
	content='pages',
	content_rowid='id'
);
`,
}

// Migrate applies all pending migrations.
func Migrate(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("%w: schema_version: %v", ErrDatabase, err)
	}

	var current int
	if err := conn.QueryRow(`SELECT IFNULL(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("%w: read schema version: %v", ErrDatabase, err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin migration %d: %v", ErrDatabase, version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: migration %d: %v", ErrDatabase, version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: record migration %d: %v", ErrDatabase, version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit migration %d: %v", ErrDatabase, version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration number.
func SchemaVersion(db DBExecutor) (int, error) {
	var v int
	if err := db.QueryRow(`SELECT IFNULL(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return v, nil
}
