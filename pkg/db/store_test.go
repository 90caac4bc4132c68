package db

import (
	"testing"
)

func samplePage(url string) *Page {
	return &Page{
		Namespace:     "A",
		URL:           url,
		MimeType:      "text/html",
		Title:         url,
		ContentSHA256: "deadbeef",
		PlainText:     "the quick brown fox",
	}
}

func TestUpsertPageInsertThenReplace(t *testing.T) {
	conn := setupTestDB(t)

	id1, err := UpsertPage(conn, samplePage("Dog"), true)
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}
	if err := InsertDefinitions(conn, id1, []Definition{
		{Language: "English", PartOfSpeech: "Noun", SenseNumber: 1, SubSensePath: "1", Text: "a mammal", Confidence: 1},
	}); err != nil {
		t.Fatalf("insert definitions: %v", err)
	}

	// Re-ingesting the same page keeps the id and clears the child rows.
	p2 := samplePage("Dog")
	p2.PlainText = "updated body text"
	id2, err := UpsertPage(conn, p2, true)
	if err != nil {
		t.Fatalf("upsert page: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id, got %d then %d", id1, id2)
	}

	var defs int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM definitions WHERE page_id = ?`, id1).Scan(&defs); err != nil {
		t.Fatalf("count definitions: %v", err)
	}
	if defs != 0 {
		t.Fatalf("expected child rows cleared, got %d definitions", defs)
	}

	// The FTS mirror reflects the replacement, not the original.
	var hits int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM page_fts WHERE page_fts MATCH 'updated'`).Scan(&hits); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 fts hit for new text, got %d", hits)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM page_fts WHERE page_fts MATCH 'quick'`).Scan(&hits); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if hits != 0 {
		t.Fatalf("expected stale fts row gone, got %d hits", hits)
	}
}

func TestDuplicateDefinitionIsConstraintErr(t *testing.T) {
	conn := setupTestDB(t)

	id, err := UpsertPage(conn, samplePage("Cat"), false)
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}
	d := Definition{Language: "English", PartOfSpeech: "Noun", SenseNumber: 1, SubSensePath: "1", Text: "a feline", Confidence: 1}
	if err := InsertDefinitions(conn, id, []Definition{d}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err = InsertDefinitions(conn, id, []Definition{d})
	if !IsConstraintErr(err) {
		t.Fatalf("expected constraint error, got %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	conn := setupTestDB(t)

	cp, err := LoadCheckpoint(conn, "default")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp != nil {
		t.Fatalf("expected no checkpoint, got %+v", cp)
	}

	if err := SaveCheckpoint(conn, &Checkpoint{Name: "default", LastEntryIndex: 41999, EntriesProcessed: 42000}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err = LoadCheckpoint(conn, "default")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cp == nil || cp.LastEntryIndex != 41999 || cp.EntriesProcessed != 42000 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}

	// Advancing overwrites in place.
	if err := SaveCheckpoint(conn, &Checkpoint{Name: "default", LastEntryIndex: 50000, EntriesProcessed: 50001}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	cp, _ = LoadCheckpoint(conn, "default")
	if cp.LastEntryIndex != 50000 {
		t.Fatalf("expected advanced watermark, got %d", cp.LastEntryIndex)
	}

	if err := DeleteCheckpoint(conn, "default"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cp, _ = LoadCheckpoint(conn, "default")
	if cp != nil {
		t.Fatalf("expected checkpoint deleted")
	}
}

func TestRunLifecycle(t *testing.T) {
	conn := setupTestDB(t)

	runID, err := StartRun(conn, "4b1e2f3a-0000-0000-0000-000000000001", "cfgdigest")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	err = FinalizeRun(conn, runID, RunStatusCompleted, RunCounters{
		PagesSeen: 10, PagesWritten: 9, DefinitionsWritten: 30, ErrorsSeen: 1,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	var status string
	var pagesWritten, errorsSeen int64
	err = conn.QueryRow(
		`SELECT status, pages_written, errors_seen FROM ingestion_runs WHERE id = ?`, runID,
	).Scan(&status, &pagesWritten, &errorsSeen)
	if err != nil {
		t.Fatalf("query run: %v", err)
	}
	if status != RunStatusCompleted || pagesWritten != 9 || errorsSeen != 1 {
		t.Fatalf("unexpected run row: %s %d %d", status, pagesWritten, errorsSeen)
	}
}

func TestIncrementalReindex(t *testing.T) {
	conn := setupTestDB(t)

	// Pages written with the FTS mirror disabled.
	for _, url := range []string{"Dog", "Cat", "Fox"} {
		p := samplePage(url)
		p.PlainText = "about the " + url
		if _, err := UpsertPage(conn, p, false); err != nil {
			t.Fatalf("insert %s: %v", url, err)
		}
	}

	indexed, err := IncrementalReindex(conn, "fts", 2)
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if indexed != 3 {
		t.Fatalf("expected 3 pages indexed, got %d", indexed)
	}

	var hits int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM page_fts WHERE page_fts MATCH 'Fox'`).Scan(&hits); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}

	// A second pass finds nothing new.
	indexed, err = IncrementalReindex(conn, "fts", 2)
	if err != nil {
		t.Fatalf("second reindex: %v", err)
	}
	if indexed != 0 {
		t.Fatalf("expected idempotent reindex, got %d", indexed)
	}
}

func TestRebuildFTS(t *testing.T) {
	conn := setupTestDB(t)

	if _, err := UpsertPage(conn, samplePage("Wolf"), false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := RebuildFTS(conn); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var hits int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM page_fts WHERE page_fts MATCH 'Wolf'`).Scan(&hits); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 hit after rebuild, got %d", hits)
	}
}

func TestPagesAfterPagination(t *testing.T) {
	conn := setupTestDB(t)

	for _, url := range []string{"A1", "A2", "A3", "A4", "A5"} {
		if _, err := UpsertPage(conn, samplePage(url), false); err != nil {
			t.Fatalf("insert %s: %v", url, err)
		}
	}

	first, err := PagesAfter(conn, 0, 2, false)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(first))
	}
	second, err := PagesAfter(conn, first[len(first)-1].ID, 10, false)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("expected 3 remaining pages, got %d", len(second))
	}

	n, err := CountPages(conn)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 pages, got %d", n)
	}
}
