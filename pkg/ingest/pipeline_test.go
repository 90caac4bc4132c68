package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/zimdict/internal/zimtest"
	"github.com/japaniel/zimdict/pkg/config"
	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/extract"
	"github.com/japaniel/zimdict/pkg/zim"
)

func dictionaryFixture() []zimtest.Entry {
	return []zimtest.Entry{
		{
			Namespace: 'A', URL: "Dog", Title: "Dog", Mime: "text/html",
			Content: []byte(`<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol><li>A domesticated carnivorous mammal.</li></ol>
<h4><span class="mw-headline">Synonyms</span></h4>
<ul><li>canine, pooch; doggo</li></ul>
</body></html>`),
		},
		{
			Namespace: 'A', URL: "Cat", Title: "Cat", Mime: "text/html",
			Content: []byte(`<html><body>
<h2><span class="mw-headline">English</span></h2>
<h3><span class="mw-headline">Noun</span></h3>
<ol><li>A small domesticated feline.</li></ol>
</body></html>`),
		},
		{Namespace: 'A', URL: "Dogs", Title: "Dogs", RedirectTo: "Dog"},
		{
			Namespace: 'M', URL: "Counter", Title: "Counter", Mime: "text/plain",
			Content: []byte("text/html=2"),
		},
	}
}

func pipelineConfig(t *testing.T, zimPath, dbPath string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Input.ZIMPath = zimPath
	cfg.Input.SQLitePath = dbPath
	cfg.SQLite.BatchSize = 2
	cfg.SQLite.BatchFlushMs = 10
	cfg.SQLite.JournalMode = "memory"
	cfg.SQLite.Synchronous = "off"
	cfg.SQLite.EnableFTS = true
	cfg.Workers.ExtractionThreads = 2
	cfg.Checkpoint.Enabled = true
	cfg.Checkpoint.Resume = true
	cfg.Checkpoint.Name = "default"
	return &cfg
}

func runPipeline(t *testing.T, cfg *config.Config) (*RunStats, *sql.DB) {
	t.Helper()
	arc, err := zim.Open(cfg.Input.ZIMPath)
	require.NoError(t, err)
	t.Cleanup(func() { arc.Close() })

	conn, err := db.Open(cfg.Input.SQLitePath, cfg.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &Pipeline{
		Cfg:       cfg,
		Archive:   NewArchiveReader(arc),
		Conn:      conn,
		Extractor: extractorFor(cfg),
	}
	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	return stats, conn
}

func extractorFor(cfg *config.Config) *extract.Extractor {
	return extract.New(extract.Options{
		LanguageAllowlist:         cfg.Extraction.LanguageAllowlist,
		ExtraPOSLabels:            cfg.Extraction.ExtraPOSLabels,
		MaxDefinitionsPerLanguage: cfg.Extraction.MaxDefinitionsPerLanguage,
		MaxSenseDepth:             cfg.Extraction.MaxSenseDepth,
		MinDefinitionChars:        cfg.Extraction.MinDefinitionChars,
		ConfidenceThreshold:       cfg.Extraction.ConfidenceThreshold,
		EmitSynonyms:              cfg.Extraction.EmitSynonyms,
		EmitAntonyms:              cfg.Extraction.EmitAntonyms,
		EmitTranslations:          cfg.Extraction.EmitTranslations,
		AliasMinLength:            cfg.Extraction.AliasMinLength,
		MaxRelationTargets:        cfg.Extraction.MaxRelationTargetsPerList,
	})
}

func TestPipelineConvertsFixture(t *testing.T) {
	zimPath := zimtest.Build(t, dictionaryFixture())
	dbPath := filepath.Join(t.TempDir(), "out.sqlite")
	cfg := pipelineConfig(t, zimPath, dbPath)

	stats, conn := runPipeline(t, cfg)
	assert.Equal(t, db.RunStatusCompleted, stats.Status)

	// Namespace M is filtered; A/Dog, A/Cat and the redirect survive.
	n, err := db.CountPages(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(3), stats.PagesWritten)

	var lang, pos, path, text string
	var senseNumber int
	var confidence float64
	err = conn.QueryRow(`SELECT d.language, d.part_of_speech, d.sense_number, d.sub_sense_path, d.text, d.confidence
		FROM definitions d JOIN pages p ON p.id = d.page_id WHERE p.url = 'Dog'`).
		Scan(&lang, &pos, &senseNumber, &path, &text, &confidence)
	require.NoError(t, err)
	assert.Equal(t, "English", lang)
	assert.Equal(t, "Noun", pos)
	assert.Equal(t, 1, senseNumber)
	assert.Equal(t, "1", path)
	assert.Equal(t, "A domesticated carnivorous mammal.", text)
	assert.InDelta(t, 1.0, confidence, 1e-9)

	var synonyms int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM relations WHERE relation_type = 'synonym'`).Scan(&synonyms))
	assert.Equal(t, 3, synonyms)

	// The redirect entry produced a target and nothing else.
	var target string
	require.NoError(t, conn.QueryRow(
		`SELECT redirect_target FROM pages WHERE url = 'Dogs'`).Scan(&target))
	assert.Equal(t, "Dog", target)
	var redirectDefs int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM definitions d JOIN pages p ON p.id = d.page_id WHERE p.url = 'Dogs'`).Scan(&redirectDefs))
	assert.Zero(t, redirectDefs)

	// FTS mirror has exactly one row per page.
	var ftsRows int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM page_fts`).Scan(&ftsRows))
	assert.Equal(t, 3, ftsRows)
}

func TestPipelineResumeMatchesSingleRun(t *testing.T) {
	entries := dictionaryFixture()
	zimPath := zimtest.Build(t, entries)

	// Reference: one uninterrupted run.
	refPath := filepath.Join(t.TempDir(), "ref.sqlite")
	_, refConn := runPipeline(t, pipelineConfig(t, zimPath, refPath))

	// Two-step run: max_entries cuts the first run short, the second resumes
	// from the checkpoint.
	dbPath := filepath.Join(t.TempDir(), "resumed.sqlite")
	cfg := pipelineConfig(t, zimPath, dbPath)
	cfg.Selection.MaxEntries = 1
	first, conn := runPipeline(t, cfg)
	assert.Equal(t, int64(1), first.PagesWritten)
	conn.Close()

	cfg2 := pipelineConfig(t, zimPath, dbPath)
	second, conn2 := runPipeline(t, cfg2)
	assert.True(t, second.Resumed)
	assert.Equal(t, db.RunStatusCompleted, second.Status)

	for _, q := range []string{
		`SELECT COUNT(*) FROM pages`,
		`SELECT COUNT(*) FROM definitions`,
		`SELECT COUNT(*) FROM relations`,
		`SELECT COUNT(*) FROM lemma_aliases`,
	} {
		var ref, got int
		require.NoError(t, refConn.QueryRow(q).Scan(&ref))
		require.NoError(t, conn2.QueryRow(q).Scan(&got))
		assert.Equal(t, ref, got, q)
	}
}

func TestPipelineEmptyArchive(t *testing.T) {
	zimPath := zimtest.Build(t, nil)
	dbPath := filepath.Join(t.TempDir(), "empty.sqlite")

	stats, conn := runPipeline(t, pipelineConfig(t, zimPath, dbPath))
	assert.Equal(t, db.RunStatusCompleted, stats.Status)
	n, err := db.CountPages(conn)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineAllEntriesFiltered(t *testing.T) {
	zimPath := zimtest.Build(t, dictionaryFixture())
	dbPath := filepath.Join(t.TempDir(), "filtered.sqlite")
	cfg := pipelineConfig(t, zimPath, dbPath)
	cfg.Selection.IncludeNamespaces = []string{"Z"}

	stats, conn := runPipeline(t, cfg)
	assert.Equal(t, db.RunStatusCompleted, stats.Status)
	n, err := db.CountPages(conn)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, stats.PagesWritten)
}

func TestPipelineIdempotentReingest(t *testing.T) {
	zimPath := zimtest.Build(t, dictionaryFixture())
	dbPath := filepath.Join(t.TempDir(), "twice.sqlite")

	cfg := pipelineConfig(t, zimPath, dbPath)
	_, conn := runPipeline(t, cfg)
	var defs1, rels1 int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM definitions`).Scan(&defs1))
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&rels1))
	conn.Close()

	// Force a full second pass over the same entries.
	cfg2 := pipelineConfig(t, zimPath, dbPath)
	cfg2.Checkpoint.Resume = false
	_, conn2 := runPipeline(t, cfg2)

	var defs2, rels2 int
	require.NoError(t, conn2.QueryRow(`SELECT COUNT(*) FROM definitions`).Scan(&defs2))
	require.NoError(t, conn2.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&rels2))
	assert.Equal(t, defs1, defs2)
	assert.Equal(t, rels1, rels2)
}

func TestPreflightOutput(t *testing.T) {
	zimPath := zimtest.Build(t, dictionaryFixture())
	dbPath := filepath.Join(t.TempDir(), "pref.sqlite")
	cfg := pipelineConfig(t, zimPath, dbPath)

	// Missing output is fine.
	require.NoError(t, PreflightOutput(cfg))

	// A finished database without overwrite but with a checkpoint resumes.
	_, conn := runPipeline(t, cfg)
	conn.Close()
	require.NoError(t, PreflightOutput(cfg))

	// Without resume the existing file is an error.
	cfg.Checkpoint.Resume = false
	err := PreflightOutput(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)

	// Overwrite always wins.
	cfg.SQLite.Overwrite = true
	require.NoError(t, PreflightOutput(cfg))
}
