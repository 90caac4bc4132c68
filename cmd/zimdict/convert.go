package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/extract"
	"github.com/japaniel/zimdict/pkg/ingest"
	"github.com/japaniel/zimdict/pkg/normalize"
	"github.com/japaniel/zimdict/pkg/zim"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		maxEntries uint32
		startIndex uint32
		overwrite  bool
		noResume   bool
		threads    int
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert the configured ZIM archive into a SQLite database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("max-entries") {
				cfg.Selection.MaxEntries = maxEntries
			}
			if cmd.Flags().Changed("start-index") {
				cfg.Selection.StartIndex = startIndex
			}
			if overwrite {
				cfg.SQLite.Overwrite = true
			}
			if noResume {
				cfg.Checkpoint.Resume = false
			}
			if cmd.Flags().Changed("extraction-threads") {
				cfg.Workers.ExtractionThreads = threads
			}

			if err := ingest.PreflightOutput(&cfg); err != nil {
				return err
			}
			// A cheap structural check catches truncated downloads before
			// hours of extraction work start.
			if _, err := zim.Verify(cfg.Input.ZIMPath, zim.VerifyOptions{}); err != nil {
				return err
			}

			arc, err := zim.Open(cfg.Input.ZIMPath)
			if err != nil {
				return err
			}
			defer arc.Close()

			conn, err := db.Open(cfg.Input.SQLitePath, cfg.SQLite)
			if err != nil {
				return err
			}
			defer conn.Close()

			registry := normalize.NewRegistry()
			registry.BindAll(cfg.Extraction.LanguageNormalizers)

			p := &ingest.Pipeline{
				Cfg:     &cfg,
				Log:     a.log,
				Archive: ingest.NewArchiveReader(arc),
				Conn:    conn,
				Extractor: extract.New(extract.Options{
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
					Normalizers:               registry,
				}),
			}

			stats, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}

			// Inline mirroring already indexed every page; the incremental
			// pass is for ingests that ran with enable_fts off.
			if !cfg.SQLite.EnableFTS && cfg.Reindex.AutoIncremental {
				indexed, err := db.IncrementalReindex(conn, cfg.Reindex.Name, cfg.Reindex.BatchSize)
				if err != nil {
					return err
				}
				a.log.Info("incremental reindex finished", zap.Int64("pages_indexed", indexed))
			}

			a.log.Info("convert done",
				zap.Int64("run_id", stats.RunID),
				zap.Int64("pages_written", stats.PagesWritten),
				zap.Duration("elapsed", stats.Duration),
			)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&maxEntries, "max-entries", 0, "stop after accepting this many entries (0 = unlimited)")
	cmd.Flags().Uint32Var(&startIndex, "start-index", 0, "first directory entry index to consider")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing output database")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore any existing checkpoint and reprocess from the start index")
	cmd.Flags().IntVar(&threads, "extraction-threads", 0, "number of extraction workers (0 = number of CPUs)")
	return cmd
}
