package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/export"
)

func newSampleCmd(a *app) *cobra.Command {
	var (
		outPath string
		pages   int
	)

	cmd := &cobra.Command{
		Use:   "sample-db",
		Short: "Copy the first pages of the database into a small sample database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := db.OpenExisting(a.cfg.Input.SQLitePath)
			if err != nil {
				return err
			}
			defer src.Close()

			dest := outPath
			if dest == "" {
				dest = filepath.Join(a.cfg.Release.ArtifactDir, a.cfg.Release.SampleDBName)
			}
			if !cmd.Flags().Changed("pages") {
				pages = a.cfg.Release.SamplePages
			}

			copied, err := export.SampleDB(src, dest, pages, a.cfg.SQLite)
			if err != nil {
				return err
			}
			a.log.Info("sample database written",
				zap.String("path", dest),
				zap.Int64("pages", copied),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "sample database path (default artifact_dir/sample_db_name)")
	cmd.Flags().IntVar(&pages, "pages", 500, "number of pages to copy")
	return cmd
}
