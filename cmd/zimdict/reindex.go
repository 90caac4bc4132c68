package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/db"
)

func newReindexCmd(a *app) *cobra.Command {
	var (
		full      bool
		name      string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild or incrementally advance the full-text index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := db.OpenExisting(a.cfg.Input.SQLitePath)
			if err != nil {
				return err
			}
			defer conn.Close()

			if full {
				if err := db.RebuildFTS(conn); err != nil {
					return err
				}
				a.log.Info("full-text index rebuilt")
				return nil
			}

			if !cmd.Flags().Changed("name") {
				name = a.cfg.Reindex.Name
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = a.cfg.Reindex.BatchSize
			}
			indexed, err := db.IncrementalReindex(conn, name, batchSize)
			if err != nil {
				return err
			}
			a.log.Info("incremental reindex finished",
				zap.String("name", name),
				zap.Int64("pages_indexed", indexed),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "rebuild the whole index instead of advancing incrementally")
	cmd.Flags().StringVar(&name, "name", "default", "reindex watermark name")
	cmd.Flags().IntVar(&batchSize, "batch-size", 5000, "pages per reindex transaction")
	return cmd
}
