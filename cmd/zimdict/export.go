package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/export"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		outPath    string
		pretty     bool
		lines      bool
		includeRaw bool
		limit      int64
	)

	cmd := &cobra.Command{
		Use:   "export-json",
		Short: "Dump the converted database as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := export.Options{
				Pretty:         a.cfg.Export.Pretty,
				IncludeRawHTML: a.cfg.Export.IncludeRawHTML,
				JSONLines:      a.cfg.Export.JSONLines,
				BatchSize:      a.cfg.Export.BatchSize,
			}
			if cmd.Flags().Changed("pretty") {
				opts.Pretty = pretty
			}
			if cmd.Flags().Changed("lines") {
				opts.JSONLines = lines
			}
			if cmd.Flags().Changed("include-raw-html") {
				opts.IncludeRawHTML = includeRaw
			}
			opts.Limit = limit

			conn, err := db.OpenExisting(a.cfg.Input.SQLitePath)
			if err != nil {
				return err
			}
			defer conn.Close()

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := export.JSON(conn, w, opts)
			if err != nil {
				return err
			}
			a.log.Info("export finished", zap.Int64("pages", n))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file (- for stdout)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	cmd.Flags().BoolVar(&lines, "lines", true, "one JSON object per line instead of a single array")
	cmd.Flags().BoolVar(&includeRaw, "include-raw-html", false, "include stored raw HTML in each document")
	cmd.Flags().Int64Var(&limit, "limit", 0, "stop after this many documents (0 = all)")
	return cmd
}
