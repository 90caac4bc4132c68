package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/fetch"
	"github.com/japaniel/zimdict/pkg/zim"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		url   string
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "fetch-zim",
		Short: "Download a ZIM archive and verify its structure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := out
			if dest == "" {
				dest = a.cfg.Input.ZIMPath
			}

			var err error
			downloaded := false
			if force {
				err = fetch.Download(cmd.Context(), url, dest)
				downloaded = err == nil
			} else {
				downloaded, err = fetch.Ensure(cmd.Context(), url, dest)
			}
			if err != nil {
				return err
			}
			if !downloaded {
				a.log.Info("archive already present, skipping download", zap.String("path", dest))
			}

			report, err := zim.Verify(dest, zim.VerifyOptions{})
			if err != nil {
				return err
			}
			a.log.Info("archive ready",
				zap.String("path", dest),
				zap.Int64("size_bytes", report.SizeBytes),
				zap.Uint32("entries", report.EntryCount),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "archive URL (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination path (default input.zim_path)")
	cmd.Flags().BoolVar(&force, "force", false, "re-download even when the file exists")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
