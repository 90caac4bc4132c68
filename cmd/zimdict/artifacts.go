package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/export"
)

func newArtifactsCmd(a *app) *cobra.Command {
	var includeSample bool

	cmd := &cobra.Command{
		Use:   "build-artifacts",
		Short: "Compress release files and write a SHA256SUMS manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			inputs := []string{a.cfg.Input.SQLitePath}
			if includeSample {
				sample := filepath.Join(a.cfg.Release.ArtifactDir, a.cfg.Release.SampleDBName)
				if _, err := os.Stat(sample); err == nil {
					inputs = append(inputs, sample)
				}
			}

			artifacts, err := export.BuildArtifacts(a.cfg.Release.ArtifactDir, inputs)
			if err != nil {
				return err
			}
			for _, art := range artifacts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d bytes)\n", art.SHA256, art.Path, art.Size)
			}
			a.log.Info("artifacts built",
				zap.String("dir", a.cfg.Release.ArtifactDir),
				zap.Int("count", len(artifacts)),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeSample, "include-sample", false, "also compress the sample database if present")
	return cmd
}
