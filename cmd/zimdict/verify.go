package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/zimdict/pkg/zim"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		skipChecksum bool
		tailWindow   int
	)

	cmd := &cobra.Command{
		Use:   "verify-zim [path]",
		Short: "Check a ZIM archive for truncation and corruption",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Input.ZIMPath
			if len(args) == 1 {
				path = args[0]
			}

			report, err := zim.Verify(path, zim.VerifyOptions{
				Checksum:        !skipChecksum,
				TailWindowBytes: tailWindow,
			})
			if report != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "archive:       %s\n", report.Path)
				fmt.Fprintf(out, "size:          %d bytes\n", report.SizeBytes)
				fmt.Fprintf(out, "magic:         %v\n", report.MagicOK)
				fmt.Fprintf(out, "tail zeros:    %.1f%%\n", report.TailZeroRatio*100)
				if report.MagicOK {
					fmt.Fprintf(out, "entries:       %d\n", report.EntryCount)
					fmt.Fprintf(out, "clusters:      %d\n", report.ClusterCount)
				}
				if report.ChecksumOK != nil {
					fmt.Fprintf(out, "checksum:      %v\n", *report.ChecksumOK)
				} else {
					fmt.Fprintln(out, "checksum:      skipped")
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipChecksum, "skip-checksum", false, "skip the full-file MD5 verification")
	cmd.Flags().IntVar(&tailWindow, "tail-window", 4096, "bytes of file tail to inspect for the zeroed-tail heuristic")
	return cmd
}
