package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/config"
	"github.com/japaniel/zimdict/pkg/logging"
)

// app carries the loaded configuration and logger across subcommands.
type app struct {
	cfgPath  string
	logLevel string
	logJSON  bool

	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "zimdict",
		Short:         "Convert Wiktionary ZIM archives into relational SQLite databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to TOML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "emit JSON log lines")

	cmd.AddCommand(
		newFetchCmd(a),
		newConvertCmd(a),
		newVerifyCmd(a),
		newReindexCmd(a),
		newExportCmd(a),
		newSampleCmd(a),
		newArtifactsCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = a.logJSON
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}
