/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the coverage engine: runs the HTTP API, creates
  database schemas, and computes one-off waterfalls from layer files.

COMMANDS:
  serve      HTTP API + idempotency claim sweeper, graceful shutdown
  migrate    Create the schema for the configured store
  waterfall  Print a waterfall for --amount over --layers as JSON

CONFIGURATION:
  --config selects a YAML file; otherwise config.yaml in the working
  directory is used if present. COVERAGE_* environment variables override
  both (see config/config.go).

EXAMPLES:
  # Run against a local SQLite file
  ./server serve

  # Run against PostgreSQL
  COVERAGE_STORE_DRIVER=postgres \
  COVERAGE_STORE_DATABASE_URL=postgres://localhost/coverage ./server serve

  # One-off calculation
  ./server waterfall --amount 1250.00 --layers layers.yaml

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings and defaults
*/
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/config"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:          "server",
	Short:        "Insurance coverage waterfall and tariff engine",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if _, err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
