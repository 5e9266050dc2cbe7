package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/config"
	"github.com/warp/coverage-engine/store/postgres"
	"github.com/warp/coverage-engine/store/sqlite"
	"github.com/warp/coverage-engine/tariff"
	"github.com/warp/coverage-engine/tariff/store"
)

// openStore opens the configured repository with its schema in place.
func openStore(ctx context.Context, sc config.StoreConfig) (tariff.Repository, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, sc.DatabaseURL, sc.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite:
		// New migrates.
		lite, err := sqlite.New(sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", sc.Driver)
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema for the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return eris.Wrap(err, "migrate")
		}
		defer repo.Close()

		zap.L().Info("schema is up to date", zap.String("store", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
