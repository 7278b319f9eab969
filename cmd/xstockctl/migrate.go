package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xstock-portfolio/internal/logging"
	"xstock-portfolio/internal/storage/migrations"
	pgstore "xstock-portfolio/internal/storage/postgres"
)

var (
	migratePostgresDSN   string
	migrateClickhouseDSN string
	migrateTimeout       time.Duration
)

// migrateCmd applies the embedded schema migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded Postgres migrations (portfolios and transactions)
and ClickHouse migrations (valuation snapshots).

Each database is migrated when its DSN is set, from the flags or the
configuration. Postgres migrations already recorded in schema_migrations
are skipped; ClickHouse migrations are idempotent and re-run.

Example usage:
  xstockctl migrate --postgres-dsn postgres://localhost/xstock
  xstockctl migrate --clickhouse-dsn clickhouse://localhost:9000/xstock`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migratePostgresDSN, "postgres-dsn", "", "PostgreSQL connection string")
	migrateCmd.Flags().StringVar(&migrateClickhouseDSN, "clickhouse-dsn", "", "ClickHouse connection string")
	migrateCmd.Flags().DurationVar(&migrateTimeout, "timeout", 2*time.Minute, "Timeout for all migrations")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("postgres-dsn") {
		cfg.Store.PostgresDSN = migratePostgresDSN
	}
	if cmd.Flags().Changed("clickhouse-dsn") {
		cfg.Store.ClickhouseDSN = migrateClickhouseDSN
	}
	if cfg.Store.PostgresDSN == "" && cfg.Store.ClickhouseDSN == "" {
		return errors.New("no database configured: set --postgres-dsn or --clickhouse-dsn")
	}

	logger := logging.Must(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		applied, err := migrations.ApplyPostgres(ctx, pool, logger.Named("migrate"))
		pool.Close()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "postgres: up to date")
		}
		for _, name := range applied {
			fmt.Fprintf(out, "postgres: applied %s\n", name)
		}
	}

	if dsn := cfg.Store.ClickhouseDSN; dsn != "" {
		conn, err := migrations.ApplyClickhouse(ctx, dsn, logger.Named("migrate"))
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		if err := conn.Close(); err != nil {
			logger.Warn("close clickhouse connection", zap.Error(err))
		}
		fmt.Fprintln(out, "clickhouse: migrations applied")
	}
	return nil
}
