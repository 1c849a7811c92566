package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"med-delivery-routing/internal/adapters/repositories"
	"med-delivery-routing/internal/config"
	"med-delivery-routing/internal/platform/db"
	"med-delivery-routing/internal/platform/logging"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	databaseURL string
	seedPath    string
	logger      *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "dbtool",
		Short: "Manage the medication delivery database",
		Long: `dbtool creates the Postgres schema used by the routing service and loads
demo hospitals, patients, drivers, medications and orders from a JSON seed file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.New(logging.Config{Level: config.Get("LOG_LEVEL", "info"), ServiceName: "dbtool"})
			if strings.TrimSpace(databaseURL) == "" {
				return errors.New("DATABASE_URL is required (set it or pass --database-url)")
			}
			return nil
		},
	}
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found (using environment variables)")
	}

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", config.Get("DATABASE_URL", ""), "Postgres connection URL")
	rootCmd.PersistentFlags().StringVar(&seedPath, "seed", config.Get("SEED_PATH", "data/seeds/med_delivery.json"), "seed JSON file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(setupCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), initSchema)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the seed file into an initialized database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), seed)
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the schema and load the seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB) error {
			if err := initSchema(ctx, conn); err != nil {
				return err
			}
			return seed(ctx, conn)
		})
	},
}

func withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	conn, err := db.Open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(ctx, conn)
}

func initSchema(ctx context.Context, conn *sql.DB) error {
	logger.Info("initializing database schema")
	if err := repositories.InitSchema(ctx, conn); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	logger.Info("schema ready")
	return nil
}

func seed(ctx context.Context, conn *sql.DB) error {
	logger.Info("seeding database", "path", seedPath)
	s, err := repositories.LoadSeed(seedPath)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	if err := repositories.SeedDatabase(ctx, conn, s); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	logger.Info("seeding complete",
		"hospitals", len(s.Hospitals),
		"patients", len(s.Patients),
		"orders", len(s.Orders),
	)
	return nil
}
