package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roulette/internal/app"
	"roulette/internal/config"
	"roulette/internal/logging"
	dbconfig "roulette/pkg/database"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "roulette",
		Short:        "Random video-chat matchmaking and signaling server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv(config.EnvPrefix+"CONFIG_FILE"),
		"path to a .yaml or .json config file")

	root.AddCommand(newServeCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadConfigWithPrecedence(path)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the matchmaking server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Log.Level = level
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// Graceful shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("log-level", "", "override the configured log level")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	logger.Info("Starting roulette", zap.String("version", version), zap.String("addr", cfg.Address()))
	return application.Run(ctx)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and, if present, the journal schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := checkJournal(cfg.Database.DatabasePath); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if show, _ := cmd.Flags().GetBool("print"); show {
				data, err := cfg.YAML()
				if err != nil {
					return err
				}
				_, _ = out.Write(data)
			}
			_, _ = fmt.Fprintln(out, "configuration OK")
			return nil
		},
	}
	check.Flags().Bool("print", false, "print the effective configuration as YAML")

	cmd.AddCommand(check)
	return cmd
}

// checkJournal validates an existing journal's schema; a missing file is fine
// because serve creates it
func checkJournal(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		return fmt.Errorf("journal %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "roulette %s\n", version)
}
