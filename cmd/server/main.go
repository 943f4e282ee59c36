package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"turapp/internal/app"
	"turapp/internal/config"
	"turapp/internal/jobs"
	"turapp/internal/logger"
	"turapp/internal/repositories"
)

// @title           TurApp API
// @version         1.0
// @description     Вход с двухфакторной аутентификацией и сброс пароля по коду из письма.
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "turapp",
		Short:        "turapp auth backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to config.yaml")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, nil, fmt.Errorf("init logger: %w", err)
		}
		log.Info("config loaded", zap.String("config", configPath))
		return cfg, log, nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the http server and the code purge schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			db, err := app.OpenDB(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repositories.ApplyMigrations(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge-codes",
		Short: "delete dead verification codes once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			db, err := app.OpenDB(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			job := jobs.NewCodePurgeJob(repositories.NewVerificationCodeRepository(db), cfg.Verification.PurgeRetention(), log)
			_, err = job.RunOnce(cmd.Context())
			return err
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, purgeCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
