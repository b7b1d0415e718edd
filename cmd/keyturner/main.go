// Command keyturner is the BLE smart-lock bridge.
//
// Subcommands:
//
//	serve        run the HTTP API and the device dispatcher
//	config show  print the effective configuration with secrets redacted
//	config init  write a settings file with a fresh bridge identity
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/keyturner/internal/api"
	"github.com/seantiz/keyturner/internal/config"
	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/device/ble"
	"github.com/seantiz/keyturner/internal/device/sim"
	"github.com/seantiz/keyturner/internal/dispatch"
	"github.com/seantiz/keyturner/internal/engine"
	"github.com/seantiz/keyturner/internal/scheduler"
	"github.com/seantiz/keyturner/internal/store"
	"github.com/seantiz/keyturner/internal/telemetry"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "keyturner",
		Short:         "keyturner: REST bridge for BLE smart locks",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"settings file (env KEYTURNER_CONFIG)")

	root.AddCommand(
		serveCmd(&configPath),
		configCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("KEYTURNER_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the device dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// Write back generated identity and defaults.
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := config.NewLogger(os.Stdout, cfg.Level())
	slog.SetDefault(logger)

	identity, err := cfg.Identity()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.TraceStdout {
		shutdown, err := telemetry.InitTracer("keyturner", version, os.Stderr)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("tracer shutdown", "error", err)
			}
		}()
	}

	logger.Info("keyturner: starting",
		"listen_addr", cfg.ListenAddr(),
		"db_path", cfg.DBPath,
		"radio", cfg.Radio,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	radios := device.NewRegistry()
	radios.Register("ble", ble.NewRadio())
	radios.Register("sim", sim.NewRadio())
	radio, err := radios.Resolve(cfg.Radio)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	d := dispatch.New(
		dispatch.WithLogger(logger),
		dispatch.WithOnFatal(func(err error) {
			logger.Error("dispatcher failed, shutting down", "error", err)
			cancel(err)
		}),
	)
	if err := d.Start(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	svc := engine.NewService(db, radio, d, identity, engine.Options{
		ScanTimeout:      cfg.ScanTimeout,
		FindAttempts:     cfg.FindAttempts,
		OperationTimeout: cfg.OperationTimeout,
	}, logger)

	apiOpts := []api.Option{api.WithRateLimit(cfg.RateLimit, cfg.RateBurst)}
	if cfg.TrustedProxy {
		apiOpts = append(apiOpts, api.WithTrustedProxy())
	}
	srv := api.NewServer(cfg.ListenAddr(), db, radios, svc, logger, apiOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.RefreshSchedule != "" {
		sched, err := scheduler.New(cfg.RefreshSchedule, svc, logger)
		if err != nil {
			d.Stop()
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	runErr := g.Wait()

	d.Stop()
	svc.Wait()

	if runErr != nil {
		return runErr
	}
	if cause := context.Cause(ctx); errors.Is(cause, dispatch.ErrDispatcherFailed) {
		return fmt.Errorf("dispatcher: %w", cause)
	}
	return nil
}

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the settings file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "    ")
				return enc.Encode(cfg.Redacted().Settings())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a settings file, keeping an existing identity",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				if err := config.Save(*configPath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *configPath)
				return nil
			},
		},
	)
	return cmd
}
