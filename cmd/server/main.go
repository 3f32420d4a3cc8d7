/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the patient ledger server, and offers a few
  operator commands that run the same engine without HTTP.

COMMANDS:
  serve         Start the HTTP API (default)
  outstanding   Print every patient with a positive due amount
  ledger ID     Print one patient's ledger
  seed          Load a demo scenario into the database

STARTUP SEQUENCE (serve):
  1. Load configuration (environment, optional .env)
  2. Initialize logger
  3. Initialize SQLite store
  4. Create ledger service, metrics and API handler
  5. Start outstanding sweep
  6. Start server with graceful shutdown

ENVIRONMENT:
  PORT, ENV, DB_PATH, LOG_LEVEL, LOG_FORMAT, REQUIRE_PAYMENT_METHOD,
  SWEEP_ENABLED, SWEEP_INTERVAL, STORE_TIMEOUT, CORS_ORIGINS
  DB_PATH=":memory:" runs against an in-memory database.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and defaults
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/patient-ledger/api"
	"github.com/warp/patient-ledger/config"
	"github.com/warp/patient-ledger/ledger"
	"github.com/warp/patient-ledger/metrics"
	"github.com/warp/patient-ledger/store/sqlite"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledger-server",
		Short: "Patient financial reconciliation and ledger engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(outstandingCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func outstandingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outstanding",
		Short: "Print patients with an outstanding balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, app *app) error {
				rows, err := app.service.GetAllOutstanding(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, o := range rows {
					fmt.Fprintf(out, "%-12s %-24s %12s\n", o.PatientID, o.PatientName, o.DueAmount.StringFixed(2))
				}
				fmt.Fprintf(out, "%d patients, %s due\n", len(rows), ledger.SumDue(rows).StringFixed(2))
				return nil
			})
		},
	}
}

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger [patient-id]",
		Short: "Print one patient's ledger as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, app *app) error {
				l, err := app.service.GetLedger(ctx, ledger.PatientID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), l)
			})
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reset the database and load a demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, _ := cmd.Flags().GetString("scenario")
			return withEngine(func(ctx context.Context, app *app) error {
				return app.handler.Load(ctx, scenario)
			})
		},
	}

	ids := make([]string, 0)
	for _, s := range api.Scenarios() {
		ids = append(ids, s.ID)
	}
	cmd.Flags().String("scenario", "partial-payment", "scenario to load ("+strings.Join(ids, ", ")+")")
	return cmd
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *sqlite.Store
	metrics *metrics.Collector
	service *ledger.Service
	handler *api.Handler
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	m := metrics.NewCollector("patient_ledger")

	svc := ledger.NewService(store, logger.With().Str("component", "ledger").Logger())
	svc.Metrics = m
	svc.RequireMethod = cfg.RequirePaymentMethod
	svc.Strict = cfg.IsDev()
	svc.Timeout = cfg.StoreTimeout

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: m,
		service: svc,
		handler: api.NewHandler(svc, store, logger.With().Str("component", "api").Logger()),
	}, nil
}

func withEngine(fn func(context.Context, *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.store.Close()
	return fn(context.Background(), a)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// SERVER
// =============================================================================

func runServer() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.store.Close()
	logger := a.logger

	sweep := api.NewOutstandingSweep(a.service, a.metrics, logger)
	sweep.Enabled = a.cfg.SweepEnabled
	sweep.CheckInterval = a.cfg.SweepInterval
	sweep.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      api.NewRouter(a.handler, a.metrics, a.cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", a.cfg.Port).Str("env", a.cfg.Env).Str("db", a.cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sweep.Stop()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	sweep.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
