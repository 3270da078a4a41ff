/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Open the SQL store and apply the schema
  3. Ensure the catalog registers and the evaluation register exist
  4. Build the ledger with metrics, audit and the business-day calendar
  5. Start the closing watchdog and the HTTP server
  6. Shut down gracefully on SIGINT/SIGTERM

COMMAND-LINE FLAGS (override the environment):
  -addr       HTTP listen address
  -driver     sqlite3 | pgx
  -db         DSN or SQLite path (":memory:" for an in-memory database)
  -registers  YAML register catalog

EXAMPLES:
  ./server -db="./data/caixa.db" -registers=registers.yaml
  DB_DRIVER=pgx DATABASE_URL=postgres://caixa@localhost/caixa ./server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescieperdi/caixa/api"
	"github.com/crescieperdi/caixa/config"
	"github.com/crescieperdi/caixa/ledger"
	"github.com/crescieperdi/caixa/metrics"
	"github.com/crescieperdi/caixa/store/sqlstore"
)

const systemActor = "system"

func main() {
	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "database driver (sqlite3 or pgx)")
	flag.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "database DSN or SQLite path")
	flag.StringVar(&cfg.RegistersFile, "registers", cfg.RegistersFile, "YAML register catalog")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := config.NewLogger(cfg, os.Stderr)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx := context.Background()

	catalog, err := config.LoadCatalog(cfg.RegistersFile)
	if err != nil {
		return err
	}
	evalRegister := cfg.EvaluationRegister
	if catalog.EvaluationRegister != "" {
		evalRegister = catalog.EvaluationRegister
	}

	driver, err := sqlstore.NormalizeDriver(cfg.DBDriver)
	if err != nil {
		return err
	}
	if driver == sqlstore.DriverSQLite {
		if err := ensureDir(cfg.DatabaseURL); err != nil {
			return err
		}
	}
	store, err := sqlstore.Open(ctx, driver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", driver).Msg("database ready")

	m := metrics.New()
	l := ledger.New(store,
		ledger.WithCalendar(ledger.NewCalendar(cfg.Location())),
		ledger.WithObserver(m),
		ledger.WithAuditSink(ledger.MultiSink{store, ledger.LogAuditSink{Logger: log.With().Str("component", "audit").Logger()}}),
		ledger.WithLogger(log.With().Str("component", "ledger").Logger()),
		ledger.WithEvaluationRegister(evalRegister),
	)

	seed := catalog.Names(l.EvaluationRegister())
	for _, name := range seed {
		if _, err := l.EnsureRegister(ctx, name, systemActor); err != nil {
			return err
		}
	}
	log.Info().Strs("registers", seed).Str("evaluation_register", l.EvaluationRegister()).Msg("registers ensured")

	handler := api.NewHandler(l)
	handler.Resetter = store
	handler.Audit = store
	handler.SeedRegisters = seed

	router := api.NewRouter(handler, api.RouterConfig{
		Logger:           log,
		CORSOrigins:      cfg.CORSOrigins,
		Metrics:          m.Handler(),
		ScenariosEnabled: cfg.ScenariosEnabled,
		Ping:             store.Ping,
	})

	watchdog := api.NewClosingWatchdog(l, m, log)
	watchdog.CheckInterval = cfg.WatchdogInterval
	watchdog.Start()
	defer watchdog.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("timezone", cfg.Timezone).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// ensureDir creates the parent directory of a SQLite database file.
func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
