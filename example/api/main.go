// Command api runs the loan engine behind an HTTP API with periodic
// overdue sweeps, as a minimal end-to-end wiring example.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/loan-engine-go/loanengine/oteladapters"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine"
	"github.com/openshelf/loan-engine-go/loanengine/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("api terminated", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	connPool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return err
	}
	defer connPool.Close()

	engine, err := postgresengine.NewEngineFromPGXPool(connPool,
		postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(logger.Handler())),
	)
	if err != nil {
		return err
	}

	sweepRunner, err := sweeper.NewRunner(engine,
		sweeper.WithSchedule(cfg.SweepSchedule),
		sweeper.WithLogger(logger),
		sweeper.WithNotifier(logNotifier{logger: logger}),
	)
	if err != nil {
		return err
	}

	if err = sweepRunner.Start(); err != nil {
		return err
	}
	defer func() { <-sweepRunner.Stop().Done() }()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newServer(engine, logger).routes(newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		return err
	case <-shutdownCtx.Done():
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(timeoutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}

// logNotifier writes sweep notifications to the process log. A production
// deployment would swap in a broker or mailer here.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(_ context.Context, kind string, payload []byte) error {
	n.logger.Info("sweep notification", "kind", kind, "payload", string(payload))
	return nil
}
