package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Shivanand-hulikatti/library-lending/internal/config"
	"github.com/Shivanand-hulikatti/library-lending/internal/database"
	"github.com/Shivanand-hulikatti/library-lending/internal/handler"
	"github.com/Shivanand-hulikatti/library-lending/internal/ledger"
	"github.com/Shivanand-hulikatti/library-lending/internal/logger"
	"github.com/Shivanand-hulikatti/library-lending/internal/repository"
	"github.com/Shivanand-hulikatti/library-lending/internal/service"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

// backend is what every storage driver provides.
type backend interface {
	service.Catalog
	store.Store
}

type app struct {
	log   *logrus.Logger
	svc   *service.LibraryService
	close func()
}

// openApp connects the configured store, applies the schema and wires the
// ledger and service on top of it.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.New(cfg.Log)

	var (
		be      backend
		closeFn = func() {}
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		be, closeFn = repository.NewPostgresStore(pool), pool.Close
		log.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		be, closeFn = repository.NewSQLiteStore(db), func() { _ = db.Close() }
		log.WithField("path", cfg.Store.SQLitePath).Info("opened SQLite database")

	case config.DriverMemory:
		be = repository.NewMemoryStore()
		log.Warn("using the in-memory store, data is lost on exit")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	lg := ledger.New(be,
		ledger.WithLogger(log),
		ledger.WithDuplicateLoanPolicy(cfg.Ledger.RejectDuplicateLoans),
		ledger.WithRetry(cfg.Ledger.MaxAttempts, cfg.Ledger.BaseDelay),
	)
	return &app{
		log:   log,
		svc:   service.NewLibraryService(be, lg),
		close: closeFn,
	}, nil
}

// serve runs the HTTP API until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.SeedDefaults {
		n, err := a.svc.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("seed defaults: %w", err)
		}
		if n > 0 {
			a.log.WithField("books", n).Info("default books inserted")
		} else {
			a.log.Info("catalog already populated, skipping defaults")
		}
	}
	if cfg.Auth.Disabled {
		a.log.Warn("token verification is disabled for GET /borrow")
	}

	h := handler.NewLibraryHandler(a.svc, a.log)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(h, a.log, cfg.Auth, cfg.RateLimit),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Run in background goroutine so we can wait for the shutdown signal.
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}
