// Package app wires the supportchat binary: config, logging, the dev backend
// HTTP server and the terminal chat client.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"supportchat/cmd/internal/devserver"
)

// App is the dev backend runtime: it owns the HTTP server, the chat backend
// and the store lifecycle.
type App struct {
	cfg Config
	log Logger
	reg *prometheus.Registry

	store     devserver.MessageStore
	dbPool    *pgxpool.Pool
	dbEnabled bool

	chat *devserver.Server
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(nil, cfg.LogLevel, cfg.LogFormat)
	}

	reg := newRegistry()

	store, pool, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	srv := devserver.NewServer(devserver.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		AdminToken:     cfg.AdminToken,
	}, store, nil, log, devserver.NewMetrics(reg))

	return &App{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		store:     store,
		dbPool:    pool,
		dbEnabled: pool != nil,
		chat:      srv,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeStore()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; they end
	// when their request contexts are cancelled by the heartbeat or peer.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeStore()
		return err
	}

	a.closeStore()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newStore decides between the Postgres-backed store and the in-memory dev store.
// The app owns the pool; PostgresStore.Close is a no-op.
func newStore(ctx context.Context, cfg Config, log Logger) (devserver.MessageStore, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		if cfg.ReadinessRequireDB {
			log.Warn("db.disabled.readiness_required")
		}
		store := devserver.NewInMemoryStore()
		if cfg.DevSeed {
			seedDemo(store)
		}
		log.Info("db.disabled.inmemory_store", "seeded", cfg.DevSeed)
		return store, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := devserver.NewPostgresStore(pool, devserver.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, nil
}

// seedDemo gives a fresh dev server something to show in the operator feeds.
func seedDemo(store *devserver.InMemoryStore) {
	names := map[int64]string{1: "alice", 2: "bob", 3: "carol"}
	for id, name := range names {
		store.SetCustomerName(id, name)
	}
	for i, customerID := range []int64{1, 2, 1, 3} {
		store.AddOrder(int64(i+1), customerID, "pending")
	}
	store.AddOrder(5, 2, "shipped")
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
