// Package app wires configuration, storage, locking and the reputation services
// into one runnable unit shared by the CLI commands and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trustchain/internal/config"
	dbpkg "trustchain/internal/db"
	"trustchain/internal/handler"
	"trustchain/internal/ledger"
	"trustchain/internal/lock"
	"trustchain/internal/logger"
	"trustchain/internal/profile"
	"trustchain/internal/reputation"
	"trustchain/internal/router"
	"trustchain/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds the wired components
type App struct {
	Config  config.Config
	Log     *logger.Logger
	DB      *gorm.DB
	Store   *store.Store
	Ledger  *ledger.Ledger
	Service *reputation.Service

	redis *redis.Client
}

// New opens the database (and Redis when configured) and builds the services
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	log.Printf("DB connected (%s)", cfg.DBDialect)

	a := &App{Config: cfg, Log: log, DB: gormDB}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB builds the services over an already opened database
func NewWithDB(ctx context.Context, cfg config.Config, log *logger.Logger, gormDB *gorm.DB) (*App, error) {
	a := &App{Config: cfg, Log: log, DB: gormDB}
	if err := a.build(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var locker ledger.Locker = ledger.NewKeyedMutex()
	if a.Config.RedisURL != "" {
		client, err := lock.Dial(ctx, a.Config.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		a.redis = client
		locker = lock.NewRedisLocker(client, a.Config.LockTTL)
		a.Log.Printf("Redis connected, distributed mining lock enabled")
	} else {
		a.Log.Printf("REDIS_URL not provided – mining lock is process-local")
	}
	if !a.Config.StrictVerify {
		a.Log.Warnw("strict verification disabled: only hash links are checked, content edits go undetected")
	}

	a.Store = store.New(a.DB)
	a.Ledger = ledger.New(a.Store,
		ledger.WithLocker(locker),
		ledger.WithStrict(a.Config.StrictVerify),
		ledger.WithLogger(a.Log.With("component", "ledger")),
	)
	a.Service = reputation.NewService(a.Ledger, a.Store, profile.NewResolver(a.DB, a.Log), a.Log.With("component", "reputation"))
	return nil
}

// Migrate applies the schema
func (a *App) Migrate() error {
	if err := dbpkg.AutoMigrate(a.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.Log.Printf("Migrations applied")
	return nil
}

// Handler builds the HTTP engine
func (a *App) Handler() http.Handler {
	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.SetupRouter(r, handler.NewLedgerHandler(a.Ledger, a.Service, a.Log.With("component", "http")))
	return r
}

// Serve runs the HTTP API until ctx is done
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Infow("http server listening", "addr", a.Config.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases connections
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
