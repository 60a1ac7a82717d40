package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-zachatter/internal/blob"
	"backend-zachatter/internal/config"
	"backend-zachatter/internal/db"
	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/server"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var errNoFirebase = errors.New("firebase app is not configured")

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

// Resources are the backend connections opened at startup. Any may be nil.
type Resources struct {
	PG        *pgxpool.Pool
	Redis     *redis.Client
	Firestore *firestore.Client
	Blobs     blob.Store
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(level string) logging.Logger
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectFirebase func(context.Context, config.Config) (*firebase.App, error)
	openBlobStore   func(context.Context, config.Config, *firebase.App, logging.Logger) (blob.Store, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, Resources, logging.Logger, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logging.NewLogger,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectFirebase: db.ConnectFirebase,
		openBlobStore:   openBlobStore,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := deps.newLogger(cfg.LogLevel)
	ctx := context.Background()

	var res Resources
	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.WithError(err).Warn("postgres connection failed")
	} else if pg != nil {
		res.PG = pg
		if err := db.EnsureSchema(ctx, pg); err != nil {
			log.WithError(err).Error("postgres schema")
		}
	}

	res.Redis = deps.connectRedis(cfg)
	if res.Redis == nil && cfg.RedisAddr != "" {
		log.WithField("redis_addr", cfg.RedisAddr).Warn("redis unavailable, post changes stay on this instance")
	}

	var app *firebase.App
	if cfg.StoreBackend == config.BackendFirestore || cfg.BlobBackend == config.BackendFirebase {
		app, err = deps.connectFirebase(ctx, cfg)
		if err != nil {
			log.WithError(err).Warn("firebase init failed")
		}
	}
	if app != nil && cfg.StoreBackend == config.BackendFirestore {
		if res.Firestore, err = app.Firestore(ctx); err != nil {
			log.WithError(err).Warn("firestore client failed")
		}
	}

	if res.Blobs, err = deps.openBlobStore(ctx, cfg, app, log); err != nil {
		log.WithError(err).WithField("blob_backend", cfg.BlobBackend).Warn("blob store unavailable")
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, res, log, signals, nil); err != nil {
		log.WithError(err).Error("server exited with error")
	}
}

func openBlobStore(ctx context.Context, cfg config.Config, app *firebase.App, log logging.Logger) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BackendS3:
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendFirebase:
		if app == nil {
			return nil, errNoFirebase
		}
		store, err := blob.NewFirebaseStore(ctx, app, cfg.FirebaseStorageBucket, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, nil
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, res Resources, log logging.Logger, signals <-chan os.Signal, listen ListenFunc) error {
	log = logging.OrDiscard(log)

	backends := server.Backends{
		Redis:     res.Redis,
		Firestore: res.Firestore,
		Blobs:     res.Blobs,
	}
	if res.PG != nil {
		backends.DB = res.PG
	}
	srv := server.NewServer(cfg, backends, log)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	srv.Close()
	if res.PG != nil {
		res.PG.Close()
	}
	if res.Redis != nil {
		_ = res.Redis.Close()
	}
	if res.Firestore != nil {
		_ = res.Firestore.Close()
	}
	return nil
}
