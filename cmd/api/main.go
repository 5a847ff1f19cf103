package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-travellog/internal/config"
	"backend-travellog/internal/db"
	"backend-travellog/internal/events"
	"backend-travellog/internal/logging"
	"backend-travellog/internal/objectstore"
	"backend-travellog/internal/post"
	"backend-travellog/internal/server"
	"backend-travellog/internal/tracing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, *pgxpool.Pool) error
	connectRedis    func(config.Config) *redis.Client
	newObjectStore  func(config.Config) (*objectstore.Store, error)
	newPublisher    func(brokers, topic string) events.Publisher
	setupTracing    func(ctx context.Context, endpoint, service string) (func(context.Context) error, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, resources, <-chan os.Signal, ListenFunc) error
}

// resources are the long-lived clients Run hands to the server and closes on
// the way out.
type resources struct {
	pg              *pgxpool.Pool
	rdb             *redis.Client
	store           post.ObjectStore
	events          events.Publisher
	log             *slog.Logger
	shutdownTracing func(context.Context) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		newObjectStore:  newObjectStore,
		newPublisher:    events.NewKafka,
		setupTracing:    tracing.Setup,
		notify:          signal.Notify,
		run:             Run,
	}
}

func newObjectStore(cfg config.Config) (*objectstore.Store, error) {
	return objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)
	ctx := context.Background()

	res := resources{log: log}

	shutdownTracing, err := deps.setupTracing(ctx, cfg.OTLPEndpoint, "travellog-api")
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	} else {
		res.shutdownTracing = shutdownTracing
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
	} else {
		res.pg = pg
		if cfg.MigrateOnStart {
			if err := deps.migrate(ctx, pg); err != nil {
				log.Error("migrations failed", "error", err)
			}
		}
	}

	res.rdb = deps.connectRedis(cfg)

	store, err := deps.newObjectStore(cfg)
	if err != nil {
		log.Error("object store unavailable", "error", err)
	} else {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.EnsureBucket(bucketCtx); err != nil {
			log.Warn("ensure bucket", "bucket", cfg.S3Bucket, "error", err)
		}
		cancel()
		res.store = store
	}

	res.events = deps.newPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, res, signals, nil); err != nil {
		log.Error("server exited with error", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, res resources, signals <-chan os.Signal, listen ListenFunc) error {
	deps := server.Deps{
		Redis:  res.rdb,
		Store:  res.store,
		Events: res.events,
		Log:    res.log,
	}
	if res.pg != nil {
		deps.DB = res.pg
	}
	srv := server.NewServer(cfg, deps)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
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
	_ = srv.Stream.Close()
	if res.events != nil {
		_ = res.events.Close()
	}
	if res.pg != nil {
		res.pg.Close()
	}
	if res.rdb != nil {
		_ = res.rdb.Close()
	}
	if res.shutdownTracing != nil {
		_ = res.shutdownTracing(shutdownCtx)
	}
	return nil
}
