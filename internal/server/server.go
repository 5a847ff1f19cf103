package server

import (
	"errors"
	"log/slog"
	"time"

	"backend-travellog/internal/auth"
	"backend-travellog/internal/config"
	"backend-travellog/internal/db"
	"backend-travellog/internal/events"
	"backend-travellog/internal/idem"
	"backend-travellog/internal/logging"
	"backend-travellog/internal/metrics"
	"backend-travellog/internal/post"
	"backend-travellog/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Deps are the process-wide clients the routes are built on. Any of them
// may be nil in tests that only exercise routing.
type Deps struct {
	DB       db.Pool
	Redis    *redis.Client
	Store    post.ObjectStore
	Events   events.Publisher
	Log      *slog.Logger
	Registry *prometheus.Registry
}

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       db.Pool
	Redis    *redis.Client
	Posts    *post.Service
	Stream   *stream.Hub
	Log      *slog.Logger
	Registry *prometheus.Registry
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    bodyLimit(cfg.MaxUploadBytes),
		ErrorHandler: errorHandler(deps.Log),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	m := metrics.New(deps.Registry)
	hub := stream.NewHub(deps.Redis, deps.Log)
	var store *idem.Store
	if deps.Redis != nil {
		store = idem.New(deps.Redis, reservationTTL(cfg), cfg.IdempotencyTTL)
	}
	posts := post.NewService(post.Deps{
		Uploader:    post.NewUploader(deps.Store, cfg.UploadTimeout, cfg.UploadConcurrency, m),
		Coordinator: post.NewCoordinator(deps.DB, cfg.TxTimeout, cfg.TxMaxAttempts, m, deps.Log),
		Repository:  post.NewRepository(deps.DB, post.NewCache(deps.Redis, cfg.CacheTTL), cfg.UnlinkOnDelete, deps.Log),
		Idem:        store,
		Events:      events.Fanout{deps.Events, hub},
		Metrics:     m,
		Log:         deps.Log,
	})

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       deps.DB,
		Redis:    deps.Redis,
		Posts:    posts,
		Stream:   hub,
		Log:      deps.Log,
		Registry: deps.Registry,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	post.RegisterRoutes(s.App.Group("/posts"), s.Posts, jwtMiddleware)
	post.RegisterUserRoutes(s.App.Group("/users"), s.Posts)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// reservationTTL bounds how long an unfinished submission holds its
// idempotency key.
func reservationTTL(cfg config.Config) time.Duration {
	if cfg.IdempotencyPendingTTL > 0 {
		return cfg.IdempotencyPendingTTL
	}
	// a few rounds of uploads plus every transaction attempt
	return 4*cfg.UploadTimeout + time.Duration(cfg.TxMaxAttempts)*cfg.TxTimeout
}

func bodyLimit(maxUpload int) int {
	if maxUpload <= 0 {
		return fiber.DefaultBodyLimit
	}
	// room for the multipart envelope and text fields
	return maxUpload + 1<<20
}

// errorHandler renders errors that escape the handlers, mostly fiber.Error
// values from middleware, in the same {"message"} shape the handlers use.
func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}
		log.Error("unhandled error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "unexpected error occurred"})
	}
}
