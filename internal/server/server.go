package server

import (
	"time"

	"backend-zachatter/internal/blob"
	"backend-zachatter/internal/compose"
	"backend-zachatter/internal/config"
	"backend-zachatter/internal/db"
	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/mapview"
	"backend-zachatter/internal/metrics"
	"backend-zachatter/internal/post"
	"backend-zachatter/internal/postapi"
	"backend-zachatter/internal/session"
	"backend-zachatter/internal/stream"
	"backend-zachatter/internal/visibility"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

const visibleRefresh = time.Minute

// Backends are the external services the server may use. Any of them may be
// nil; missing stores fall back to in-process ones.
type Backends struct {
	DB        db.Querier
	Redis     *redis.Client
	Firestore *firestore.Client
	Blobs     blob.Store
}

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	Log     logging.Logger
	Metrics *metrics.Metrics
	Posts   post.Backend
	Blobs   *blob.Service
	Stream  *stream.Hub
}

func NewServer(cfg config.Config, b Backends, log logging.Logger) *Server {
	log = logging.OrDiscard(log)

	bodyLimit := 4 * 1024 * 1024
	if cfg.MaxPhotoBytes > 0 && int(cfg.MaxPhotoBytes)+1<<20 > bodyLimit {
		bodyLimit = int(cfg.MaxPhotoBytes) + 1<<20
	}
	app := fiber.New(fiber.Config{BodyLimit: bodyLimit})
	app.Use(recover.New())
	app.Use(logger.New())

	m := metrics.New()
	app.Use(m.Middleware())

	s := &Server{
		App:     app,
		Cfg:     cfg,
		Log:     log,
		Metrics: m,
		Posts:   selectPostStore(cfg, b, log),
	}

	blobStore := b.Blobs
	if blobStore == nil {
		log.Warn("no blob backend configured, keeping photos in memory")
		blobStore = blob.NewMemoryStore("/blobs")
	}
	s.Blobs = blob.NewService(blobStore, b.DB, cfg.MaxPhotoBytes, log, m)

	deps := session.Deps{
		Posts:   s.Posts,
		Blobs:   s.Blobs,
		Window:  visibility.NewWindow(cfg.MaxAgeMinutes, cfg.MaxDistanceKm),
		Map:     mapview.SettingsFromConfig(cfg),
		Policy:  compose.Policy{RequirePhoto: cfg.RequirePhoto},
		Log:     log,
		Metrics: m,
		Refresh: visibleRefresh,
	}
	s.Stream = stream.NewHub(func(id string, sink session.Sink) *session.Session {
		return session.New(id, deps, sink)
	}, log)

	registerRoutes(s, deps.Window)
	return s
}

func selectPostStore(cfg config.Config, b Backends, log logging.Logger) post.Backend {
	switch {
	case cfg.StoreBackend == config.BackendFirestore && b.Firestore != nil:
		return post.NewFirestoreStore(b.Firestore, log)
	case cfg.StoreBackend == config.BackendPostgres && b.DB != nil:
		return post.NewService(b.DB, b.Redis, log)
	}
	if cfg.StoreBackend != config.BackendMemory {
		log.WithField("store_backend", cfg.StoreBackend).Warn("post store unavailable, using in-memory store")
	}
	return post.NewMemoryStore(log)
}

func registerRoutes(s *Server, window visibility.Window) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": s.Stream.Sessions()})
	})
	s.App.Get("/metrics", s.Metrics.Handler())

	postapi.RegisterRoutes(s.App.Group("/posts"), s.Posts, window, s.Metrics)
	blob.RegisterRoutes(s.App.Group("/blobs"), s.Blobs)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// Close stops background work owned by the post store.
func (s *Server) Close() {
	if c, ok := s.Posts.(interface{ Close() }); ok {
		c.Close()
	}
}
