package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/TreePulse/config"
	"github.com/sifan077/TreePulse/internal/app/service"
	inthttp "github.com/sifan077/TreePulse/internal/http/handler"
	"github.com/sifan077/TreePulse/internal/http/middleware"
	httpUtil "github.com/sifan077/TreePulse/internal/http/util"
	"go.uber.org/zap"
)

// Dependencies bundles everything the HTTP server needs.
type Dependencies struct {
	Logger    *zap.Logger
	Redis     *redis.Client
	Ingest    *service.IngestService
	Scheduler *service.FlushScheduler
	Stats     *service.StatsService
	Server    config.ServerConfig
	Analytics config.AnalyticsConfig
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	app := fiber.New()

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	logger := s.deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(logger))
	s.app.Use(middleware.Recovery(logger))
	s.app.Use(middleware.CORS())

	// The public ingest route faces untrusted traffic; everything else
	// is either a health probe or token-gated.
	if s.deps.Redis != nil {
		s.app.Use("/analytics/batch", middleware.RateLimit(s.deps.Redis, middleware.RateLimitConfig{
			MaxRequests: s.deps.Analytics.RateLimitMax,
			Window:      s.deps.Analytics.RateLimitWindow,
			KeyPrefix:   "ratelimit:analytics",
		}, logger))
	}

	analyticsHandler := inthttp.NewAnalyticsHandler(inthttp.AnalyticsDeps{
		Logger:        logger,
		Ingest:        s.deps.Ingest,
		Scheduler:     s.deps.Scheduler,
		Stats:         s.deps.Stats,
		Fingerprinter: httpUtil.NewFingerprinter([]byte(s.deps.Server.SessionSecret)),
		AdminToken:    s.deps.Server.AdminToken,
	})
	analyticsHandler.Register(s.app)
}
