// Package server contains the HTTP and WebSocket surface of the messenger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"messenger/internal/bootstrap"
	"messenger/internal/config"
	"messenger/internal/featureflags"
	"messenger/internal/middleware"
	"messenger/internal/models"
	"messenger/internal/notifications"
	"messenger/internal/observability"
	"messenger/internal/repository"
	"messenger/internal/service"
	"messenger/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server owns the HTTP app, the Connection Registry and everything they
// depend on. It is built once at startup and stopped with Shutdown.
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	auth           *middleware.Authenticator
	registry       *notifications.Registry
	router         *RoomRouter
	chatService    *service.ChatService
	media          storage.MediaStore
	featureFlags   *featureflags.Manager
	wsLog          *observability.WSLogger
}

// NewServer connects to the database, Redis and the media store and creates
// a server instance.
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SeedDemoData: cfg.SeedDemoData})
	if err != nil {
		return nil, err
	}

	media, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}

	return NewServerWithDeps(cfg, db, rdb, media)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; tickets and rate limits are then unavailable.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, media storage.MediaStore) (*Server, error) {
	chatRepo := repository.NewChatRepository(db)
	userRepo := repository.NewUserRepository(db, redisClient)

	registry := notifications.NewRegistry(cfg.WSMaxConnsPerUser)
	chatService := service.NewChatService(chatRepo, userRepo, media, redisClient, cfg.MaxUploadBytes())

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("messenger-api"),
		auth:           middleware.NewAuthenticator(cfg, redisClient),
		registry:       registry,
		router:         NewRoomRouter(chatService, registry),
		chatService:    chatService,
		media:          media,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		wsLog:          observability.NewWSLogger("live"),
	}
	s.app = s.newApp()
	return s, nil
}

// App returns the configured Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Registry returns the server's Connection Registry.
func (s *Server) Registry() *notifications.Registry {
	return s.registry
}

func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "Messenger API",
		BodyLimit: int(s.config.MaxUploadBytes()) + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected browser requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithAppError(c, models.NewRateLimitedError("Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	if local, ok := s.media.(*storage.LocalStore); ok {
		app.Static(local.BaseURL(), local.Dir())
	}

	api := app.Group("/api")
	protected := api.Group("", s.auth.AuthRequired())

	protected.Get("/feature-flags", s.GetFeatureFlags)
	protected.Get("/users", s.ListUsers)
	protected.Post("/ws/ticket", s.IssueWSTicket)

	chats := protected.Group("/chats")
	chats.Post("/", middleware.RateLimit(s.redis, 20, time.Minute, "create_chat"), s.CreateChat)
	chats.Post("/private", middleware.RateLimit(s.redis, 20, time.Minute, "create_chat"), s.CreatePrivateChat)
	chats.Get("/", s.ListMyChats)
	chats.Get("/:id/messages", s.GetMessages)

	protected.Post("/messages/upload",
		s.RequireFeature(featureflags.MediaUpload),
		middleware.RateLimit(s.redis, 30, time.Minute, "upload_media"),
		s.UploadMedia)

	// The group's AuthRequired runs before the upgrade, so a rejected
	// handshake never reaches the registry.
	protected.Get("/ws", WebSocketUpgradeRequired(), s.WebSocketHandler())
}

// LivenessCheck reports whether the process is up
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":      "up",
		"connections": s.registry.Count(),
		"time":        time.Now(),
	})
}

// ReadinessCheck reports whether the store and cache are reachable
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis only backs tickets, caches and rate limits, so its absence degrades
	// but does not fail readiness.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	} else if redisStatus != "healthy" {
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start listens on the configured port until Shutdown is called.
func (s *Server) Start() error {
	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown closes live connections, stops the HTTP server and releases the
// database and Redis.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.registry.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down registry", slog.String("error", err.Error()))
	}

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
