package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/execledger/execledger/internal/metadata/adapters/cache"
	"github.com/execledger/execledger/internal/metadata/adapters/db/repository"
	metadataports "github.com/execledger/execledger/internal/metadata/ports"
	"github.com/execledger/execledger/internal/publisher/adapters/datahub"
	"github.com/execledger/execledger/internal/publisher/adapters/http/handlers"
	"github.com/execledger/execledger/internal/publisher/app/service"
	"github.com/execledger/execledger/internal/publisher/ports"
	pkgcache "github.com/execledger/execledger/pkg/cache"
	"github.com/execledger/execledger/pkg/config"
	"github.com/execledger/execledger/pkg/database"
	"github.com/execledger/execledger/pkg/events"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/execledger/execledger/pkg/metrics"
	"github.com/execledger/execledger/pkg/ratelimit"
	"github.com/execledger/execledger/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const serviceName = "publisher"

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	cache      *pkgcache.RedisCache
	eventBus   events.EventBus
	sink       *datahub.EventSink
	telemetry  *telemetry.Telemetry
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	s := &Server{config: cfg, logger: log}
	if err := s.init(); err != nil {
		ctx := context.Background()
		s.closeDependencies(ctx)
		if s.telemetry != nil {
			if closeErr := s.telemetry.Close(ctx); closeErr != nil {
				s.logger.Error("Failed to flush traces", "error", closeErr)
			}
		}
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	cfg := s.config

	// Initialize telemetry
	tel, err := telemetry.New(cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel

	// Initialize database
	db, err := database.New(cfg.Database.ToDatabaseConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	repo := repository.NewMetadataRepository(db)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate metadata schema: %w", err)
	}

	checks := map[string]handlers.ReadinessCheck{"database": db.Ping}

	// Execution read cache
	var store metadataports.MetadataStore = repo
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, err := pkgcache.NewRedisClient(ctx, cfg.Redis.ToCacheConfig())
		if err != nil {
			return err
		}
		redisClient = client
		opts := cfg.Redis.ToCacheOptions()
		s.cache = pkgcache.NewRedisCache(client, opts)
		store = cache.NewCachedStore(repo, s.cache, opts.DefaultTTL, s.logger)
		checks["redis"] = s.cache.Ping
	}

	// Observability sink
	var sink ports.ExecutionSink = datahub.NopSink{}
	if cfg.Kafka.Enabled {
		bus, err := events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig(), s.logger)
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		s.eventBus = bus
		s.sink = datahub.NewEventSink(bus,
			cfg.Publisher.Sink.ToBreakerConfig("datahub"),
			cfg.Publisher.Sink.ToRetryConfig(),
			datahub.Options{
				QueueSize: cfg.Publisher.Sink.QueueSize,
				Timeout:   cfg.Publisher.Sink.Timeout,
			},
			s.logger,
		)
		sink = s.sink
	}

	publisher := service.NewPublisher(store, sink, tel.Tracer(), s.logger, service.Options{
		RejectTerminalRepublish: cfg.Publisher.RejectTerminalRepublish,
	})
	h := handlers.NewPublisherHandlers(publisher, checks, s.logger)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      setupRouter(h, tel, newRateLimiter(cfg, redisClient), s.logger),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	return nil
}

// newRateLimiter returns nil when rate limiting is off. With Redis the
// limit is shared by every replica.
func newRateLimiter(cfg *config.Config, client *redis.Client) ratelimit.RateLimiter {
	rl := cfg.Server.RateLimit
	if !rl.Enabled {
		return nil
	}
	if client != nil {
		window := time.Duration(float64(rl.Burst) / rl.RequestsPerSecond * float64(time.Second))
		return ratelimit.NewRedisRateLimiter(client, cfg.Redis.Namespace, rl.Burst, window)
	}
	return ratelimit.NewTokenBucketLimiter(rl.RequestsPerSecond, rl.Burst)
}

func setupRouter(h *handlers.PublisherHandlers, tel *telemetry.Telemetry, limiter ratelimit.RateLimiter, log logger.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(tel.HTTPMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(metricsMiddleware())

	// Health checks
	router.GET("/health/live", h.Health)
	router.GET("/health/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	if limiter != nil {
		api.Use(ratelimit.Middleware(limiter, ratelimit.IPKeyFunc))
	}
	h.RegisterRoutes(api)

	return router
}

func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.closeDependencies(ctx)

	if err := s.telemetry.Close(ctx); err != nil {
		s.logger.Error("Failed to flush traces", "error", err)
	}
	return nil
}

func (s *Server) closeDependencies(ctx context.Context) {
	// Queued records are written before the bus goes away
	if s.sink != nil {
		if err := s.sink.Close(ctx); err != nil {
			s.logger.Error("Failed to drain execution sink", "error", err)
		}
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			s.logger.Error("Failed to close event bus", "error", err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Failed to close Redis", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", "error", err)
		}
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(serviceName, c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(serviceName, c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
