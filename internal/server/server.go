package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"yomu/internal/config"
	"yomu/internal/formatter"
	"yomu/internal/metrics"
	"yomu/internal/pipeline"
	"yomu/internal/screenshots"
	"yomu/internal/store"
)

// Server wires the HTTP surface to the search and crawl pipelines.
type Server struct {
	app    *fiber.App
	config *config.Config

	search    *pipeline.SearchPipeline
	crawl     *pipeline.CrawlPipeline
	formatter *formatter.Formatter
	store     *store.Store
	shots     *screenshots.Store
	logger    *slog.Logger
}

// Deps groups the constructed components the server serves.
type Deps struct {
	Search    *pipeline.SearchPipeline
	Crawl     *pipeline.CrawlPipeline
	Formatter *formatter.Formatter
	Store     *store.Store
	Shots     *screenshots.Store
	Logger    *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		search:    deps.Search,
		crawl:     deps.Crawl,
		formatter: deps.Formatter,
		store:     deps.Store,
		shots:     deps.Shots,
		logger:    deps.Logger,
	}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Route().Path, status, latency.Milliseconds())

		if s.logger != nil {
			s.logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	})

	// Redis client for rate limiting and health checks
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	app.Get("/healthz", s.healthzHandler(rdb))

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	if s.shots != nil {
		app.Static(screenshots.RoutePrefix, s.shots.Dir())
	}

	var rateMw fiber.Handler
	if rdb != nil && cfg.RateLimit.Enabled {
		rateMw = rateLimitMiddleware(cfg, rdb)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	// The bare prefix must reach the handler too, so an empty query is
	// rejected with 400 rather than falling through to the 404 handler.
	app.Get("/s/", rateMw, s.searchHandler)
	app.Get("/s/*", rateMw, s.searchHandler)
	app.Get("/r/*", rateMw, s.crawlHandler)
	app.Post("/r", rateMw, s.crawlPostHandler)

	return s
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) healthzHandler(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "disabled"
		if s.store != nil && s.store.DB != nil {
			dbStatus = "ok"
			if err := s.store.DB.PingContext(ctx); err != nil {
				dbStatus = "error"
			}
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		browserStatus := "embedded"
		if s.config.Browser.ControlURL != "" {
			browserStatus = "remote"
		}

		status := "ok"
		if dbStatus == "error" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status":  status,
			"db":      dbStatus,
			"redis":   redisStatus,
			"browser": browserStatus,
		})
	}
}

// rateLimitMiddleware enforces a simple per-minute fixed-window rate
// limit per client IP using Redis.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := cfg.RateLimit.DefaultPerMinute
		if limit <= 0 {
			return c.Next()
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("yomu:rl:%s:%s", c.IP(), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis being down should not take the service with it.
			return c.Next()
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(limit) {
			c.Type("text/plain")
			return c.Status(fiber.StatusTooManyRequests).SendString("Rate limit exceeded, try again later")
		}

		return c.Next()
	}
}
