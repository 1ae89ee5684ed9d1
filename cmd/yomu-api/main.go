package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"yomu/internal/browser"
	"yomu/internal/cache"
	"yomu/internal/config"
	"yomu/internal/formatter"
	"yomu/internal/jobs"
	"yomu/internal/migrate"
	"yomu/internal/pipeline"
	"yomu/internal/screenshots"
	"yomu/internal/searxng"
	"yomu/internal/server"
	"yomu/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	st := store.New(db)

	shots, err := screenshots.New(cfg.Screenshot.Dir)
	if err != nil {
		log.Fatalf("failed to init screenshot store: %v", err)
	}

	searchClient := searxng.NewClient(cfg.Searxng)
	searchCache := cache.New(searchClient, st, cfg.Cache, logger)

	rodBrowser := browser.New(cfg.Browser, cfg.Robots, logger)
	fm := formatter.New(shots, logger)

	earlyReturn := time.Duration(cfg.Search.EarlyReturnMs) * time.Millisecond
	searchPipeline := pipeline.NewSearchPipeline(searchCache, rodBrowser, fm, earlyReturn, logger)
	crawlPipeline := pipeline.NewCrawlPipeline(rodBrowser, fm, rodBrowser, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jobs.StartRetention(ctx, cfg, st, shots, logger)

	srv := server.NewServer(cfg, server.Deps{
		Search:    searchPipeline,
		Crawl:     crawlPipeline,
		Formatter: fm,
		Store:     st,
		Shots:     shots,
		Logger:    logger,
	})

	logger.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.Listen(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
