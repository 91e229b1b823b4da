package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/obsidianstack/pdrelay/internal/alerts"
	"github.com/obsidianstack/pdrelay/internal/api"
	"github.com/obsidianstack/pdrelay/internal/config"
	"github.com/obsidianstack/pdrelay/internal/scraper"
	"github.com/obsidianstack/pdrelay/internal/store"
	"github.com/obsidianstack/pdrelay/pkg/pagerduty"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("pdrelay starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"services", len(cfg.PagerDuty.Services),
		"targets", len(cfg.Scrape.Targets),
		"rules", len(cfg.Rules),
		"scrape_interval", cfg.Scrape.Interval,
		"listen", cfg.API.Listen,
	)
	for _, s := range cfg.PagerDuty.Services {
		if s.RoutingKey() == "" {
			slog.Warn("service has no routing key, its events will be skipped",
				"service", s.Name, "env", s.RoutingKeyEnv)
		}
	}

	apiKey, err := cfg.API.Auth.RequiredKey()
	if err != nil {
		slog.Error("refusing to start with an open API", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// PagerDuty channel shared by the alerts engine and the API.
	channel := pagerduty.NewChannel(pagerduty.NewHTTPTransport(&http.Client{Timeout: cfg.PagerDuty.Timeout}))

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	alertEngine := alerts.New(cfg, channel)

	// Hot reload swaps rules and services; scrape targets and the API
	// listener keep their startup settings.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			current.Store(updated)
			alertEngine.Reload(updated)
			slog.Info("config hot-reloaded",
				"services", len(updated.PagerDuty.Services),
				"rules", len(updated.Rules))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	var scrapers []*scraper.Scraper
	for _, t := range cfg.Scrape.Targets {
		s, err := scraper.New(t)
		if err != nil {
			slog.Error("skipping target, could not build scraper", "target", t.ID, "err", err)
			continue
		}
		scrapers = append(scrapers, s)
		slog.Info("registered target", "id", t.ID, "endpoint", t.Endpoint)
	}
	if len(scrapers) == 0 {
		slog.Warn("no scrape targets configured, only the events API is active")
	}

	// Latest result per target, served on /api/v1/targets.
	results := store.New(cfg.Scrape.ResultTTL)

	// Scrape loop: poll every interval and evaluate rules on each result.
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		results.Run(ctx)
	}()
	go func() {
		defer loops.Done()
		ticker := time.NewTicker(cfg.Scrape.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range scrapers {
					res, err := s.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "target", s.TargetID(), "err", err)
						continue
					}
					results.Put(res)
					alertEngine.Evaluate(res)
				}
			}
		}
	}()

	handler := api.New(api.Deps{
		Alerts:  alertEngine,
		Targets: results,
		Services: func(name string) (config.Service, bool) {
			return current.Load().Service(name)
		},
		Sender: channel,
		Auth: api.Auth{
			Mode:   cfg.API.Auth.Mode,
			Header: cfg.API.Auth.EffectiveHeader(),
			Key:    apiKey,
		},
	})

	httpSrv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP API listening", "addr", cfg.API.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("pdrelay shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	loops.Wait()
	alertEngine.Wait()
}
