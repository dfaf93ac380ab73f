// Command clickguard watches web pages for clickjacking overlays.
//
// Usage:
//
//	clickguard -config clickguard.yaml                     # watch configured pages, serve the API
//	clickguard -url https://example.com                    # one pass, report on stdout
//	clickguard -url https://example.com -html saved.html   # one pass on a saved page
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/clickguard/api"
	"github.com/hazyhaar/clickguard/htmlpage"
	"github.com/hazyhaar/clickguard/internal/config"
	"github.com/hazyhaar/clickguard/internal/mcpquic"
	"github.com/hazyhaar/clickguard/sensor"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to clickguard.yaml")
	pageURL := flag.String("url", "", "scan a single URL once and print the report")
	htmlPath := flag.String("html", "", "with -url: read the page from this file instead of fetching it")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *htmlPath); err != nil {
		logger.Error("clickguard: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, htmlPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return err
		}
	}
	if htmlPath != "" && pageURL == "" {
		return errors.New("-html needs -url")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if pageURL != "" {
		return runOnce(ctx, a, pageURL, htmlPath)
	}
	return serve(ctx, a)
}

// runOnce runs a single pass and prints the report.
func runOnce(ctx context.Context, a *app, pageURL, htmlPath string) error {
	var s *sensor.Sensor
	if htmlPath != "" {
		f, err := os.Open(htmlPath)
		if err != nil {
			return err
		}
		page, err := htmlpage.Parse(pageURL, f, a.viewport())
		f.Close()
		if err != nil {
			return err
		}
		s = a.newSensor(page)
	} else {
		doc, _, err := a.open(ctx, pageURL, "auto", false)
		if err != nil {
			return err
		}
		s = a.newSensor(doc)
	}
	defer s.Close()

	report, err := s.ScanNow(ctx)
	if err != nil {
		return fmt.Errorf("scan %s: %w", pageURL, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// serve watches the configured pages and exposes the API until ctx ends.
func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	fleet := sensor.NewFleet(func(ctx context.Context, pageURL string) (*sensor.Sensor, error) {
		if cfg.API.AllowPrivate {
			doc, _, err := a.open(ctx, pageURL, "auto", false)
			if err != nil {
				return nil, err
			}
			return a.newSensor(doc), nil
		}
		doc, err := a.openUntrusted(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return a.newSensor(doc), nil
	}, logger)
	defer fleet.Close()

	ctx, cancel := context.WithCancel(ctx)
	var watchers sync.WaitGroup
	defer func() {
		cancel()
		watchers.Wait()
	}()
	for _, pc := range cfg.Pages {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			a.watch(ctx, fleet, pc)
		}()
	}

	svc := api.New(api.Service{
		Scanner:    fleet,
		Trust:      a.trust,
		Status:     a.tracker,
		Detections: a.journal,
		Logger:     logger,
	})

	if cfg.API.MCPQUIC != "" {
		ln, err := listenMCP(cfg.API, svc, logger)
		if err != nil {
			return fmt.Errorf("mcp quic: %w", err)
		}
		defer ln.Close()
		go func() {
			if err := ln.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("clickguard: mcp quic stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           svc.Handler(a.registry),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("clickguard: api listening", "addr", cfg.API.Listen, "pages", len(cfg.Pages))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("api: %w", err)
	}
	logger.Info("clickguard: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("clickguard: shutdown", "error", err)
	}
	return nil
}

func listenMCP(cfg config.APIConfig, svc *api.Service, logger *slog.Logger) (*mcpquic.Listener, error) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "clickguard", Version: version}, nil)
	svc.RegisterMCP(srv)

	var (
		tlsCfg *tls.Config
		err    error
	)
	if cfg.TLSCert != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(cfg.TLSCert, cfg.TLSKey)
	} else {
		logger.Warn("clickguard: mcp quic using a self-signed certificate")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return nil, err
	}
	return mcpquic.Listen(cfg.MCPQUIC, tlsCfg, srv, mcpquic.WithLogger(logger))
}
