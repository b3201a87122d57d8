// Package main is the entry point for the nullvoid scan API server, the
// thin HTTP surface over the same engine the CLI drives.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nullvoid-dev/nullvoid/internal/api"
	"github.com/nullvoid-dev/nullvoid/internal/cache"
	"github.com/nullvoid-dev/nullvoid/internal/config"
	"github.com/nullvoid-dev/nullvoid/internal/depconfusion"
	"github.com/nullvoid-dev/nullvoid/internal/detector"
	"github.com/nullvoid-dev/nullvoid/internal/ioc"
	"github.com/nullvoid-dev/nullvoid/internal/orchestrator"
	"github.com/nullvoid-dev/nullvoid/internal/ratelimit"
)

const version = "0.1.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("NULLVOID_ENV") == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting NullVoid API Server", "version", version)

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("Failed to resolve working directory", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var layers []cache.Layer
	layers = append(layers, cache.NewMemoryLayer(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL))
	if cfg.Cache.L2Enabled {
		disk, derr := cache.NewDiskLayer(cfg.Cache.L2Dir, cfg.Cache.L2Compress)
		if derr != nil {
			slog.Warn("Disk cache unavailable - proceeding with memory only", "error", derr)
		} else {
			layers = append(layers, disk)
		}
	}
	if cfg.Cache.L3Enabled && cfg.Cache.L3DSN != "" {
		pg, perr := cache.NewPostgresLayer(context.Background(), cache.PostgresConfig{DSN: cfg.Cache.L3DSN}, logger)
		if perr != nil {
			slog.Warn("Remote cache unavailable - proceeding without L3", "error", perr)
		} else {
			layers = append(layers, pg)
			defer pg.Close()
		}
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig(), logger)
	defer limiter.Stop()

	var providers []ioc.Provider
	for name, pcfg := range cfg.IoCProviders {
		if !pcfg.Enabled {
			continue
		}
		switch name {
		case "osv":
			providers = append(providers, ioc.NewOSVProvider(pcfg.BaseURL))
		case "nvd":
			providers = append(providers, ioc.NewNVDProvider(firstNonEmpty(pcfg.APIKey, os.Getenv("NVD_API_KEY"))))
		case "github":
			providers = append(providers, ioc.NewGitHubAdvisoryProvider(firstNonEmpty(pcfg.APIKey, os.Getenv("GITHUB_TOKEN"))))
		}
	}

	iocMgr := ioc.NewManager(providers, cache.NewLayered(layers, 0), limiter, logger)
	confusion := depconfusion.New(
		cfg.DependencyConfusion,
		depconfusion.NewNPMRegistry(nil, ratelimit.NewThrottler(ratelimit.DefaultThrottlerConfig())),
		depconfusion.NewGitHistory(),
		nil,
	)
	pipeline := detector.NewPipeline(cfg.Detector, detector.NewFingerprintIndex(), nil)
	engine := orchestrator.New(cfg, pipeline, iocMgr, confusion, logger)

	handler := api.NewScanHandler(engine, logger)
	server := api.NewAPIServer(handler, limiter, logger)

	addr := os.Getenv("NULLVOID_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := server.Start(addr); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
