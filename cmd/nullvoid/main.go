// Package main provides the nullvoid CLI: a static supply-chain scanner
// for npm packages, run directly against a project directory, a single
// file, or a name@version specifier.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/nullvoid-dev/nullvoid/internal/cache"
	"github.com/nullvoid-dev/nullvoid/internal/config"
	"github.com/nullvoid-dev/nullvoid/internal/depconfusion"
	"github.com/nullvoid-dev/nullvoid/internal/detector"
	"github.com/nullvoid-dev/nullvoid/internal/domain"
	"github.com/nullvoid-dev/nullvoid/internal/ioc"
	"github.com/nullvoid-dev/nullvoid/internal/orchestrator"
	"github.com/nullvoid-dev/nullvoid/internal/ratelimit"
	"github.com/nullvoid-dev/nullvoid/internal/report"
)

const version = "0.1.0"

// Exit codes: clean means no findings at or above high severity.
const (
	exitClean   = 0
	exitThreats = 1
	exitUsage   = 2
)

const (
	maxDepth   = 10
	maxWorkers = 16
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("nullvoid", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		verbose     = flags.Bool("verbose", false, "Enable verbose logging")
		showVersion = flags.Bool("version", false, "Show version")
		showHelp    = flags.Bool("help", false, "Show help")
	)

	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitClean
		}
		return exitUsage
	}

	if *showVersion {
		fmt.Fprintf(stdout, "nullvoid version %s\n", version)
		return exitClean
	}
	if *showHelp || flags.NArg() == 0 {
		printUsage(stdout)
		return exitClean
	}

	switch flags.Arg(0) {
	case "scan":
		return runScan(flags.Args()[1:], *verbose, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "nullvoid version %s\n", version)
		return exitClean
	case "help":
		printUsage(stdout)
		return exitClean
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", flags.Arg(0))
		return exitUsage
	}
}

func runScan(args []string, verbose bool, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("scan", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		depth      = flags.Int("depth", 0, "Transitive dependency depth (1..10)")
		workers    = flags.String("workers", "auto", "Worker count (1..16 or auto)")
		output     = flags.String("output", report.FormatTable, "Output format (json|table|yaml|sarif|markdown|html)")
		rulesPath  = flags.String("rules", "", "Custom rules file (YAML)")
		all        = flags.Bool("all", false, "Include low/medium findings in output")
		compliance = flags.String("compliance", "", "Append a compliance section (soc2|iso27001), markdown only")
		parallel   = flags.Bool("parallel", true, "Scan files in parallel")
	)

	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitClean
		}
		return exitUsage
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if *depth != 0 {
		if *depth < 1 || *depth > maxDepth {
			fmt.Fprintf(stderr, "Error: -depth must be between 1 and %d\n", maxDepth)
			return exitUsage
		}
		cfg.Depth = *depth
	}
	if *workers != "auto" {
		n, err := strconv.Atoi(*workers)
		if err != nil || n < 1 || n > maxWorkers {
			fmt.Fprintf(stderr, "Error: -workers must be 1..%d or auto\n", maxWorkers)
			return exitUsage
		}
		cfg.WorkerPool.MaxWorkers = n
	}

	target := flags.Arg(0)
	if target == "" {
		target = cfg.DefaultTarget
	}
	if target == "" {
		target = "."
	}

	rules := *rulesPath
	if rules == "" {
		rules = cfg.Detector.RulesFile
	}
	var custom []detector.CustomRule
	if rules != "" {
		custom, err = detector.LoadRulesFile(rules)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	}

	engine, cleanup := buildEngine(cfg, logger, custom)
	defer cleanup()
	engine.Parallel = *parallel

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var scanReport *domain.ScanReport
	if name, ver, ok := packageSpec(target); ok {
		scanReport, err = engine.ScanPackage(ctx, name, ver)
	} else {
		scanReport, err = engine.ScanPath(ctx, target)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	rendered := *scanReport
	if !*all {
		rendered.Threats = filterAtLeastHigh(scanReport.Threats)
	}
	if err := report.Write(stdout, *output, &rendered, *compliance); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	for _, t := range scanReport.Threats {
		if t.Severity.AtLeast(domain.SeverityHigh) {
			return exitThreats
		}
	}
	return exitClean
}

// buildEngine wires the cache layers, rate limiter, advisory providers,
// and dependency-confusion analyzer into an orchestrator. The returned
// cleanup stops background goroutines and closes remote connections.
func buildEngine(cfg *config.Config, logger *slog.Logger, custom []detector.CustomRule) (*orchestrator.Orchestrator, func()) {
	var layers []cache.Layer
	var closers []func()

	layers = append(layers, cache.NewMemoryLayer(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL))
	if cfg.Cache.L2Enabled {
		if disk, err := cache.NewDiskLayer(cfg.Cache.L2Dir, cfg.Cache.L2Compress); err != nil {
			logger.Warn("disk cache unavailable", "dir", cfg.Cache.L2Dir, "error", err)
		} else {
			layers = append(layers, disk)
		}
	}
	if cfg.Cache.L3Enabled && cfg.Cache.L3DSN != "" {
		pg, err := cache.NewPostgresLayer(context.Background(), cache.PostgresConfig{DSN: cfg.Cache.L3DSN}, logger)
		if err != nil {
			logger.Warn("remote cache unavailable", "error", err)
		} else {
			layers = append(layers, pg)
			closers = append(closers, func() { _ = pg.Close() })
		}
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig(), logger)
	closers = append(closers, limiter.Stop)

	var providers []ioc.Provider
	for name, pcfg := range cfg.IoCProviders {
		if !pcfg.Enabled {
			continue
		}
		switch name {
		case "osv":
			providers = append(providers, ioc.NewOSVProvider(pcfg.BaseURL))
		case "nvd":
			key := pcfg.APIKey
			if key == "" {
				key = os.Getenv("NVD_API_KEY")
			}
			providers = append(providers, ioc.NewNVDProvider(key))
		case "github":
			token := pcfg.APIKey
			if token == "" {
				token = os.Getenv("GITHUB_TOKEN")
			}
			providers = append(providers, ioc.NewGitHubAdvisoryProvider(token))
		default:
			logger.Warn("unknown ioc provider in config, ignoring", "provider", name)
		}
	}
	iocMgr := ioc.NewManager(providers, cache.NewLayered(layers, 0), limiter, logger)

	throttler := ratelimit.NewThrottler(ratelimit.DefaultThrottlerConfig())
	confusion := depconfusion.New(
		cfg.DependencyConfusion,
		depconfusion.NewNPMRegistry(nil, throttler),
		depconfusion.NewGitHistory(),
		nil,
	)

	pipeline := detector.NewPipeline(cfg.Detector, detector.NewFingerprintIndex(), nil, custom...)

	engine := orchestrator.New(cfg, pipeline, iocMgr, confusion, logger)
	return engine, func() {
		for _, c := range closers {
			c()
		}
	}
}

// packageSpec recognizes a name@version target like "acme-utils@0.1.2" or
// "@acme/internal-tools@1.0.0". Anything that exists on disk is a path,
// not a specifier.
func packageSpec(target string) (name, version string, ok bool) {
	if _, err := os.Stat(target); err == nil {
		return "", "", false
	}
	idx := strings.LastIndex(target, "@")
	if idx <= 0 {
		return "", "", false
	}
	name, version = target[:idx], target[idx+1:]
	if name == "" || version == "" || strings.ContainsAny(version, "/\\") {
		return "", "", false
	}
	return name, version, true
}

// filterAtLeastHigh drops low/medium findings from rendered output; the
// underlying report (and the exit code) still reflects everything found.
func filterAtLeastHigh(threats []domain.Threat) []domain.Threat {
	out := make([]domain.Threat, 0, len(threats))
	for _, t := range threats {
		if t.Severity.AtLeast(domain.SeverityHigh) {
			out = append(out, t)
		}
	}
	return out
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `
NullVoid - Static Supply-Chain Security Scanner

USAGE:
    nullvoid [OPTIONS] <COMMAND> [ARGS]

OPTIONS:
    -verbose        Enable verbose logging
    -version        Show version information
    -help           Show this help message

COMMANDS:
    scan [target]   Scan a directory, file, or name@version specifier
    version         Show version information
    help            Show this help message

SCAN FLAGS:
    -depth <n>         Transitive dependency depth (1..10)
    -workers <n|auto>  Worker count (1..16, default auto)
    -output <fmt>      json|table|yaml|sarif|markdown|html (default table)
    -rules <path>      Custom rules file (YAML)
    -all               Include low/medium findings in output
    -compliance <fw>   soc2|iso27001 compliance section (markdown output)
    -parallel          Scan files in parallel (default true)

EXAMPLES:
    # Scan the current project
    nullvoid scan .

    # Scan a published package by name and version
    nullvoid scan lodash@4.17.21

    # SARIF output for CI upload
    nullvoid scan -output sarif . > scan.sarif

ENVIRONMENT:
    NULLVOID_MAX_WORKERS    Worker pool size
    NULLVOID_MAX_FILE_SIZE  Per-file size cap in bytes
    NULLVOID_CACHE_TTL      In-memory cache TTL (Go duration)
    NULLVOID_L3_DSN         Postgres DSN enabling the remote cache layer
    NVD_API_KEY             NVD advisory API key
    GITHUB_TOKEN            GitHub advisory API token

EXIT CODES:
    0   No threats of severity high or critical
    1   Threats found
    2   Invalid input or configuration
`)
}
