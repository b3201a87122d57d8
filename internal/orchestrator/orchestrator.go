// Package orchestrator drives a complete scan: it resolves the target
// through path safety, enumerates candidate files, fans detector work out
// over the worker pool, folds in dependency-confusion and advisory
// results, and assembles the final scored report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nullvoid-dev/nullvoid/internal/config"
	"github.com/nullvoid-dev/nullvoid/internal/depconfusion"
	"github.com/nullvoid-dev/nullvoid/internal/detector"
	"github.com/nullvoid-dev/nullvoid/internal/domain"
	"github.com/nullvoid-dev/nullvoid/internal/ioc"
	"github.com/nullvoid-dev/nullvoid/internal/pathsafety"
	"github.com/nullvoid-dev/nullvoid/internal/riskscore"
	"github.com/nullvoid-dev/nullvoid/internal/streamreader"
	"github.com/nullvoid-dev/nullvoid/internal/workerpool"
)

// scanState tracks where a scan is in its lifecycle; transitions are
// logged so a stuck scan shows its last completed phase.
type scanState string

const (
	stateInit        scanState = "init"
	stateEnumerating scanState = "enumerating"
	stateScanning    scanState = "scanning"
	stateAggregating scanState = "aggregating"
	stateScoring     scanState = "scoring"
	stateDone        scanState = "done"
	stateCancelled   scanState = "cancelled"
)

const (
	fileChunkSize   = 64 * 1024
	fileContextSize = 10 * 1024
)

// Orchestrator wires the detector pipeline, worker pool, advisory
// manager, and dependency-confusion analyzer into one scan entry point.
type Orchestrator struct {
	cfg       *config.Config
	pipeline  *detector.Pipeline
	iocMgr    *ioc.Manager
	iocCfg    ioc.Config
	confusion *depconfusion.Analyzer
	logger    *slog.Logger

	// Parallel switches between the worker pool and a sequential loop;
	// sequential mode exists for debugging and deterministic profiling.
	Parallel bool
}

// New builds an Orchestrator. iocMgr and confusion may be nil to disable
// the corresponding phases.
func New(cfg *config.Config, pipeline *detector.Pipeline, iocMgr *ioc.Manager, confusion *depconfusion.Analyzer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		pipeline:  pipeline,
		iocMgr:    iocMgr,
		iocCfg:    ioc.DefaultConfig(),
		confusion: confusion,
		logger:    logger.With("component", "orchestrator"),
		Parallel:  true,
	}
}

// ScanPath scans a directory or single file. A path that fails validation
// does not abort with an error: the rejection becomes a PathTraversal
// threat in the report, and the caller decides the exit status from the
// findings.
func (o *Orchestrator) ScanPath(ctx context.Context, target string) (*domain.ScanReport, error) {
	report := o.newReport(target)
	o.transition(report, stateInit)

	root, single, err := splitTarget(target)
	if err != nil {
		if errors.Is(err, domain.ErrPathTraversal) || errors.Is(err, domain.ErrValidation) {
			report.Threats = append(report.Threats, traversalThreat(target, err))
			return o.finish(ctx, report, domain.PackageDescriptor{}, false)
		}
		return nil, err
	}

	validator, err := pathsafety.NewValidator(root, o.logger)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			report.Threats = append(report.Threats, traversalThreat(target, err))
			return o.finish(ctx, report, domain.PackageDescriptor{}, false)
		}
		return nil, fmt.Errorf("resolve target: %w", err)
	}
	report.Target.RootPath = validator.Root()

	o.transition(report, stateEnumerating)
	var files []string
	if single != "" {
		resolved, rerr := validator.Resolve(single)
		if rerr != nil {
			report.Threats = append(report.Threats, traversalThreat(target, rerr))
			return o.finish(ctx, report, domain.PackageDescriptor{}, false)
		}
		files = []string{resolved}
	} else {
		files, err = validator.Walk()
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", root, err)
		}
	}
	files = o.applyExcludes(files, validator.Root())

	pkg, hasManifest, merr := ParseManifest(validator.Root())
	if merr != nil {
		o.logger.Warn("manifest unreadable, scanning sources only", "error", merr)
	}
	if hasManifest {
		report.Target.PackageName = pkg.Name
		report.Target.PackageVersion = pkg.Version
		report.Threats = append(report.Threats, scriptThreats(pkg, filepath.Join(validator.Root(), "package.json"))...)
	}

	if err := ctx.Err(); err != nil {
		return o.cancel(report), nil
	}

	o.transition(report, stateScanning)
	fileThreats, metrics, err := o.scanFiles(ctx, files, pkg.Name)
	report.Threats = append(report.Threats, fileThreats...)
	report.Metrics.FilesScanned = metrics.ProcessedItems
	report.Metrics.FilesSkipped = metrics.FailedItems
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return o.cancel(report), nil
		}
		return nil, err
	}

	return o.finish(ctx, report, pkg, hasManifest)
}

// ScanPackage scans a package by name and version without local sources:
// only the registry-facing phases (dependency confusion, advisories) run.
func (o *Orchestrator) ScanPackage(ctx context.Context, name, version string) (*domain.ScanReport, error) {
	pkg, err := DescriptorFor(name, version)
	if err != nil {
		return nil, err
	}

	report := o.newReport(name + "@" + version)
	report.Target.PackageName = pkg.Name
	report.Target.PackageVersion = pkg.Version
	o.transition(report, stateInit)

	return o.finish(ctx, report, pkg, true)
}

// finish runs the package-level phases (dependency confusion, advisory
// lookups), then aggregates, scores, and closes the report.
func (o *Orchestrator) finish(ctx context.Context, report *domain.ScanReport, pkg domain.PackageDescriptor, hasManifest bool) (*domain.ScanReport, error) {
	if hasManifest {
		if err := ctx.Err(); err != nil {
			return o.cancel(report), nil
		}
		report.Threats = append(report.Threats, o.packagePhases(ctx, pkg)...)
	}

	if err := ctx.Err(); err != nil {
		return o.cancel(report), nil
	}

	o.transition(report, stateAggregating)
	report.Threats = finalizeThreats(report.Threats)

	o.transition(report, stateScoring)
	report.Risk = riskscore.Score(report.Threats)
	countBySeverity(report)

	o.transition(report, stateDone)
	now := time.Now()
	report.Status = domain.ScanStatusCompleted
	report.CompletedAt = &now
	report.Metrics.Duration = now.Sub(report.StartedAt)
	return report, nil
}

// packagePhases runs dependency-confusion analysis on the scanned package
// and advisory lookups on it plus its declared dependencies.
func (o *Orchestrator) packagePhases(ctx context.Context, pkg domain.PackageDescriptor) []domain.Threat {
	var threats []domain.Threat

	if o.confusion != nil && o.cfg.Detector.EnableDependencyCheck {
		found, err := o.confusion.Analyze(ctx, pkg, pkg.Path)
		if err != nil {
			o.logger.Warn("dependency-confusion analysis failed", "package", pkg.Name, "error", err)
		} else {
			threats = append(threats, found...)
		}
	}

	if o.iocMgr == nil {
		return threats
	}

	index := make(map[string]int)
	queryPkg := func(p domain.PackageDescriptor) {
		results, err := o.iocMgr.QueryAll(ctx, p, o.iocCfg)
		if err != nil {
			o.logger.Warn("advisory lookup failed", "package", p.Name, "error", err)
			return
		}
		for _, r := range results {
			threats = mergeVulnerability(threats, index, p, r)
		}
	}

	if pkg.Version != "" {
		queryPkg(pkg)
	}
	for name, rng := range pkg.DeclaredDependencies {
		if ctx.Err() != nil {
			return threats
		}
		dep, err := DescriptorFor(name, cleanVersionRange(rng))
		if err != nil {
			o.logger.Warn("skipping undecodable dependency", "name", name, "error", err)
			continue
		}
		queryPkg(dep)
	}
	return threats
}

// scanFiles runs the detector pipeline over files, through the worker
// pool or sequentially.
func (o *Orchestrator) scanFiles(ctx context.Context, files []string, pkgName string) ([]domain.Threat, workerpool.Metrics, error) {
	process := func(ctx context.Context, path string) ([]domain.Threat, error) {
		return o.scanFile(ctx, path, pkgName)
	}

	if o.Parallel {
		pool := workerpool.New[string](workerpool.Config{
			MaxWorkers:   o.cfg.WorkerPool.MaxWorkers,
			ChunkSize:    o.cfg.WorkerPool.ChunkSize,
			ChunkTimeout: o.cfg.WorkerPool.Timeout,
		}, o.logger)
		return pool.Run(ctx, files, process)
	}

	var all []domain.Threat
	metrics := workerpool.Metrics{TotalItems: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return all, metrics, err
		}
		found, err := process(ctx, f)
		if err != nil {
			metrics.FailedItems++
			all = append(all, analysisErrorThreat(f, err))
			continue
		}
		metrics.ProcessedItems++
		all = append(all, found...)
	}
	metrics.ThreatsFound = len(all)
	return all, metrics, nil
}

// scanFile streams one file through the detector pipeline. Files over the
// size cap produce a FileTooLarge threat and are otherwise skipped; any
// partial content read before hitting the cap is discarded.
func (o *Orchestrator) scanFile(ctx context.Context, path, pkgName string) ([]domain.Threat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > o.cfg.MaxFileSize {
		return []domain.Threat{fileTooLargeThreat(path, info.Size(), o.cfg.MaxFileSize)}, nil
	}

	r, err := streamreader.Open(path, streamreader.Options{
		ChunkSize:   fileChunkSize,
		ContextSize: fileContextSize,
		MaxBytes:    o.cfg.MaxFileSize + 1,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var content []byte
	for {
		chunk, err := r.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		content = append(content, chunk.New()...)
		if int64(len(content)) > o.cfg.MaxFileSize {
			return []domain.Threat{fileTooLargeThreat(path, int64(len(content)), o.cfg.MaxFileSize)}, nil
		}
		if chunk.Final {
			break
		}
	}

	return o.pipeline.Run(ctx, detector.FileContext{
		Path:        path,
		PackageName: pkgName,
		Content:     content,
	})
}

func (o *Orchestrator) applyExcludes(files []string, root string) []string {
	if len(o.cfg.ExcludePaths) == 0 {
		return files
	}
	out := files[:0]
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		rel = filepath.ToSlash(rel)
		excluded := false
		for _, ex := range o.cfg.ExcludePaths {
			if rel == ex || strings.HasPrefix(rel, ex+"/") || strings.Contains(rel, "/"+ex+"/") {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, f)
		}
	}
	return out
}

func (o *Orchestrator) newReport(target string) *domain.ScanReport {
	return &domain.ScanReport{
		ID:        uuid.NewString(),
		Target:    domain.ScanTarget{RootPath: target, Ecosystem: "npm", ResolvedAt: time.Now()},
		ScanType:  domain.ScanTypeFull,
		Status:    domain.ScanStatusRunning,
		StartedAt: time.Now(),
	}
}

func (o *Orchestrator) transition(report *domain.ScanReport, state scanState) {
	o.logger.Debug("scan state", "scan", report.ID, "state", string(state))
}

func (o *Orchestrator) cancel(report *domain.ScanReport) *domain.ScanReport {
	o.transition(report, stateCancelled)
	now := time.Now()
	report.Status = domain.ScanStatusCancelled
	report.CompletedAt = &now
	report.Metrics.Duration = now.Sub(report.StartedAt)
	report.Threats = finalizeThreats(report.Threats)
	report.Risk = riskscore.Score(report.Threats)
	countBySeverity(report)
	return report
}

// splitTarget decides whether target is a directory (scan root) or a
// single file (scan root = parent dir, one candidate). Traversal tokens
// are rejected before any filesystem call.
func splitTarget(target string) (root, single string, err error) {
	if pathsafety.ContainsTraversalTokens(target) {
		return "", "", fmt.Errorf("%w: %q contains a traversal token", domain.ErrPathTraversal, target)
	}
	if pathsafety.ContainsShellMetacharacters(target) {
		return "", "", fmt.Errorf("%w: %q contains a shell metacharacter", domain.ErrValidation, target)
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if info.IsDir() {
		return target, "", nil
	}
	return filepath.Dir(target), filepath.Base(target), nil
}

func countBySeverity(report *domain.ScanReport) {
	m := &report.Metrics
	m.CriticalCount, m.HighCount, m.MediumCount, m.LowCount, m.InfoCount = 0, 0, 0, 0, 0
	for _, t := range report.Threats {
		switch t.Severity {
		case domain.SeverityCritical:
			m.CriticalCount++
		case domain.SeverityHigh:
			m.HighCount++
		case domain.SeverityMedium:
			m.MediumCount++
		case domain.SeverityLow:
			m.LowCount++
		default:
			m.InfoCount++
		}
	}
}

func traversalThreat(target string, err error) domain.Threat {
	typ := domain.ThreatPathTraversal
	title := "Target path rejected by path safety"
	if !errors.Is(err, domain.ErrPathTraversal) {
		typ = domain.ThreatAnalysisError
		title = "Target path failed validation"
	}
	return domain.Threat{
		Type:        typ,
		Severity:    domain.SeverityHigh,
		Confidence:  1.0,
		Title:       title,
		Description: err.Error(),
		Location:    domain.CodeLocation{File: target},
		DetectedBy:  "pathsafety",
		DetectedAt:  time.Now(),
	}
}

func fileTooLargeThreat(path string, size, limit int64) domain.Threat {
	return domain.Threat{
		Type:        domain.ThreatFileTooLarge,
		Severity:    domain.SeverityLow,
		Confidence:  1.0,
		Title:       "File exceeds scan size limit",
		Description: fmt.Sprintf("File is %d bytes, over the %d byte limit; its content was not analyzed", size, limit),
		Location:    domain.CodeLocation{File: path},
		DetectedBy:  "orchestrator",
		DetectedAt:  time.Now(),
	}
}

func analysisErrorThreat(path string, err error) domain.Threat {
	return domain.Threat{
		Type:        domain.ThreatAnalysisError,
		Severity:    domain.SeverityInfo,
		Confidence:  1.0,
		Title:       "File analysis failed",
		Description: err.Error(),
		Location:    domain.CodeLocation{File: path},
		DetectedBy:  "orchestrator",
		DetectedAt:  time.Now(),
	}
}
