// Package depconfusion analyzes a package's registry-vs-repository history
// and its name against known-popular packages to flag dependency-confusion
// risk: an internal/private package name that an attacker could shadow by
// publishing a same-named package to the public registry first.
//
// Heterogeneous signals (timeline, activity, name shape) are reduced to a
// weighted feature vector scored by this package's own pluggable Scorer,
// which also returns per-feature importance.
package depconfusion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// Scorer turns a dependency-confusion feature vector into a threat score
// in [0, 1], with optional per-feature importance for explainability.
// DefaultScorer is the always-available weighted-linear fallback.
type Scorer interface {
	Score(ctx context.Context, features map[string]float64) (score float64, importance map[string]float64, err error)
}

// Registry resolves a package's registry-creation date. A thin interface so
// callers can plug in npm/PyPI/crates.io clients without this package
// depending on any one of them directly.
type Registry interface {
	CreatedAt(ctx context.Context, pkg domain.PackageDescriptor) (time.Time, bool, error)
}

// RepoHistory resolves local VCS activity for the repository a package's
// source lives in.
type RepoHistory interface {
	FirstCommitAt(ctx context.Context, repoPath string) (time.Time, bool, error)
	RecentCommitCount(ctx context.Context, repoPath string, since time.Duration) (int, error)
	DominantAuthorShare(ctx context.Context, repoPath string) (float64, error)
}

// Config tunes the analyzer's thresholds and weights.
type Config struct {
	PrivateScopes      []string // e.g. "@acme", "@internal-org"
	PopularPackages    []string // short list used for similarity/typosquat checks
	AnomalyThreshold   float64  // threat-score cutoff for DependencyConfusionMlAnomaly
	PredictiveThreshold float64 // lower cutoff for an early-warning Predictive threat
	SimilarityThreshold int     // max Levenshtein distance considered "suspiciously similar"
}

// DefaultConfig returns sensible defaults merged over by .nullvoidrc's
// DEPENDENCY_CONFUSION_CONFIG sub-tree.
func DefaultConfig() Config {
	return Config{
		PrivateScopes:        []string{"@internal", "@private"},
		PopularPackages:      []string{"react", "lodash", "express", "axios", "chalk", "request", "webpack", "babel"},
		AnomalyThreshold:     0.7,
		PredictiveThreshold:  0.45,
		SimilarityThreshold:  2,
	}
}

var suspiciousNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-internal$`),
	regexp.MustCompile(`(?i)^internal-`),
	regexp.MustCompile(`(?i)-private$`),
	regexp.MustCompile(`(?i)-corp-`),
	regexp.MustCompile(`(?i)-test-pkg`),
	regexp.MustCompile(`(?i)\d{4,}`), // long digit runs, common in auto-generated confusion probes
}

// Analyzer runs the dependency-confusion pipeline over one package:
// registry timeline, repository history, name analysis, and a pluggable
// threat score.
type Analyzer struct {
	cfg      Config
	registry Registry
	repo     RepoHistory
	scorer   Scorer
}

// New builds an Analyzer. A nil scorer falls back to DefaultScorer.
func New(cfg Config, registry Registry, repo RepoHistory, scorer Scorer) *Analyzer {
	if scorer == nil {
		scorer = NewDefaultScorer()
	}
	return &Analyzer{cfg: cfg, registry: registry, repo: repo, scorer: scorer}
}

// Analyze produces every dependency-confusion threat applicable to pkg,
// rooted at repoPath (the local checkout the package's source lives in, if
// known).
func (a *Analyzer) Analyze(ctx context.Context, pkg domain.PackageDescriptor, repoPath string) ([]domain.Threat, error) {
	timeline, err := a.buildTimeline(ctx, pkg, repoPath)
	if err != nil {
		return nil, fmt.Errorf("build timeline: %w", err)
	}

	features := a.featureVector(pkg, timeline)

	var threats []domain.Threat

	if t, ok := a.timelineThreat(pkg, timeline, features); ok {
		threats = append(threats, t)
	}
	if t, ok := a.scopeThreat(pkg, timeline, features); ok {
		threats = append(threats, t)
	}
	if t, ok := a.patternThreat(pkg, features); ok {
		threats = append(threats, t)
	}
	if t, ok := a.activityThreat(pkg, timeline, features); ok {
		threats = append(threats, t)
	}

	score, importance, err := a.scorer.Score(ctx, features)
	if err != nil {
		// External scorer failures degrade to "no ML-anomaly finding", never
		// abort the rest of the analysis.
		score = 0
	}
	if score >= a.cfg.AnomalyThreshold {
		threats = append(threats, a.mlAnomalyThreat(pkg, score, importance, features))
	} else if score >= a.cfg.PredictiveThreshold {
		threats = append(threats, a.predictiveThreat(pkg, score, features))
	}

	return threats, nil
}

func (a *Analyzer) buildTimeline(ctx context.Context, pkg domain.PackageDescriptor, repoPath string) (domain.DependencyTimeline, error) {
	timeline := domain.DependencyTimeline{Package: pkg}

	if a.registry != nil {
		if created, ok, err := a.registry.CreatedAt(ctx, pkg); err == nil && ok {
			timeline.RegistryCreatedAt = &created
		}
	}

	if a.repo != nil && repoPath != "" {
		timeline.HasRepository = true
		if first, ok, err := a.repo.FirstCommitAt(ctx, repoPath); err == nil && ok {
			timeline.FirstCommitAt = &first
		}
		if count, err := a.repo.RecentCommitCount(ctx, repoPath, 365*24*time.Hour); err == nil {
			timeline.DownloadCountLastWeek = int64(count) // reused slot; see featureVector for the real semantics
		}
	}

	return timeline, nil
}

// featureVector extracts the numeric features the threat score and every
// emitted threat's metadata are built from.
func (a *Analyzer) featureVector(pkg domain.PackageDescriptor, timeline domain.DependencyTimeline) map[string]float64 {
	features := map[string]float64{
		"scope_is_private":       boolFeature(a.isPrivateScope(pkg.Scope)),
		"name_pattern_match":     boolFeature(matchesSuspiciousPattern(pkg.Name)),
		"popular_similarity":     normalizedSimilarity(pkg.Name, a.cfg.PopularPackages, a.cfg.SimilarityThreshold),
		"has_repository":         boolFeature(timeline.HasRepository),
		"recent_commit_activity": clamp01(float64(timeline.DownloadCountLastWeek) / 50.0),
	}

	if days, ok := timelineDays(timeline); ok {
		features["timeline_days"] = clamp01(1.0 - float64(days)/14.0) // closer to 0 days is more anomalous
	}

	return features
}

func timelineDays(timeline domain.DependencyTimeline) (int, bool) {
	if timeline.RegistryCreatedAt == nil || timeline.FirstCommitAt == nil {
		return 0, false
	}
	d := timeline.RegistryCreatedAt.Sub(*timeline.FirstCommitAt)
	days := int(d.Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days, true
}

// timelineBucket buckets a registry-vs-repository day gap:
// Critical <= 1, High <= 3, Medium <= 7, else Low.
func timelineBucket(days int) domain.Severity {
	switch {
	case days <= 1:
		return domain.SeverityCritical
	case days <= 3:
		return domain.SeverityHigh
	case days <= 7:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func timelineConfidence(bucket domain.Severity) float64 {
	switch bucket {
	case domain.SeverityCritical:
		return 0.9
	case domain.SeverityHigh:
		return 0.8
	case domain.SeverityMedium:
		return 0.65
	default:
		return 0.5
	}
}

func (a *Analyzer) timelineThreat(pkg domain.PackageDescriptor, timeline domain.DependencyTimeline, features map[string]float64) (domain.Threat, bool) {
	days, ok := timelineDays(timeline)
	if !ok {
		return domain.Threat{}, false
	}
	bucket := timelineBucket(days)
	if bucket == domain.SeverityLow {
		return domain.Threat{}, false
	}
	return domain.Threat{
		Type:        domain.ThreatDependencyConfusionTimeline,
		Severity:    bucket,
		Confidence:  timelineConfidence(bucket),
		Title:       "Suspicious registry-vs-repository timeline",
		Description: fmt.Sprintf("Package was published to the registry %d day(s) from the repository's first commit", days),
		PackageName: pkg.Name,
		DetectedBy:  "depconfusion",
		Metadata:    metadataWithFeatures(features, map[string]any{"daysDifference": days}),
	}, true
}

func (a *Analyzer) scopeThreat(pkg domain.PackageDescriptor, timeline domain.DependencyTimeline, features map[string]float64) (domain.Threat, bool) {
	if !a.isPrivateScope(pkg.Scope) || timeline.RegistryCreatedAt == nil {
		return domain.Threat{}, false
	}
	days, hasDays := timelineDays(timeline)
	meta := metadataWithFeatures(features, map[string]any{"scope": pkg.Scope})
	if hasDays {
		meta["daysDifference"] = days
	}
	return domain.Threat{
		Type:        domain.ThreatDependencyConfusionScope,
		Severity:    domain.SeverityHigh,
		Confidence:  0.75,
		Title:       "Private-scoped package resolvable from a public registry",
		Description: fmt.Sprintf("Package scope %q is configured as private but resolves from a public registry, enabling dependency confusion", pkg.Scope),
		PackageName: pkg.Name,
		DetectedBy:  "depconfusion",
		Metadata:    meta,
	}, true
}

func (a *Analyzer) patternThreat(pkg domain.PackageDescriptor, features map[string]float64) (domain.Threat, bool) {
	if !matchesSuspiciousPattern(pkg.Name) {
		return domain.Threat{}, false
	}
	return domain.Threat{
		Type:        domain.ThreatDependencyConfusionPattern,
		Severity:    domain.SeverityMedium,
		Confidence:  0.55,
		Title:       "Package name matches a suspicious-name pattern",
		Description: "Package name matches a pattern commonly used in dependency-confusion probe packages",
		PackageName: pkg.Name,
		DetectedBy:  "depconfusion",
		Metadata:    metadataWithFeatures(features, nil),
	}, true
}

func (a *Analyzer) activityThreat(pkg domain.PackageDescriptor, timeline domain.DependencyTimeline, features map[string]float64) (domain.Threat, bool) {
	days, hasDays := timelineDays(timeline)
	lowActivity := timeline.DownloadCountLastWeek < 3
	oldFirstCommit := timeline.FirstCommitAt != nil && time.Since(*timeline.FirstCommitAt) > 2*365*24*time.Hour
	if !(lowActivity && oldFirstCommit) {
		return domain.Threat{}, false
	}
	meta := metadataWithFeatures(features, map[string]any{"recentCommits": timeline.DownloadCountLastWeek})
	if hasDays {
		meta["daysDifference"] = days
	}
	return domain.Threat{
		Type:        domain.ThreatDependencyConfusionActivity,
		Severity:    domain.SeverityMedium,
		Confidence:  0.5,
		Title:       "Dormant repository with an old first commit",
		Description: "Low recent commit activity combined with an old first-commit date is atypical for an actively maintained internal package",
		PackageName: pkg.Name,
		DetectedBy:  "depconfusion",
		Metadata:    meta,
	}, true
}

func (a *Analyzer) mlAnomalyThreat(pkg domain.PackageDescriptor, score float64, importance map[string]float64, features map[string]float64) domain.Threat {
	meta := metadataWithFeatures(features, map[string]any{"threatScore": score})
	if importance != nil {
		meta["featureImportance"] = importance
	}
	return domain.Threat{
		Type:        domain.ThreatDependencyConfusionML,
		Severity:    domain.SeverityHigh,
		Confidence:  score,
		Title:       "Composite dependency-confusion anomaly score",
		Description: "The package's combined timeline/scope/name/activity feature vector crosses the anomaly threshold",
		PackageName: pkg.Name,
		DetectedBy:  "depconfusion-scorer",
		Metadata:    meta,
	}
}

func (a *Analyzer) predictiveThreat(pkg domain.PackageDescriptor, score float64, features map[string]float64) domain.Threat {
	return domain.Threat{
		Type:        domain.ThreatDependencyConfusionPredictive,
		Severity:    domain.SeverityLow,
		Confidence:  score,
		Title:       "Early-warning dependency-confusion signal",
		Description: "Feature vector trends toward dependency-confusion risk but has not crossed the primary anomaly threshold",
		PackageName: pkg.Name,
		DetectedBy:  "depconfusion-scorer",
		Metadata:    metadataWithFeatures(features, map[string]any{"threatScore": score}),
	}
}

func (a *Analyzer) isPrivateScope(scope string) bool {
	if scope == "" {
		return false
	}
	for _, s := range a.cfg.PrivateScopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

func matchesSuspiciousPattern(name string) bool {
	for _, re := range suspiciousNamePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func normalizedSimilarity(name string, popular []string, threshold int) float64 {
	best := -1
	for _, p := range popular {
		if name == p {
			continue // exact match to a popular package is not itself confusion
		}
		d := levenshtein(name, p)
		if best == -1 || d < best {
			best = d
		}
	}
	if best == -1 {
		return 0
	}
	if best <= threshold {
		return clamp01(1.0 - float64(best)/float64(threshold+1))
	}
	return 0
}

func metadataWithFeatures(features map[string]float64, extra map[string]any) map[string]any {
	m := make(map[string]any, len(features)+len(extra))
	for k, v := range features {
		m[k] = v
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
