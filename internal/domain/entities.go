// Package domain contains the core entities shared across the scan engine.
package domain

import (
	"errors"
	"strconv"
	"time"
)

// Common sentinel errors, wrapped with fmt.Errorf("...: %w", err) at call sites.
var (
	ErrNotFound       = errors.New("entity not found")
	ErrValidation     = errors.New("validation failed")
	ErrPathTraversal  = errors.New("path escapes scan root")
	ErrConfiguration  = errors.New("invalid configuration")
	ErrCacheMiss      = errors.New("cache miss")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrScanCancelled  = errors.New("scan cancelled")
	ErrProviderFailed = errors.New("ioc provider failed")
)

// Severity categorizes the severity of a threat finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// rank gives Severity a total order for max-wins merges and filtering.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// MaxSeverity returns whichever of a, b ranks higher.
func MaxSeverity(a, b Severity) Severity {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// ThreatType enumerates the families of finding the detector pipeline emits.
type ThreatType string

const (
	ThreatObfuscatedCode       ThreatType = "obfuscated_code"
	ThreatSuspiciousFile       ThreatType = "suspicious_file"
	ThreatHighEntropyBlob      ThreatType = "high_entropy_blob"
	ThreatInstallScript        ThreatType = "suspicious_install_script"
	ThreatNetworkExfiltration  ThreatType = "network_exfiltration"
	ThreatCredentialHarvest    ThreatType = "credential_harvesting"
	ThreatDynamicCodeExec      ThreatType = "dynamic_code_execution"
	ThreatFileSystemAccess     ThreatType = "suspicious_filesystem_access"
	ThreatDependencyConfusion  ThreatType = "dependency_confusion"
	ThreatTyposquat            ThreatType = "typosquat"
	ThreatKnownVulnerability   ThreatType = "known_vulnerability"
	ThreatMaliciousIndicator   ThreatType = "malicious_indicator"
	ThreatSandboxViolation     ThreatType = "sandbox_violation"
	ThreatMLAnomaly            ThreatType = "ml_anomaly"
	ThreatDependencyConfusionML ThreatType = "dependency_confusion_ml_anomaly"

	ThreatWalletHijacking             ThreatType = "wallet_hijacking"
	ThreatMaliciousCodeStructure      ThreatType = "malicious_code_structure"
	ThreatSuspiciousModule            ThreatType = "suspicious_module"
	ThreatDynamicRequire              ThreatType = "dynamic_require"
	ThreatPathTraversal               ThreatType = "path_traversal"
	ThreatCommandInjection            ThreatType = "command_injection"
	ThreatDependencyConfusionTimeline ThreatType = "dependency_confusion_timeline"
	ThreatDependencyConfusionScope    ThreatType = "dependency_confusion_scope"
	ThreatDependencyConfusionPattern  ThreatType = "dependency_confusion_pattern"
	ThreatDependencyConfusionActivity ThreatType = "dependency_confusion_activity"
	ThreatDependencyConfusionPredictive ThreatType = "dependency_confusion_predictive"
	ThreatVulnerablePackage           ThreatType = "vulnerable_package"
	ThreatSandboxTimeout              ThreatType = "sandbox_timeout"
	ThreatFileTooLarge                ThreatType = "file_too_large"
	ThreatAnalysisError               ThreatType = "analysis_error"
)

// CodeLocation pinpoints a location in a scanned file.
type CodeLocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// Threat is a single detection emitted by any detector in the pipeline.
type Threat struct {
	ID          string         `json:"id"`
	Type        ThreatType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Location    CodeLocation   `json:"location,omitempty"`
	DetectedBy  string         `json:"detected_by"`
	PackageName string         `json:"package_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// Key identifies a threat for dedup: two findings with the same type,
// file, line, and evidence excerpt are the same finding. Location-less
// threats (advisory results, dependency-confusion findings) would all
// share one empty location, so they key on the package identity and the
// vulnerability id instead.
func (t Threat) Key() string {
	key := t.Location.File + ":" + strconv.Itoa(t.Location.StartLine) + ":" + string(t.Type) + ":" + t.Location.Snippet
	if t.Location.File == "" {
		key += ":" + t.PackageName
		if vulnID, ok := t.Metadata["vulnId"].(string); ok {
			key += ":" + vulnID
		}
	}
	return key
}

// ScanTarget identifies what is being scanned: a package tarball/directory
// extracted to a local path, or a single file within one.
type ScanTarget struct {
	PackageName    string    `json:"package_name"`
	PackageVersion string    `json:"package_version"`
	RootPath       string    `json:"root_path"`
	Ecosystem      string    `json:"ecosystem"` // "npm", "pypi", ...
	ResolvedAt     time.Time `json:"resolved_at"`
}

// ScanType categorizes which detector families ran.
type ScanType string

const (
	ScanTypeQuick ScanType = "quick"
	ScanTypeDeep  ScanType = "deep"
	ScanTypeFull  ScanType = "full"
)

// ScanStatus represents the current state of a scan.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// ScanMetrics contains quantitative scan results.
type ScanMetrics struct {
	FilesScanned     int           `json:"files_scanned"`
	FilesSkipped     int           `json:"files_skipped"`
	BytesScanned     int64         `json:"bytes_scanned"`
	CriticalCount    int           `json:"critical_count"`
	HighCount        int           `json:"high_count"`
	MediumCount      int           `json:"medium_count"`
	LowCount         int           `json:"low_count"`
	InfoCount        int           `json:"info_count"`
	Duration         time.Duration `json:"duration"`
	CacheHits        int           `json:"cache_hits"`
	CacheMisses      int           `json:"cache_misses"`
}

// RiskAssessment is the composite CIA-weighted risk score for a target.
type RiskAssessment struct {
	Confidentiality float64  `json:"confidentiality"`
	Integrity       float64  `json:"integrity"`
	Availability    float64  `json:"availability"`
	Overall         float64  `json:"overall"`
	ThreatLevel     Severity `json:"threat_level"`
}

// ScanReport represents a complete scan result for one package/target.
type ScanReport struct {
	ID          string         `json:"id"`
	Target      ScanTarget     `json:"target"`
	ScanType    ScanType       `json:"scan_type"`
	Status      ScanStatus     `json:"status"`
	Risk        RiskAssessment `json:"risk"`
	Threats     []Threat       `json:"threats"`
	Metrics     ScanMetrics    `json:"metrics"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PackageDescriptor identifies a single published package version, the
// unit that dependency-confusion analysis and IoC lookups operate over.
// It is created once by parsing a package manifest and never mutated
// during a scan.
type PackageDescriptor struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Ecosystem            string            `json:"ecosystem"`
	Scope                string            `json:"scope,omitempty"` // npm-style @scope
	Path                 string            `json:"path,omitempty"`
	DeclaredDependencies map[string]string `json:"declared_dependencies,omitempty"`
	Scripts              map[string]string `json:"scripts,omitempty"`
	RepositoryURL        string            `json:"repository_url,omitempty"`
}

// Purl returns the "ecosystem:[scope/]name@version" key used throughout
// the pipeline; packages
// are referenced by this key rather than by object graph so a threat can
// point at a package without creating reference cycles.
func (p PackageDescriptor) Purl() string {
	if p.Scope != "" {
		return p.Ecosystem + ":" + p.Scope + "/" + p.Name + "@" + p.Version
	}
	return p.Ecosystem + ":" + p.Name + "@" + p.Version
}

// DependencyTimeline captures the registry-vs-VCS activity history used by
// the dependency-confusion analyzer.
type DependencyTimeline struct {
	Package              PackageDescriptor `json:"package"`
	RegistryCreatedAt     *time.Time       `json:"registry_created_at,omitempty"`
	FirstCommitAt         *time.Time       `json:"first_commit_at,omitempty"`
	LatestPublishAt       *time.Time       `json:"latest_publish_at,omitempty"`
	DownloadCountLastWeek int64            `json:"download_count_last_week"`
	MaintainerCount       int              `json:"maintainer_count"`
	HasRepository         bool             `json:"has_repository"`
}

// IoCResult is a single match returned by an indicator-of-compromise provider.
type IoCResult struct {
	Provider    string    `json:"provider"`
	PackageName string    `json:"package_name"`
	VulnID      string    `json:"vuln_id"`
	Severity    Severity  `json:"severity"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url,omitempty"`
}
