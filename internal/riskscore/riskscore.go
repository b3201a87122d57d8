// Package riskscore aggregates a scan's threats into the CIA-weighted
// RiskAssessment the orchestrator attaches to every ScanReport: per
// threat, weight = severity times confidence, summed per axis, clipped,
// and combined into one overall score.
package riskscore

import "github.com/nullvoid-dev/nullvoid/internal/domain"

// Category is one of the three CIA axes a threat type is assigned to.
type Category int

const (
	Confidentiality Category = iota
	Integrity
	Availability
)

// severityWeight is the fixed severity-to-weight table. Low and Info
// share the 0.25 floor: informational findings barely move the score but
// aren't excluded outright.
func severityWeight(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 1.0
	case domain.SeverityHigh:
		return 0.75
	case domain.SeverityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// category assigns each ThreatType to the CIA axis its primary effect
// matches. Kept in one place so the mapping is auditable and easy to
// extend as new threat types are added.
func category(t domain.ThreatType) Category {
	switch t {
	case domain.ThreatCredentialHarvest,
		domain.ThreatNetworkExfiltration,
		domain.ThreatDependencyConfusion,
		domain.ThreatDependencyConfusionTimeline,
		domain.ThreatDependencyConfusionScope,
		domain.ThreatDependencyConfusionPattern,
		domain.ThreatDependencyConfusionActivity,
		domain.ThreatDependencyConfusionPredictive,
		domain.ThreatDependencyConfusionML,
		domain.ThreatTyposquat,
		domain.ThreatWalletHijacking,
		domain.ThreatMaliciousIndicator:
		return Confidentiality

	case domain.ThreatSandboxViolation,
		domain.ThreatSandboxTimeout,
		domain.ThreatFileTooLarge,
		domain.ThreatAnalysisError:
		return Availability

	default:
		// ObfuscatedCode, SuspiciousFile, HighEntropyBlob, InstallScript,
		// DynamicCodeExec, FileSystemAccess, KnownVulnerability,
		// VulnerablePackage, MLAnomaly, MaliciousCodeStructure,
		// SuspiciousModule, DynamicRequire, PathTraversal,
		// CommandInjection: the code does something other than what it
		// claims, which is an integrity violation.
		return Integrity
	}
}

// categoryWeight is the overall combination weight per axis.
func categoryWeight(c Category) float64 {
	switch c {
	case Confidentiality:
		return 0.35
	case Integrity:
		return 0.45
	case Availability:
		return 0.20
	default:
		return 0
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the RiskAssessment for a set of threats: for each
// threat, weight = severity score times confidence; category
// totals are clipped to [0,1]; overall is 0.35·C + 0.45·I + 0.20·A,
// doubled and clipped to [0,1]. Deterministic given the same threat set.
func Score(threats []domain.Threat) domain.RiskAssessment {
	var totals [3]float64
	for _, th := range threats {
		c := category(th.Type)
		totals[c] += severityWeight(th.Severity) * th.Confidence
	}

	confidentiality := clip01(totals[Confidentiality])
	integrity := clip01(totals[Integrity])
	availability := clip01(totals[Availability])

	overall := clip01(2 * (0.35*confidentiality + 0.45*integrity + 0.20*availability))

	return domain.RiskAssessment{
		Confidentiality: confidentiality,
		Integrity:       integrity,
		Availability:    availability,
		Overall:         overall,
		ThreatLevel:     threatLevelFor(overall),
	}
}

// threatLevelFor buckets the overall score onto the shared severity
// scale for the report's headline threat level.
func threatLevelFor(overall float64) domain.Severity {
	switch {
	case overall >= 0.8:
		return domain.SeverityCritical
	case overall >= 0.6:
		return domain.SeverityHigh
	case overall >= 0.3:
		return domain.SeverityMedium
	case overall > 0:
		return domain.SeverityLow
	default:
		return domain.SeverityInfo
	}
}
