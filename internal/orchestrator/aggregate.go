package orchestrator

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// severityOrder gives severities a descending sort rank.
var severityOrder = map[domain.Severity]int{
	domain.SeverityCritical: 0,
	domain.SeverityHigh:     1,
	domain.SeverityMedium:   2,
	domain.SeverityLow:      3,
	domain.SeverityInfo:     4,
}

// finalizeThreats deduplicates and orders the aggregate threat list so
// output is stable across runs: severity descending, then file path, then
// line number.
func finalizeThreats(threats []domain.Threat) []domain.Threat {
	seen := make(map[string]bool, len(threats))
	out := make([]domain.Threat, 0, len(threats))
	for _, t := range threats {
		k := t.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := severityOrder[out[i].Severity], severityOrder[out[j].Severity]
		if si != sj {
			return si < sj
		}
		if out[i].Location.File != out[j].Location.File {
			return out[i].Location.File < out[j].Location.File
		}
		return out[i].Location.StartLine < out[j].Location.StartLine
	})
	return out
}

// vulnKey identifies a vulnerable-package finding for merging: one CVE (or
// provider vuln id) per package version.
func vulnKey(pkgKey, vulnID string) string {
	return pkgKey + "#" + vulnID
}

// mergeVulnerability folds an advisory result into the running threat
// list. If the same vulnerability was already recorded for the package,
// the existing threat is upgraded to the higher severity and the details
// are concatenated; otherwise a new threat is appended.
func mergeVulnerability(threats []domain.Threat, index map[string]int, pkg domain.PackageDescriptor, r domain.IoCResult) []domain.Threat {
	key := vulnKey(pkg.Purl(), canonicalVulnID(r))

	if i, ok := index[key]; ok {
		existing := &threats[i]
		existing.Severity = domain.MaxSeverity(existing.Severity, r.Severity)
		if r.Summary != "" && !strings.Contains(existing.Description, r.Summary) {
			existing.Description = existing.Description + "; " + r.Summary
		}
		if existing.Metadata == nil {
			existing.Metadata = map[string]any{}
		}
		existing.Metadata["sources"] = appendSource(existing.Metadata["sources"], r.Provider)
		return threats
	}

	displayName := pkg.Name
	if pkg.Scope != "" {
		displayName = pkg.Scope + "/" + pkg.Name
	}
	t := domain.Threat{
		Type:        domain.ThreatVulnerablePackage,
		Severity:    r.Severity,
		Confidence:  0.9,
		Title:       "Known vulnerability in declared dependency",
		Description: r.Summary,
		DetectedBy:  "ioc:" + r.Provider,
		PackageName: displayName,
		Metadata: map[string]any{
			"vulnId":  r.VulnID,
			"version": pkg.Version,
			"sources": []string{r.Provider},
		},
	}
	if cve := extractCVE(r.VulnID); cve != "" {
		t.Metadata["cve"] = cve
	}
	if r.URL != "" {
		t.Metadata["url"] = r.URL
	}
	index[key] = len(threats)
	return append(threats, t)
}

// canonicalVulnID prefers the CVE id as the merge key so the same CVE
// reported by two providers collapses into one finding.
func canonicalVulnID(r domain.IoCResult) string {
	if cve := extractCVE(r.VulnID); cve != "" {
		return cve
	}
	return r.VulnID
}

func extractCVE(vulnID string) string {
	return cvePattern.FindString(vulnID)
}

var cvePattern = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

func appendSource(existing any, provider string) []string {
	sources, _ := existing.([]string)
	for _, s := range sources {
		if s == provider {
			return sources
		}
	}
	return append(sources, provider)
}
