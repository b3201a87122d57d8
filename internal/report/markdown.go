package report

import (
	"fmt"
	"html"
	"io"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// complianceControls maps a compliance framework to its controls and the
// threat types each control's evidence covers.
var complianceControls = map[string][]complianceControl{
	"soc2": {
		{
			ID:   "CC6.1 Logical access controls",
			Types: []domain.ThreatType{domain.ThreatCredentialHarvest, domain.ThreatPathTraversal, domain.ThreatCommandInjection},
		},
		{
			ID:   "CC6.8 Unauthorized software",
			Types: []domain.ThreatType{domain.ThreatMaliciousCodeStructure, domain.ThreatObfuscatedCode, domain.ThreatInstallScript, domain.ThreatSuspiciousModule},
		},
		{
			ID:   "CC7.1 Vulnerability management",
			Types: []domain.ThreatType{domain.ThreatVulnerablePackage, domain.ThreatKnownVulnerability},
		},
	},
	"iso27001": {
		{
			ID:   "A.8.7 Protection against malware",
			Types: []domain.ThreatType{domain.ThreatMaliciousCodeStructure, domain.ThreatObfuscatedCode, domain.ThreatWalletHijacking, domain.ThreatMaliciousIndicator},
		},
		{
			ID:   "A.8.8 Management of technical vulnerabilities",
			Types: []domain.ThreatType{domain.ThreatVulnerablePackage, domain.ThreatKnownVulnerability},
		},
		{
			ID:   "A.5.19 Supplier relationships",
			Types: []domain.ThreatType{domain.ThreatDependencyConfusionTimeline, domain.ThreatDependencyConfusionScope, domain.ThreatDependencyConfusionPattern, domain.ThreatTyposquat},
		},
	},
}

type complianceControl struct {
	ID    string
	Types []domain.ThreatType
}

// WriteMarkdown renders a single Markdown report document. compliance may
// name a framework ("soc2", "iso27001") to append a controls section; an
// empty or unknown value skips it.
func WriteMarkdown(w io.Writer, r *domain.ScanReport, compliance string) error {
	fmt.Fprintf(w, "# NullVoid Scan Report\n\n")
	fmt.Fprintf(w, "**Target:** `%s`  \n", r.Target.RootPath)
	if r.Target.PackageName != "" {
		fmt.Fprintf(w, "**Package:** `%s@%s`  \n", r.Target.PackageName, r.Target.PackageVersion)
	}
	fmt.Fprintf(w, "**Scanned:** %s  \n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "**Risk:** %.2f (%s)  \n\n", r.Risk.Overall, r.Risk.ThreatLevel)

	fmt.Fprintf(w, "## Summary\n\n")
	fmt.Fprintf(w, "| Severity | Count |\n|---|---|\n")
	fmt.Fprintf(w, "| 🔴 Critical | %d |\n", r.Metrics.CriticalCount)
	fmt.Fprintf(w, "| 🟠 High | %d |\n", r.Metrics.HighCount)
	fmt.Fprintf(w, "| 🟡 Medium | %d |\n", r.Metrics.MediumCount)
	fmt.Fprintf(w, "| 🟢 Low | %d |\n\n", r.Metrics.LowCount)

	fmt.Fprintf(w, "**Risk by category:** confidentiality %.2f · integrity %.2f · availability %.2f\n\n",
		r.Risk.Confidentiality, r.Risk.Integrity, r.Risk.Availability)

	if len(r.Threats) > 0 {
		fmt.Fprintf(w, "## Threats\n\n")
		for _, t := range r.Threats {
			fmt.Fprintf(w, "### %s %s\n\n", severityEmoji(t.Severity), t.Title)
			fmt.Fprintf(w, "- **Type:** `%s`\n", t.Type)
			fmt.Fprintf(w, "- **Severity:** %s (confidence %.2f)\n", t.Severity, t.Confidence)
			if t.Location.File != "" {
				if t.Location.StartLine > 0 {
					fmt.Fprintf(w, "- **Location:** `%s:%d`\n", t.Location.File, t.Location.StartLine)
				} else {
					fmt.Fprintf(w, "- **Location:** `%s`\n", t.Location.File)
				}
			}
			if t.Location.Snippet != "" {
				fmt.Fprintf(w, "- **Evidence:** `%s`\n", t.Location.Snippet)
			}
			fmt.Fprintf(w, "\n%s\n\n", t.Description)
		}
	}

	if controls, ok := complianceControls[compliance]; ok {
		writeComplianceSection(w, r, compliance, controls)
	}
	return nil
}

func writeComplianceSection(w io.Writer, r *domain.ScanReport, framework string, controls []complianceControl) {
	present := make(map[domain.ThreatType]int)
	for _, t := range r.Threats {
		present[t.Type]++
	}

	fmt.Fprintf(w, "## Compliance: %s\n\n", framework)
	fmt.Fprintf(w, "| Control | Covered threat types | Findings |\n|---|---|---|\n")
	for _, c := range controls {
		count := 0
		names := ""
		for i, ty := range c.Types {
			count += present[ty]
			if i > 0 {
				names += ", "
			}
			names += "`" + string(ty) + "`"
		}
		fmt.Fprintf(w, "| %s | %s | %d |\n", c.ID, names, count)
	}
	fmt.Fprintf(w, "\n")
}

// WriteHTML renders a minimal standalone HTML page wrapping the table
// data; it exists for report archiving, not as a UI.
func WriteHTML(w io.Writer, r *domain.ScanReport) error {
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>NullVoid Scan Report</title></head><body>\n")
	fmt.Fprintf(w, "<h1>NullVoid Scan Report</h1>\n")
	fmt.Fprintf(w, "<p><strong>Target:</strong> %s<br><strong>Risk:</strong> %.2f (%s)</p>\n",
		html.EscapeString(r.Target.RootPath), r.Risk.Overall, html.EscapeString(string(r.Risk.ThreatLevel)))
	fmt.Fprintf(w, "<table border=\"1\" cellpadding=\"4\"><tr><th>Severity</th><th>Type</th><th>Location</th><th>Description</th></tr>\n")
	for _, t := range r.Threats {
		loc := t.Location.File
		if t.Location.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d", loc, t.Location.StartLine)
		}
		fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(string(t.Severity)), html.EscapeString(string(t.Type)),
			html.EscapeString(loc), html.EscapeString(t.Description))
	}
	fmt.Fprintf(w, "</table>\n</body></html>\n")
	return nil
}
