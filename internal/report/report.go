// Package report renders a completed scan into the supported output
// formats: JSON, table, YAML, SARIF 2.1.0, Markdown, and HTML. Writers
// only format; they never mutate the report.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// Format names accepted by the CLI's -output flag.
const (
	FormatJSON     = "json"
	FormatTable    = "table"
	FormatYAML     = "yaml"
	FormatSARIF    = "sarif"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Document is the serialized report shape shared by the JSON and YAML
// writers. Field order is free; key names are stable.
type Document struct {
	Metadata       Metadata              `json:"metadata" yaml:"metadata"`
	Summary        Summary               `json:"summary" yaml:"summary"`
	Threats        []domain.Threat       `json:"threats" yaml:"threats"`
	RiskAssessment domain.RiskAssessment `json:"riskAssessment" yaml:"riskAssessment"`
}

// Metadata identifies the scan run.
type Metadata struct {
	Target   string    `json:"target" yaml:"target"`
	ScanID   string    `json:"scanId" yaml:"scanId"`
	ScanTime time.Time `json:"scanTime" yaml:"scanTime"`
}

// Summary carries the headline counts.
type Summary struct {
	ThreatsFound  int    `json:"threatsFound" yaml:"threatsFound"`
	TotalFiles    int    `json:"totalFiles" yaml:"totalFiles"`
	TotalPackages int    `json:"totalPackages" yaml:"totalPackages"`
	ScanDuration  string `json:"scanDuration" yaml:"scanDuration"`
}

// BuildDocument flattens a ScanReport into the serialized Document shape.
func BuildDocument(r *domain.ScanReport) Document {
	totalPackages := 0
	if r.Target.PackageName != "" {
		totalPackages = 1
	}
	return Document{
		Metadata: Metadata{
			Target:   r.Target.RootPath,
			ScanID:   r.ID,
			ScanTime: r.StartedAt,
		},
		Summary: Summary{
			ThreatsFound:  len(r.Threats),
			TotalFiles:    r.Metrics.FilesScanned,
			TotalPackages: totalPackages,
			ScanDuration:  r.Metrics.Duration.String(),
		},
		Threats:        r.Threats,
		RiskAssessment: r.Risk,
	}
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *domain.ScanReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildDocument(r))
}

// WriteYAML renders the report as YAML.
func WriteYAML(w io.Writer, r *domain.ScanReport) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(BuildDocument(r))
}

// severityEmoji prefixes human-facing output so severity reads at a
// glance.
func severityEmoji(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "🔴"
	case domain.SeverityHigh:
		return "🟠"
	case domain.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

// WriteTable renders the boxed terminal report.
func WriteTable(w io.Writer, r *domain.ScanReport) error {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║                    NULLVOID SCAN REPORT                      ║\n")
	fmt.Fprintf(w, "╚══════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(w, "Target:       %s\n", r.Target.RootPath)
	if r.Target.PackageName != "" {
		fmt.Fprintf(w, "Package:      %s@%s\n", r.Target.PackageName, r.Target.PackageVersion)
	}
	fmt.Fprintf(w, "Status:       %s\n", r.Status)
	fmt.Fprintf(w, "Risk Score:   %.2f\n", r.Risk.Overall)
	fmt.Fprintf(w, "Threat Level: %s\n\n", r.Risk.ThreatLevel)

	m := r.Metrics
	fmt.Fprintf(w, "─── FINDINGS ─────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Critical: %d  │  High: %d  │  Medium: %d  │  Low: %d  │  Info: %d\n",
		m.CriticalCount, m.HighCount, m.MediumCount, m.LowCount, m.InfoCount)
	fmt.Fprintf(w, "Files Scanned: %d  │  Skipped: %d\n\n", m.FilesScanned, m.FilesSkipped)

	if len(r.Threats) > 0 {
		fmt.Fprintf(w, "─── THREATS ──────────────────────────────────────────────────\n")
		for i, t := range r.Threats {
			fmt.Fprintf(w, "\n[%d] %s %s (%s)\n", i+1, severityEmoji(t.Severity), t.Title, t.Severity)
			fmt.Fprintf(w, "    %s\n", t.Description)
			if t.Location.File != "" {
				if t.Location.StartLine > 0 {
					fmt.Fprintf(w, "    Location: %s:%d\n", t.Location.File, t.Location.StartLine)
				} else {
					fmt.Fprintf(w, "    Location: %s\n", t.Location.File)
				}
			}
			if t.Location.Snippet != "" {
				fmt.Fprintf(w, "    Evidence: %s\n", t.Location.Snippet)
			}
		}
		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "──────────────────────────────────────────────────────────────\n")
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "Scan completed at: %s\n", r.CompletedAt.Format(time.RFC3339))
	}
	return nil
}

// Write dispatches to the writer for the named format. compliance is only
// honored by the Markdown writer; other formats ignore it.
func Write(w io.Writer, format string, r *domain.ScanReport, compliance string) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	case FormatSARIF:
		return WriteSARIF(w, r)
	case FormatMarkdown:
		return WriteMarkdown(w, r, compliance)
	case FormatHTML:
		return WriteHTML(w, r)
	case FormatTable, "":
		return WriteTable(w, r)
	default:
		return fmt.Errorf("%w: unknown output format %q", domain.ErrValidation, format)
	}
}
