package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

func sampleReport() *domain.ScanReport {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	done := now.Add(3 * time.Second)
	return &domain.ScanReport{
		ID:     "scan-1",
		Target: domain.ScanTarget{RootPath: "/tmp/pkg", PackageName: "acme-utils", PackageVersion: "0.1.2", Ecosystem: "npm"},
		Status: domain.ScanStatusCompleted,
		Risk: domain.RiskAssessment{
			Overall: 0.82, Confidentiality: 0.4, Integrity: 0.9, Availability: 0.1,
			ThreatLevel: domain.SeverityHigh,
		},
		Threats: []domain.Threat{
			{
				Type: domain.ThreatMaliciousCodeStructure, Severity: domain.SeverityCritical, Confidence: 0.8,
				Title: "Mangled variable assignment chain", Description: "obfuscated suffix",
				Location: domain.CodeLocation{File: "index.js", StartLine: 2, Snippet: "... const b3=I,c4=J,d5=K;..."},
			},
			{
				Type: domain.ThreatHighEntropyBlob, Severity: domain.SeverityMedium, Confidence: 0.5,
				Title: "High-entropy content", Description: "packed blob",
				Location: domain.CodeLocation{File: "blob.js", StartLine: 10},
			},
			{
				Type: domain.ThreatFileTooLarge, Severity: domain.SeverityLow, Confidence: 1,
				Title: "File exceeds scan size limit", Description: "skipped",
				Location: domain.CodeLocation{File: "huge.js"},
			},
		},
		Metrics:     domain.ScanMetrics{FilesScanned: 12, CriticalCount: 1, MediumCount: 1, LowCount: 1, Duration: 3 * time.Second},
		StartedAt:   now,
		CompletedAt: &done,
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if doc.Summary.ThreatsFound != 3 || doc.Summary.TotalFiles != 12 || doc.Summary.TotalPackages != 1 {
		t.Fatalf("summary = %+v", doc.Summary)
	}
	if doc.Metadata.Target != "/tmp/pkg" {
		t.Fatalf("target = %s", doc.Metadata.Target)
	}
	if len(doc.Threats) != 3 || doc.Threats[0].Type != domain.ThreatMaliciousCodeStructure {
		t.Fatalf("threats did not survive the round trip: %+v", doc.Threats)
	}
	if doc.RiskAssessment.Overall != 0.82 {
		t.Fatalf("risk overall = %v", doc.RiskAssessment.Overall)
	}
}

func TestSARIFStructureAndLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSARIF(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteSARIF: %v", err)
	}

	var log map[string]any
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatalf("parse sarif: %v", err)
	}
	if log["version"] != "2.1.0" {
		t.Fatalf("version = %v", log["version"])
	}
	if _, ok := log["$schema"]; !ok {
		t.Fatal("missing $schema")
	}

	runs := log["runs"].([]any)
	run := runs[0].(map[string]any)
	results := run["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	wantLevels := map[string]string{
		"malicious_code_structure": "error",
		"high_entropy_blob":        "warning",
		"file_too_large":           "note",
	}
	for _, raw := range results {
		res := raw.(map[string]any)
		rule := res["ruleId"].(string)
		if res["level"] != wantLevels[rule] {
			t.Errorf("rule %s level = %v, want %s", rule, res["level"], wantLevels[rule])
		}
	}

	first := results[0].(map[string]any)
	locs := first["locations"].([]any)
	phys := locs[0].(map[string]any)["physicalLocation"].(map[string]any)
	if phys["artifactLocation"].(map[string]any)["uri"] != "index.js" {
		t.Fatalf("artifact uri = %v", phys)
	}
	region := phys["region"].(map[string]any)
	if region["startLine"].(float64) != 2 || region["startColumn"].(float64) != 1 {
		t.Fatalf("region = %v", region)
	}

	inv := run["invocations"].([]any)[0].(map[string]any)
	if inv["executionSuccessful"] != true || inv["exitCode"].(float64) != 1 {
		t.Fatalf("invocation = %v", inv)
	}
}

func TestMarkdownEmojiAndCompliance(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, sampleReport(), "soc2"); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "🔴") {
		t.Fatal("critical finding must carry the red marker")
	}
	if !strings.Contains(out, "## Compliance: soc2") {
		t.Fatal("compliance section missing")
	}
	if !strings.Contains(out, "CC6.8") {
		t.Fatal("expected the unauthorized-software control row")
	}

	buf.Reset()
	if err := WriteMarkdown(&buf, sampleReport(), ""); err != nil {
		t.Fatalf("WriteMarkdown without compliance: %v", err)
	}
	if strings.Contains(buf.String(), "## Compliance") {
		t.Fatal("compliance section must be opt-in")
	}
}

func TestWriteDispatchUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "protobuf", sampleReport(), ""); err == nil {
		t.Fatal("unknown format must error")
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	if !strings.Contains(buf.String(), "threatsFound: 3") {
		t.Fatalf("yaml output missing summary: %s", buf.String())
	}
}
