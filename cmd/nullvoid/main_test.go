// Package main_test provides tests for the nullvoid CLI.
package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPackageSpec(t *testing.T) {
	tests := []struct {
		target  string
		name    string
		version string
		ok      bool
	}{
		{"lodash@4.17.21", "lodash", "4.17.21", true},
		{"@acme/internal-tools@1.0.0", "@acme/internal-tools", "1.0.0", true},
		{"./some/dir", "", "", false},
		{"@scope/name", "", "", false}, // no version after the scope separator is not a spec
		{"", "", "", false},
	}

	for _, tt := range tests {
		name, version, ok := packageSpec(tt.target)
		if ok != tt.ok || name != tt.name || version != tt.version {
			t.Errorf("packageSpec(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.target, name, version, ok, tt.name, tt.version, tt.ok)
		}
	}
}

func TestPackageSpecPrefersExistingPath(t *testing.T) {
	dir := t.TempDir()
	weird := filepath.Join(dir, "pkg@1.0.0")
	if err := os.Mkdir(weird, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := packageSpec(weird); ok {
		t.Fatal("an existing path must never parse as a package spec")
	}
}

func TestRunScanCleanDirectoryExitsZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = 1;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"scan", "-output", "json", dir}, &stdout, &stderr)
	if code != exitClean {
		t.Fatalf("exit = %d, want %d (stderr: %s)", code, exitClean, stderr.String())
	}

	var doc map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := doc["riskAssessment"]; !ok {
		t.Fatal("JSON output missing riskAssessment")
	}
}

func TestRunScanMaliciousFileExitsOne(t *testing.T) {
	dir := t.TempDir()
	src := "module.exports = router;\nconst b3=I,c4=J,d5=K;\n"
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"scan", "-output", "json", dir}, &stdout, &stderr)
	if code != exitThreats {
		t.Fatalf("exit = %d, want %d", code, exitThreats)
	}
}

func TestRunScanTraversalTargetExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"scan", "./pkg/../../etc/passwd"}, &stdout, &stderr)
	if code != exitThreats {
		t.Fatalf("exit = %d, want %d", code, exitThreats)
	}
}

func TestRunScanInvalidFlagsExitTwo(t *testing.T) {
	cases := [][]string{
		{"scan", "-depth", "11", "."},
		{"scan", "-workers", "0", "."},
		{"scan", "-workers", "17", "."},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(args, &stdout, &stderr); code != exitUsage {
			t.Errorf("run(%v) = %d, want %d", args, code, exitUsage)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"frobnicate"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("unknown command must exit %d", exitUsage)
	}
}

func TestRunHelpShowsScanVerb(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"help"}, &stdout, &stderr); code != exitClean {
		t.Fatalf("help exit = %d", code)
	}
	if !strings.Contains(stdout.String(), "scan") {
		t.Fatal("usage text must mention the scan command")
	}
}

func TestFilterAtLeastHigh(t *testing.T) {
	var stdout, stderr bytes.Buffer
	dir := t.TempDir()
	blob := "var p = \"" + strings.Repeat("H4sIAAAAAAAA/8tIzcnJVyjPL8pJUQQA", 3) + "\";\n"
	if err := os.WriteFile(filepath.Join(dir, "blob.js"), []byte(blob), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"scan", "-output", "json", dir}, &stdout, &stderr)
	var doc struct {
		Threats []struct {
			Severity string `json:"severity"`
		} `json:"threats"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v (exit %d)", err, code)
	}
	for _, th := range doc.Threats {
		if th.Severity == "low" || th.Severity == "medium" || th.Severity == "info" {
			t.Fatalf("default output must omit %s findings; use -all to include them", th.Severity)
		}
	}
}
