package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithNoRCFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Depth != want.Depth {
		t.Errorf("Depth = %d, want %d", cfg.Depth, want.Depth)
	}
	if len(cfg.DependencyConfusion.PrivateScopes) != len(want.DependencyConfusion.PrivateScopes) {
		t.Errorf("PrivateScopes = %v, want %v", cfg.DependencyConfusion.PrivateScopes, want.DependencyConfusion.PrivateScopes)
	}
}

func TestLoadDeepMergesDependencyConfusionConfig(t *testing.T) {
	dir := t.TempDir()
	rc := `{
		"depth": 5,
		"DEPENDENCY_CONFUSION_CONFIG": {
			"privateScopes": ["@customscope"]
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, ".nullvoidrc.json"), []byte(rc), 0o644); err != nil {
		t.Fatalf("write rc file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Depth != 5 {
		t.Errorf("Depth = %d, want 5", cfg.Depth)
	}
	if len(cfg.DependencyConfusion.PrivateScopes) != 1 || cfg.DependencyConfusion.PrivateScopes[0] != "@customscope" {
		t.Errorf("PrivateScopes = %v, want [@customscope]", cfg.DependencyConfusion.PrivateScopes)
	}
	// AnomalyThreshold wasn't in the overlay, so it must survive untouched
	// from depconfusion.DefaultConfig() rather than being zeroed out.
	if cfg.DependencyConfusion.AnomalyThreshold != Default().DependencyConfusion.AnomalyThreshold {
		t.Errorf("AnomalyThreshold = %v, want default %v preserved by the deep merge",
			cfg.DependencyConfusion.AnomalyThreshold, Default().DependencyConfusion.AnomalyThreshold)
	}
}

func TestLoadRejectsNegativeMaxWorkers(t *testing.T) {
	dir := t.TempDir()
	rc := `{"worker_pool": {"max_workers": -1}}`
	if err := os.WriteFile(filepath.Join(dir, ".nullvoidrc.json"), []byte(rc), 0o644); err != nil {
		t.Fatalf("write rc file: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected Load to reject a negative max_workers")
	}
}
