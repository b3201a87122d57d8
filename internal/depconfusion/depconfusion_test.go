package depconfusion

import (
	"context"
	"testing"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

type fakeRegistry struct {
	createdAt time.Time
}

func (f fakeRegistry) CreatedAt(ctx context.Context, pkg domain.PackageDescriptor) (time.Time, bool, error) {
	return f.createdAt, true, nil
}

type fakeRepoHistory struct {
	firstCommit time.Time
}

func (f fakeRepoHistory) FirstCommitAt(ctx context.Context, repoPath string) (time.Time, bool, error) {
	return f.firstCommit, true, nil
}

func (f fakeRepoHistory) RecentCommitCount(ctx context.Context, repoPath string, since time.Duration) (int, error) {
	return 1, nil
}

func (f fakeRepoHistory) DominantAuthorShare(ctx context.Context, repoPath string) (float64, error) {
	return 1.0, nil
}

func TestTimelineBucketing(t *testing.T) {
	cases := []struct {
		days int
		want domain.Severity
	}{
		{0, domain.SeverityCritical},
		{1, domain.SeverityCritical},
		{2, domain.SeverityHigh},
		{3, domain.SeverityHigh},
		{5, domain.SeverityMedium},
		{7, domain.SeverityMedium},
		{8, domain.SeverityLow},
	}
	for _, c := range cases {
		if got := timelineBucket(c.days); got != c.want {
			t.Errorf("timelineBucket(%d) = %s, want %s", c.days, got, c.want)
		}
	}
}

func TestAnalyzeEmitsTimelineAndScopeThreats(t *testing.T) {
	firstCommit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	registryCreated := firstCommit.Add(2 * 24 * time.Hour)

	analyzer := New(
		Config{
			PrivateScopes:        []string{"@acme"},
			PopularPackages:      []string{"react", "lodash"},
			AnomalyThreshold:     0.9,
			PredictiveThreshold:  0.99,
			SimilarityThreshold:  2,
		},
		fakeRegistry{createdAt: registryCreated},
		fakeRepoHistory{firstCommit: firstCommit},
		nil,
	)

	pkg := domain.PackageDescriptor{Name: "internal-tools", Version: "1.0.0", Ecosystem: "npm", Scope: "@acme"}

	threats, err := analyzer.Analyze(context.Background(), pkg, "/repo")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var gotTimeline, gotScope bool
	for _, th := range threats {
		switch th.Type {
		case domain.ThreatDependencyConfusionTimeline:
			gotTimeline = true
			if th.Severity != domain.SeverityHigh {
				t.Errorf("timeline severity = %s, want high (2 days)", th.Severity)
			}
			if th.Metadata["daysDifference"] != 2 {
				t.Errorf("daysDifference = %v, want 2", th.Metadata["daysDifference"])
			}
		case domain.ThreatDependencyConfusionScope:
			gotScope = true
			if th.Severity != domain.SeverityHigh {
				t.Errorf("scope severity = %s, want high", th.Severity)
			}
		}
	}
	if !gotTimeline {
		t.Error("expected a DependencyConfusionTimeline threat")
	}
	if !gotScope {
		t.Error("expected a DependencyConfusionScope threat")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"react", "raect", 2},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestDefaultScorerDegradesWithMissingFeatures(t *testing.T) {
	s := NewDefaultScorer()
	score, _, err := s.Score(context.Background(), map[string]float64{"scope_is_private": 1})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 1 {
		t.Errorf("score = %v, want 1 (single present feature fully weighted)", score)
	}

	score, _, err = s.Score(context.Background(), map[string]float64{})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0 {
		t.Errorf("score with no features = %v, want 0", score)
	}
}
