package workerpool

import (
	"context"
	"errors"
	"testing"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

func TestRunProcessesAllItems(t *testing.T) {
	pool := New[int](DefaultConfig(), nil)
	items := make([]int, 37)
	for i := range items {
		items[i] = i
	}

	threats, metrics, err := pool.Run(context.Background(), items, func(ctx context.Context, n int) ([]domain.Threat, error) {
		return []domain.Threat{{Type: domain.ThreatObfuscatedCode, Severity: domain.SeverityLow, Confidence: 1}}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if metrics.ProcessedItems != 37 {
		t.Errorf("ProcessedItems = %d, want 37", metrics.ProcessedItems)
	}
	if len(threats) != 37 {
		t.Errorf("len(threats) = %d, want 37", len(threats))
	}
}

func TestRunRecordsFailedItemsAsAnalysisErrors(t *testing.T) {
	pool := New[int](Config{RetryCount: 0, ChunkSize: 2}, nil)
	items := []int{1, 2, 3, 4}

	threats, metrics, err := pool.Run(context.Background(), items, func(ctx context.Context, n int) ([]domain.Threat, error) {
		if n == 2 {
			return nil, errors.New("boom")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if metrics.FailedItems != 1 {
		t.Errorf("FailedItems = %d, want 1", metrics.FailedItems)
	}
	if metrics.ProcessedItems != 3 {
		t.Errorf("ProcessedItems = %d, want 3", metrics.ProcessedItems)
	}
	var gotAnalysisError bool
	for _, th := range threats {
		if th.Type == domain.ThreatAnalysisError {
			gotAnalysisError = true
			if th.Location.File != "2" {
				t.Errorf("AnalysisError location = %q, want the failing item's identity %q", th.Location.File, "2")
			}
		}
	}
	if !gotAnalysisError {
		t.Error("expected an AnalysisError threat for the failing item")
	}
}

func TestRunFailuresKeepDistinctItemIdentities(t *testing.T) {
	pool := New[string](Config{RetryCount: 0, ChunkSize: 1}, nil)
	items := []string{"a.js", "b.js"}

	threats, metrics, err := pool.Run(context.Background(), items, func(ctx context.Context, path string) ([]domain.Threat, error) {
		return nil, errors.New("unreadable")
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if metrics.FailedItems != 2 {
		t.Fatalf("FailedItems = %d, want 2", metrics.FailedItems)
	}

	files := map[string]bool{}
	keys := map[string]bool{}
	for _, th := range threats {
		if th.Type != domain.ThreatAnalysisError {
			t.Fatalf("unexpected threat type %s", th.Type)
		}
		files[th.Location.File] = true
		keys[th.Key()] = true
	}
	if !files["a.js"] || !files["b.js"] {
		t.Fatalf("failure threats must name their files, got %v", files)
	}
	if len(keys) != 2 {
		t.Fatalf("the two failures must dedup-key distinctly, got %d distinct keys", len(keys))
	}
}

func TestRunRetriesBeforeFailing(t *testing.T) {
	pool := New[int](Config{RetryCount: 2, ChunkSize: 10}, nil)
	attempts := 0

	_, metrics, err := pool.Run(context.Background(), []int{1}, func(ctx context.Context, n int) ([]domain.Threat, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("transient")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one retry then success)", attempts)
	}
	if metrics.FailedItems != 0 {
		t.Errorf("FailedItems = %d, want 0 after a successful retry", metrics.FailedItems)
	}
}

func TestRunEmptyItemsReturnsZeroMetrics(t *testing.T) {
	pool := New[string](DefaultConfig(), nil)
	threats, metrics, err := pool.Run(context.Background(), nil, func(ctx context.Context, s string) ([]domain.Threat, error) {
		t.Fatal("process should never be called for an empty item set")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(threats) != 0 || metrics.TotalItems != 0 {
		t.Errorf("expected zero threats/metrics for empty input, got %+v / %+v", threats, metrics)
	}
}

func TestChunkSizeRespectsBounds(t *testing.T) {
	pool := New[int](Config{MaxWorkers: 4, ChunkSize: 10, MinChunk: 2, MaxChunk: 5}, nil)
	if got := pool.chunkSizeFor(1000); got > 5 {
		t.Errorf("chunkSizeFor(1000) = %d, want <= MaxChunk(5)", got)
	}
	if got := pool.chunkSizeFor(1); got < 2 {
		t.Errorf("chunkSizeFor(1) = %d, want >= MinChunk(2)", got)
	}
}
