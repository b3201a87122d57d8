// Package workerpool runs scan work (files or packages) over a bounded,
// chunked set of goroutines: an errgroup.WithContext fan-out with
// per-unit failures logged and swallowed rather than aborting the whole
// run, bounded by errgroup.SetLimit to min(configured, NumCPU). Work is
// chunked because a static-analysis scan fans out over thousands of
// files, not a handful of analyzers.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// Config tunes pool sizing and per-chunk behavior.
type Config struct {
	MaxWorkers   int
	ChunkSize    int
	MinChunk     int
	MaxChunk     int
	ChunkTimeout time.Duration
	RetryCount   int
	MaxRespawns  int
}

// DefaultConfig returns the pool's stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:   8,
		ChunkSize:    10,
		MinChunk:     1,
		MaxChunk:     64,
		ChunkTimeout: 30 * time.Second,
		RetryCount:   2,
		MaxRespawns:  3,
	}
}

// Metrics summarizes one Run call: total/processed items, threats found,
// failed items, average processing time, and worker utilization
// (total work ms / elapsed ms / workers).
type Metrics struct {
	TotalItems            int
	ProcessedItems        int
	FailedItems           int
	ThreatsFound          int
	AverageProcessingTime time.Duration
	WorkerUtilization     float64
}

// Process is the work function applied to one item (a file path, a
// package descriptor, ...). It returns the threats found for that item.
type Process[T any] func(ctx context.Context, item T) ([]domain.Threat, error)

// Pool runs a slice of items of type T through a Process function, bounded
// to min(cfg.MaxWorkers, runtime.NumCPU()) concurrent chunks.
type Pool[T any] struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Pool with cfg (zero-value fields fall back to
// DefaultConfig's values).
func New[T any](cfg Config, logger *slog.Logger) *Pool[T] {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = DefaultConfig().MinChunk
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultConfig().MaxChunk
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultConfig().ChunkTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{cfg: cfg, logger: logger.With("component", "workerpool")}
}

// workerCount bounds the pool to min(configured max, cpu count).
func (p *Pool[T]) workerCount() int {
	n := p.cfg.MaxWorkers
	if cpu := runtime.NumCPU(); cpu < n {
		n = cpu
	}
	if n < 1 {
		n = 1
	}
	return n
}

// chunkSizeFor tunes chunk size to target roughly 3 chunks per worker for
// load balance, clamped to [MinChunk, MaxChunk].
func (p *Pool[T]) chunkSizeFor(total int) int {
	workers := p.workerCount()
	target := p.cfg.ChunkSize
	if workers > 0 {
		byTarget := total / (workers * 3)
		if byTarget > target {
			target = byTarget
		}
	}
	if target < p.cfg.MinChunk {
		target = p.cfg.MinChunk
	}
	if target > p.cfg.MaxChunk {
		target = p.cfg.MaxChunk
	}
	return target
}

// Run chunks items and fans them out across a bounded set of goroutines.
// Each chunk is processed item-by-item under a per-item timeout and retry
// budget; a chunk that panics is recovered, logged, and recorded as one
// AnalysisError threat listing the chunk's items, so one crashed chunk
// never loses the other chunks' results. Cancellation is checked at chunk and item
// boundaries only.
func (p *Pool[T]) Run(ctx context.Context, items []T, process Process[T]) ([]domain.Threat, Metrics, error) {
	metrics := Metrics{TotalItems: len(items)}
	if len(items) == 0 {
		return nil, metrics, nil
	}

	size := p.chunkSizeFor(len(items))
	var chunks [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}

	var (
		mu           sync.Mutex
		threats      []domain.Threat
		processed    int64
		failed       int64
		totalWorkMs  int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount())

	runStart := time.Now()

	for chunkIdx, chunk := range chunks {
		chunk := chunk
		chunkIdx := chunkIdx
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			workMs := p.runChunk(gctx, chunkIdx, chunk, process, &mu, &threats, &processed, &failed)
			atomic.AddInt64(&totalWorkMs, workMs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return threats, metrics, err
	}

	elapsed := time.Since(runStart)
	metrics.ProcessedItems = int(processed)
	metrics.FailedItems = int(failed)
	metrics.ThreatsFound = len(threats)
	if processed > 0 {
		metrics.AverageProcessingTime = time.Duration(totalWorkMs/processed) * time.Millisecond
	}
	if elapsed > 0 && p.workerCount() > 0 {
		metrics.WorkerUtilization = (float64(totalWorkMs) / 1000) / elapsed.Seconds() / float64(p.workerCount())
	}

	return threats, metrics, nil
}

// itemLabel renders an item's identity for failure threats. For the
// common case (a file path) this is the path itself; other item types get
// their fmt rendering, truncated so a large struct never bloats a threat.
func itemLabel[T any](item T) string {
	label := fmt.Sprint(item)
	if len(label) > 200 {
		label = label[:200]
	}
	return label
}

// runChunk processes one chunk's items sequentially, recovering from a
// panic in process so it does not reach the other chunks, and returns the
// chunk's total work time in milliseconds. A panic ends the chunk: its
// remaining items are not processed.
func (p *Pool[T]) runChunk(ctx context.Context, chunkIdx int, chunk []T, process Process[T], mu *sync.Mutex, threats *[]domain.Threat, processed, failed *int64) (workMs int64) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("chunk panicked, recording as analysis error", "chunk", chunkIdx, "panic", r)
			labels := make([]string, len(chunk))
			for i, item := range chunk {
				labels[i] = itemLabel(item)
			}
			mu.Lock()
			*threats = append(*threats, domain.Threat{
				Type:        domain.ThreatAnalysisError,
				Severity:    domain.SeverityInfo,
				Confidence:  1.0,
				Title:       "chunk processing failed",
				Description: fmt.Sprintf("chunk %d panicked: %v", chunkIdx, r),
				Location:    domain.CodeLocation{File: labels[0]},
				DetectedBy:  "workerpool",
				Metadata:    map[string]any{"chunk": chunkIdx, "items": labels},
				DetectedAt:  time.Now(),
			})
			atomic.AddInt64(failed, int64(len(chunk)))
			mu.Unlock()
		}
	}()

	for _, item := range chunk {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		itemThreats, err := p.runItemWithRetry(ctx, item, process)
		workMs += time.Since(start).Milliseconds()

		mu.Lock()
		if err != nil {
			*threats = append(*threats, domain.Threat{
				Type:        domain.ThreatAnalysisError,
				Severity:    domain.SeverityInfo,
				Confidence:  1.0,
				Title:       "item analysis failed",
				Description: err.Error(),
				Location:    domain.CodeLocation{File: itemLabel(item)},
				DetectedBy:  "workerpool",
				DetectedAt:  time.Now(),
			})
			atomic.AddInt64(failed, 1)
		} else {
			*threats = append(*threats, itemThreats...)
			atomic.AddInt64(processed, 1)
		}
		mu.Unlock()
	}
	return
}

// runItemWithRetry applies process to item under a per-item timeout,
// retrying up to cfg.RetryCount times on error.
func (p *Pool[T]) runItemWithRetry(ctx context.Context, item T, process Process[T]) ([]domain.Threat, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.RetryCount; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		itemCtx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
		threats, err := process(itemCtx, item)
		cancel()
		if err == nil {
			return threats, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
