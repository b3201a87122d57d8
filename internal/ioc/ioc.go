// Package ioc fans a package+version query out over several external
// indicator-of-compromise / advisory providers, behind the shared cache
// and rate limiter, and merges their results deduplicated by CVE id
// first, then by vulnerability id plus source.
package ioc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	purl "github.com/package-url/packageurl-go"
	"golang.org/x/sync/singleflight"

	"github.com/nullvoid-dev/nullvoid/internal/cache"
	"github.com/nullvoid-dev/nullvoid/internal/domain"
	"github.com/nullvoid-dev/nullvoid/internal/ratelimit"
)

// Health reports a provider's operational status.
type Health struct {
	Healthy bool
	Message string
}

// Provider is the uniform capability every advisory/IoC source
// implements.
type Provider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Query(ctx context.Context, pkg domain.PackageDescriptor) ([]domain.IoCResult, error)
	Health(ctx context.Context) Health
}

// Manager holds a registry of Providers and routes queries through the
// shared cache and each provider's own rate limiter.
type Manager struct {
	providers []Provider
	store     *cache.Layered
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	group     singleflight.Group
}

// Config tunes cache TTLs and inter-provider stagger.
type Config struct {
	DefaultTTL      time.Duration
	SlowFeedTTL     time.Duration
	StaggerPerIndex time.Duration
}

// DefaultConfig caches results for 1 hour (24 hours for slow feeds) and
// staggers concurrent providers by ~100ms each.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      time.Hour,
		SlowFeedTTL:     24 * time.Hour,
		StaggerPerIndex: 100 * time.Millisecond,
	}
}

// NewManager builds a Manager over a layered cache store (nil disables
// caching). Reads check the store's layers in order, and a key served
// repeatedly from a lower layer is promoted up one layer by the store's
// promotion policy. Results are keyed per provider:package:version rather
// than through one shared Fetcher, since each query targets a different
// provider.
func NewManager(providers []Provider, store *cache.Layered, limiter *ratelimit.Limiter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{providers: providers, store: store, limiter: limiter, logger: logger.With("component", "ioc")}
}

// Purl normalizes a package descriptor into a pkg: URL so multi-provider
// results key consistently even when providers format identifiers
// differently.
func Purl(pkg domain.PackageDescriptor) string {
	ptype := pkg.Ecosystem
	if ptype == "" {
		ptype = "generic"
	}
	name := pkg.Name
	namespace := ""
	if pkg.Scope != "" {
		namespace = pkg.Scope
	}
	instance := purl.NewPackageURL(ptype, namespace, name, pkg.Version, nil, "")
	return instance.ToString()
}

// QueryAll fans pkg out across every enabled provider, staggering requests
// by config.StaggerPerIndex·index to smooth load, and merges the results
// deduplicated first by CVE id, then by vulnerabilityId+source.
func (m *Manager) QueryAll(ctx context.Context, pkg domain.PackageDescriptor, cfg Config) ([]domain.IoCResult, error) {
	type indexed struct {
		idx     int
		results []domain.IoCResult
		err     error
	}

	resultsCh := make(chan indexed, len(m.providers))

	for i, p := range m.providers {
		i, p := i, p
		go func() {
			if cfg.StaggerPerIndex > 0 && i > 0 {
				select {
				case <-time.After(time.Duration(i) * cfg.StaggerPerIndex):
				case <-ctx.Done():
					resultsCh <- indexed{idx: i, err: ctx.Err()}
					return
				}
			}
			res, err := m.queryOne(ctx, p, pkg, cfg)
			resultsCh <- indexed{idx: i, results: res, err: err}
		}()
	}

	all := make([][]domain.IoCResult, len(m.providers))
	for range m.providers {
		r := <-resultsCh
		if r.err != nil {
			m.logger.Warn("ioc provider query failed", "error", r.err)
			continue
		}
		all[r.idx] = r.results
	}

	return dedupe(all), nil
}

func (m *Manager) queryOne(ctx context.Context, p Provider, pkg domain.PackageDescriptor, cfg Config) ([]domain.IoCResult, error) {
	if !p.IsAvailable(ctx) {
		return nil, nil
	}

	// cache key is provider:package:version.
	key := fmt.Sprintf("%s:%s", p.Name(), Purl(pkg))
	ttl := cfg.DefaultTTL
	if isSlowFeed(p.Name()) {
		ttl = cfg.SlowFeedTTL
	}

	if results, ok := m.readCache(ctx, key, ttl); ok {
		return results, nil
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, p.Name()); err != nil {
			return nil, err
		}
	}

	// Single-flight per key: concurrent queries for the same provider+
	// package coalesce into one upstream call, the same at-most-one-fill
	// guarantee the cache gives.
	v, err, _ := m.group.Do(key, func() (any, error) {
		results, ferr := m.fetchAndClassify(ctx, p, pkg)
		if ferr != nil {
			return nil, ferr
		}
		m.writeCache(ctx, key, results, ttl)
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.IoCResult), nil
}

// readCache consults the layered store; ttl is the lifetime a promoted
// copy carries when the store's promotion policy moves the key up a
// layer.
func (m *Manager) readCache(ctx context.Context, key string, ttl time.Duration) ([]domain.IoCResult, bool) {
	if m.store == nil {
		return nil, false
	}
	raw, ok := m.store.Get(ctx, key, ttl)
	if !ok {
		return nil, false
	}
	var results []domain.IoCResult
	if json.Unmarshal(raw, &results) != nil {
		return nil, false
	}
	return results, true
}

func (m *Manager) writeCache(ctx context.Context, key string, results []domain.IoCResult, ttl time.Duration) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	m.store.Set(ctx, key, data, ttl)
}

// isSlowFeed reports whether provider name belongs to the slower-moving
// advisory feeds that get a 24h TTL instead of the 1h default.
func isSlowFeed(name string) bool {
	switch name {
	case "nvd":
		return true
	default:
		return false
	}
}

// fetchAndClassify calls the provider. A rate-limit-class failure is
// returned as ErrRateLimited and nothing is cached; a 403-class signal
// also consumes one more request from the provider's limiter window.
// Neither class extends the limiter's block window: the provider is
// blocked only by its ordinary per-window request count.
func (m *Manager) fetchAndClassify(ctx context.Context, p Provider, pkg domain.PackageDescriptor) ([]domain.IoCResult, error) {
	results, err := p.Query(ctx, pkg)
	if err == nil {
		return results, nil
	}

	if rlErr, ok := err.(*RateLimitError); ok {
		if m.limiter != nil {
			if rlErr.Forbidden {
				m.limiter.Allow(p.Name()) // force-consume the window
			}
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, rlErr.Error())
	}
	return nil, fmt.Errorf("%w: %s: %v", domain.ErrProviderFailed, p.Name(), err)
}

// RateLimitError signals a provider-specific rate-limit response (HTTP
// 403 or 429) so Manager reports it as ErrRateLimited instead of a
// generic provider failure.
type RateLimitError struct {
	Forbidden bool // true for 403-class, false for 429-class
	Status    int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d)", e.Status)
}

// dedupe merges provider result sets: first by CVE id (when present),
// then by vulnerability id plus source.
func dedupe(sets [][]domain.IoCResult) []domain.IoCResult {
	seenByCVE := make(map[string]bool)
	seenByKey := make(map[string]bool)
	var merged []domain.IoCResult

	for _, set := range sets {
		for _, r := range set {
			cveKey := cveOf(r.VulnID)
			if cveKey != "" {
				if seenByCVE[cveKey] {
					continue
				}
				seenByCVE[cveKey] = true
			}
			key := r.VulnID + ":" + r.Provider
			if seenByKey[key] {
				continue
			}
			seenByKey[key] = true
			merged = append(merged, r)
		}
	}
	return merged
}

// cveOf extracts a CVE id from a vulnerability id string if it looks like
// one (e.g. "CVE-2024-0001" or embedded inside a provider-specific id).
func cveOf(vulnID string) string {
	return cvePattern.FindString(vulnID)
}

var cvePattern = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)
