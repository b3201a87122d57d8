package depconfusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
	"github.com/nullvoid-dev/nullvoid/internal/ratelimit"
)

// NPMRegistry resolves package creation dates from a cascade of registry
// endpoints: the first registry that answers wins, and each call runs
// under the shared Throttler's retry budget.
type NPMRegistry struct {
	client    *http.Client
	baseURLs  []string
	throttler *ratelimit.Throttler
}

// NewNPMRegistry builds a registry client over baseURLs (defaults to the
// public npm registry when empty).
func NewNPMRegistry(baseURLs []string, throttler *ratelimit.Throttler) *NPMRegistry {
	if len(baseURLs) == 0 {
		baseURLs = []string{"https://registry.npmjs.org"}
	}
	if throttler == nil {
		throttler = ratelimit.NewThrottler(ratelimit.DefaultThrottlerConfig())
	}
	return &NPMRegistry{
		client:    &http.Client{Timeout: 15 * time.Second},
		baseURLs:  baseURLs,
		throttler: throttler,
	}
}

// registryDocument is the subset of the registry's package document the
// analyzer needs.
type registryDocument struct {
	Time map[string]string `json:"time"`
}

// CreatedAt returns the package's registry creation instant. Registries
// are tried in order; a package unknown to every registry returns
// (zero, false, nil) rather than an error, since "never published" is a
// meaningful analysis outcome.
func (r *NPMRegistry) CreatedAt(ctx context.Context, pkg domain.PackageDescriptor) (time.Time, bool, error) {
	name := pkg.Name
	if pkg.Scope != "" {
		name = pkg.Scope + "/" + pkg.Name
	}

	var lastErr error
	for _, base := range r.baseURLs {
		created, found, err := r.fetchCreated(ctx, base, name)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			return created, true, nil
		}
	}
	if lastErr != nil {
		return time.Time{}, false, lastErr
	}
	return time.Time{}, false, nil
}

func (r *NPMRegistry) fetchCreated(ctx context.Context, base, name string) (time.Time, bool, error) {
	var doc registryDocument
	notFound := false

	err := r.throttler.Do(ctx, retryableRegistryError, func(ctx context.Context) error {
		u := base + "/" + url.PathEscape(name)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: registry %s", domain.ErrRateLimited, base)
		case resp.StatusCode >= 400:
			return fmt.Errorf("registry %s returned status %d", base, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&doc)
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if notFound {
		return time.Time{}, false, nil
	}

	raw, ok := doc.Time["created"]
	if !ok {
		return time.Time{}, false, nil
	}
	created, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse created timestamp %q: %w", raw, err)
	}
	return created, true, nil
}

// retryableRegistryError treats validation failures as final; network and
// rate-limit failures are worth another attempt.
func retryableRegistryError(err error) bool {
	return !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrConfiguration)
}
