package ioc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// GitHubAdvisoryProvider queries the GitHub Security Advisory REST API.
// Structured like the other providers: a configured http.Client, an
// optional bearer token, and a single search-style GET call decoded into
// domain objects.
type GitHubAdvisoryProvider struct {
	httpClient *http.Client
	apiToken   string
	baseURL    string
}

// NewGitHubAdvisoryProvider builds a provider against api.github.com.
// apiToken may be empty; GitHub serves the advisory database unauthenticated
// at a lower rate limit.
func NewGitHubAdvisoryProvider(apiToken string) *GitHubAdvisoryProvider {
	return &GitHubAdvisoryProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiToken:   apiToken,
		baseURL:    "https://api.github.com",
	}
}

func (p *GitHubAdvisoryProvider) Name() string { return "github_advisory" }

func (p *GitHubAdvisoryProvider) IsAvailable(ctx context.Context) bool { return true }

type githubAdvisory struct {
	GHSAID      string `json:"ghsa_id"`
	Summary     string `json:"summary"`
	Severity    string `json:"severity"`
	PublishedAt string `json:"published_at"`
	HTMLURL     string `json:"html_url"`
	Vulnerabilities []struct {
		Package struct {
			Name      string `json:"name"`
			Ecosystem string `json:"ecosystem"`
		} `json:"package"`
	} `json:"vulnerabilities"`
	Identifiers []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"identifiers"`
}

// Query calls GET /advisories?ecosystem=...&affects=... as documented at
// https://docs.github.com/rest/security-advisories/global-advisories.
func (p *GitHubAdvisoryProvider) Query(ctx context.Context, pkg domain.PackageDescriptor) ([]domain.IoCResult, error) {
	q := url.Values{}
	q.Set("ecosystem", githubEcosystem(pkg.Ecosystem))
	q.Set("affects", githubPackageName(pkg))
	q.Set("per_page", "25")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/advisories?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if p.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Forbidden: false, Status: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, &RateLimitError{Forbidden: true, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github advisory API error: %d - %s", resp.StatusCode, body)
	}

	var advisories []githubAdvisory
	if err := json.NewDecoder(resp.Body).Decode(&advisories); err != nil {
		return nil, err
	}

	results := make([]domain.IoCResult, 0, len(advisories))
	for _, a := range advisories {
		publishedAt, _ := time.Parse(time.RFC3339, a.PublishedAt)
		results = append(results, domain.IoCResult{
			Provider:    p.Name(),
			PackageName: pkg.Name,
			VulnID:      cveOrGHSA(a),
			Severity:    githubSeverity(a.Severity),
			Summary:     a.Summary,
			PublishedAt: publishedAt,
			URL:         a.HTMLURL,
		})
	}
	return results, nil
}

func (p *GitHubAdvisoryProvider) Health(ctx context.Context) Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/rate_limit", nil)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}
	}
	if p.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	return Health{Healthy: resp.StatusCode == http.StatusOK}
}

func githubEcosystem(ecosystem string) string {
	switch ecosystem {
	case "npm":
		return "npm"
	case "pypi":
		return "pip"
	default:
		return ecosystem
	}
}

func githubPackageName(pkg domain.PackageDescriptor) string {
	if pkg.Scope != "" {
		return pkg.Scope + "/" + pkg.Name
	}
	return pkg.Name
}

// cveOrGHSA prefers a CVE identifier when the advisory has one, falling
// back to the GHSA id, matching dedupe's CVE-first merge key.
func cveOrGHSA(a githubAdvisory) string {
	for _, id := range a.Identifiers {
		if id.Type == "CVE" {
			return id.Value
		}
	}
	return a.GHSAID
}

func githubSeverity(s string) domain.Severity {
	switch strings.ToLower(s) {
	case "critical":
		return domain.SeverityCritical
	case "high":
		return domain.SeverityHigh
	case "moderate", "medium":
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
