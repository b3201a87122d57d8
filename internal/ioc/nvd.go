package ioc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// NVDProvider queries the NIST National Vulnerability Database's CVE API.
// NVD's anonymous rate limit is far stricter than GitHub's or OSV's, which
// is why isSlowFeed gives this provider's results a 24 hour cache TTL
// instead of the 1 hour default.
type NVDProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewNVDProvider builds a provider against the public NVD API. apiKey may be
// empty; NVD serves a much lower request rate to unauthenticated callers.
func NewNVDProvider(apiKey string) *NVDProvider {
	return &NVDProvider{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		apiKey:     apiKey,
		baseURL:    "https://services.nvd.nist.gov/rest/json/cves/2.0",
	}
}

func (p *NVDProvider) Name() string { return "nvd" }

func (p *NVDProvider) IsAvailable(ctx context.Context) bool { return true }

type nvdResponse struct {
	Vulnerabilities []struct {
		Cve struct {
			ID        string `json:"id"`
			Published string `json:"published"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				CvssMetricV31 []struct {
					CvssData struct {
						BaseSeverity string `json:"baseSeverity"`
					} `json:"cvssData"`
				} `json:"cvssMetricV31"`
			} `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

// Query searches NVD's keyword index for the package name. NVD has no
// package-aware endpoint, so this does a keyword search and accepts the
// recall/precision tradeoff that implies.
func (p *NVDProvider) Query(ctx context.Context, pkg domain.PackageDescriptor) ([]domain.IoCResult, error) {
	q := url.Values{}
	q.Set("keywordSearch", pkg.Name)
	q.Set("resultsPerPage", "20")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("apiKey", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &RateLimitError{Forbidden: true, Status: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Forbidden: false, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nvd API error: %d - %s", resp.StatusCode, body)
	}

	var parsed nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	results := make([]domain.IoCResult, 0, len(parsed.Vulnerabilities))
	for _, v := range parsed.Vulnerabilities {
		publishedAt, _ := time.Parse(time.RFC3339, v.Cve.Published)
		summary := ""
		for _, d := range v.Cve.Descriptions {
			if d.Lang == "en" {
				summary = d.Value
				break
			}
		}
		severity := domain.SeverityMedium
		if len(v.Cve.Metrics.CvssMetricV31) > 0 {
			severity = githubSeverity(v.Cve.Metrics.CvssMetricV31[0].CvssData.BaseSeverity)
		}
		results = append(results, domain.IoCResult{
			Provider:    p.Name(),
			PackageName: pkg.Name,
			VulnID:      v.Cve.ID,
			Severity:    severity,
			Summary:     summary,
			PublishedAt: publishedAt,
			URL:         "https://nvd.nist.gov/vuln/detail/" + v.Cve.ID,
		})
	}
	return results, nil
}

func (p *NVDProvider) Health(ctx context.Context) Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?resultsPerPage=1", nil)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	return Health{Healthy: resp.StatusCode == http.StatusOK}
}
