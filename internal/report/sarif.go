package report

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

const (
	sarifSchema  = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	sarifVersion = "2.1.0"
	toolName     = "nullvoid"
	toolVersion  = "0.1.0"
	toolInfoURI  = "https://github.com/nullvoid-dev/nullvoid"
)

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool        sarifTool         `json:"tool"`
	Invocations []sarifInvocation `json:"invocations"`
	Results     []sarifResult     `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	Properties       map[string]string `json:"properties,omitempty"`
}

type sarifInvocation struct {
	ExecutionSuccessful bool   `json:"executionSuccessful"`
	ExitCode            int    `json:"exitCode"`
	StartTimeUTC        string `json:"startTimeUtc"`
	EndTimeUTC          string `json:"endTimeUtc"`
}

type sarifResult struct {
	RuleID     string          `json:"ruleId"`
	Level      string          `json:"level"`
	Message    sarifMessage    `json:"message"`
	Locations  []sarifLocation `json:"locations"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
}

// sarifLevel maps scan severities onto SARIF's three result levels.
func sarifLevel(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical, domain.SeverityHigh:
		return "error"
	case domain.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// WriteSARIF renders the report as a SARIF 2.1.0 log with one run.
func WriteSARIF(w io.Writer, r *domain.ScanReport) error {
	ruleSet := make(map[string]sarifRule)
	results := make([]sarifResult, 0, len(r.Threats))

	for _, t := range r.Threats {
		ruleID := string(t.Type)
		if _, ok := ruleSet[ruleID]; !ok {
			ruleSet[ruleID] = sarifRule{
				ID:               ruleID,
				ShortDescription: sarifMessage{Text: t.Title},
			}
		}

		loc := sarifLocation{
			PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: t.Location.File},
			},
		}
		if t.Location.StartLine > 0 {
			loc.PhysicalLocation.Region = &sarifRegion{StartLine: t.Location.StartLine, StartColumn: 1}
		}

		props := map[string]any{
			"severity":   string(t.Severity),
			"confidence": t.Confidence,
		}
		if t.Location.Snippet != "" {
			props["excerpt"] = t.Location.Snippet
		}

		results = append(results, sarifResult{
			RuleID:     ruleID,
			Level:      sarifLevel(t.Severity),
			Message:    sarifMessage{Text: t.Description},
			Locations:  []sarifLocation{loc},
			Properties: props,
		})
	}

	ruleIDs := make([]string, 0, len(ruleSet))
	for id := range ruleSet {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Strings(ruleIDs)
	rules := make([]sarifRule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rules = append(rules, ruleSet[id])
	}

	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	exitCode := 0
	if hasAtLeastHigh(r.Threats) {
		exitCode = 1
	}

	log := sarifLog{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           toolName,
				Version:        toolVersion,
				InformationURI: toolInfoURI,
				Rules:          rules,
			}},
			Invocations: []sarifInvocation{{
				ExecutionSuccessful: r.Status == domain.ScanStatusCompleted,
				ExitCode:            exitCode,
				StartTimeUTC:        r.StartedAt.UTC().Format(time.RFC3339),
				EndTimeUTC:          end.UTC().Format(time.RFC3339),
			}},
			Results: results,
		}},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}

// hasAtLeastHigh reports whether any threat is High or Critical, the
// condition that turns a scan into a failing exit status.
func hasAtLeastHigh(threats []domain.Threat) bool {
	for _, t := range threats {
		if t.Severity.AtLeast(domain.SeverityHigh) {
			return true
		}
	}
	return false
}
