package detector

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// Scorer turns a feature vector into an anomaly score in [0, 1]. It is
// the pluggable inference boundary: a caller can wire in a remote
// model-serving client, or rely on DefaultScorer's weighted-linear
// fallback when no external model is configured. internal/depconfusion
// defines its own, separate Scorer for its feature set.
type Scorer interface {
	Score(ctx context.Context, features map[string]float64) (float64, error)
}

// DefaultScorer computes a weighted linear combination of features,
// normalized by the sum of known weights, so it degrades sensibly when
// only a subset of features is present.
type DefaultScorer struct {
	Weights map[string]float64
}

// NewDefaultScorer builds a DefaultScorer with the built-in feature
// weights used for source-level anomaly scoring.
func NewDefaultScorer() *DefaultScorer {
	return &DefaultScorer{
		Weights: map[string]float64{
			"identifier_entropy":     0.25,
			"string_literal_density": 0.15,
			"control_flow_flatness":  0.15,
			"avg_line_length":        0.15,
			"non_ascii_ratio":        0.30,
		},
	}
}

func (s *DefaultScorer) Score(ctx context.Context, features map[string]float64) (float64, error) {
	var weighted, totalWeight float64
	for name, value := range features {
		w, ok := s.Weights[name]
		if !ok {
			continue
		}
		weighted += w * clamp01(value)
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return clamp01(weighted / totalWeight), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Confidence tiers mapping a raw anomaly score onto a severity.
const (
	mlSeverityCriticalAt = 0.85
	mlSeverityHighAt     = 0.65
	mlSeverityMediumAt   = 0.45
)

// MLAnomalyDetector extracts a lightweight feature vector from source
// text and asks a Scorer to judge how anomalous it looks, flagging
// files whose score crosses mlSeverityMediumAt.
type MLAnomalyDetector struct {
	scorer Scorer
}

// NewMLAnomalyDetector builds an MLAnomalyDetector around scorer. A nil
// scorer falls back to DefaultScorer.
func NewMLAnomalyDetector(scorer Scorer) *MLAnomalyDetector {
	if scorer == nil {
		scorer = NewDefaultScorer()
	}
	return &MLAnomalyDetector{scorer: scorer}
}

func (d *MLAnomalyDetector) Name() string { return "ml-anomaly" }

func (d *MLAnomalyDetector) Detect(ctx context.Context, file FileContext) ([]domain.Threat, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	features := extractFeatures(file.Content)
	score, err := d.scorer.Score(ctx, features)
	if err != nil {
		return nil, err
	}
	if score < mlSeverityMediumAt {
		return nil, nil
	}

	return []domain.Threat{{
		Type:        domain.ThreatMLAnomaly,
		Severity:    severityForScore(score),
		Confidence:  score,
		Title:       "Anomalous source characteristics",
		Description: "Feature-based scoring flagged this file as structurally anomalous relative to typical package source",
		Location:    domain.CodeLocation{File: file.Path},
		DetectedBy:  d.Name(),
		PackageName: file.PackageName,
		Metadata:    featuresToMetadata(features, score),
	}}, nil
}

func severityForScore(score float64) domain.Severity {
	switch {
	case score >= mlSeverityCriticalAt:
		return domain.SeverityCritical
	case score >= mlSeverityHighAt:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func featuresToMetadata(features map[string]float64, score float64) map[string]any {
	m := make(map[string]any, len(features)+1)
	for k, v := range features {
		m[k] = v
	}
	m["anomaly_score"] = score
	return m
}

// extractFeatures computes a small, cheap-to-compute feature set from
// raw source text: identifier entropy, string-literal density, control
// flow flatness, average line length, and non-ASCII character ratio.
func extractFeatures(content []byte) map[string]float64 {
	text := string(content)
	lines := strings.Split(text, "\n")

	return map[string]float64{
		"identifier_entropy":     normalizedIdentifierEntropy(text),
		"string_literal_density": stringLiteralDensity(text),
		"control_flow_flatness":  controlFlowFlatness(text),
		"avg_line_length":        normalizedAvgLineLength(lines),
		"non_ascii_ratio":        nonASCIIRatio(text),
	}
}

func normalizedIdentifierEntropy(text string) float64 {
	h := shannonEntropy([]byte(text))
	// Shannon entropy over source text tops out near 5.5-6 bits/byte for
	// legitimate, non-obfuscated JS; normalize against that ceiling.
	return clamp01(h / 6.0)
}

func stringLiteralDensity(text string) float64 {
	quotes := strings.Count(text, "\"") + strings.Count(text, "'") + strings.Count(text, "`")
	if len(text) == 0 {
		return 0
	}
	return clamp01(float64(quotes) / (float64(len(text)) / 40.0))
}

func controlFlowFlatness(text string) float64 {
	keywords := []string{"if", "for", "while", "switch", "function", "=>"}
	count := 0
	for _, kw := range keywords {
		count += strings.Count(text, kw)
	}
	lineCount := strings.Count(text, "\n") + 1
	density := float64(count) / float64(lineCount)
	// Very low control-flow density over a large file is itself a
	// mild anomaly signal (one giant expression/data blob).
	return clamp01(1.0 - density)
}

func normalizedAvgLineLength(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}
	total := 0
	for _, l := range lines {
		total += len(l)
	}
	avg := float64(total) / float64(len(lines))
	// Minified files commonly run several hundred to several thousand
	// characters per line; normalize against a 2000-char ceiling.
	return clamp01(avg / 2000.0)
}

func nonASCIIRatio(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	var nonASCII int
	for _, r := range text {
		if r > unicode.MaxASCII {
			nonASCII++
		}
	}
	return clamp01(float64(nonASCII) / float64(len([]rune(text))))
}

// sortedFeatureNames returns the feature names in sorted order, so a
// listing of metadata keys does not depend on map iteration order.
func sortedFeatureNames(features map[string]float64) []string {
	names := make([]string, 0, len(features))
	for k := range features {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
