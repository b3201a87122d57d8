package detector

import (
	"bufio"
	"bytes"
	"context"
	"math"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// minEntropyRunLength is the shortest line (in bytes) worth scoring;
// shorter lines produce noisy entropy estimates.
const minEntropyRunLength = 40

// EntropyDetector flags long lines of high-Shannon-entropy content, the
// signature of minified/packed payloads, embedded ciphertext, or
// base64-encoded binaries hidden in source. Each line is scored as a
// whole; runs inside a line are not isolated.
type EntropyDetector struct {
	threshold float64
}

// NewEntropyDetector builds an EntropyDetector that flags lines whose
// Shannon entropy (bits per byte) is at or above threshold. A typical
// threshold for base64/hex blobs is around 4.0-4.5 out of a possible 8.0.
func NewEntropyDetector(threshold float64) *EntropyDetector {
	if threshold <= 0 {
		threshold = 4.2
	}
	return &EntropyDetector{threshold: threshold}
}

func (d *EntropyDetector) Name() string { return "entropy" }

func (d *EntropyDetector) Detect(ctx context.Context, file FileContext) ([]domain.Threat, error) {
	if IsTestFilePath(file.Path) || file.neutralized[FamilyEntropy] {
		return nil, nil
	}

	var threats []domain.Threat

	scanner := bufio.NewScanner(bytes.NewReader(file.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) < minEntropyRunLength {
			continue
		}

		h := shannonEntropy(text)
		if h < d.threshold {
			continue
		}

		threatType := domain.ThreatHighEntropyBlob
		title := "High-entropy content"
		if looksLikeObfuscatedIdentifiers(text) {
			threatType = domain.ThreatObfuscatedCode
			title = "Likely obfuscated/minified code"
		}

		threats = append(threats, domain.Threat{
			Type:        threatType,
			Severity:    severityForEntropy(h, d.threshold),
			Confidence:  confidenceForEntropy(h, d.threshold),
			Title:       title,
			Description: "Line exhibits entropy consistent with packed, encoded, or obfuscated content",
			Location:    domain.CodeLocation{File: file.Path, StartLine: line},
			DetectedBy:  d.Name(),
			PackageName: file.PackageName,
			Metadata:    map[string]any{"entropy_bits_per_byte": h, "line_length": len(text)},
		})
	}

	return threats, nil
}

// shannonEntropy computes the Shannon entropy of data in bits per byte.
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	entropy := 0.0
	n := float64(len(data))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func severityForEntropy(h, threshold float64) domain.Severity {
	switch {
	case h >= threshold+1.0:
		return domain.SeverityHigh
	case h >= threshold+0.4:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func confidenceForEntropy(h, threshold float64) float64 {
	margin := (h - threshold) / 4.0
	c := 0.3 + margin
	if c > 0.9 {
		return 0.9
	}
	if c < 0.2 {
		return 0.2
	}
	return c
}

// looksLikeObfuscatedIdentifiers is a cheap heuristic distinguishing
// minified/obfuscated source (high density of short punctuation-heavy
// tokens) from an encoded binary blob (long unbroken character run).
func looksLikeObfuscatedIdentifiers(text []byte) bool {
	var semicolons, braces int
	for _, b := range text {
		switch b {
		case ';':
			semicolons++
		case '{', '}':
			braces++
		}
	}
	return semicolons+braces > len(text)/20
}
