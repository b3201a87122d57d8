// Package detector implements the pattern, entropy, structural, and
// ML-anomaly detector families that make up the detection pipeline. Each
// detector inspects one file's content and emits zero or more threats; the
// pipeline runs every enabled family over a file and lets the caller merge
// results across files.
package detector

import (
	"context"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// FileContext carries everything a detector needs about the file currently
// being inspected.
type FileContext struct {
	Path        string
	PackageName string
	Content     []byte

	// neutralized is populated once per file by the pipeline so each
	// detector can skip the families a content-class filter switched off
	// without re-running the filters.
	neutralized map[Family]bool
}

// Detector inspects a file and returns any threats it finds.
type Detector interface {
	Name() string
	Detect(ctx context.Context, file FileContext) ([]domain.Threat, error)
}

// Pipeline runs a configured set of Detectors over a file.
type Pipeline struct {
	detectors []Detector
}

// NewPipeline builds a Pipeline from cfg, wiring in exactly the detector
// families cfg enables. custom rules extend the pattern catalogue.
func NewPipeline(cfg domain.DetectorConfig, fingerprints *FingerprintIndex, scorer Scorer, custom ...CustomRule) *Pipeline {
	var detectors []Detector

	if cfg.EnablePattern {
		detectors = append(detectors, NewPatternDetector(custom...))
	}
	if cfg.EnableEntropy {
		detectors = append(detectors, NewEntropyDetector(cfg.EntropyThreshold))
	}
	if cfg.EnableStructural {
		detectors = append(detectors, NewStructuralDetector())
	}
	if cfg.EnableML {
		detectors = append(detectors, NewMLAnomalyDetector(scorer))
	}

	return &Pipeline{detectors: withFingerprintGate(detectors, fingerprints)}
}

func withFingerprintGate(detectors []Detector, fp *FingerprintIndex) []Detector {
	if fp == nil {
		return detectors
	}
	return []Detector{gatedPipeline{fingerprints: fp, inner: detectors}}
}

// gatedPipeline short-circuits the whole detector set when a file's content
// hash matches a known-legitimate fingerprint, per the malware-detection
// pre-pass the scan orchestrator relies on.
type gatedPipeline struct {
	fingerprints *FingerprintIndex
	inner        []Detector
}

func (g gatedPipeline) Name() string { return "fingerprint-gated-pipeline" }

func (g gatedPipeline) Detect(ctx context.Context, file FileContext) ([]domain.Threat, error) {
	if g.fingerprints.IsKnownLegitimate(file.Content) {
		return nil, nil
	}
	return runDetectors(ctx, g.inner, file)
}

// Run executes the pipeline's detectors over file.
func (p *Pipeline) Run(ctx context.Context, file FileContext) ([]domain.Threat, error) {
	return runDetectors(ctx, p.detectors, file)
}

func runDetectors(ctx context.Context, detectors []Detector, file FileContext) ([]domain.Threat, error) {
	if file.neutralized == nil {
		file.neutralized, _ = neutralizedFamilies(string(file.Content))
	}
	var all []domain.Threat
	for _, d := range detectors {
		found, err := d.Detect(ctx, file)
		if err != nil {
			continue // a single detector's failure degrades, doesn't abort the file
		}
		all = append(all, found...)
	}
	return all, nil
}
