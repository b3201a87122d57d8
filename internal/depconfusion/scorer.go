package depconfusion

import "context"

// DefaultScorer is the always-available weighted-linear fallback the
// pluggable Scorer capability degrades to when no external model is
// configured or the external call times out. Its shape
// mirrors internal/detector.DefaultScorer; the two aren't unified into one
// type because their feature sets and weight tables are domain-specific.
type DefaultScorer struct {
	Weights map[string]float64
}

// NewDefaultScorer builds a DefaultScorer with the built-in feature weights
// for dependency-confusion scoring.
func NewDefaultScorer() *DefaultScorer {
	return &DefaultScorer{
		Weights: map[string]float64{
			"scope_is_private":       0.25,
			"name_pattern_match":     0.2,
			"popular_similarity":     0.25,
			"timeline_days":          0.2,
			"recent_commit_activity": 0.1,
		},
	}
}

func (s *DefaultScorer) Score(ctx context.Context, features map[string]float64) (float64, map[string]float64, error) {
	var weighted, totalWeight float64
	importance := make(map[string]float64, len(features))
	for name, value := range features {
		w, ok := s.Weights[name]
		if !ok {
			continue
		}
		contribution := w * clamp01(value)
		weighted += contribution
		totalWeight += w
		importance[name] = contribution
	}
	if totalWeight == 0 {
		return 0, importance, nil
	}
	return clamp01(weighted / totalWeight), importance, nil
}
