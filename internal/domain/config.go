package domain

// DetectorConfig controls which detector families run and at what
// sensitivity, loaded from .nullvoidrc and/or CLI flags.
type DetectorConfig struct {
	EnablePattern         bool    `yaml:"pattern" json:"pattern"`
	EnableEntropy         bool    `yaml:"entropy" json:"entropy"`
	EnableStructural      bool    `yaml:"structural" json:"structural"`
	EnableDependencyCheck bool    `yaml:"dependency_confusion" json:"dependency_confusion"`
	EnableML              bool    `yaml:"ml" json:"ml"`
	EntropyThreshold      float64 `yaml:"entropy_threshold" json:"entropy_threshold"`
	MinConfidence         float64 `yaml:"min_confidence" json:"min_confidence"`
	RulesFile             string  `yaml:"rules_file,omitempty" json:"rules_file,omitempty"`
}

// DefaultDetectorConfig enables every family at stock sensitivity.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		EnablePattern:         true,
		EnableEntropy:         true,
		EnableStructural:      true,
		EnableDependencyCheck: true,
		EnableML:              true,
		EntropyThreshold:      4.8,
		MinConfidence:         0.3,
	}
}
