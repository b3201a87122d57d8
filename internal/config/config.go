// Package config loads scan configuration from built-in defaults, an
// optional .nullvoidrc / .nullvoidrc.json file, and environment
// variables, each layer overriding the previous.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nullvoid-dev/nullvoid/internal/depconfusion"
	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// CacheConfig controls the multi-layer cache.
type CacheConfig struct {
	L1MaxEntries int           `yaml:"l1_max_entries" json:"l1_max_entries"`
	L1TTL        time.Duration `yaml:"l1_ttl" json:"l1_ttl"`
	L2Enabled    bool          `yaml:"l2_enabled" json:"l2_enabled"`
	L2Dir        string        `yaml:"l2_dir" json:"l2_dir"`
	L2TTL        time.Duration `yaml:"l2_ttl" json:"l2_ttl"`
	L2Compress   bool          `yaml:"l2_compress" json:"l2_compress"`
	L3Enabled    bool          `yaml:"l3_enabled" json:"l3_enabled"`
	L3DSN        string        `yaml:"l3_dsn" json:"l3_dsn"`
	L3TTL        time.Duration `yaml:"l3_ttl" json:"l3_ttl"`
}

// IoCProviderConfig controls one external advisory/IoC provider.
type IoCProviderConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// WorkerPoolConfig controls the parallel scan engine.
type WorkerPoolConfig struct {
	MaxWorkers int           `yaml:"max_workers" json:"max_workers"`
	ChunkSize  int           `yaml:"chunk_size" json:"chunk_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Config holds all scan-engine configuration.
type Config struct {
	Detector     domain.DetectorConfig        `yaml:"detector" json:"detector"`
	Cache        CacheConfig                  `yaml:"cache" json:"cache"`
	WorkerPool   WorkerPoolConfig             `yaml:"worker_pool" json:"worker_pool"`
	IoCProviders map[string]IoCProviderConfig `yaml:"ioc_providers" json:"ioc_providers"`
	MaxFileSize  int64                        `yaml:"max_file_size" json:"max_file_size"`
	ExcludePaths []string                     `yaml:"exclude_paths" json:"exclude_paths"`

	// Depth and DefaultTarget are the two flat .nullvoidrc keys outside
	// the sub-trees above.
	Depth         int    `yaml:"depth" json:"depth"`
	DefaultTarget string `yaml:"defaultTarget" json:"defaultTarget"`

	NetworkTimeout time.Duration `yaml:"network_timeout" json:"network_timeout"`
	LogLevel       string        `yaml:"log_level" json:"log_level"`
	NoColor        bool          `yaml:"no_color" json:"no_color"`

	// DependencyConfusion is the DEPENDENCY_CONFUSION_CONFIG sub-tree of
	// the rc file, deep-merged over depconfusion's own built-in defaults
	// (see mergeDependencyConfusion).
	DependencyConfusion depconfusion.Config `yaml:"-" json:"-"`
}

// rawDependencyConfusionConfig mirrors depconfusion.Config's fields for
// partial-overlay decoding: every field is a pointer so "absent in the rc
// file" is distinguishable from "explicitly zero", which is what a deep
// merge over built-in defaults requires.
type rawDependencyConfusionConfig struct {
	PrivateScopes        *[]string `yaml:"privateScopes" json:"privateScopes"`
	PopularPackages      *[]string `yaml:"popularPackages" json:"popularPackages"`
	AnomalyThreshold     *float64  `yaml:"anomalyThreshold" json:"anomalyThreshold"`
	PredictiveThreshold  *float64  `yaml:"predictiveThreshold" json:"predictiveThreshold"`
	SimilarityThreshold  *int      `yaml:"similarityThreshold" json:"similarityThreshold"`
}

// rcFile is the on-disk .nullvoidrc(.json) shape: the flat config fields
// plus the DEPENDENCY_CONFUSION_CONFIG sub-tree, decoded separately from
// Config so the deep-merge can tell "key absent" from "key zero".
type rcFile struct {
	Config                    `yaml:",inline"`
	DependencyConfusionConfig *rawDependencyConfusionConfig `yaml:"DEPENDENCY_CONFUSION_CONFIG" json:"DEPENDENCY_CONFUSION_CONFIG"`
}

// Default returns the built-in configuration before any env/file overlay
// is applied.
func Default() *Config {
	return &Config{
		Detector: domain.DefaultDetectorConfig(),
		Cache: CacheConfig{
			L1MaxEntries: 10000,
			L1TTL:        10 * time.Minute,
			L2Enabled:    true,
			L2Dir:        ".nullvoid/cache",
			L2TTL:        24 * time.Hour,
			L2Compress:   true,
			L3Enabled:    false,
			L3TTL:        7 * 24 * time.Hour,
		},
		WorkerPool: WorkerPoolConfig{
			MaxWorkers: 0, // 0 => the worker pool's default of 8, capped at runtime.NumCPU()
			ChunkSize:  32,
			Timeout:    2 * time.Minute,
		},
		IoCProviders: map[string]IoCProviderConfig{
			"nvd":    {Enabled: true},
			"osv":    {Enabled: true},
			"github": {Enabled: false},
		},
		MaxFileSize:    10 << 20, // 10 MiB
		ExcludePaths:   []string{"node_modules/.bin", ".git", "test", "tests", "__tests__"},
		Depth:          3,
		NetworkTimeout: 30 * time.Second,
		LogLevel:       "warn",
		DependencyConfusion: depconfusion.DefaultConfig(),
	}
}

// Load builds configuration from defaults, then an optional
// .nullvoidrc(.json) file found in dir, then environment variables, each
// layer overriding the previous.
func Load(dir string) (*Config, error) {
	cfg := Default()

	if path := findRCFile(dir); path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.WorkerPool.MaxWorkers < 0 {
		return nil, fmt.Errorf("%w: worker_pool.max_workers must be >= 0", domain.ErrConfiguration)
	}
	return cfg, nil
}

func findRCFile(dir string) string {
	candidates := []string{".nullvoidrc.json", ".nullvoidrc"}
	for _, name := range candidates {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// mergeFile overlays path's contents onto cfg. Config's own fields
// unmarshal in place (json/yaml unmarshalling into an existing struct or
// map only touches keys present in the document), and
// DEPENDENCY_CONFUSION_CONFIG is deep-merged separately via
// rawDependencyConfusionConfig's pointer fields so unset keys in the rc
// file never clobber depconfusion.DefaultConfig()'s values.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	raw := rcFile{Config: *cfg}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	*cfg = raw.Config
	mergeDependencyConfusion(&cfg.DependencyConfusion, raw.DependencyConfusionConfig)
	return nil
}

// mergeDependencyConfusion deep-merges a partially-populated rc overlay
// over the existing (default) depconfusion.Config, field by field.
func mergeDependencyConfusion(dst *depconfusion.Config, overlay *rawDependencyConfusionConfig) {
	if overlay == nil {
		return
	}
	if overlay.PrivateScopes != nil {
		dst.PrivateScopes = *overlay.PrivateScopes
	}
	if overlay.PopularPackages != nil {
		dst.PopularPackages = *overlay.PopularPackages
	}
	if overlay.AnomalyThreshold != nil {
		dst.AnomalyThreshold = *overlay.AnomalyThreshold
	}
	if overlay.PredictiveThreshold != nil {
		dst.PredictiveThreshold = *overlay.PredictiveThreshold
	}
	if overlay.SimilarityThreshold != nil {
		dst.SimilarityThreshold = *overlay.SimilarityThreshold
	}
}

// envBool coerces the documented truthy spellings; anything else is false.
func envBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NULLVOID_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.L1TTL = d
		}
	}
	if v := os.Getenv("NULLVOID_L2_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.L2TTL = d
		}
	}
	if v := os.Getenv("NULLVOID_NETWORK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NetworkTimeout = d
		}
	}
	if v := os.Getenv("NULLVOID_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPool.MaxWorkers = n
		}
	}
	if v := os.Getenv("NULLVOID_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxFileSize = n
		}
	}
	if v := os.Getenv("NULLVOID_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Depth = n
		}
	}
	if v := os.Getenv("NULLVOID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("NULLVOID_NO_COLOR"); v != "" {
		cfg.NoColor = envBool(v)
	}
	if v := os.Getenv("NULLVOID_CACHE_DIR"); v != "" {
		cfg.Cache.L2Dir = v
	}
	if v := os.Getenv("NULLVOID_CACHE_L2_ENABLED"); v != "" {
		cfg.Cache.L2Enabled = envBool(v)
	}
	if v := os.Getenv("NULLVOID_CACHE_L3_ENABLED"); v != "" {
		cfg.Cache.L3Enabled = envBool(v)
	}
	if v := os.Getenv("NULLVOID_L3_DSN"); v != "" {
		cfg.Cache.L3DSN = v
		cfg.Cache.L3Enabled = true
	}

	for name, provider := range cfg.IoCProviders {
		envName := strings.ToUpper(name)
		if v := os.Getenv("NULLVOID_IOC_" + envName + "_ENABLED"); v != "" {
			provider.Enabled = v == "1" || strings.EqualFold(v, "true")
		}
		if v := os.Getenv("NULLVOID_IOC_" + envName + "_API_KEY"); v != "" {
			provider.APIKey = v
		}
		cfg.IoCProviders[name] = provider
	}
}
