package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// npmMaxNameLength is the registry's hard limit on package names.
const npmMaxNameLength = 214

// packageManifest is the subset of package.json the scanner cares about.
type packageManifest struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
	Repository      json.RawMessage   `json:"repository"`
}

// ParseManifest reads the package.json under root and builds the immutable
// PackageDescriptor for this scan. A missing manifest is not an error: the
// target may be a bare directory of sources.
func ParseManifest(root string) (domain.PackageDescriptor, bool, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.PackageDescriptor{}, false, nil
		}
		return domain.PackageDescriptor{}, false, fmt.Errorf("read manifest: %w", err)
	}

	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.PackageDescriptor{}, false, fmt.Errorf("parse manifest: %w", err)
	}

	pkg, err := DescriptorFor(m.Name, m.Version)
	if err != nil {
		return domain.PackageDescriptor{}, false, err
	}
	pkg.Path = root
	pkg.Scripts = m.Scripts
	pkg.RepositoryURL = repositoryURL(m.Repository)

	deps := make(map[string]string, len(m.Dependencies))
	for name, rng := range m.Dependencies {
		deps[name] = rng
	}
	pkg.DeclaredDependencies = deps

	return pkg, true, nil
}

// DescriptorFor builds a PackageDescriptor from a raw npm package name and
// version, splitting off the @scope prefix and validating name length.
func DescriptorFor(name, version string) (domain.PackageDescriptor, error) {
	if name == "" {
		return domain.PackageDescriptor{}, fmt.Errorf("%w: empty package name", domain.ErrValidation)
	}
	if len(name) > npmMaxNameLength {
		return domain.PackageDescriptor{}, fmt.Errorf("%w: package name exceeds %d characters", domain.ErrValidation, npmMaxNameLength)
	}

	pkg := domain.PackageDescriptor{Name: name, Version: version, Ecosystem: "npm"}
	if strings.HasPrefix(name, "@") {
		if idx := strings.Index(name, "/"); idx > 1 {
			pkg.Scope = name[:idx]
			pkg.Name = name[idx+1:]
		}
	}
	return pkg, nil
}

// repository in package.json is either a string or {type, url}.
func repositoryURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.URL
	}
	return ""
}

// cleanVersionRange strips range operators from a declared dependency
// version so it can key an advisory lookup; a range that is not a plain
// pin resolves to its lower bound.
func cleanVersionRange(rng string) string {
	v := strings.TrimSpace(rng)
	v = strings.TrimLeft(v, "^~>=<")
	if idx := strings.IndexAny(v, " |"); idx >= 0 {
		v = v[:idx]
	}
	return v
}

// lifecycleHooks run automatically on install; their commands get scanned
// even though they live in the manifest rather than a source file.
var lifecycleHooks = []string{"preinstall", "install", "postinstall", "prepare", "prepublish"}

var suspiciousScriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(curl|wget)\b.+\|\s*(sh|bash|node)\b`),
	regexp.MustCompile(`\bnode\s+-e\s+`),
	regexp.MustCompile(`base64\s+(-d|--decode)`),
	regexp.MustCompile(`https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`),
	regexp.MustCompile(`\$\(\s*(curl|wget)\b`),
}

// scriptThreats inspects the manifest's lifecycle hooks for commands that
// fetch and execute remote content at install time.
func scriptThreats(pkg domain.PackageDescriptor, manifestPath string) []domain.Threat {
	var threats []domain.Threat
	for _, hook := range lifecycleHooks {
		cmd, ok := pkg.Scripts[hook]
		if !ok {
			continue
		}
		for _, re := range suspiciousScriptPatterns {
			if loc := re.FindStringIndex(cmd); loc != nil {
				excerpt := cmd[loc[0]:]
				if len(excerpt) > 60 {
					excerpt = excerpt[:60]
				}
				threats = append(threats, domain.Threat{
					Type:        domain.ThreatInstallScript,
					Severity:    domain.SeverityCritical,
					Confidence:  0.85,
					Title:       "Lifecycle script fetches or executes remote content",
					Description: fmt.Sprintf("The %q script runs a command that downloads or evaluates remote input during install", hook),
					Location:    domain.CodeLocation{File: manifestPath, Snippet: "... " + excerpt + "..."},
					DetectedBy:  "orchestrator",
					PackageName: pkg.Name,
					Metadata:    map[string]any{"hook": hook},
					DetectedAt:  time.Now(),
				})
				break
			}
		}
	}
	return threats
}
