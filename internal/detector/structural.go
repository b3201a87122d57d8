package detector

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// suspiciousExtensions are file types that have no business shipping
// inside an npm package's published contents.
var suspiciousExtensions = map[string]string{
	".exe": "Windows executable",
	".dll": "Windows dynamic library",
	".so":  "native shared object",
	".dylib": "macOS dynamic library",
	".sh":  "shell script",
	".ps1": "PowerShell script",
	".bat": "Windows batch script",
}

// doubleExtensionSuffixes flags names like "index.js.exe" or "package.json.exe"
// used to disguise an executable as a familiar, trusted filename.
var doubleExtensionSuffixes = []string{".exe", ".scr", ".bat", ".cmd", ".com", ".vbs"}

// StructuralDetector inspects file names and shapes rather than content:
// unexpected binary types, disguised double extensions, and suspiciously
// named lifecycle hook files.
type StructuralDetector struct{}

// NewStructuralDetector builds a StructuralDetector.
func NewStructuralDetector() *StructuralDetector {
	return &StructuralDetector{}
}

func (d *StructuralDetector) Name() string { return "structural" }

func (d *StructuralDetector) Detect(ctx context.Context, file FileContext) ([]domain.Threat, error) {
	var threats []domain.Threat
	base := filepath.Base(file.Path)
	ext := strings.ToLower(filepath.Ext(base))

	if desc, ok := suspiciousExtensions[ext]; ok {
		threats = append(threats, domain.Threat{
			Type:        domain.ThreatSuspiciousFile,
			Severity:    domain.SeverityHigh,
			Confidence:  0.8,
			Title:       "Unexpected binary artifact: " + desc,
			Description: "Published package contains a " + desc + ", uncommon for a pure JS/TS package",
			Location:    domain.CodeLocation{File: file.Path},
			DetectedBy:  d.Name(),
			PackageName: file.PackageName,
		})
	}

	lower := strings.ToLower(base)
	for _, suffix := range doubleExtensionSuffixes {
		if strings.HasSuffix(lower, suffix) && strings.Count(lower, ".") >= 2 {
			threats = append(threats, domain.Threat{
				Type:        domain.ThreatSuspiciousFile,
				Severity:    domain.SeverityCritical,
				Confidence:  0.75,
				Title:       "Disguised executable filename",
				Description: "Filename carries a trusted-looking prefix followed by an executable extension",
				Location:    domain.CodeLocation{File: file.Path},
				DetectedBy:  d.Name(),
				PackageName: file.PackageName,
			})
			break
		}
	}

	if isLifecycleHookFile(lower) && len(file.Content) > 0 {
		threats = append(threats, structuralHookThreat(d.Name(), file))
	}

	return threats, nil
}

func isLifecycleHookFile(lowerBase string) bool {
	switch lowerBase {
	case "preinstall.js", "install.js", "postinstall.js", "preinstall.sh", "postinstall.sh":
		return true
	default:
		return false
	}
}

func structuralHookThreat(detectedBy string, file FileContext) domain.Threat {
	return domain.Threat{
		Type:        domain.ThreatInstallScript,
		Severity:    domain.SeverityLow,
		Confidence:  0.3,
		Title:       "Present install lifecycle hook",
		Description: "A preinstall/install/postinstall hook exists and runs automatically on package install; review its body",
		Location:    domain.CodeLocation{File: file.Path},
		DetectedBy:  detectedBy,
		PackageName: file.PackageName,
	}
}
