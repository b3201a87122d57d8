// Package pathsafety validates that file paths encountered while scanning a
// package stay inside the package's extracted root, rejecting traversal via
// symlinks, "..", or absolute escapes before any file is opened.
package pathsafety

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// MaxPathLength caps the length of any candidate path before validation.
const MaxPathLength = 4096

// allowedExtensions is the directory-walk allowlist; anything else is
// silently skipped rather than raising.
var allowedExtensions = map[string]bool{
	".js": true, ".mjs": true, ".ts": true, ".jsx": true, ".tsx": true,
	".json": true, ".yml": true, ".yaml": true,
}

// denylistNames excludes lockfiles, credential files, and VCS directories
// from directory listings.
var denylistNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	".env":              true,
	".npmrc":            true,
	".git":              true,
	".hg":               true,
	".svn":              true,
}

// shellMetacharacters are rejected anywhere in a candidate path.
const shellMetacharacters = ";&|`${}()[]<>"

// traversalTokens are rejected outright, including the URL-encoded and
// backslash variants.
var traversalTokens = []string{"..", "%2e%2e", "%2E%2E", "..\\", "../"}

// ContainsShellMetacharacters reports whether s contains a character
// forbidden in a path component.
func ContainsShellMetacharacters(s string) bool {
	return strings.ContainsAny(s, shellMetacharacters)
}

// ContainsTraversalTokens reports whether s contains a directory-traversal
// token, including its encoded and escaped variants.
func ContainsTraversalTokens(s string) bool {
	for _, tok := range traversalTokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// IsAllowedExtension reports whether ext (as returned by filepath.Ext,
// including the leading dot) is in the walk allowlist.
func IsAllowedExtension(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}

// isDenylisted reports whether name should be excluded from directory
// listings: hidden files (other than "." and "..") and the fixed denylist.
func isDenylisted(name string) bool {
	if denylistNames[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// Validator resolves candidate paths against a fixed scan root.
type Validator struct {
	root   string
	logger *slog.Logger
}

// NewValidator creates a Validator rooted at root. root must already exist
// and be a directory; it is resolved to its canonical form once up front so
// every later check is a cheap prefix comparison.
func NewValidator(root string, logger *slog.Logger) (*Validator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root symlinks: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: scan root is not a directory", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{root: resolved, logger: logger.With("component", "pathsafety")}, nil
}

// Root returns the canonical scan root this Validator was constructed with.
func (v *Validator) Root() string {
	return v.root
}

// Resolve joins candidate onto the scan root and verifies the result does
// not escape it, following symlinks so a link inside the root pointing
// outside it is still caught. candidate may be relative or absolute; an
// absolute path is only accepted if it already lies inside the root.
func (v *Validator) Resolve(candidate string) (string, error) {
	if len(candidate) > MaxPathLength {
		return "", fmt.Errorf("%w: path exceeds %d bytes", domain.ErrValidation, MaxPathLength)
	}
	if ContainsTraversalTokens(candidate) {
		v.logger.Warn("rejected path with traversal token", "candidate", candidate)
		return "", fmt.Errorf("%w: %q contains a traversal token", domain.ErrPathTraversal, candidate)
	}
	if ContainsShellMetacharacters(candidate) {
		return "", fmt.Errorf("%w: %q contains a shell metacharacter", domain.ErrValidation, candidate)
	}

	var joined string
	if filepath.IsAbs(candidate) {
		joined = filepath.Clean(candidate)
	} else {
		joined = filepath.Join(v.root, candidate)
	}

	if !v.withinRoot(joined) {
		v.logger.Warn("rejected path outside scan root", "candidate", candidate)
		return "", fmt.Errorf("%w: %q", domain.ErrPathTraversal, candidate)
	}

	resolved, err := resolveExisting(joined)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// The file doesn't exist yet (e.g. a destination path for an
			// extraction step); the lexical check above is all we can do.
			return joined, nil
		}
		return "", fmt.Errorf("resolve %q: %w", candidate, err)
	}

	if !v.withinRoot(resolved) {
		v.logger.Warn("rejected symlink escaping scan root", "candidate", candidate, "resolved", resolved)
		return "", fmt.Errorf("%w: %q resolves outside scan root", domain.ErrPathTraversal, candidate)
	}

	return resolved, nil
}

func (v *Validator) withinRoot(p string) bool {
	rel, err := filepath.Rel(v.root, p)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// resolveExisting resolves symlinks for as much of p's existing prefix as
// possible, so a not-yet-created leaf under an existing, safe directory
// still validates.
func resolveExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(p)
	if parent == p {
		return "", err
	}
	resolvedParent, perr := resolveExisting(parent)
	if perr != nil {
		return "", perr
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

// SafeListDir lists the non-denylisted, non-hidden entry names directly
// under dir, which must already have been validated by Resolve.
func (v *Validator) SafeListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if isDenylisted(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Walk enumerates every regular file under the scan root whose extension
// is in the allowlist, skipping denylisted/hidden entries and symlink
// escapes via Resolve. Files with a disallowed extension are silently
// skipped, never reported as an error.
func (v *Validator) Walk() ([]string, error) {
	var files []string
	var walk func(dir string) error
	walk = func(dir string) error {
		names, err := v.SafeListDir(dir)
		if err != nil {
			return err
		}
		for _, name := range names {
			full := filepath.Join(dir, name)
			info, err := os.Lstat(full)
			if err != nil {
				continue
			}
			if info.IsDir() {
				resolved, err := v.Resolve(full)
				if err != nil {
					v.logger.Warn("skipping directory outside scan root", "path", full)
					continue
				}
				if err := walk(resolved); err != nil {
					return err
				}
				continue
			}
			if info.Mode()&os.ModeSymlink != 0 {
				resolved, err := v.Resolve(full)
				if err != nil {
					continue
				}
				full = resolved
			}
			if !IsAllowedExtension(filepath.Ext(full)) {
				continue
			}
			files = append(files, full)
		}
		return nil
	}
	if err := walk(v.root); err != nil {
		return nil, err
	}
	return files, nil
}
