package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// FingerprintIndex is an allowlist of known-legitimate file content,
// keyed by its SHA-256 digest. It lets the pipeline skip full detection
// on files it has already cleared once (vendored copies of the same
// well-known file, or a package's own files re-scanned across
// versions), a hash-keyed lookup used to recognize
// known malware genomes, run in reverse.
type FingerprintIndex struct {
	mu    sync.RWMutex
	known map[string]struct{}
}

// NewFingerprintIndex builds an empty index. Use Add or Load to
// populate it with known-legitimate digests.
func NewFingerprintIndex() *FingerprintIndex {
	return &FingerprintIndex{known: make(map[string]struct{})}
}

// Hash returns the hex-encoded SHA-256 digest of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Add records digest as known-legitimate.
func (f *FingerprintIndex) Add(digest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[digest] = struct{}{}
}

// AddContent hashes content and records it as known-legitimate.
func (f *FingerprintIndex) AddContent(content []byte) {
	f.Add(Hash(content))
}

// Load replaces the index's contents with digests, discarding whatever
// was previously recorded.
func (f *FingerprintIndex) Load(digests []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known = make(map[string]struct{}, len(digests))
	for _, d := range digests {
		f.known[d] = struct{}{}
	}
}

// IsKnownLegitimate reports whether content's digest is in the index.
func (f *FingerprintIndex) IsKnownLegitimate(content []byte) bool {
	if f == nil {
		return false
	}
	digest := Hash(content)
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.known[digest]
	return ok
}

// Len reports how many digests the index currently holds.
func (f *FingerprintIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.known)
}
