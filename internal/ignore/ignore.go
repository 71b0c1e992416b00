// Package ignore decides which paths are excluded from synchronization.
package ignore

import (
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// protectedLines are always part of the compiled rule set and cannot be
// removed by SetPatterns. They cover version-control metadata and the
// engine's own bookkeeping artifacts.
var protectedLines = []string{
	".git/",
	".jj/",
	".hg/",
	".svn/",
	".treesync/",
	"*.treesync.lock",
}

var defaultLines = []string{
	// general excludes
	"*.tmp",
	"*.swp",
	"*.log",
	"node_modules/",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// Matcher answers whether a path is excluded from sync. Caller-supplied
// patterns are gitignore-style globs layered on top of the protected set.
type Matcher struct {
	mu       sync.RWMutex
	patterns []string
	ignore   *gitignore.GitIgnore
}

// NewMatcher creates a matcher with the default pattern set.
func NewMatcher() *Matcher {
	m := &Matcher{}
	m.SetPatterns(defaultLines)
	return m
}

// IsIgnored reports whether path is excluded from sync.
func (m *Matcher) IsIgnored(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ignore.MatchesPath(path)
}

// SetPatterns replaces the caller-supplied patterns. The protected set
// stays in place regardless of what is passed in.
func (m *Matcher) SetPatterns(patterns []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.patterns = append([]string(nil), patterns...)
	lines := append([]string(nil), protectedLines...)
	lines = append(lines, m.patterns...)
	m.ignore = gitignore.CompileIgnoreLines(lines...)
}

// GetPatterns returns the caller-supplied patterns, excluding the
// protected set.
func (m *Matcher) GetPatterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.patterns...)
}
