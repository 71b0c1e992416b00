package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcherDefaults(t *testing.T) {
	m := NewMatcher()

	assert.True(t, m.IsIgnored(".git/HEAD"))
	assert.True(t, m.IsIgnored("notes.tmp"))
	assert.True(t, m.IsIgnored(".DS_Store"))
	assert.False(t, m.IsIgnored("src/main.go"))
}

func TestMatcherSetPatterns(t *testing.T) {
	m := NewMatcher()
	m.SetPatterns([]string{"build/", "*.bak"})

	assert.True(t, m.IsIgnored("build/out.bin"))
	assert.True(t, m.IsIgnored("old.bak"))
	// defaults were replaced
	assert.False(t, m.IsIgnored("notes.tmp"))
}

func TestMatcherProtectedPatternsSurviveSetPatterns(t *testing.T) {
	m := NewMatcher()
	m.SetPatterns([]string{})

	assert.True(t, m.IsIgnored(".git/config"))
	assert.True(t, m.IsIgnored(".jj/repo"))
	assert.True(t, m.IsIgnored(".treesync/journal.db"))
}

func TestMatcherGetPatterns(t *testing.T) {
	m := NewMatcher()
	m.SetPatterns([]string{"dist/"})

	got := m.GetPatterns()
	assert.Equal(t, []string{"dist/"}, got)
	// protected lines are not reported
	assert.NotContains(t, got, ".git/")
}
