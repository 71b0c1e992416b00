package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormPath(t *testing.T) {
	assert.Equal(t, "/a.txt", NormPath("a.txt"))
	assert.Equal(t, "/a/b", NormPath("/a/b/"))
	assert.Equal(t, "/a/b", NormPath("a//b"))
	assert.Equal(t, "/", NormPath("/"))
	assert.Equal(t, "/b", NormPath("/a/../b"))
}

func TestResolvePathEmpty(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir() + "/nested/dir"
	assert.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	// second call is a no-op
	assert.NoError(t, EnsureDir(dir))
}
