package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRepoFile(t *testing.T) {
	assert.Equal(t, repoFileIsDatabase, classifyRepoFile("core", "core.db.tar.zst"))
	assert.Equal(t, repoFileIsDatabase, classifyRepoFile("core", "core.files"))
	assert.Equal(t, repoFileIsPackage, classifyRepoFile("core", "boost-1.73.0-1-x86_64.pkg.tar.zst"))
	assert.Equal(t, repoFileIsJunk, classifyRepoFile("core", "README.txt"))
}

func TestHasPackageExtension(t *testing.T) {
	assert.True(t, hasPackageExtension("boost-1.73.0-1-x86_64.pkg.tar.zst"))
	assert.True(t, hasPackageExtension("boost-1.73.0-1.src.tar.gz"))
	assert.False(t, hasPackageExtension("core.db"))
}
