package pkgbuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimplePKGBUILD(t *testing.T) {
	src := `
pkgname=boost
pkgver=1.73.0
pkgrel=1
arch=(x86_64 any)
depends=(zlib bzip2)
makedepends=(python)
provides=(boost-libs)
`
	r, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "boost", r.Pkgbase)
	assert.Equal(t, []string{"boost"}, r.Pkgname)
	assert.Equal(t, "1.73.0", r.Pkgver)
	assert.Equal(t, "1", r.Pkgrel)
	assert.Equal(t, []string{"x86_64", "any"}, r.Arch)
	assert.Equal(t, []string{"zlib", "bzip2"}, r.Depends)
	assert.Equal(t, []string{"python"}, r.MakeDepends)
	assert.Equal(t, []string{"boost-libs"}, r.Provides)
}

func TestParseMultilineArray(t *testing.T) {
	src := `
pkgname=boost
pkgver=1.73.0
pkgrel=1
depends=(
  zlib
  bzip2
)
`
	r, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib", "bzip2"}, r.Depends)
}

func TestParseSplitPackage(t *testing.T) {
	src := `
pkgbase=boost
pkgname=(boost boost-libs)
pkgver=1.73.0
pkgrel=1
`
	r, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "boost", r.Pkgbase)
	assert.Equal(t, []string{"boost", "boost-libs"}, r.Pkgname)
}
