package pkgdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPkgFileNameRoundTrip(t *testing.T) {
	p, err := FromPkgFileName("cmake-3.8.2-1-x86_64.pkg.tar.xz")
	require.NoError(t, err)
	assert.Equal(t, "cmake", p.Name)
	assert.Equal(t, "3.8.2-1", p.Version)
	assert.Equal(t, "x86_64", p.PackageInfo.Arch)
	assert.Equal(t, OriginPackageFileName, p.Origin)

	assert.Equal(t, "cmake-3.8.2-1-x86_64.pkg.tar.xz", ComputeFileName(p, "pkg.tar.xz"))
}

func TestFromPkgFileNameMalformed(t *testing.T) {
	_, err := FromPkgFileName("not-a-package")
	require.Error(t, err)
	var malformed *ErrMalformedName
	require.ErrorAs(t, err, &malformed)
}

func TestAddDepsAndProvidesFromOtherPackage(t *testing.T) {
	bd := time.Unix(1000, 0)
	a := &Package{Name: "zstd", Version: "1.5.0-1", PackageInfo: &PackageInfo{BuildDate: bd}}
	b := &Package{Name: "zstd", Version: "1.5.0-1", PackageInfo: &PackageInfo{BuildDate: bd}, Libprovides: []string{"elf-x86_64::libzstd.so.1"}}

	applied := a.AddDepsAndProvidesFromOtherPackage(b)
	assert.True(t, applied)
	assert.Contains(t, a.Libprovides, "elf-x86_64::libzstd.so.1")

	c := &Package{Name: "zstd", Version: "1.5.2-1", PackageInfo: &PackageInfo{BuildDate: bd}}
	applied = c.AddDepsAndProvidesFromOtherPackage(b)
	assert.False(t, applied, "merge must be a no-op when name/version/buildDate do not all match")
}

func TestParsePkgInfoRepeatedKeys(t *testing.T) {
	p := NewPackage("")
	content := []byte("pkgname = cmake\npkgver = 3.8.2-1\nlicense = MIT\nlicense = BSD\nunknownkey = ignored\n")
	ParsePkgInfo(p, content)

	assert.Equal(t, "cmake", p.Name)
	assert.Equal(t, []string{"MIT", "BSD"}, p.Licenses)
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.73.0-1", "1.72.0-1", 1},
		{"1.72.0-1", "1.73.0-1", -1},
		{"1.0.0-1", "1.0.0-1", 0},
		{"1:1.0.0-1", "2.0.0-1", 1},
		{"1.0.0-2", "1.0.0-1", 1},
	}
	for _, c := range cases {
		got := CompareVersions(c.a, c.b)
		assert.Equalf(t, sign(c.want), sign(got), "CompareVersions(%q, %q)", c.a, c.b)
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
