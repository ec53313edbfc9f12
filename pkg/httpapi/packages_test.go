package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

func TestMatchPredicateModes(t *testing.T) {
	boost := pkgdata.NewPackage("boost")
	boost.Provides = []pkgdata.Dependency{{Name: "boost-libs"}}
	boost.Dependencies = []pkgdata.Dependency{{Name: "zlib"}}
	boost.Libprovides = []string{"elf-x86_64::libboost.so.1.73"}

	cases := []struct {
		mode, term string
		want       bool
	}{
		{"name", "boost", true},
		{"name", "boost-libs", false},
		{"name-contains", "boo", true},
		{"regex", "^boo.t$", true},
		{"provides", "boost-libs", true},
		{"depends", "zlib", true},
		{"depends", "openssl", false},
		{"libprovides", "elf-x86_64::libboost.so.1.73", true},
	}

	for _, c := range cases {
		pred, err := matchPredicate(c.mode, c.term)
		require.NoError(t, err)
		assert.Equal(t, c.want, pred(boost), "mode=%s term=%s", c.mode, c.term)
	}
}

func TestMatchPredicateUnknownMode(t *testing.T) {
	_, err := matchPredicate("not-a-mode", "x")
	require.Error(t, err)
}
