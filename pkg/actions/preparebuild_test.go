package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrepod/buildsvc/pkg/pkgbuild"
)

func TestLayerIntoBatches(t *testing.T) {
	recipes := map[string]*pkgbuild.Recipe{
		"a": {Pkgname: []string{"a"}},
		"b": {Pkgname: []string{"b"}, Depends: []string{"a"}},
		"c": {Pkgname: []string{"c"}, Depends: []string{"b"}},
	}
	g := buildRecipeGraph(recipes, false, false)
	order := g.topologicalOrder()
	batches := layerIntoBatches(order, g)

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a"}, batches[0])
	assert.Equal(t, []string{"b"}, batches[1])
	assert.Equal(t, []string{"c"}, batches[2])
}

func TestLayerIntoBatchesIndependentPackages(t *testing.T) {
	recipes := map[string]*pkgbuild.Recipe{
		"a": {Pkgname: []string{"a"}},
		"b": {Pkgname: []string{"b"}},
	}
	g := buildRecipeGraph(recipes, false, false)
	order := g.topologicalOrder()
	batches := layerIntoBatches(order, g)

	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, batches[0])
}

func TestBuildRecipeGraphConsidersBuildDeps(t *testing.T) {
	recipes := map[string]*pkgbuild.Recipe{
		"a": {Pkgname: []string{"a"}},
		"b": {Pkgname: []string{"b"}, MakeDepends: []string{"a"}},
	}
	withoutBuildDeps := buildRecipeGraph(recipes, false, false)
	assert.Empty(t, withoutBuildDeps.edges["b"])

	withBuildDeps := buildRecipeGraph(recipes, true, false)
	assert.Equal(t, []string{"a"}, withBuildDeps.edges["b"])
}

func TestBumpPkgrel(t *testing.T) {
	assert.Equal(t, "2", bumpPkgrel("1.0-1", "1"))
	assert.Equal(t, "1", bumpPkgrel("not-a-number", "1"))
}

func TestLocatePKGBUILDNotFound(t *testing.T) {
	_, _, err := locatePKGBUILD("nonexistent-package", []string{t.TempDir()})
	require.Error(t, err)
}
