package actions

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

func TestComputeRebuildList(t *testing.T) {
	cfg := pkgdata.NewConfig()
	db := pkgdata.NewDatabase("core", "x86_64")
	cfg.Databases = append(cfg.Databases, db)

	// consumer still depends on the old soname version; boost was just
	// rebuilt at a newer one, so consumer must be flagged for rebuild.
	consumer := pkgdata.NewPackage("consumer")
	consumer.Libdepends = []string{"elf-x86_64::libboost_regex.so.1.72.0"}
	db.UpdatePackage(consumer)

	built := pkgdata.NewPackage("boost")
	built.Libprovides = []string{"elf-x86_64::libboost_regex.so.1.73.0"}

	rebuild := computeRebuildList(cfg, db, []*pkgdata.Package{built})
	require.Contains(t, rebuild, "elf-x86_64::libboost_regex.so")
	assert.Equal(t, []string{"consumer"}, rebuild["elf-x86_64::libboost_regex.so"])
}

func TestComputeRebuildListNotFlaggedWhenAlreadyOnNewVersion(t *testing.T) {
	cfg := pkgdata.NewConfig()
	db := pkgdata.NewDatabase("core", "x86_64")
	cfg.Databases = append(cfg.Databases, db)

	// consumer already depends on the exact version just built: no rebuild
	// is needed, so the exact-match-only semantics this guards against must
	// not reappear.
	consumer := pkgdata.NewPackage("consumer")
	consumer.Libdepends = []string{"elf-x86_64::libboost_regex.so.1.73.0"}
	db.UpdatePackage(consumer)

	built := pkgdata.NewPackage("boost")
	built.Libprovides = []string{"elf-x86_64::libboost_regex.so.1.73.0"}

	rebuild := computeRebuildList(cfg, db, []*pkgdata.Package{built})
	assert.Empty(t, rebuild)
}

func TestComputeRebuildListEmptyWhenNothingChanged(t *testing.T) {
	cfg := pkgdata.NewConfig()
	db := pkgdata.NewDatabase("core", "x86_64")
	built := pkgdata.NewPackage("somepkg")

	rebuild := computeRebuildList(cfg, db, []*pkgdata.Package{built})
	assert.Empty(t, rebuild)
}

func TestProgressJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build-progress.json")

	progress := &buildaction.BuildProgress{
		Finished: map[string]bool{"a": true},
		Failed:   map[string]string{"b": "boom"},
	}
	require.NoError(t, writeJSON(path, progress))

	var loaded buildaction.BuildProgress
	require.NoError(t, readJSON(path, &loaded))
	assert.True(t, loaded.Finished["a"])
	assert.Equal(t, "boom", loaded.Failed["b"])
}
