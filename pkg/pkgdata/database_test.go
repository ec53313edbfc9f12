package pkgdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseIndicesInvariant(t *testing.T) {
	db := NewDatabase("core", "x86_64")
	pkg := &Package{
		Name:        "boost",
		Version:     "1.73.0-1",
		Provides:    []Dependency{{Name: "boost-libs", Mode: ModeAny}},
		Dependencies: []Dependency{{Name: "zlib", Mode: ModeAny}},
		Libprovides: []string{"elf-x86_64::libboost_regex.so.1.73.0"},
		Libdepends:  []string{"elf-x86_64::libstdc++.so.6"},
	}
	db.UpdatePackage(pkg)

	assert.Contains(t, db.providedDeps.Lookup("boost"), pkg)
	assert.Contains(t, db.providedDeps.Lookup("boost-libs"), pkg)
	assert.Contains(t, db.requiredDeps.Lookup("zlib"), pkg)
	assert.Contains(t, db.providedLibs.Lookup("elf-x86_64::libboost_regex.so.1.73.0"), pkg)
	assert.Contains(t, db.requiredLibs.Lookup("elf-x86_64::libstdc++.so.6"), pkg)
}

func TestUpdateThenRemoveRestoresIndices(t *testing.T) {
	db := NewDatabase("core", "x86_64")
	before := map[string][]*Package{
		"boost": append([]*Package(nil), db.providedDeps.Lookup("boost")...),
	}

	pkg := &Package{Name: "boost", Version: "1.73.0-1"}
	db.UpdatePackage(pkg)
	db.RemovePackage("boost")

	assert.Equal(t, before["boost"], db.providedDeps.Lookup("boost"))
	_, exists := db.Package("boost")
	assert.False(t, exists)
}

func TestCheckForUpdatesClassification(t *testing.T) {
	dest := NewDatabase("core", "x86_64")
	dest.UpdatePackage(&Package{Name: "boost", Version: "1.72.0-1"})
	dest.UpdatePackage(&Package{Name: "orphaned", Version: "1.0.0-1"})

	src := NewDatabase("core-src", "x86_64")
	src.UpdatePackage(&Package{Name: "boost", Version: "1.73.0-1"})

	updates := dest.CheckForUpdates([]*Database{src})
	assert.Len(t, updates.VersionUpdates, 1)
	assert.Equal(t, "boost", updates.VersionUpdates[0].Name)
	assert.Contains(t, updates.Orphans, "orphaned")
}

func TestComputeDatabaseDependencyOrderCycle(t *testing.T) {
	cfg := NewConfig()
	a := NewDatabase("a", "x86_64")
	b := NewDatabase("b", "x86_64")
	a.Dependencies = []string{"b"}
	b.Dependencies = []string{"a"}
	cfg.Databases = append(cfg.Databases, a, b)

	_, err := cfg.ComputeDatabaseDependencyOrder(a)
	assert.Error(t, err)
}

func TestComputeDatabaseDependencyOrderLinear(t *testing.T) {
	cfg := NewConfig()
	a := NewDatabase("a", "x86_64")
	b := NewDatabase("b", "x86_64")
	a.Dependencies = []string{"b"}
	cfg.Databases = append(cfg.Databases, a, b)

	order, err := cfg.ComputeDatabaseDependencyOrder(a)
	assert.NoError(t, err)
	assert.Equal(t, []*Database{b, a}, order)
}
