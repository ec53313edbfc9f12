package pkgdata

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/archrepod/buildsvc/pkg/storagecache"
)

// UsageFlag is a bitset describing what a Database may be used for.
type UsageFlag int

// The usage flags a Database may carry, combined with bitwise OR.
const (
	UsageNone       UsageFlag = 0
	UsageSync       UsageFlag = 1 << iota
	UsageLocal
	UsageBuild
)

// Database is a named, arch-scoped collection of packages backed by a .db
// tar file and a matching .files file (spec §3/§4.2).
type Database struct {
	Name        string
	Path        string
	FilesPath   string
	Arch        string
	Mirrors     []string
	LocalPkgDir string
	LocalDbDir  string

	Usage          UsageFlag
	SignatureLevel string
	Dependencies   []string // names of other databases this one depends on

	LastUpdate     time.Time
	SyncFromMirror bool
	ToBeDiscarded  bool

	packages map[string]*Package

	// cache, when attached via AttachCache, mirrors every package mutation
	// into the backing store of spec §4.4/§6. Nil means the database keeps
	// packages in-memory only.
	cache *storagecache.StorageCache[*Package]

	providedDeps *DependencySet
	requiredDeps *DependencySet
	providedLibs *DependencySet
	requiredLibs *DependencySet
}

// NewDatabase returns an empty Database named name for the given
// architecture (defaulting to x86_64 when arch is empty, per spec §3).
func NewDatabase(name, arch string) *Database {
	if arch == "" {
		arch = "x86_64"
	}
	return &Database{
		Name:         name,
		Arch:         arch,
		packages:     make(map[string]*Package),
		providedDeps: NewDependencySet(),
		requiredDeps: NewDependencySet(),
		providedLibs: NewDependencySet(),
		requiredLibs: NewDependencySet(),
	}
}

// Packages returns every package currently indexed, in no particular order.
func (db *Database) Packages() []*Package {
	out := make([]*Package, 0, len(db.packages))
	for _, p := range db.packages {
		out = append(out, p)
	}
	return out
}

// Package looks up a package by exact name.
func (db *Database) Package(name string) (*Package, bool) {
	p, ok := db.packages[name]
	return p, ok
}

// AttachCache wires c as db's write-through package cache (spec §4.4/§6):
// every subsequent UpdatePackage/ForceUpdatePackage persists pkg into c, and
// every RemovePackage invalidates it there too.
func (db *Database) AttachCache(c *storagecache.StorageCache[*Package]) {
	db.cache = c
}

// storeInCache mirrors pkg into db.cache, if attached. Best-effort: a
// backing-store failure does not prevent pkg from being indexed in memory.
func (db *Database) storeInCache(pkg *Package) {
	if db.cache == nil {
		return
	}
	db.cache.Store(pkg.Name, pkg, true, nil)
}

// registerIndices projects pkg into the four dependency indices.
func (db *Database) registerIndices(pkg *Package) {
	db.providedDeps.Add(pkg.Name, "", pkg)
	for _, d := range pkg.Provides {
		db.providedDeps.Add(d.Name, d.Version, pkg)
	}
	for _, d := range pkg.Dependencies {
		db.requiredDeps.Add(d.Name, d.Version, pkg)
	}
	for _, lib := range pkg.Libprovides {
		db.providedLibs.Add(lib, "", pkg)
	}
	for _, lib := range pkg.Libdepends {
		db.requiredLibs.Add(lib, "", pkg)
	}
}

// unregisterIndices removes every projection of pkg from the four
// dependency indices. Spec invariant: called before pkg is dropped from
// packages.
func (db *Database) unregisterIndices(pkg *Package) {
	db.providedDeps.Remove(pkg.Name, pkg)
	for _, d := range pkg.Provides {
		db.providedDeps.Remove(d.Name, pkg)
	}
	for _, d := range pkg.Dependencies {
		db.requiredDeps.Remove(d.Name, pkg)
	}
	for _, lib := range pkg.Libprovides {
		db.providedLibs.Remove(lib, pkg)
	}
	for _, lib := range pkg.Libdepends {
		db.requiredLibs.Remove(lib, pkg)
	}
}

// RemovePackageDependencies unregisters all of pkg's projections from the
// four dependency indices without removing pkg from the package map. Used
// by ReloadLibraryDependencies ahead of a content merge (spec §4.6 step 6).
func (db *Database) RemovePackageDependencies(pkg *Package) {
	db.unregisterIndices(pkg)
}

// AddPackageDependencies (re-)registers pkg's projections into the four
// dependency indices. Pairs with RemovePackageDependencies.
func (db *Database) AddPackageDependencies(pkg *Package) {
	db.registerIndices(pkg)
}

// UpdatePackage replaces or inserts pkg by name. When a package by the same
// name already exists, library-level fields derived from binary contents
// are preserved across the replacement via AddDepsAndProvidesFromOtherPackage
// unless the identity (name/version/buildDate) no longer matches.
func (db *Database) UpdatePackage(pkg *Package) {
	if existing, ok := db.packages[pkg.Name]; ok {
		db.unregisterIndices(existing)
		pkg.AddDepsAndProvidesFromOtherPackage(existing)
	}
	db.packages[pkg.Name] = pkg
	db.registerIndices(pkg)
	db.storeInCache(pkg)
}

// ForceUpdatePackage replaces or inserts pkg by name, skipping the
// preservation UpdatePackage performs.
func (db *Database) ForceUpdatePackage(pkg *Package) {
	if existing, ok := db.packages[pkg.Name]; ok {
		db.unregisterIndices(existing)
	}
	db.packages[pkg.Name] = pkg
	db.registerIndices(pkg)
	db.storeInCache(pkg)
}

// RemovePackage unregisters all dependency projections of the named package
// before removing it from the index. A no-op if name is absent.
func (db *Database) RemovePackage(name string) {
	existing, ok := db.packages[name]
	if !ok {
		return
	}
	db.unregisterIndices(existing)
	delete(db.packages, name)
	if db.cache != nil {
		db.cache.Invalidate(name)
	}
}

// ReplacePackages is UpdatePackage for every entry in newPkgs plus removal
// of every currently-indexed package whose name is absent from newPkgs, in
// one call. Callers must hold the Config write lock; this method performs
// no locking of its own.
func (db *Database) ReplacePackages(newPkgs []*Package, lastModified time.Time) {
	keep := make(map[string]struct{}, len(newPkgs))
	for _, p := range newPkgs {
		keep[p.Name] = struct{}{}
		db.UpdatePackage(p)
	}
	for name := range db.packages {
		if _, ok := keep[name]; !ok {
			db.RemovePackage(name)
		}
	}
	db.LastUpdate = lastModified
}

// FindPackages scans every package in db, returning those for which pred
// returns true.
func (db *Database) FindPackages(pred func(*Package) bool) []*Package {
	var out []*Package
	for _, p := range db.packages {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// FindPackagesProvidingLibrary returns every package providing (or, if
// reverse is true, requiring) libName — an "elf-<arch>::<soname>" or
// "pe-<cpu>::<dll>" key.
func (db *Database) FindPackagesProvidingLibrary(libName string, reverse bool) []*Package {
	if reverse {
		return db.requiredLibs.Lookup(libName)
	}
	return db.providedLibs.Lookup(libName)
}

// UnresolvedDependency names a dependency or library that, after applying a
// hypothetical package-set change, would have no provider.
type UnresolvedDependency struct {
	Package string
	Name    string
	IsLib   bool
}

// DetectUnresolvedPackages returns, for each currently-present or
// to-be-added package, the dependency and library names that would have no
// provider after applying newPackages/removedPackages. Resolution considers
// db and every database named in db.Dependencies, transitively, via cfg;
// AUR is included only when "aur" is named in that dependency chain.
func (db *Database) DetectUnresolvedPackages(cfg *Config, newPackages []*Package, removedPackages []string) []UnresolvedDependency {
	resolvable := db.computeResolutionScope(cfg)

	removed := make(map[string]struct{}, len(removedPackages))
	for _, n := range removedPackages {
		removed[n] = struct{}{}
	}

	candidate := make(map[string]*Package, len(db.packages))
	for name, p := range db.packages {
		if _, gone := removed[name]; gone {
			continue
		}
		candidate[name] = p
	}
	for _, p := range newPackages {
		candidate[p.Name] = p
	}

	var out []UnresolvedDependency
	for _, p := range candidate {
		for _, d := range p.Dependencies {
			if !resolvable.providesName(d.Name, candidate) {
				out = append(out, UnresolvedDependency{Package: p.Name, Name: d.Name})
			}
		}
		for _, lib := range p.Libdepends {
			if !resolvable.providesLib(lib) {
				out = append(out, UnresolvedDependency{Package: p.Name, Name: lib, IsLib: true})
			}
		}
	}
	return out
}

// resolutionScope is the flattened set of databases a dependency lookup may
// search, computed once per DetectUnresolvedPackages call.
type resolutionScope struct {
	dbs []*Database
}

func (s resolutionScope) providesName(name string, candidate map[string]*Package) bool {
	if _, ok := candidate[name]; ok {
		return true
	}
	for _, db := range s.dbs {
		if len(db.providedDeps.Lookup(name)) > 0 {
			return true
		}
	}
	return false
}

func (s resolutionScope) providesLib(lib string) bool {
	for _, db := range s.dbs {
		if len(db.providedLibs.Lookup(lib)) > 0 {
			return true
		}
	}
	return false
}

func (db *Database) computeResolutionScope(cfg *Config) resolutionScope {
	seen := map[string]bool{db.Name: true}
	scope := []*Database{db}
	queue := append([]string(nil), db.Dependencies...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		other := cfg.FindDatabase(name, db.Arch)
		if other == nil {
			continue
		}
		scope = append(scope, other)
		queue = append(queue, other.Dependencies...)
	}
	return resolutionScope{dbs: scope}
}

// PackageUpdate classifies one source package against its same-name
// counterpart in the destination database.
type PackageUpdate struct {
	Name      string
	OldVersion string
	NewVersion string
}

// PackageUpdates is the result of Database.CheckForUpdates.
type PackageUpdates struct {
	VersionUpdates []PackageUpdate
	PackageUpdates []PackageUpdate // rebuild with same version
	Downgrades     []PackageUpdate
	Orphans        []string // present in db, missing from every source
}

// CheckForUpdates classifies every package across sources against db's
// same-name package using pacman version-compare semantics
// (epoch:version-pkgrel).
func (db *Database) CheckForUpdates(sources []*Database) PackageUpdates {
	var result PackageUpdates

	seenInSources := make(map[string]struct{})
	for _, src := range sources {
		for _, sp := range src.Packages() {
			seenInSources[sp.Name] = struct{}{}
			own, ok := db.packages[sp.Name]
			if !ok {
				continue
			}
			cmp := CompareVersions(sp.Version, own.Version)
			upd := PackageUpdate{Name: sp.Name, OldVersion: own.Version, NewVersion: sp.Version}
			switch {
			case cmp > 0:
				result.VersionUpdates = append(result.VersionUpdates, upd)
			case cmp == 0:
				result.PackageUpdates = append(result.PackageUpdates, upd)
			default:
				result.Downgrades = append(result.Downgrades, upd)
			}
		}
	}

	for name := range db.packages {
		if _, ok := seenInSources[name]; !ok {
			result.Orphans = append(result.Orphans, name)
		}
	}
	return result
}

// LocatePackage resolves LocalPkgDir/fileName, following one level of
// relative symlinks to a "storage location". Returns the final resolved
// path, whether that path exists, the storage-location target (if any),
// and any filesystem error encountered other than "not exist".
func (db *Database) LocatePackage(fileName string) (resolved string, exists bool, storageLocation string, err error) {
	p := filepath.Join(db.LocalPkgDir, fileName)
	resolved = p

	fi, lerr := os.Lstat(p)
	if lerr != nil {
		if os.IsNotExist(lerr) {
			return p, false, "", nil
		}
		return p, false, "", lerr
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(p)
		if rerr != nil {
			return p, false, "", rerr
		}
		if filepath.IsAbs(target) {
			return p, false, target, fmt.Errorf("absolute symlink target not supported: %s", target)
		}
		storageLocation = filepath.Join(filepath.Dir(p), target)
		resolved = storageLocation
	}

	if _, serr := os.Stat(resolved); serr != nil {
		if os.IsNotExist(serr) {
			return resolved, false, storageLocation, nil
		}
		return resolved, false, storageLocation, serr
	}
	return resolved, true, storageLocation, nil
}

// LoadPackages reads a repository database (a tar of per-package
// directories, each with a desc file and optionally a files file) from
// db.Path and rebuilds db.packages plus the four indices.
func (db *Database) LoadPackages() error {
	f, err := os.Open(db.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", db.Name, err)
	}
	defer f.Close()

	r, err := openArchiveReader(db.Path, f)
	if err != nil {
		return err
	}
	if c, ok := r.(interface{ Close() error }); ok {
		defer c.Close()
	}

	tr := tar.NewReader(r)
	byDir := make(map[string]*Package)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dir := filepath.Dir(hdr.Name)
		base := filepath.Base(hdr.Name)
		if base != "desc" && base != "files" {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("reading %s: %w", hdr.Name, err)
		}

		pkg, ok := byDir[dir]
		if !ok {
			pkg = NewPackage("")
			pkg.Origin = OriginDatabaseFileList
			byDir[dir] = pkg
		}
		if base == "desc" {
			parseDescFragment(pkg, content)
		}
	}

	var pkgs []*Package
	for _, p := range byDir {
		if p.Name != "" {
			pkgs = append(pkgs, p)
		}
	}
	db.ReplacePackages(pkgs, time.Now())
	return nil
}

// descFields maps a pacman "desc" fragment's %SECTION% headers onto Package
// fields, following the same recognized-key contract as .PKGINFO.
var descFields = map[string]func(p *Package, lines []string){
	"NAME":    func(p *Package, l []string) { p.Name = first(l) },
	"VERSION": func(p *Package, l []string) { p.Version = first(l) },
	"DESC":    func(p *Package, l []string) { p.Description = first(l) },
	"URL":     func(p *Package, l []string) { p.UpstreamURL = first(l) },
	"LICENSE": func(p *Package, l []string) { p.Licenses = append(p.Licenses, l...) },
	"GROUPS":  func(p *Package, l []string) { p.Groups = append(p.Groups, l...) },
	"DEPENDS": func(p *Package, l []string) {
		for _, v := range l {
			p.Dependencies = append(p.Dependencies, ParseDependency(v))
		}
	},
	"OPTDEPENDS": func(p *Package, l []string) {
		for _, v := range l {
			p.OptionalDependencies = append(p.OptionalDependencies, ParseDependency(strings.SplitN(v, ":", 2)[0]))
		}
	},
	"PROVIDES": func(p *Package, l []string) {
		for _, v := range l {
			p.Provides = append(p.Provides, ParseDependency(v))
		}
	},
	"REPLACES": func(p *Package, l []string) {
		for _, v := range l {
			p.Replaces = append(p.Replaces, ParseDependency(v))
		}
	},
	"CONFLICTS": func(p *Package, l []string) {
		for _, v := range l {
			p.Conflicts = append(p.Conflicts, ParseDependency(v))
		}
	},
	"ARCH": func(p *Package, l []string) {
		if p.PackageInfo == nil {
			p.PackageInfo = &PackageInfo{}
		}
		p.PackageInfo.Arch = first(l)
	},
	"FILENAME": func(p *Package, l []string) {
		if p.PackageInfo == nil {
			p.PackageInfo = &PackageInfo{}
		}
		p.PackageInfo.FileName = first(l)
	},
}

func first(l []string) string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

// parseDescFragment parses a pacman "desc" file: blocks introduced by a
// %SECTION% header line, followed by one value per line until a blank line.
func parseDescFragment(p *Package, content []byte) {
	sc := bufioScanner(content)
	var section string
	var lines []string
	flush := func() {
		if section == "" {
			return
		}
		if fn, ok := descFields[section]; ok {
			fn(p, lines)
		}
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%"):
			flush()
			section = strings.Trim(line, "%")
			lines = nil
		case line == "":
			flush()
			section = ""
			lines = nil
		default:
			lines = append(lines, line)
		}
	}
	flush()
}
