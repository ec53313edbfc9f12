package pkgdata

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/storagecache"
)

// Config is the in-memory repository/database graph: the databases list,
// the distinguished AUR database, known architectures, and pacman-adjacent
// paths (spec §3). Protected by RWMu; callers take the lock themselves, the
// way the engine's action init() does (spec §4.5).
type Config struct {
	RWMu sync.RWMutex

	Databases          []*Database
	AUR                *Database
	Architectures      map[string]struct{}
	PacmanDatabasePath string
	PackageCacheDirs   []string
	SignatureLevel     string

	// storageBacking/cacheLog/cacheCapacity, once set by AttachStorageCache,
	// are reused by FindOrCreateDatabase so every database registered after
	// startup also gets a write-through cache (spec §4.4/§6).
	storageBacking *storagecache.BackingStore
	cacheLog       hclog.Logger
	cacheCapacity  int
}

// NewConfig returns a Config with an (empty) AUR database and no other
// databases registered.
func NewConfig() *Config {
	return &Config{
		AUR:           NewDatabase("aur", "any"),
		Architectures: make(map[string]struct{}),
	}
}

// FindDatabase returns the database named name for arch, or nil; an empty
// arch matches a database of any architecture. AUR is only returned when
// name explicitly denotes it.
func (c *Config) FindDatabase(name, arch string) *Database {
	if name == "aur" {
		return c.AUR
	}
	for _, db := range c.Databases {
		if db.Name == name && (arch == "" || db.Arch == arch) {
			return db
		}
	}
	return nil
}

// FindOrCreateDatabase returns the database named name/arch, creating and
// registering an empty one if absent.
func (c *Config) FindOrCreateDatabase(name, arch string) *Database {
	if db := c.FindDatabase(name, arch); db != nil {
		return db
	}
	db := NewDatabase(name, arch)
	c.Databases = append(c.Databases, db)
	if c.storageBacking != nil {
		c.attachCacheTo(db)
	}
	return db
}

// AttachStorageCache wires backing as the persisted-state environment of
// spec §4.4/§6: every database currently registered (plus AUR) gets its own
// write-through StorageCache table over backing, and every database created
// afterwards via FindOrCreateDatabase picks one up too.
func (c *Config) AttachStorageCache(backing *storagecache.BackingStore, capacity int, l hclog.Logger) error {
	c.storageBacking = backing
	c.cacheLog = l
	c.cacheCapacity = capacity

	if err := c.attachCacheTo(c.AUR); err != nil {
		return err
	}
	for _, db := range c.Databases {
		if err := c.attachCacheTo(db); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) attachCacheTo(db *Database) error {
	uniqueName := db.Name + "@" + db.Arch
	cache, err := storagecache.NewStorageCache[*Package](
		c.storageBacking, uniqueName, storagecache.TablePackages, c.cacheCapacity,
		func() *Package { return NewPackage("") }, c.cacheLog,
	)
	if err != nil {
		return fmt.Errorf("attaching storage cache for %s: %w", uniqueName, err)
	}
	db.AttachCache(cache)
	return nil
}

// ComputeDatabaseDependencyOrder returns the topological order of db and
// every name in db.Dependencies (transitively) within c.Databases, or an
// error naming the offending cycle/unresolved name. Order is deterministic:
// children ordered as they appear in Dependencies.
func (c *Config) ComputeDatabaseDependencyOrder(db *Database) ([]*Database, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var order []*Database

	var visit func(d *Database) error
	visit = func(d *Database) error {
		key := d.Name + "@" + d.Arch
		switch color[key] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("dependency cycle involving database %s", d.Name)
		}
		color[key] = gray
		for _, depName := range d.Dependencies {
			dep := c.FindDatabase(depName, d.Arch)
			if dep == nil {
				return fmt.Errorf("database %s depends on unresolved database %s", d.Name, depName)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[key] = black
		order = append(order, d)
		return nil
	}

	if err := visit(db); err != nil {
		return nil, err
	}
	return order, nil
}

// BuildOrderOptions is a bitset controlling BuildOrderResult computation
// (spec §4.3), mirroring the original's BuildOrderOptions enum.
type BuildOrderOptions int

// The combinable BuildOrderOptions flags.
const (
	BuildOrderNone                          BuildOrderOptions = 0x0
	BuildOrderIncludeSourceOnlyDependencies BuildOrderOptions = 0x2
	BuildOrderIncludeAllDependencies        BuildOrderOptions = 0x3 // implies IncludeSourceOnlyDependencies
	BuildOrderConsiderBuildDependencies     BuildOrderOptions = 0x4
)

// Has reports whether all bits of flag are set in o.
func (o BuildOrderOptions) Has(flag BuildOrderOptions) bool {
	return o&flag == flag
}

// BuildOrderResult is the outcome of Config.ComputeBuildOrder.
type BuildOrderResult struct {
	Order   []*Package
	Cycle   []*Package
	Ignored []*Package
	Success bool
}

// ComputeBuildOrder expands each of deps to the set of producing packages
// (searching db first, then — if IncludeSourceOnlyDependencies/
// IncludeAllDependencies is set — the AUR), then topologically sorts them by
// runtime dependency edges (plus make/check edges iff
// ConsiderBuildDependencies).
func (c *Config) ComputeBuildOrder(db *Database, deps []Dependency, opts BuildOrderOptions) BuildOrderResult {
	var result BuildOrderResult

	nodes := make(map[string]*Package)
	var addProviders func(name string)
	addProviders = func(name string) {
		if _, ok := nodes[name]; ok {
			return
		}
		providers := db.providedDeps.Lookup(name)
		if len(providers) == 0 && opts.Has(BuildOrderIncludeSourceOnlyDependencies) {
			providers = c.AUR.providedDeps.Lookup(name)
		}
		if len(providers) == 0 {
			result.Ignored = append(result.Ignored, NewPackage(name))
			return
		}
		for _, p := range providers {
			nodes[p.Name] = p
		}
		if opts.Has(BuildOrderIncludeAllDependencies) {
			for _, p := range providers {
				for _, d := range p.Dependencies {
					addProviders(d.Name)
				}
			}
		}
	}
	for _, d := range deps {
		addProviders(d.Name)
	}

	edges := func(p *Package) []string {
		var names []string
		for _, d := range p.Dependencies {
			names = append(names, d.Name)
		}
		if opts.Has(BuildOrderConsiderBuildDependencies) && p.SourceInfo != nil {
			names = append(names, p.SourceInfo.MakeDependencies...)
			names = append(names, p.SourceInfo.CheckDependencies...)
		}
		return names
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var order []*Package
	var cycle []*Package
	var visit func(p *Package) bool
	visit = func(p *Package) bool {
		switch color[p.Name] {
		case black:
			return true
		case gray:
			cycle = append(cycle, p)
			return false
		}
		color[p.Name] = gray
		ok := true
		for _, depName := range edges(p) {
			dep, present := nodes[depName]
			if !present {
				continue
			}
			if !visit(dep) {
				ok = false
			}
		}
		color[p.Name] = black
		order = append(order, p)
		return ok
	}

	success := true
	for _, p := range nodes {
		if !visit(p) {
			success = false
		}
	}

	result.Order = order
	result.Cycle = cycle
	result.Success = success
	return result
}
