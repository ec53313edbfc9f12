// Package pkgdata implements the in-memory package/repository data model:
// dependencies, packages, databases, and the config that ties databases
// together.
package pkgdata

import (
	"fmt"
	"strings"
)

// Mode is a version-comparison operator used in a Dependency constraint.
type Mode int

// The comparison modes a Dependency may carry.
const (
	ModeAny Mode = iota
	ModeEq
	ModeGe
	ModeLe
	ModeGt
	ModeLt
)

func (m Mode) String() string {
	switch m {
	case ModeEq:
		return "="
	case ModeGe:
		return ">="
	case ModeLe:
		return "<="
	case ModeGt:
		return ">"
	case ModeLt:
		return "<"
	default:
		return ""
	}
}

// Dependency is a single named requirement, optionally version-constrained.
type Dependency struct {
	Name    string
	Version string
	Mode    Mode
}

// String renders the dependency the way pacman tools expect to see it on
// the wire, e.g. "boost>=1.73.0" or bare "boost" when unconstrained.
func (d Dependency) String() string {
	if d.Mode == ModeAny || d.Version == "" {
		return d.Name
	}
	return fmt.Sprintf("%s%s%s", d.Name, d.Mode, d.Version)
}

// Equal reports whether two dependencies denote the same (name, constraint).
func (d Dependency) Equal(o Dependency) bool {
	return d.Name == o.Name && d.Version == o.Version && d.Mode == o.Mode
}

// ParseDependency parses a dependency denotation such as "boost>=1.73.0",
// "zstd", or "zstd=1.5.0" into a Dependency.
func ParseDependency(s string) Dependency {
	for _, m := range []struct {
		op   string
		mode Mode
	}{
		{">=", ModeGe},
		{"<=", ModeLe},
		{"=", ModeEq},
		{">", ModeGt},
		{"<", ModeLt},
	} {
		if idx := strings.Index(s, m.op); idx >= 0 {
			return Dependency{Name: s[:idx], Version: s[idx+len(m.op):], Mode: m.mode}
		}
	}
	return Dependency{Name: s, Mode: ModeAny}
}

// constraintEntry is one version constraint within a DependencySet bucket,
// together with the packages that are relevant for it.
type constraintEntry struct {
	version  string
	packages []*Package
}

// DependencySet is a many-to-many index from a dependency name to the
// packages that provide or require it, partitioned by version constraint.
// Insertion is idempotent over (name, versionConstraint); removal is
// per-(name, package).
type DependencySet struct {
	byName map[string][]*constraintEntry
}

// NewDependencySet returns an empty DependencySet.
func NewDependencySet() *DependencySet {
	return &DependencySet{byName: make(map[string][]*constraintEntry)}
}

// Add registers pkg as relevant for name under versionConstraint. Repeated
// calls with the same (name, versionConstraint) are idempotent with respect
// to the set of distinct packages recorded.
func (s *DependencySet) Add(name, versionConstraint string, pkg *Package) {
	entries := s.byName[name]
	for _, e := range entries {
		if e.version == versionConstraint {
			for _, p := range e.packages {
				if p == pkg {
					return
				}
			}
			e.packages = append(e.packages, pkg)
			return
		}
	}
	s.byName[name] = append(entries, &constraintEntry{version: versionConstraint, packages: []*Package{pkg}})
}

// Remove drops pkg from every constraint bucket registered under name.
// Buckets left empty are pruned; name is removed entirely once no buckets
// remain.
func (s *DependencySet) Remove(name string, pkg *Package) {
	entries, ok := s.byName[name]
	if !ok {
		return
	}
	kept := entries[:0]
	for _, e := range entries {
		filtered := e.packages[:0]
		for _, p := range e.packages {
			if p != pkg {
				filtered = append(filtered, p)
			}
		}
		e.packages = filtered
		if len(e.packages) > 0 {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(s.byName, name)
		return
	}
	s.byName[name] = kept
}

// Lookup returns every package registered under name, across all version
// constraints, deduplicated.
func (s *DependencySet) Lookup(name string) []*Package {
	entries, ok := s.byName[name]
	if !ok {
		return nil
	}
	seen := make(map[*Package]struct{})
	var out []*Package
	for _, e := range entries {
		for _, p := range e.packages {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Names returns every distinct dependency name currently registered.
func (s *DependencySet) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	return out
}
