package pkgdata

import (
	"fmt"
	"strings"
	"time"
)

// Origin records how much of a Package's fields were actually derived from
// parsed data, versus guessed from a file name or a database listing.
type Origin int

// The origins a Package may have been constructed from.
const (
	OriginUnknown Origin = iota
	OriginPackageFileName
	OriginDatabaseFileList
	OriginPackageContents
)

// PackageInfo carries fields only available once a package file (not just
// its name) has been read.
type PackageInfo struct {
	Arch      string
	BuildDate time.Time
	FileName  string
	Size      int64
	Packager  string
	Checksum  string // blake3 hex digest of the package archive
}

// SourceInfo carries fields describing a source (PKGBUILD-derived) package.
type SourceInfo struct {
	Archs           []string
	MakeDependencies []string
	CheckDependencies []string
}

// InstallInfo carries fields only meaningful for an installed package;
// retained for round-trip fidelity with the original data model even though
// this service never installs packages itself.
type InstallInfo struct {
	InstalledSize int64
}

// Package is the immutable-identity record for one buildable/shippable
// artifact. Its identity is Name; every other field may be refined as more
// of the package is read (see Origin).
type Package struct {
	Name        string
	Version     string
	Description string
	UpstreamURL string
	Licenses    []string
	Groups      []string

	Dependencies         []Dependency
	OptionalDependencies []Dependency
	Provides             []Dependency
	Replaces             []Dependency
	Conflicts            []Dependency

	// Libprovides/Libdepends carry the "elf-<arch>::<soname>" and
	// "pe-<cpu>::<dll>" keys recovered from the package's contained
	// binaries. Contained directories are recorded in Provides as
	// "dir::<path>" instead (see ProcessContainedDir).
	Libprovides []string
	Libdepends  []string

	PackageInfo *PackageInfo
	SourceInfo  *SourceInfo
	InstallInfo *InstallInfo

	Origin    Origin
	Timestamp time.Time
}

// EntryName implements storagecache.Entry so a Package can be stored
// directly in a Database's write-through cache.
func (p *Package) EntryName() string { return p.Name }

// NewPackage returns an empty package named name.
func NewPackage(name string) *Package {
	return &Package{Name: name}
}

// FileNameParts is the result of splitting a package file name into its
// four pacman-mandated components.
type FileNameParts struct {
	Name    string
	Version string
	Pkgrel  string
	Arch    string
}

// ErrMalformedName is returned by FromPkgFileName when filename does not
// split into exactly name/version/pkgrel/arch.
type ErrMalformedName struct {
	FileName string
}

func (e *ErrMalformedName) Error() string {
	return fmt.Sprintf("malformed package file name: %q", e.FileName)
}

// knownExtensions are recognized package archive suffixes, longest first so
// that ".pkg.tar.zst" is stripped before a bare ".zst" would be.
var knownExtensions = []string{
	".pkg.tar.zst", ".pkg.tar.xz", ".pkg.tar.gz", ".pkg.tar.bz2", ".pkg.tar",
	".src.tar.gz", ".src.tar.zst", ".src.tar.xz",
}

// FromPkgFileName parses "<name>-<version>-<pkgrel>-<arch>.pkg.<ext>" into a
// Package. It fails with *ErrMalformedName if the three trailing
// hyphen-separated tokens cannot be isolated. The result has
// Origin = OriginPackageFileName.
func FromPkgFileName(filename string) (*Package, error) {
	base := filename
	for _, ext := range knownExtensions {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}

	parts := strings.Split(base, "-")
	if len(parts) < 4 {
		return nil, &ErrMalformedName{FileName: filename}
	}

	arch := parts[len(parts)-1]
	pkgrel := parts[len(parts)-2]
	version := parts[len(parts)-3]
	name := strings.Join(parts[:len(parts)-3], "-")
	if name == "" || arch == "" || pkgrel == "" || version == "" {
		return nil, &ErrMalformedName{FileName: filename}
	}

	p := NewPackage(name)
	p.Version = version + "-" + pkgrel
	p.Origin = OriginPackageFileName
	p.PackageInfo = &PackageInfo{Arch: arch, FileName: filename}
	return p, nil
}

// ComputeFileName reverses FromPkgFileName given enough information on p to
// reconstruct the canonical file name. ext defaults to "pkg.tar.zst" when
// empty.
func ComputeFileName(p *Package, ext string) string {
	if ext == "" {
		ext = "pkg.tar.zst"
	}
	arch := "any"
	if p.PackageInfo != nil && p.PackageInfo.Arch != "" {
		arch = p.PackageInfo.Arch
	}
	return fmt.Sprintf("%s-%s-%s.%s", p.Name, p.Version, arch, ext)
}

// AddDepsAndProvidesFromOtherPackage copies the library-level fields
// (Libprovides, Libdepends) from other into p, but only when Name, Version,
// and PackageInfo.BuildDate all match between the two packages. Returns
// whether the merge was applied.
func (p *Package) AddDepsAndProvidesFromOtherPackage(other *Package) bool {
	if other == nil {
		return false
	}
	if p.Name != other.Name || p.Version != other.Version {
		return false
	}
	if p.PackageInfo == nil || other.PackageInfo == nil {
		return false
	}
	if !p.PackageInfo.BuildDate.Equal(other.PackageInfo.BuildDate) {
		return false
	}
	p.Libprovides = mergeUnique(p.Libprovides, other.Libprovides)
	p.Libdepends = mergeUnique(p.Libdepends, other.Libdepends)
	return true
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ProvidesNames returns the bare dependency names p provides, including its
// own Name (a package always provides itself).
func (p *Package) ProvidesNames() []string {
	out := make([]string, 0, len(p.Provides)+1)
	out = append(out, p.Name)
	for _, d := range p.Provides {
		out = append(out, d.Name)
	}
	return out
}
