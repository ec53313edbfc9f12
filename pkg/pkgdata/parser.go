package pkgdata

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// FileFilter decides whether a file entry inside an archive is worth
// handing to onFile.
type FileFilter func(name string) bool

// OnFileFunc receives the full in-archive path and decompressed content of
// an accepted file.
type OnFileFunc func(name string, content []byte) error

// OnDirFunc receives the full in-archive path of a directory entry.
type OnDirFunc func(name string) error

// openArchiveReader wraps r with the decompressor matching path's
// extension. Supported: .zst, .xz, .gz, and plain (uncompressed) tar.
func openArchiveReader(pathname string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(pathname, ".zst"):
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return d.IOReadCloser(), nil
	case strings.HasSuffix(pathname, ".xz"):
		d, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return d, nil
	case strings.HasSuffix(pathname, ".gz"):
		d, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return d, nil
	default:
		return r, nil
	}
}

// WalkThroughArchive enumerates the entries of a (possibly compressed) tar
// archive at pathname, invoking onFile for accepted regular files (those for
// which fileFilter returns true, or all files when fileFilter is nil) and
// onDir for every directory entry.
func WalkThroughArchive(pathname string, fileFilter FileFilter, onFile OnFileFunc, onDir OnDirFunc) error {
	f, err := os.Open(pathname)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	dr, err := openArchiveReader(pathname, f)
	if err != nil {
		return err
	}
	if c, ok := dr.(io.Closer); ok {
		defer c.Close()
	}

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if onDir != nil {
				if err := onDir(hdr.Name); err != nil {
					return err
				}
			}
		case tar.TypeReg:
			if fileFilter != nil && !fileFilter(hdr.Name) {
				continue
			}
			content, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("reading %s: %w", hdr.Name, err)
			}
			if onFile != nil {
				if err := onFile(hdr.Name, content); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// pkginfoKeys are the .PKGINFO keys this parser recognizes; any other key
// is ignored without error.
var pkginfoKeys = map[string]func(p *Package, v string){
	"pkgname": func(p *Package, v string) { p.Name = v },
	"pkgver":  func(p *Package, v string) { p.Version = v },
	"pkgdesc": func(p *Package, v string) { p.Description = v },
	"url":     func(p *Package, v string) { p.UpstreamURL = v },
	"license": func(p *Package, v string) { p.Licenses = append(p.Licenses, v) },
	"group":   func(p *Package, v string) { p.Groups = append(p.Groups, v) },
	"depend":  func(p *Package, v string) { p.Dependencies = append(p.Dependencies, ParseDependency(v)) },
	"optdepend": func(p *Package, v string) {
		p.OptionalDependencies = append(p.OptionalDependencies, ParseDependency(strings.SplitN(v, ":", 2)[0]))
	},
	"provides": func(p *Package, v string) { p.Provides = append(p.Provides, ParseDependency(v)) },
	"replaces": func(p *Package, v string) { p.Replaces = append(p.Replaces, ParseDependency(v)) },
	"conflict": func(p *Package, v string) { p.Conflicts = append(p.Conflicts, ParseDependency(v)) },
	"arch": func(p *Package, v string) {
		if p.PackageInfo == nil {
			p.PackageInfo = &PackageInfo{}
		}
		p.PackageInfo.Arch = v
	},
	"builddate": func(p *Package, v string) {
		if p.PackageInfo == nil {
			p.PackageInfo = &PackageInfo{}
		}
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.PackageInfo.BuildDate = time.Unix(sec, 0).UTC()
		}
	},
	"size": func(p *Package, v string) {
		if p.PackageInfo == nil {
			p.PackageInfo = &PackageInfo{}
		}
		if sz, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.PackageInfo.Size = sz
		}
	},
	"packager": func(p *Package, v string) {
		if p.PackageInfo == nil {
			p.PackageInfo = &PackageInfo{}
		}
		p.PackageInfo.Packager = v
	},
	"makedepend": func(p *Package, v string) {
		if p.SourceInfo == nil {
			p.SourceInfo = &SourceInfo{}
		}
		p.SourceInfo.MakeDependencies = append(p.SourceInfo.MakeDependencies, v)
	},
	"checkdepend": func(p *Package, v string) {
		if p.SourceInfo == nil {
			p.SourceInfo = &SourceInfo{}
		}
		p.SourceInfo.CheckDependencies = append(p.SourceInfo.CheckDependencies, v)
	},
}

// ParsePkgInfo parses the key = value lines of a .PKGINFO file into p.
// Repeated keys append to their corresponding sequence field; unknown keys
// are ignored without error.
func ParsePkgInfo(p *Package, content []byte) {
	sc := bufioScanner(content)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if fn, ok := pkginfoKeys[key]; ok {
			fn(p, val)
		}
	}
}

// bufioScanner returns a lineScanner over content.
func bufioScanner(content []byte) *lineScanner {
	return &lineScanner{data: content}
}

// lineScanner is a minimal newline splitter; avoids pulling in bufio.Scanner
// semantics (token size limits) for content that is already fully buffered.
type lineScanner struct {
	data []byte
	cur  []byte
	pos  int
}

func (s *lineScanner) Scan() bool {
	if s.pos >= len(s.data) {
		return false
	}
	idx := bytes.IndexByte(s.data[s.pos:], '\n')
	if idx < 0 {
		s.cur = s.data[s.pos:]
		s.pos = len(s.data)
		return len(s.cur) > 0
	}
	s.cur = s.data[s.pos : s.pos+idx]
	s.pos += idx + 1
	return true
}

func (s *lineScanner) Text() string { return string(s.cur) }

// elfMagic and peMZ are the magic numbers identifying contained binaries.
var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	peMZ     = []byte{'M', 'Z'}
)

// isELF reports whether content begins with the ELF magic.
func isELF(content []byte) bool {
	return len(content) >= 4 && bytes.Equal(content[:4], elfMagic)
}

// isPE reports whether content is an MZ/PE executable.
func isPE(content []byte) bool {
	if len(content) < 2 || !bytes.Equal(content[:2], peMZ) {
		return false
	}
	if len(content) < 0x40 {
		return false
	}
	peOffset := int(binary.LittleEndian.Uint32(content[0x3c:0x40]))
	return peOffset+4 <= len(content) && bytes.Equal(content[peOffset:peOffset+2], []byte("PE"))
}

// processELF records provided SONAMEs and required NEEDED entries as
// "elf-<arch>::<soname>" keys into p.
func processELF(p *Package, content []byte) error {
	f, err := elf.NewFile(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("elf: %w", err)
	}
	defer f.Close()

	arch := elfArchName(f.Machine)

	if sonames, err := f.DynString(elf.DT_SONAME); err == nil {
		for _, s := range sonames {
			p.Libprovides = appendUnique(p.Libprovides, fmt.Sprintf("elf-%s::%s", arch, s))
		}
	}
	if needed, err := f.DynString(elf.DT_NEEDED); err == nil {
		for _, n := range needed {
			p.Libdepends = appendUnique(p.Libdepends, fmt.Sprintf("elf-%s::%s", arch, n))
		}
	}
	return nil
}

func elfArchName(m elf.Machine) string {
	switch m {
	case elf.EM_X86_64:
		return "x86_64"
	case elf.EM_386:
		return "i686"
	case elf.EM_AARCH64:
		return "aarch64"
	case elf.EM_ARM:
		return "armv7h"
	default:
		return strings.ToLower(m.String())
	}
}

// dllImportLibSuffix identifies a Windows import library; processPE records
// nothing for such a file.
const dllImportLibSuffix = ".dll.a"

// processPE records the exported DLL's own name as provided and every
// imported DLL as required, as "pe-<cpu>::<dll>" keys. name is the
// in-archive path of the file, used as a fallback export name when the
// export directory cannot be read.
func processPE(p *Package, name string, content []byte) (importLib bool, err error) {
	if strings.HasSuffix(name, dllImportLibSuffix) {
		return true, nil
	}

	f, err := pe.NewFile(bytes.NewReader(content))
	if err != nil {
		return false, fmt.Errorf("pe: %w", err)
	}
	defer f.Close()

	cpu := peCPUName(f.Machine)

	exportName := peExportName(f, content)
	if exportName == "" {
		exportName = path.Base(name)
	}
	p.Libprovides = appendUnique(p.Libprovides, fmt.Sprintf("pe-%s::%s", cpu, exportName))

	if imports, err := f.ImportedLibraries(); err == nil {
		for _, imp := range imports {
			p.Libdepends = appendUnique(p.Libdepends, fmt.Sprintf("pe-%s::%s", cpu, imp))
		}
	}
	return false, nil
}

func peCPUName(m uint16) string {
	switch m {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x86_64"
	case pe.IMAGE_FILE_MACHINE_I386:
		return "i386"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// peExportName reads the export directory's Name field, giving the DLL's
// own declared name rather than its on-disk file name (they occasionally
// differ in case). Returns "" if no export directory is present.
func peExportName(f *pe.File, raw []byte) string {
	const exportDirectoryIndex = 0
	var rva, size uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if len(oh.DataDirectory) <= exportDirectoryIndex {
			return ""
		}
		rva = oh.DataDirectory[exportDirectoryIndex].VirtualAddress
		size = oh.DataDirectory[exportDirectoryIndex].Size
	case *pe.OptionalHeader64:
		if len(oh.DataDirectory) <= exportDirectoryIndex {
			return ""
		}
		rva = oh.DataDirectory[exportDirectoryIndex].VirtualAddress
		size = oh.DataDirectory[exportDirectoryIndex].Size
	default:
		return ""
	}
	if rva == 0 || size == 0 {
		return ""
	}

	for _, sec := range f.Sections {
		if rva < sec.VirtualAddress || rva >= sec.VirtualAddress+sec.Size {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return ""
		}
		off := rva - sec.VirtualAddress
		// IMAGE_EXPORT_DIRECTORY.Name is at offset 12 within the struct.
		if int(off)+16 > len(data) {
			return ""
		}
		nameRVA := binary.LittleEndian.Uint32(data[off+12 : off+16])
		if nameRVA < sec.VirtualAddress || nameRVA >= sec.VirtualAddress+sec.Size {
			return ""
		}
		nameOff := nameRVA - sec.VirtualAddress
		end := bytes.IndexByte(data[nameOff:], 0)
		if end < 0 {
			return ""
		}
		return string(data[nameOff : nameOff+uint32(end)])
	}
	return ""
}

// ProcessContainedFile dispatches a single archive-contained file to the
// right binary parser based on its magic number, recording provides/depends
// on p. Non-binary files are ignored without error (spec §4.1: only
// .PKGINFO, ELF, PE, and directory entries are recognized).
func ProcessContainedFile(p *Package, name string, content []byte) error {
	switch {
	case isELF(content):
		return processELF(p, content)
	case isPE(content):
		_, err := processPE(p, name, content)
		return err
	default:
		return nil
	}
}

// ProcessContainedDir records a contained directory entry as a "dir::<path>"
// provide, per spec §4.1.
func ProcessContainedDir(p *Package, name string) {
	p.Provides = append(p.Provides, Dependency{Name: "dir::" + strings.TrimSuffix(name, "/")})
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// ReconcileImportLibs compares p.Libprovides case-insensitively and returns
// a warning for every entry that differs from an earlier one only in case.
// It does not modify p: no libdepends/libprovides entries are removed, and
// .dll.a import libraries are not matched against DLL exports.
func ReconcileImportLibs(p *Package) (warnings []string) {
	provided := make(map[string]string, len(p.Libprovides))
	for _, v := range p.Libprovides {
		key := strings.ToLower(v)
		if existing, ok := provided[key]; ok && existing != v {
			warnings = append(warnings, fmt.Sprintf("ambiguous casing for %s: %q vs %q", key, existing, v))
			continue
		}
		provided[key] = v
	}
	return warnings
}
