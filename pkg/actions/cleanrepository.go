package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// CleanRepository classifies every file under a database's repo directories
// (and its "any"/"src" siblings) as a db file, junk, or an orphaned package
// file to archive, honoring DryRun (spec §4.9).
type CleanRepository struct {
	Config *pkgdata.Config
}

// Run implements Runner.
func (a *CleanRepository) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
	dryRun := action.Flags.Has(buildaction.FlagDryRun)
	action.Unlock()

	if len(destNames) != 1 {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "not exactly one destination database specified"})
		return
	}

	a.Config.RWMu.RLock()
	db := a.Config.FindDatabase(destNames[0], "")
	a.Config.RWMu.RUnlock()
	if db == nil {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "unknown destination database"})
		return
	}

	problems := make(map[string][]string)
	dirs := []string{db.LocalPkgDir,
		filepath.Join(filepath.Dir(db.LocalPkgDir), "any"),
		filepath.Join(filepath.Dir(db.LocalPkgDir), "src"),
	}

	knownNames := make(map[string]bool)
	for _, p := range db.Packages() {
		if p.PackageInfo != nil && p.PackageInfo.FileName != "" {
			knownNames[p.PackageInfo.FileName] = true
		} else {
			problems[db.Name] = append(problems[db.Name], fmt.Sprintf("%s: no known file name, left untouched", p.Name))
		}
	}

	archiveDir := filepath.Join(db.LocalPkgDir, "archive")

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // absent sibling dir is not an error
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			switch classifyRepoFile(db.Name, name) {
			case repoFileIsDatabase:
				continue
			case repoFileIsJunk:
				problems[dir] = append(problems[dir], fmt.Sprintf("junk: %s", name))
				if !dryRun {
					os.Remove(filepath.Join(dir, name))
				}
			case repoFileIsPackage:
				if knownNames[name] {
					continue
				}
				problems[dir] = append(problems[dir], fmt.Sprintf("orphaned package file: %s", name))
				if !dryRun {
					os.MkdirAll(archiveDir, 0o755)
					os.Rename(filepath.Join(dir, name), filepath.Join(archiveDir, name))
				}
			}
		}
	}

	sess.Conclude(buildaction.ResultSuccess, buildaction.ResultData{RepositoryProblems: problems})
}

type repoFileClass int

const (
	repoFileIsJunk repoFileClass = iota
	repoFileIsDatabase
	repoFileIsPackage
)

// classifyRepoFile implements spec §4.9's three-way file classification.
func classifyRepoFile(dbName, fileName string) repoFileClass {
	switch {
	case fileName == dbName+".db" || fileName == dbName+".db.tar.zst" ||
		fileName == dbName+".files" || fileName == dbName+".files.tar.zst":
		return repoFileIsDatabase
	case hasPackageExtension(fileName):
		return repoFileIsPackage
	default:
		return repoFileIsJunk
	}
}

func hasPackageExtension(name string) bool {
	for _, ext := range []string{".pkg.tar.zst", ".pkg.tar.xz", ".pkg.tar.gz", ".pkg.tar.bz2", ".pkg.tar",
		".src.tar.gz", ".src.tar.zst", ".src.tar.xz"} {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return true
		}
	}
	return false
}
