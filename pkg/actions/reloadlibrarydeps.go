// Package actions implements the internal build actions named in spec §1(3)
// and §12: ReloadLibraryDependencies, PrepareBuild, ConductBuild,
// PackageMovement (add/remove/move), CleanRepository, CustomCommand,
// ReloadDatabase, and CheckForUpdates. Each is grounded on the matching
// file under original_source/librepomgr/buildactions.
package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/mirrorfetch"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// ReloadLibraryDependencies re-parses binary packages to recover ELF/PE
// symbol dependencies, per spec §4.6.
type ReloadLibraryDependencies struct {
	Config   *pkgdata.Config
	Fetcher  *mirrorfetch.CircuitBreakerFetcher
	CacheDir string
	Workers  int
}

// Run implements buildaction.Runner.
func (a *ReloadLibraryDependencies) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
	forceReload := action.Flags.Has(buildaction.FlagForceReload)
	skipDeps := action.Flags.Has(buildaction.FlagSkipDependencies)
	action.Unlock()

	a.Config.RWMu.RLock()
	relevantDbs, relevantPkgs, skippedNote := a.computeRelevantPackages(destNames, skipDeps)
	a.Config.RWMu.RUnlock()

	if skippedNote != "" {
		sess.Log("", skippedNote)
	}

	toParse := make([]*pkgdata.Package, 0, len(relevantPkgs))
	for _, p := range relevantPkgs {
		if !forceReload && p.Origin == pkgdata.OriginPackageContents {
			continue // already parsed from package contents; the file's mtime is not compared
		}
		toParse = append(toParse, p)
	}

	cachingSession := mirrorfetch.NewCachingSession(a.Fetcher, a.CacheDir, sess.Logger)
	paths := a.resolvePaths(relevantDbs, toParse, cachingSession)
	if errs := cachingSession.Run(ctx); len(errs) > 0 {
		for _, e := range errs {
			sess.LogWarning("", e.Error())
		}
	}

	messages := &buildaction.Messages{}
	parsed := a.parseInParallel(ctx, sess, toParse, paths, messages)

	a.Config.RWMu.Lock()
	for _, res := range parsed {
		for _, db := range relevantDbs {
			existing, ok := db.Package(res.pkg.Name)
			if !ok {
				continue
			}
			db.RemovePackageDependencies(existing)
			existing.AddDepsAndProvidesFromOtherPackage(res.pkg)
			if res.mtime.After(existing.Timestamp) {
				existing.Timestamp = res.mtime
			}
			existing.Origin = pkgdata.OriginPackageContents
			db.AddPackageDependencies(existing)
		}
	}
	a.Config.RWMu.Unlock()

	result := buildaction.ResultSuccess
	if len(messages.Errors) > 0 {
		result = buildaction.ResultFailure
	}
	sess.Conclude(result, buildaction.ResultData{Messages: messages})
}

// computeRelevantPackages implements spec §4.6 steps 1-2: the set of
// relevant databases is either all of them, or each destination db plus
// its transitive dependency order (unless skipDeps); relevant packages are
// every package of those databases.
func (a *ReloadLibraryDependencies) computeRelevantPackages(destNames []string, skipDeps bool) ([]*pkgdata.Database, []*pkgdata.Package, string) {
	var dbs []*pkgdata.Database
	if len(destNames) == 0 {
		dbs = append(dbs, a.Config.Databases...)
	} else {
		seen := make(map[string]bool)
		for _, name := range destNames {
			for _, arch := range archesOf(a.Config) {
				db := a.Config.FindDatabase(name, arch)
				if db == nil || seen[db.Name+"@"+db.Arch] {
					continue
				}
				seen[db.Name+"@"+db.Arch] = true
				dbs = append(dbs, db)
				if !skipDeps {
					if order, err := a.Config.ComputeDatabaseDependencyOrder(db); err == nil {
						for _, dep := range order {
							key := dep.Name + "@" + dep.Arch
							if !seen[key] {
								seen[key] = true
								dbs = append(dbs, dep)
							}
						}
					}
				}
			}
		}
	}

	var pkgs []*pkgdata.Package
	var skippedCount int
	dbSet := make(map[*pkgdata.Database]bool, len(dbs))
	for _, db := range dbs {
		dbSet[db] = true
	}
	for _, db := range a.Config.Databases {
		if dbSet[db] {
			pkgs = append(pkgs, db.Packages()...)
		} else {
			skippedCount += len(db.Packages())
		}
	}

	var note string
	if skippedCount > 0 {
		note = fmt.Sprintf("skipping %d packages outside the requested dependency closure", skippedCount)
	}
	return dbs, pkgs, note
}

func archesOf(cfg *pkgdata.Config) []string {
	out := make([]string, 0, len(cfg.Architectures))
	for a := range cfg.Architectures {
		out = append(out, a)
	}
	if len(out) == 0 {
		out = append(out, "x86_64")
	}
	return out
}

// resolvePaths implements spec §4.6 step 3: for every package with a
// PackageInfo.FileName, resolve localPkgDir/fileName, then the configured
// cache dirs, then queue a download from the package's owning database's
// first mirror (or canonicalize a file:-URL mirror).
func (a *ReloadLibraryDependencies) resolvePaths(dbs []*pkgdata.Database, pkgs []*pkgdata.Package, session *mirrorfetch.CachingSession) map[string]string {
	paths := make(map[string]string, len(pkgs))

	for _, p := range pkgs {
		if p.PackageInfo == nil || p.PackageInfo.FileName == "" {
			continue
		}
		var db *pkgdata.Database
		for _, candidate := range dbs {
			if _, ok := candidate.Package(p.Name); ok {
				db = candidate
				break
			}
		}
		if db == nil {
			continue
		}
		resolved, _ := session.ResolveChecked(p.PackageInfo.FileName, db.LocalPkgDir, a.Config.PackageCacheDirs, db.Mirrors, p.PackageInfo.Checksum)
		paths[p.Name] = resolved
	}
	return paths
}

type parsedPackage struct {
	pkg   *pkgdata.Package
	mtime time.Time
}

// parseInParallel implements spec §4.6 step 5: hardware_concurrency()
// worker goroutines plus the calling goroutine's work, pulling the next
// package under a shared mutex and parsing it via WalkThroughArchive.
// Per-package errors are appended under a separate mutex; the abort flag is
// honored between packages.
func (a *ReloadLibraryDependencies) parseInParallel(ctx context.Context, sess *Session, pkgs []*pkgdata.Package, paths map[string]string, messages *buildaction.Messages) []parsedPackage {
	workers := a.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var iterMu sync.Mutex
	idx := 0
	next := func() (*pkgdata.Package, bool) {
		iterMu.Lock()
		defer iterMu.Unlock()
		if idx >= len(pkgs) {
			return nil, false
		}
		p := pkgs[idx]
		idx++
		return p, true
	}

	var msgMu sync.Mutex
	var resultsMu sync.Mutex
	var results []parsedPackage

	worker := func() {
		for {
			if sess.IsAborted() {
				return
			}
			p, ok := next()
			if !ok {
				return
			}
			path, ok := paths[p.Name]
			if !ok {
				continue
			}
			fi, err := os.Stat(path)
			if err != nil {
				msgMu.Lock()
				messages.Errors = append(messages.Errors, fmt.Sprintf("%s: %v", p.Name, err))
				msgMu.Unlock()
				continue
			}

			parsed := pkgdata.NewPackage(p.Name)
			parsed.PackageInfo = &pkgdata.PackageInfo{FileName: p.PackageInfo.FileName}
			err = pkgdata.WalkThroughArchive(path, pkgInfoOrBinaryFilter, func(name string, content []byte) error {
				return onArchiveFile(parsed, name, content)
			}, nil)
			if err != nil {
				msgMu.Lock()
				messages.Errors = append(messages.Errors, fmt.Sprintf("%s: %v", p.Name, err))
				msgMu.Unlock()
				continue
			}
			if warnings := pkgdata.ReconcileImportLibs(parsed); len(warnings) > 0 {
				msgMu.Lock()
				messages.Warnings = append(messages.Warnings, warnings...)
				msgMu.Unlock()
			}
			parsed.Origin = pkgdata.OriginPackageContents

			resultsMu.Lock()
			results = append(results, parsedPackage{pkg: parsed, mtime: fi.ModTime()})
			resultsMu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); worker() }()
	}
	worker() // the calling goroutine also pulls work, per spec §4.6 step 5
	wg.Wait()

	return results
}

// pkgInfoOrBinaryFilter accepts every regular file: binaries are identified
// by magic number rather than name, and .PKGINFO is matched by base name in
// onArchiveFile, so no name-based filtering happens here.
func pkgInfoOrBinaryFilter(name string) bool {
	return true
}

func onArchiveFile(p *pkgdata.Package, name string, content []byte) error {
	if filepath.Base(name) == ".PKGINFO" {
		pkgdata.ParsePkgInfo(p, content)
		return nil
	}
	return pkgdata.ProcessContainedFile(p, name, content)
}
