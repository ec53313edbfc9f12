package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
	"github.com/archrepod/buildsvc/pkg/scheduler"
)

// ConductBuild drives makepkg/makechrootpkg/repo-add for the batches a prior
// PrepareBuild run laid out, persisting progress after every package so a
// restarted engine can resume (spec §4.8).
type ConductBuild struct {
	Config   *pkgdata.Config
	RepoRoot string // root containing "<db>/os/<arch>/" and "<db>/os/src/"

	// Scheduler, if set, dispatches the makechrootpkg phase through a
	// CapacityProvider (local os/exec or a Nomad cluster) instead of
	// running it inline. Nil means run makechrootpkg directly.
	Scheduler *scheduler.Scheduler
}

// Run implements Runner.
func (a *ConductBuild) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
	chrootDir := action.Settings["chrootDir"]
	chrootUser := action.Settings["chrootUser"]
	buildAsFarAsPossible := action.Flags.Has(buildaction.FlagBuildAsFarAsPossible)
	saveChrootOfFailures := action.Flags.Has(buildaction.FlagSaveChrootOfFailures)
	updateChecksums := action.Flags.Has(buildaction.FlagUpdateChecksums)
	autoStaging := action.Flags.Has(buildaction.FlagAutoStaging)
	action.Unlock()

	if len(destNames) != 1 {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "not exactly one destination database specified"})
		return
	}

	wd := sess.WorkingDirectory()
	prep := &buildaction.BuildPreparation{}
	if err := readJSON(filepath.Join(wd, "build-preparation.json"), prep); err != nil {
		sess.LogError("", err.Error())
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
		return
	}

	progress := &buildaction.BuildProgress{Finished: make(map[string]bool), Failed: make(map[string]string), AddedToRepo: make(map[string]bool)}
	progressPath := filepath.Join(wd, "build-progress.json")
	if _, err := os.Stat(progressPath); err == nil {
		_ = readJSON(progressPath, progress) // step 4: resume from last persisted progress
	}
	if progress.Finished == nil {
		progress.Finished = make(map[string]bool)
	}
	if progress.Failed == nil {
		progress.Failed = make(map[string]string)
	}
	if progress.AddedToRepo == nil {
		progress.AddedToRepo = make(map[string]bool)
	}

	a.Config.RWMu.RLock()
	db := a.Config.FindDatabase(destNames[0], "")
	a.Config.RWMu.RUnlock()
	if db == nil {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "unknown destination database"})
		return
	}

	var builtThisRun []*pkgdata.Package

batches:
	for _, batch := range prep.Batches {
		batchFailed := false
		for _, pkgname := range batch {
			if sess.IsAborted() {
				sess.Conclude(buildaction.ResultAborted, buildaction.ResultData{BuildProgress: progress})
				return
			}
			if progress.Finished[pkgname] {
				continue
			}

			built, err := a.buildOne(ctx, sess, db, pkgname, action.ID, chrootDir, chrootUser, updateChecksums, saveChrootOfFailures)
			progress.Finished[pkgname] = true
			if err != nil {
				progress.Failed[pkgname] = err.Error()
				batchFailed = true
				sess.LogError("", fmt.Sprintf("%s: %v", pkgname, err))
			} else {
				builtThisRun = append(builtThisRun, built)
			}
			persistProgress(sess, progressPath, progress)
		}

		if batchFailed && !buildAsFarAsPossible {
			break batches
		}
	}

	// step 3: AutoStaging rebuild-list computation, before repo-add.
	var rebuildList map[string][]string
	targetDb := db
	if autoStaging && len(builtThisRun) > 0 {
		rebuildList = computeRebuildList(a.Config, db, builtThisRun)
		if len(rebuildList) > 0 {
			a.Config.RWMu.RLock()
			staging := a.Config.FindDatabase(destNames[0]+"-staging", db.Arch)
			a.Config.RWMu.RUnlock()
			if staging != nil {
				targetDb = staging
			}
			progress.RebuildList = rebuildList
		}
	}

	for _, built := range builtThisRun {
		if err := a.addToRepo(ctx, sess, targetDb, built); err != nil {
			sess.LogError("repo-add", err.Error())
			progress.Failed[built.Name] = err.Error()
			continue
		}
		progress.AddedToRepo[built.Name] = true
	}
	persistProgress(sess, progressPath, progress)

	result := buildaction.ResultSuccess
	if len(progress.Failed) > 0 {
		result = buildaction.ResultFailure
	}
	sess.Conclude(result, buildaction.ResultData{BuildProgress: progress})
}

// buildOne runs the per-package pipeline of spec §4.8 step 1: makepkg
// source-fetch, optional updpkgsums, makechrootpkg, and output verification.
func (a *ConductBuild) buildOne(ctx context.Context, sess *Session, db *pkgdata.Database, pkgname string, actionID uint64, chrootDir, chrootUser string, updateChecksums, saveChrootOfFailures bool) (*pkgdata.Package, error) {
	pkgDir := filepath.Join(sess.WorkingDirectory(), pkgname)
	srcDir := filepath.Join(pkgDir, "src")

	res := buildaction.RunProcess(ctx, sess.Session, "download", srcDir, "makepkg", 0, "-f", "--nodeps", "--nobuild", "--source")
	if res.Err != nil || res.ExitCode != 0 {
		return nil, fmt.Errorf("makepkg --source: exit %d: %w", res.ExitCode, res.Err)
	}

	if updateChecksums {
		res = buildaction.RunProcess(ctx, sess.Session, "updpkgsums", srcDir, "updpkgsums", 0)
		if res.Err != nil || res.ExitCode != 0 {
			return nil, fmt.Errorf("updpkgsums: exit %d: %w", res.ExitCode, res.Err)
		}
	}

	// step 1.d: the source tarball must exist before the chroot build runs.
	if srcTarballs, err := filepath.Glob(filepath.Join(srcDir, pkgname+"-*.src.tar.*")); err != nil || len(srcTarballs) == 0 {
		return nil, fmt.Errorf("expected source tarball not found under %s", srcDir)
	}

	chrootArchDir := filepath.Join(chrootDir, "arch-"+db.Arch)
	if a.Scheduler != nil {
		job := scheduler.ChrootJob{
			ActionID:    actionID,
			Arch:        db.Arch,
			PackageName: pkgname,
			WorkingDir:  srcDir,
			ChrootDir:   chrootArchDir,
			ChrootUser:  chrootUser,
		}
		a.Scheduler.Enqueue(job)
		sess.LogInfo("build", fmt.Sprintf("%s: dispatched chroot build through scheduler", pkgname))
		if err := a.Scheduler.Wait(ctx, job); err != nil {
			if saveChrootOfFailures {
				a.saveFailedChroot(sess, pkgDir, pkgname)
			}
			return nil, fmt.Errorf("scheduled chroot build: %w", err)
		}
	} else {
		res = buildaction.RunProcess(ctx, sess.Session, "build", srcDir, "makechrootpkg",
			0, "-c", "-u", "-C", "-r", chrootArchDir, "-l", chrootUser, "--")
		if res.Err != nil || res.ExitCode != 0 {
			if saveChrootOfFailures {
				a.saveFailedChroot(sess, pkgDir, pkgname)
			}
			return nil, fmt.Errorf("makechrootpkg: exit %d: %w", res.ExitCode, res.Err)
		}
	}

	// step 1.d: exactly one binary package per declared subpackage name.
	outputs, err := filepath.Glob(filepath.Join(pkgDir, "pkg", pkgname+"-*.pkg.tar.*"))
	if err != nil || len(outputs) != 1 {
		return nil, fmt.Errorf("expected exactly one build output for %s under %s/pkg, found %d", pkgname, pkgDir, len(outputs))
	}

	checksum, err := pkgdata.ComputeChecksum(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("checksumming build output: %w", err)
	}

	// Parse the built archive so Libprovides/Libdepends reflect what this
	// build actually produced (mirrors reloadlibrarydeps.go's pattern),
	// which is what computeRebuildList's AutoStaging check depends on.
	built := pkgdata.NewPackage(pkgname)
	if err := pkgdata.WalkThroughArchive(outputs[0], pkgInfoOrBinaryFilter, func(name string, content []byte) error {
		return onArchiveFile(built, name, content)
	}, nil); err != nil {
		return nil, fmt.Errorf("parsing build output %s: %w", outputs[0], err)
	}
	if warnings := pkgdata.ReconcileImportLibs(built); len(warnings) > 0 {
		for _, w := range warnings {
			sess.LogWarning("", w)
		}
	}
	built.Origin = pkgdata.OriginPackageContents

	if built.PackageInfo == nil {
		built.PackageInfo = &pkgdata.PackageInfo{}
	}
	built.PackageInfo.FileName = filepath.Base(outputs[0])
	built.PackageInfo.Arch = db.Arch
	built.PackageInfo.BuildDate = time.Now()
	built.PackageInfo.Checksum = checksum
	return built, nil
}

// saveFailedChroot implements spec §4.8's failure-preservation behavior:
// rename the working directory aside with a timestamp suffix instead of
// letting the next run overwrite it.
func (a *ConductBuild) saveFailedChroot(sess *Session, pkgDir, pkgname string) {
	failedDir := fmt.Sprintf("%s.failed.%s", pkgDir, time.Now().Format(time.RFC3339Nano))
	if err := os.Rename(pkgDir, failedDir); err != nil {
		sess.LogWarning("", fmt.Sprintf("%s: could not save failed chroot copy: %v", pkgname, err))
	}
}

// addToRepo implements spec §4.8 step 1.e: copy outputs into the destination
// repo directory and invoke repo-add.
func (a *ConductBuild) addToRepo(ctx context.Context, sess *Session, db *pkgdata.Database, pkg *pkgdata.Package) error {
	destDir := filepath.Join(a.RepoRoot, db.Name, "os", db.Arch)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	srcPath := filepath.Join(sess.WorkingDirectory(), pkg.Name, "pkg", pkg.PackageInfo.FileName)
	destPath := filepath.Join(destDir, pkg.PackageInfo.FileName)
	if err := copyFile(srcPath, destPath); err != nil {
		return err
	}

	dbFile := db.Name + ".db.tar.zst"
	res := buildaction.RunProcess(ctx, sess.Session, "repo-add", destDir, "repo-add", 0, dbFile, destPath)
	if res.Err != nil || res.ExitCode != 0 {
		return fmt.Errorf("repo-add: exit %d: %w", res.ExitCode, res.Err)
	}
	return nil
}

// sonameBase strips the version suffix from an "elf-<arch>::<soname>" or
// "pe-<cpu>::<dll>" libprovides/libdepends key, keeping everything through
// ".so" (e.g. "elf-x86_64::libboost_regex.so.1.73.0" ->
// "elf-x86_64::libboost_regex.so"). Keys without ".so" (pe-* DLL names) are
// returned unchanged, since they carry no comparable version suffix.
func sonameBase(lib string) string {
	if idx := strings.Index(lib, ".so"); idx >= 0 {
		return lib[:idx+len(".so")]
	}
	return lib
}

// computeRebuildList implements spec §4.8 step 3: packages in cfg that
// currently depend on a libprovides the newly built packages replace at a
// different soname version. A consumer already depending on the exact
// version just built needs no rebuild.
func computeRebuildList(cfg *pkgdata.Config, db *pkgdata.Database, built []*pkgdata.Package) map[string][]string {
	provided := make(map[string]map[string]bool) // soname base -> full versioned keys just built
	for _, p := range built {
		for _, lib := range p.Libprovides {
			base := sonameBase(lib)
			if provided[base] == nil {
				provided[base] = make(map[string]bool)
			}
			provided[base][lib] = true
		}
	}
	if len(provided) == 0 {
		return nil
	}

	rebuild := make(map[string][]string)
	for _, p := range db.Packages() {
		for _, lib := range p.Libdepends {
			base := sonameBase(lib)
			versions, ok := provided[base]
			if !ok || versions[lib] {
				continue
			}
			rebuild[base] = append(rebuild[base], p.Name)
		}
	}
	if len(rebuild) == 0 {
		return nil
	}
	return rebuild
}

func persistProgress(sess *Session, path string, progress *buildaction.BuildProgress) {
	if err := writeJSON(path, progress); err != nil {
		sess.LogWarning("", fmt.Sprintf("persisting build-progress.json: %v", err))
	}
}

func readJSON(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
