package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// RemovePackages implements spec §4.9's RemovePackages: invoke repo-remove,
// then archive the removed files, all-or-nothing per package.
type RemovePackages struct {
	Config *pkgdata.Config
}

// Run implements Runner.
func (a *RemovePackages) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
	names := append([]string(nil), action.PackageNames...)
	action.Unlock()

	if len(destNames) != 1 {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "not exactly one destination database specified"})
		return
	}

	a.Config.RWMu.Lock()
	defer a.Config.RWMu.Unlock()

	db := a.Config.FindDatabase(destNames[0], "")
	if db == nil {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "unknown destination database"})
		return
	}

	messages := &buildaction.Messages{}
	archiveDir := filepath.Join(db.LocalPkgDir, "archive")

	for _, name := range names {
		if sess.IsAborted() {
			break
		}
		pkg, ok := db.Package(name)
		if !ok || pkg.PackageInfo == nil || pkg.PackageInfo.FileName == "" {
			messages.Errors = append(messages.Errors, fmt.Sprintf("%s: not present or has no known file name", name))
			continue
		}

		_, exists, storageLocation, err := db.LocatePackage(pkg.PackageInfo.FileName)
		if err != nil {
			messages.Errors = append(messages.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		dbFile := db.Name + ".db.tar.zst"
		res := buildaction.RunProcess(ctx, sess.Session, "repo-remove", db.LocalPkgDir, "repo-remove", 0, dbFile, name)
		if res.Err != nil || res.ExitCode != 0 {
			messages.Errors = append(messages.Errors, fmt.Sprintf("%s: repo-remove: exit %d", name, res.ExitCode))
			continue
		}

		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			messages.Errors = append(messages.Errors, fmt.Sprintf("%s: archiving: %v", name, err))
			continue
		}

		if exists {
			if err := archiveOne(pkg.PackageInfo.FileName, db.LocalPkgDir, archiveDir); err != nil {
				messages.Errors = append(messages.Errors, fmt.Sprintf("%s: archiving: %v", name, err))
				continue
			}
		}
		if storageLocation != "" {
			if err := archiveOne(filepath.Base(storageLocation), filepath.Dir(storageLocation), archiveDir); err != nil {
				messages.Errors = append(messages.Errors, fmt.Sprintf("%s: archiving storage location: %v", name, err))
				continue
			}
		}

		db.RemovePackage(name)
	}

	result := buildaction.ResultSuccess
	if len(messages.Errors) > 0 {
		result = buildaction.ResultFailure
	}
	sess.Conclude(result, buildaction.ResultData{Messages: messages})
}

// archiveOne moves fileName from fromDir into archiveDir.
func archiveOne(fileName, fromDir, archiveDir string) error {
	return os.Rename(filepath.Join(fromDir, fileName), filepath.Join(archiveDir, fileName))
}

// MovePackages implements spec §4.9's MovePackages: copy the file (preserving
// relative symlink shape) to the destination repo, then repo-add at
// destination and repo-remove at source concurrently; only delete the
// source file once both succeed.
type MovePackages struct {
	Config *pkgdata.Config
}

// Run implements Runner.
func (a *MovePackages) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	sourceNames := append([]string(nil), action.SourceDbs...)
	destNames := append([]string(nil), action.DestinationDbs...)
	names := append([]string(nil), action.PackageNames...)
	action.Unlock()

	if len(sourceNames) != 1 || len(destNames) != 1 {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "not exactly one source and destination database specified"})
		return
	}

	a.Config.RWMu.Lock()
	defer a.Config.RWMu.Unlock()

	srcDb := a.Config.FindDatabase(sourceNames[0], "")
	dstDb := a.Config.FindDatabase(destNames[0], "")
	if srcDb == nil || dstDb == nil {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "unknown source or destination database"})
		return
	}

	messages := &buildaction.Messages{}

	for _, name := range names {
		if sess.IsAborted() {
			break
		}
		if err := a.moveOne(ctx, sess, srcDb, dstDb, name); err != nil {
			messages.Errors = append(messages.Errors, fmt.Sprintf("%s: %v", name, err))
		}
	}

	result := buildaction.ResultSuccess
	if len(messages.Errors) > 0 {
		result = buildaction.ResultFailure
	}
	sess.Conclude(result, buildaction.ResultData{Messages: messages})
}

func (a *MovePackages) moveOne(ctx context.Context, sess *Session, srcDb, dstDb *pkgdata.Database, name string) error {
	pkg, ok := srcDb.Package(name)
	if !ok || pkg.PackageInfo == nil || pkg.PackageInfo.FileName == "" {
		return fmt.Errorf("not present in source database or has no known file name")
	}
	fileName := pkg.PackageInfo.FileName

	srcPath := filepath.Join(srcDb.LocalPkgDir, fileName)
	dstPath := filepath.Join(dstDb.LocalPkgDir, fileName)

	fi, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("locating source file: %w", err)
	}
	if err := os.MkdirAll(dstDb.LocalPkgDir, 0o755); err != nil {
		return err
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("reading symlink: %w", err)
		}
		if filepath.IsAbs(target) {
			return fmt.Errorf("absolute symlink target not supported: %s", target)
		}
		if err := os.Symlink(target, dstPath); err != nil {
			return fmt.Errorf("recreating symlink: %w", err)
		}
	} else {
		if err := copyFile(srcPath, dstPath); err != nil {
			return fmt.Errorf("copying file: %w", err)
		}
	}

	dstDbFile := dstDb.Name + ".db.tar.zst"
	srcDbFile := srcDb.Name + ".db.tar.zst"

	var addErr, removeErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res := buildaction.RunProcess(ctx, sess.Session, "repo-add", dstDb.LocalPkgDir, "repo-add", 0, dstDbFile, dstPath)
		if res.Err != nil || res.ExitCode != 0 {
			addErr = fmt.Errorf("repo-add: exit %d", res.ExitCode)
		}
	}()
	go func() {
		defer wg.Done()
		res := buildaction.RunProcess(ctx, sess.Session, "repo-remove", srcDb.LocalPkgDir, "repo-remove", 0, srcDbFile, name)
		if res.Err != nil || res.ExitCode != 0 {
			removeErr = fmt.Errorf("repo-remove: exit %d", res.ExitCode)
		}
	}()
	wg.Wait()

	if addErr != nil {
		return addErr
	}
	if removeErr != nil {
		return removeErr
	}

	// Only the source file is removed; a storage-location target (if any) is
	// left intact, since other databases may still link to it.
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("removing source file: %w", err)
	}

	srcDb.RemovePackage(name)
	dstDb.UpdatePackage(pkg)
	return nil
}
