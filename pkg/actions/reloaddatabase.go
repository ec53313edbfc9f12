package actions

import (
	"context"
	"fmt"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// ReloadDatabase re-reads a database's .db/.files tar pair from disk and
// replaces the in-memory index (§12.2, original's buildactionmeta.cpp).
type ReloadDatabase struct {
	Config *pkgdata.Config
}

// Run implements Runner.
func (a *ReloadDatabase) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
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

	if err := db.LoadPackages(); err != nil {
		sess.LogError("", err.Error())
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
		return
	}

	sess.LogSuccess("", fmt.Sprintf("reloaded %s: %d packages", db.Name, len(db.Packages())))
	sess.Conclude(buildaction.ResultSuccess, buildaction.ResultData{})
}
