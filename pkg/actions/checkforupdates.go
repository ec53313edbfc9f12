package actions

import (
	"context"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// CheckForUpdates wraps Database.CheckForUpdates as a first-class build
// action (§12.3): destinationDbs[0] is the database being checked, sourceDbs
// are the databases its packages are checked against.
type CheckForUpdates struct {
	Config *pkgdata.Config
}

// Run implements Runner.
func (a *CheckForUpdates) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
	sourceNames := append([]string(nil), action.SourceDbs...)
	action.Unlock()

	if len(destNames) != 1 {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "not exactly one destination database specified"})
		return
	}

	a.Config.RWMu.RLock()
	db := a.Config.FindDatabase(destNames[0], "")
	var sources []*pkgdata.Database
	for _, name := range sourceNames {
		if src := a.Config.FindDatabase(name, ""); src != nil {
			sources = append(sources, src)
		}
	}
	a.Config.RWMu.RUnlock()

	if db == nil {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "unknown destination database"})
		return
	}

	updates := db.CheckForUpdates(sources)
	sess.Conclude(buildaction.ResultSuccess, buildaction.ResultData{UpdateList: updates})
}
