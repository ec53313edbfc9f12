package actions

import (
	"context"
	"strings"

	"github.com/archrepod/buildsvc/pkg/buildaction"
)

// CustomCommand runs a single shell command inside a configured working
// directory, logging combined output to "the.log" (§12.1, grounded on
// original_source/librepomgr/buildactions/customcommand.cpp).
type CustomCommand struct {
	Shell string // defaults to "/bin/sh" when empty
}

// Run implements Runner.
func (a *CustomCommand) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	directory := action.Directory
	command := action.Settings["command"]
	action.Unlock()

	if strings.TrimSpace(directory) == "" {
		sess.LogError("the", "No directory specified.")
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "No directory specified."})
		return
	}

	shell := a.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	res := buildaction.RunProcess(ctx, sess.Session, "the", directory, shell, 0, "-c", command)
	if res.Err != nil || res.ExitCode != 0 {
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "custom command failed"})
		return
	}
	sess.Conclude(buildaction.ResultSuccess, buildaction.ResultData{})
}
