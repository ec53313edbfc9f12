package actions

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/buildaction"
)

// Runner is this package's refinement of buildaction.Runner: every action
// implementation here is handed a *Session (a buildaction.Session plus a
// logger) rather than the bare engine type.
type Runner interface {
	Run(ctx context.Context, action *buildaction.BuildAction, sess *Session)
}

// Adapter makes a Runner satisfy buildaction.Runner, injecting Logger into
// every Session it builds.
type Adapter struct {
	Inner  Runner
	Logger hclog.Logger
}

// Run implements buildaction.Runner.
func (a Adapter) Run(ctx context.Context, action *buildaction.BuildAction, sess *buildaction.Session) {
	a.Inner.Run(ctx, action, NewSession(sess, a.Logger))
}

// Session bundles a buildaction.Session with an hclog.Logger, so actions
// can hand a logger to collaborators (mirrorfetch.CachingSession,
// pkg/gitsrc, pkg/scheduler) without those packages depending on
// pkg/buildaction.
type Session struct {
	*buildaction.Session
	Logger hclog.Logger
}

// NewSession wraps an engine-provided buildaction.Session for use by this
// package's Runner implementations.
func NewSession(s *buildaction.Session, l hclog.Logger) *Session {
	return &Session{Session: s, Logger: l}
}
