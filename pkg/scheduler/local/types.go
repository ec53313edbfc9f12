package local

import (
	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/scheduler"
)

// Local is a capacity provider that runs one makechrootpkg build at a
// time on the local host.
type Local struct {
	l       hclog.Logger
	ongoing *scheduler.ChrootJob
}
