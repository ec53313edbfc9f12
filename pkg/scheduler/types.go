// Package scheduler dispatches ConductBuild's chroot-build phase (spec
// §4.8 step 1.c) to a CapacityProvider — locally via os/exec, or to a
// cluster via Nomad — instead of ConductBuild always invoking
// makechrootpkg itself. Adapted from the teacher's pkg/scheduler, which
// dispatched xbps-src builds the same way.
package scheduler

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// A ChrootJob is everything a CapacityProvider needs to run one package's
// makechrootpkg phase on behalf of a ConductBuild action.
type ChrootJob struct {
	ActionID    uint64
	Arch        string
	PackageName string
	WorkingDir  string
	ChrootDir   string
	ChrootUser  string
}

// CapacityProviders are a way for chroot build jobs to be dispatched.
type CapacityProvider interface {
	DispatchBuild(ChrootJob) error
	ListBuilds() ([]ChrootJob, error)
	SetSlots(map[string]int)
}

// Scheduler queues ChrootJobs and dispatches them through a CapacityProvider
// as capacity allows.
type Scheduler struct {
	l hclog.Logger

	queue      []ChrootJob
	queueMutex *sync.Mutex

	capacityProvider CapacityProvider
}
