package local

import (
	"os/exec"

	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/scheduler"
)

func init() {
	scheduler.RegisterInitCallback(cb)
}

func cb() {
	scheduler.RegisterCapacityFactory("local", New)
}

// New returns a local capacity provider that runs makechrootpkg directly
// on the host. This provider has a hard capacity of one and exists
// mostly to make testing and small deployments easy without standing up
// a Nomad cluster.
func New(l hclog.Logger) (scheduler.CapacityProvider, error) {
	return &Local{l: l.Named("capacityProvider")}, nil
}

// SetSlots is a no-op here; this provider's capacity is fixed at one.
func (c *Local) SetSlots(map[string]int) {}

func (c *Local) runChrootJob(job scheduler.ChrootJob, cmd *exec.Cmd) {
	output, err := cmd.CombinedOutput()
	c.ongoing = nil
	if err != nil {
		c.l.Warn("chroot build failed", "package", job.PackageName, "error", err)
		return
	}
	c.l.Trace("chroot build output", "package", job.PackageName, "output", string(output))
}

// DispatchBuild runs makechrootpkg for job's package, refusing if a build
// is already in progress.
func (c *Local) DispatchBuild(job scheduler.ChrootJob) error {
	if c.ongoing != nil {
		return new(scheduler.ErrNoCapacity)
	}
	c.ongoing = &job

	args := []string{"-r", job.ChrootDir}
	if job.ChrootUser != "" {
		args = append(args, "-U", job.ChrootUser)
	}
	cmd := exec.Command("makechrootpkg", args...)
	cmd.Dir = job.WorkingDir

	c.l.Debug("dispatching chroot build", "package", job.PackageName, "arch", job.Arch, "dir", job.WorkingDir)
	go c.runChrootJob(job, cmd)

	return nil
}

// ListBuilds returns the currently in progress build, if one exists.
func (c *Local) ListBuilds() ([]scheduler.ChrootJob, error) {
	if c.ongoing == nil {
		return nil, nil
	}
	return []scheduler.ChrootJob{*c.ongoing}, nil
}
