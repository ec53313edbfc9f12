package nomad

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/nomad/api"

	"github.com/archrepod/buildsvc/pkg/scheduler"
)

type nomadProvider struct {
	l hclog.Logger
	c *api.Client

	slots map[string]int
}

func init() {
	scheduler.RegisterInitCallback(cb)
}

func cb() {
	scheduler.RegisterCapacityFactory("nomad", New)
}

// New returns a wrapper around a nomad client that implements the
// scheduler's CapacityProvider interface, dispatching ConductBuild's
// chroot phase as parameterized Nomad batch jobs.
func New(l hclog.Logger) (scheduler.CapacityProvider, error) {
	c, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, err
	}

	x := &nomadProvider{
		l:     l.Named("nomad"),
		c:     c,
		slots: make(map[string]int),
	}
	return x, nil
}

func (n *nomadProvider) DispatchBuild(job scheduler.ChrootJob) error {
	running, err := n.runningBuilds()
	if err != nil {
		return err
	}
	if running[job.Arch]+1 > n.slots[job.Arch] {
		return new(scheduler.ErrNoCapacity)
	}

	meta := chrootJobMeta(job)
	res, _, err := n.c.Jobs().Dispatch("makechrootpkg", meta, nil, nil)
	if err != nil {
		n.l.Warn("nomad dispatch error", "error", err)
		return err
	}
	n.l.Debug("dispatched chroot job", "package", job.PackageName, "arch", job.Arch, "eval", res.EvalID, "jid", res.DispatchedJobID)
	return nil
}

func (n *nomadProvider) ListBuilds() ([]scheduler.ChrootJob, error) {
	qopts := &api.QueryOptions{
		Prefix: "makechrootpkg/dispatch-",
	}
	jobs, _, err := n.c.Jobs().List(qopts)
	if err != nil {
		return nil, err
	}
	running := []string{}
	for _, job := range jobs {
		if job.Type != "batch" || (job.Status != "running" && job.Status != "pending") {
			continue
		}
		running = append(running, job.ID)
		n.l.Trace("searched jobs", "job", job)
	}
	builds := make([]scheduler.ChrootJob, 0, len(running))
	for _, jobID := range running {
		info, _, err := n.c.Jobs().Info(jobID, nil)
		if err != nil {
			continue
		}
		actionID, _ := strconv.ParseUint(info.Meta["action_id"], 10, 64)
		job := scheduler.ChrootJob{
			ActionID:    actionID,
			Arch:        info.Meta["arch"],
			PackageName: info.Meta["package"],
			WorkingDir:  info.Meta["working_dir"],
			ChrootDir:   info.Meta["chroot_dir"],
			ChrootUser:  info.Meta["chroot_user"],
		}
		builds = append(builds, job)
		n.l.Trace("found running chroot job", "build", job)
	}
	return builds, nil
}

func (n *nomadProvider) SetSlots(s map[string]int) {
	n.slots = s
}

func (n *nomadProvider) runningBuilds() (map[string]int, error) {
	counts := make(map[string]int)

	builds, err := n.ListBuilds()
	if err != nil {
		return nil, new(scheduler.ErrNoCapacity)
	}

	for _, b := range builds {
		counts[b.Arch]++
	}
	return counts, nil
}

func chrootJobMeta(job scheduler.ChrootJob) map[string]string {
	return map[string]string{
		"action_id":   fmt.Sprintf("%d", job.ActionID),
		"arch":        job.Arch,
		"package":     job.PackageName,
		"working_dir": job.WorkingDir,
		"chroot_dir":  job.ChrootDir,
		"chroot_user": job.ChrootUser,
	}
}
