package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// NewScheduler returns a Scheduler dispatching through c.
func NewScheduler(l hclog.Logger, c CapacityProvider) *Scheduler {
	return &Scheduler{
		l:                l.Named("scheduler"),
		capacityProvider: c,
		queueMutex:       new(sync.Mutex),
	}
}

// Enqueue adds job to the dispatch queue.
func (s *Scheduler) Enqueue(job ChrootJob) {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()
	s.queue = append(s.queue, job)
}

// send pops a job off the queue and hands it to the CapacityProvider. If
// dispatch fails (typically ErrNoCapacity), the job is put back at the
// front of the queue for the next attempt.
func (s *Scheduler) send() error {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()

	if len(s.queue) == 0 {
		return errors.New("scheduler: queue is empty")
	}
	job := s.queue[0]
	if err := s.capacityProvider.DispatchBuild(job); err != nil {
		s.l.Trace("unable to dispatch right now", "job", job, "error", err)
		return err
	}
	s.l.Trace("dispatched", "job", job)
	s.queue = s.queue[1:]
	return nil
}

// QueueDepth returns the number of jobs currently queued.
func (s *Scheduler) QueueDepth() int {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()
	return len(s.queue)
}

// Wait blocks until job no longer appears in the CapacityProvider's
// ListBuilds, polling every two seconds. Callers (ConductBuild, when
// dispatching its chroot phase through a Scheduler instead of running
// makechrootpkg directly) use this to turn the push-based Enqueue API
// back into a synchronous call.
func (s *Scheduler) Wait(ctx context.Context, job ChrootJob) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		builds, err := s.capacityProvider.ListBuilds()
		if err != nil {
			return err
		}
		running := false
		for _, b := range builds {
			if b.Equal(&job) {
				running = true
				break
			}
		}
		if !running {
			return nil
		}
	}
}

// Run drains the queue until ctx is canceled, backing off briefly whenever
// dispatch fails for lack of capacity.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.send(); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}
