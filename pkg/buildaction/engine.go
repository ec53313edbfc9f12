package buildaction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Runner is implemented by every internal action (ReloadLibraryDependencies,
// PrepareBuild, ConductBuild, PackageMovement, CleanRepository,
// CustomCommand, ReloadDatabase, CheckForUpdates). Run is handed the action
// it is executing and a Session for logging/abort-checking/process
// supervision, and must eventually call Session.Conclude exactly once.
type Runner interface {
	Run(ctx context.Context, action *BuildAction, sess *Session)
}

// Engine is the build-action engine (spec §4.5): it owns the action table
// (protected by the "Building" reader-writer lock per spec §5), assigns
// monotone ids, and drives each action from Enqueued to Running once its
// StartAfter dependencies have reached a terminal state.
type Engine struct {
	buildingMu sync.RWMutex
	actions    map[uint64]*BuildAction
	aborted    map[uint64]*int32

	runners map[Type]Runner

	nextID uint64

	workingDirectory string
	log              hclog.Logger

	shuttingDown int32
}

// NewEngine returns an Engine rooted at workingDirectory (spec §5: every
// action's directory is "<workingDirectory>/build-data/<action.directory>/").
func NewEngine(workingDirectory string, l hclog.Logger) *Engine {
	return &Engine{
		actions:          make(map[uint64]*BuildAction),
		aborted:          make(map[uint64]*int32),
		runners:          make(map[Type]Runner),
		workingDirectory: workingDirectory,
		log:              l.Named("buildaction.engine"),
	}
}

// RegisterRunner associates a Runner with the action type it implements.
// Mirrors the teacher's factory-registration idiom (pkg/storage.RegisterFactory).
func (e *Engine) RegisterRunner(t Type, r Runner) {
	e.runners[t] = r
}

// Create returns a fresh BuildAction of type t in status Created, with a
// monotone id and a uuid-suffixed working directory.
func (e *Engine) Create(t Type, taskName string) *BuildAction {
	id := atomic.AddUint64(&e.nextID, 1)
	a := &BuildAction{
		ID:       id,
		TaskName: taskName,
		Type:     t,
		Status:   StatusCreated,
		Created:  time.Now(),
		Settings: make(map[string]string),
		Directory: fmt.Sprintf("action-%d-%s", id, uuid.NewString()),
	}

	e.buildingMu.Lock()
	e.actions[id] = a
	flag := int32(0)
	e.aborted[id] = &flag
	e.buildingMu.Unlock()

	return a
}

// Get returns the action with id, if present.
func (e *Engine) Get(id uint64) (*BuildAction, bool) {
	e.buildingMu.RLock()
	defer e.buildingMu.RUnlock()
	a, ok := e.actions[id]
	return a, ok
}

// List returns a snapshot of every known action.
func (e *Engine) List() []*BuildAction {
	e.buildingMu.RLock()
	defer e.buildingMu.RUnlock()
	out := make([]*BuildAction, 0, len(e.actions))
	for _, a := range e.actions {
		out = append(out, a)
	}
	return out
}

// Enqueue transitions action to Enqueued and schedules it: the engine moves
// it to Running once every id in StartAfter reaches a terminal Result, or
// immediately if StartAfter is empty.
func (e *Engine) Enqueue(ctx context.Context, action *BuildAction) error {
	action.mu.Lock()
	if action.Status != StatusCreated {
		action.mu.Unlock()
		return fmt.Errorf("action %d: cannot enqueue from status %s", action.ID, action.Status)
	}
	action.Status = StatusEnqueued
	action.mu.Unlock()

	go e.awaitDependenciesThenRun(ctx, action)
	return nil
}

func (e *Engine) awaitDependenciesThenRun(ctx context.Context, action *BuildAction) {
	for _, dep := range action.StartAfter {
		for {
			if atomic.LoadInt32(&e.shuttingDown) != 0 {
				return
			}
			depAction, ok := e.Get(dep)
			if !ok {
				e.log.Warn("startAfter dependency vanished", "action", action.ID, "dependsOn", dep)
				break
			}
			depAction.mu.Lock()
			terminal := depAction.Status == StatusFinished && depAction.Result.IsTerminal()
			depAction.mu.Unlock()
			if terminal {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	if atomic.LoadInt32(&e.shuttingDown) != 0 {
		return
	}
	e.run(ctx, action)
}

func (e *Engine) run(ctx context.Context, action *BuildAction) {
	runner, ok := e.runners[action.Type]
	if !ok {
		e.conclude(action, ResultFailure, ResultData{Message: "no runner registered for this action type"})
		return
	}

	action.mu.Lock()
	action.Status = StatusRunning
	action.Started = time.Now()
	action.mu.Unlock()

	sess := newSession(e, action)
	runner.Run(ctx, action, sess)
}

// conclude sets result/resultData/finished, releases any conclude
// callback, and marks the action Finished. Called exactly once per action,
// from Session.Conclude.
func (e *Engine) conclude(action *BuildAction, result Result, data ResultData) {
	action.mu.Lock()
	action.Result = result
	action.ResultData = data
	action.Finished = time.Now()
	action.Status = StatusFinished
	cb := action.onConclude
	action.mu.Unlock()

	if cb != nil {
		cb(action)
	}
}

// Abort sets id's abort flag; the running (or not-yet-running) action must
// observe it at its own cooperative cancellation points.
func (e *Engine) Abort(id uint64) error {
	e.buildingMu.RLock()
	flag, ok := e.aborted[id]
	e.buildingMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown action %d", id)
	}
	atomic.StoreInt32(flag, 1)
	return nil
}

// isAborted reports whether id's abort flag has been set.
func (e *Engine) isAborted(id uint64) bool {
	e.buildingMu.RLock()
	flag, ok := e.aborted[id]
	e.buildingMu.RUnlock()
	return ok && atomic.LoadInt32(flag) != 0
}

// Shutdown stops the engine from starting any further actions;
// already-running actions are left to finish or be aborted by the caller.
func (e *Engine) Shutdown() {
	atomic.StoreInt32(&e.shuttingDown, 1)
}

// WorkingDirectory returns the engine's configured root working directory.
func (e *Engine) WorkingDirectory() string {
	return e.workingDirectory
}
