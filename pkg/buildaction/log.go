package buildaction

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gookit/color"
)

// Session is handed to a Runner for the duration of one action's Run call:
// it bundles output logging, per-file log mirroring, abort-checking, and
// the completion sink (spec §4.5's log()/isAborted()/conclude()).
type Session struct {
	engine *Engine
	action *BuildAction

	logMu     sync.Mutex
	logFiles  map[string]*os.File
	workDir   string
}

func newSession(e *Engine, a *BuildAction) *Session {
	return &Session{
		engine:   e,
		action:   a,
		logFiles: make(map[string]*os.File),
		workDir:  filepath.Join(e.workingDirectory, "build-data", a.Directory),
	}
}

// WorkingDirectory returns this action's own working directory
// ("<workingDirectory>/build-data/<action.directory>/", spec §5).
func (s *Session) WorkingDirectory() string {
	return s.workDir
}

// EnsureWorkingDirectory creates the action's working directory if absent.
func (s *Session) EnsureWorkingDirectory() error {
	return os.MkdirAll(s.workDir, 0o755)
}

// Log appends msg to the action's output buffer and, if name is non-empty,
// mirrors it into the named per-session log file (e.g. "repo-add",
// "command"), creating it under the working directory on first use. Every
// write is serialized by logMu.
func (s *Session) Log(name, msg string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	s.action.appendOutput(msg)

	if name == "" {
		return
	}
	f, ok := s.logFiles[name]
	if !ok {
		if err := s.EnsureWorkingDirectory(); err != nil {
			return
		}
		var err error
		f, err = os.OpenFile(filepath.Join(s.workDir, name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		s.logFiles[name] = f
		s.action.Logfiles = append(s.action.Logfiles, name+".log")
	}
	fmt.Fprintln(f, msg)
}

// LogSuccess, LogError, and LogInfo are colorized "Phrases" mirroring the
// original's CppUtilities::EscapeCodes::Phrases, gated by gookit/color's
// package-wide color.Enable switch.
func (s *Session) LogSuccess(name, msg string) { s.Log(name, color.FgGreen.Render("==> ")+msg) }
func (s *Session) LogError(name, msg string)   { s.Log(name, color.FgRed.Render("==> ERROR: ")+msg) }
func (s *Session) LogInfo(name, msg string)    { s.Log(name, color.FgCyan.Render("==> ")+msg) }
func (s *Session) LogWarning(name, msg string) { s.Log(name, color.FgYellow.Render("==> WARNING: ")+msg) }

// IsAborted reports whether this action's abort flag has been set. Internal
// actions must check this at every loop boundary in parallel phases, before
// each child-process launch, and inside each worker's next-item acquire
// (spec §5).
func (s *Session) IsAborted() bool {
	return s.engine.isAborted(s.action.ID)
}

// Conclude finalizes the action with result/data. Must be called exactly
// once per action.
func (s *Session) Conclude(result Result, data ResultData) {
	s.logMu.Lock()
	for _, f := range s.logFiles {
		f.Close()
	}
	s.logMu.Unlock()

	if s.IsAborted() && result != ResultSuccess {
		result = ResultAborted
	}
	s.engine.conclude(s.action, result, data)
}

// Close closes every per-session log file without concluding the action;
// used when a Runner needs to release file handles mid-run.
func (s *Session) Close() {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	for _, f := range s.logFiles {
		f.Close()
	}
}
