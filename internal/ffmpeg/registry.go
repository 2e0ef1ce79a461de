package ffmpeg

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// Registry tracks live ffmpeg processes keyed by "taskID" or
// "taskID:subTaskID" so cancellation can reach every process a task
// owns.
type Registry struct {
	mu     sync.Mutex
	procs  map[string]*os.Process
	logger *slog.Logger
}

// NewRegistry creates an empty process registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		procs:  make(map[string]*os.Process),
		logger: logger,
	}
}

// Register records a running process under key, replacing any previous
// entry.
func (r *Registry) Register(key string, proc *os.Process) {
	r.mu.Lock()
	r.procs[key] = proc
	r.mu.Unlock()
}

// Unregister removes a key after its process has been waited on.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	delete(r.procs, key)
	r.mu.Unlock()
}

// Kill terminates the process registered under key together with its
// descendant tree. ffmpeg spawns helpers on some platforms, so killing
// the parent alone can leave orphans behind.
func (r *Registry) Kill(key string) {
	r.mu.Lock()
	proc, ok := r.procs[key]
	if ok {
		delete(r.procs, key)
	}
	r.mu.Unlock()

	if ok {
		r.killTree(proc)
	}
}

// KillTask terminates every process whose key equals taskID or starts
// with "taskID:".
func (r *Registry) KillTask(taskID string) {
	r.mu.Lock()
	var victims []*os.Process
	for key, proc := range r.procs {
		if key == taskID || strings.HasPrefix(key, taskID+":") {
			victims = append(victims, proc)
			delete(r.procs, key)
		}
	}
	r.mu.Unlock()

	for _, proc := range victims {
		r.killTree(proc)
	}
}

// Len reports how many processes are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// killTree kills descendants first so the parent cannot respawn them,
// then the parent itself.
func (r *Registry) killTree(proc *os.Process) {
	if p, err := process.NewProcess(int32(proc.Pid)); err == nil {
		r.killChildren(p)
	}

	if err := proc.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
		r.logger.Debug("killing process",
			slog.Int("pid", proc.Pid),
			slog.String("error", err.Error()))
	}
}

func (r *Registry) killChildren(p *process.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		r.killChildren(child)
		if err := child.Kill(); err != nil {
			r.logger.Debug("killing child process",
				slog.Int("pid", int(child.Pid)),
				slog.String("error", err.Error()))
		}
	}
}
