package mcp

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// stopGrace is how long a stdio server gets after stdin closes, and again
// after SIGTERM, before it is killed.
const stopGrace = 2 * time.Second

// newServerCommand starts the server in its own process group so that any
// helpers it spawns are signalled with it.
func newServerCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal %v to group %d: %w", sig, cmd.Process.Pid, err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes a server wrote to stderr, for
// error messages when it fails to start.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// ProcessManager tracks stdio tool servers so they can be killed together
// on shutdown, even when a client never got to close its own.
type ProcessManager struct {
	mu      sync.Mutex
	servers map[int]trackedServer
}

type trackedServer struct {
	name string
	cmd  *exec.Cmd
}

// NewProcessManager creates an empty manager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{servers: make(map[int]trackedServer)}
}

// Track registers a started server under name.
func (pm *ProcessManager) Track(name string, cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.servers[cmd.Process.Pid] = trackedServer{name: name, cmd: cmd}
}

// Untrack forgets a server once it has exited.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.servers, cmd.Process.Pid)
}

// Names lists the tracked servers, sorted.
func (pm *ProcessManager) Names() []string {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	names := make([]string, 0, len(pm.servers))
	for _, s := range pm.servers {
		names = append(names, s.name)
	}
	sort.Strings(names)
	return names
}

// KillAll sends SIGKILL to every tracked server's process group.
func (pm *ProcessManager) KillAll() error {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for _, s := range pm.servers {
		if err := signalGroup(s.cmd, syscall.SIGKILL); err != nil {
			errs = append(errs, fmt.Errorf("tool server %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked servers.
func (pm *ProcessManager) Count() int {
	if pm == nil {
		return 0
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.servers)
}
