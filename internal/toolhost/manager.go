package toolhost

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

// HostState is the derived lifecycle state of one host process.
type HostState string

const (
	StateStopped HostState = "stopped"
	StateRunning HostState = "running"
	StateFailed  HostState = "failed"
)

// HostStatus is the reported view of one host.
type HostStatus struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	State   HostState `json:"state"`
	PID     int       `json:"pid,omitempty"`
	Error   string    `json:"error,omitempty"`
	Enabled bool      `json:"enabled"`
}

// runningHost is one live subprocess with its stdio discipline: the mutex
// serializes request/response pairs, and a persistent reader goroutine feeds
// stdout lines into the channel so a timed-out request cannot wedge the pipe.
type runningHost struct {
	cfg   HostConfig
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	mu   sync.Mutex
	done chan struct{}

	exitMu  sync.Mutex
	exited  bool
	exitErr error
}

func (h *runningHost) alive() bool {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	return !h.exited
}

func (h *runningHost) exitError() error {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	return h.exitErr
}

// Manager owns the tool-host subprocesses.
type Manager struct {
	registry  *Registry
	stopGrace time.Duration

	mu      sync.Mutex
	running map[string]*runningHost // keyed by host id
	lastErr map[string]string       // host id -> last failure message
}

func NewManager(registry *Registry, stopGrace time.Duration) *Manager {
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &Manager{
		registry:  registry,
		stopGrace: stopGrace,
		running:   make(map[string]*runningHost),
		lastErr:   make(map[string]string),
	}
}

// Start launches the host with the given id. Starting a running host is a
// no-op.
func (m *Manager) Start(hostID string) error {
	cfg, err := m.registry.Get(hostID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.running[hostID]; ok && h.alive() {
		return nil
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return kokoroErrors.Wrap(err, "stdin pipe")
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return kokoroErrors.Wrap(err, "stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return kokoroErrors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		m.lastErr[hostID] = err.Error()
		return kokoroErrors.Wrap(err, "start tool host "+cfg.Name)
	}

	h := &runningHost{
		cfg:   *cfg,
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	m.running[hostID] = h
	delete(m.lastErr, hostID)

	slog.Info("Tool host started", "name", cfg.Name, "pid", cmd.Process.Pid)

	go readLines(h, stdoutPipe)
	go logStderr(cfg.Name, stderrPipe)
	go m.reap(hostID, h)

	return nil
}

// readLines pumps stdout into the host's line channel until the process
// exits. Lines nobody is waiting for are dropped once the buffer fills.
func readLines(h *runningHost, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case h.lines <- line:
		default:
			slog.Warn("Dropping unclaimed tool host output", "name", h.cfg.Name)
		}
	}
	close(h.lines)
}

// reap waits for the process and records its exit state.
func (m *Manager) reap(hostID string, h *runningHost) {
	err := h.cmd.Wait()

	h.exitMu.Lock()
	h.exited = true
	h.exitErr = err
	h.exitMu.Unlock()
	close(h.done)

	if err != nil {
		slog.Warn("Tool host exited", "name", h.cfg.Name, "error", err)
		m.mu.Lock()
		m.lastErr[hostID] = err.Error()
		m.mu.Unlock()
	} else {
		slog.Info("Tool host exited cleanly", "name", h.cfg.Name)
	}
}

// Stop terminates the host gracefully, force-killing after the grace period.
func (m *Manager) Stop(hostID string) error {
	m.mu.Lock()
	h, ok := m.running[hostID]
	if ok {
		delete(m.running, hostID)
	}
	m.mu.Unlock()

	if !ok || !h.alive() {
		return nil
	}

	_ = h.stdin.Close()
	terminateGroup(h.cmd)

	select {
	case <-h.done:
	case <-time.After(m.stopGrace):
		slog.Warn("Tool host did not exit, force killing", "name", h.cfg.Name)
		killGroup(h.cmd)
		<-h.done
	}

	// A stop-initiated exit is not a failure.
	m.mu.Lock()
	delete(m.lastErr, hostID)
	m.mu.Unlock()

	return nil
}

// Restart stops then starts the host.
func (m *Manager) Restart(hostID string) error {
	if err := m.Stop(hostID); err != nil {
		return err
	}
	return m.Start(hostID)
}

// Status reports the derived state of one host.
func (m *Manager) Status(hostID string) (*HostStatus, error) {
	cfg, err := m.registry.Get(hostID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(cfg), nil
}

func (m *Manager) statusLocked(cfg *HostConfig) *HostStatus {
	status := &HostStatus{ID: cfg.ID, Name: cfg.Name, State: StateStopped, Enabled: cfg.Enabled}

	if h, ok := m.running[cfg.ID]; ok && h.alive() {
		status.State = StateRunning
		status.PID = h.cmd.Process.Pid
		return status
	}
	if msg, ok := m.lastErr[cfg.ID]; ok {
		status.State = StateFailed
		status.Error = msg
	}
	return status
}

// List reports the status of every registered host.
func (m *Manager) List() ([]*HostStatus, error) {
	configs, err := m.registry.List()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]*HostStatus, 0, len(configs))
	for i := range configs {
		statuses = append(statuses, m.statusLocked(&configs[i]))
	}
	return statuses, nil
}

// StopAll terminates every running host. Called on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			slog.Warn("Failed to stop tool host", "id", id, "error", err)
		}
	}
}

// StartEnabled launches every enabled host, continuing past failures.
func (m *Manager) StartEnabled() {
	configs, err := m.registry.List()
	if err != nil {
		slog.Warn("Could not load tool host registry", "error", err)
		return
	}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := m.Start(cfg.ID); err != nil {
			slog.Warn("Failed to start tool host", "name", cfg.Name, "error", err)
		}
	}
}

// runningByName locates a live host by its configured name.
func (m *Manager) runningByName(name string) (*runningHost, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.running {
		if h.cfg.Name == name && h.alive() {
			return h, true
		}
	}
	return nil, false
}

// DescribeRunning renders the "[tool] name: description" surface embedded in
// the reasoning prompt.
func (m *Manager) DescribeRunning() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for _, h := range m.running {
		if !h.alive() {
			continue
		}
		desc := h.cfg.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&b, "[tool] %s: %s\n", h.cfg.Name, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RunningTriggerKeywords returns each live host's declared trigger keywords,
// for dynamic intent rules.
func (m *Manager) RunningTriggerKeywords() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string)
	for _, h := range m.running {
		if h.alive() && len(h.cfg.TriggerKeywords) > 0 {
			out[h.cfg.Name] = h.cfg.TriggerKeywords
		}
	}
	return out
}

func logStderr(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			slog.Debug("Tool host stderr", "name", name, "line", line)
		}
	}
}
