package toolhost

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kokoro/internal/store"
)

func openRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewRegistry(s)
}

func TestRegistry_AddAndList(t *testing.T) {
	r := openRegistry(t)

	cfg, err := r.Add(HostConfig{Name: "weather", Command: "weather-host", Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)

	configs, err := r.List()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "weather", configs[0].Name)
}

func TestRegistry_NameUniqueness(t *testing.T) {
	r := openRegistry(t)

	_, err := r.Add(HostConfig{Name: "weather", Command: "a"})
	require.NoError(t, err)
	_, err = r.Add(HostConfig{Name: "weather", Command: "b"})
	assert.Error(t, err)
}

func TestRegistry_SplitsInlineCommand(t *testing.T) {
	r := openRegistry(t)

	cfg, err := r.Add(HostConfig{Name: "calc", Command: `python3 -u "my host.py" --mode rpc`})
	require.NoError(t, err)
	assert.Equal(t, "python3", cfg.Command)
	assert.Equal(t, []string{"-u", "my host.py", "--mode", "rpc"}, cfg.Args)
}

func TestRegistry_UpdateAndRemove(t *testing.T) {
	r := openRegistry(t)

	cfg, err := r.Add(HostConfig{Name: "weather", Command: "a"})
	require.NoError(t, err)

	cfg.Description = "weather lookups"
	require.NoError(t, r.Update(*cfg))

	got, err := r.Get(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "weather lookups", got.Description)

	require.NoError(t, r.Remove(cfg.ID))
	_, err = r.Get(cfg.ID)
	assert.Error(t, err)
}

func startHost(t *testing.T, m *Manager, r *Registry, name, command string, args ...string) *HostConfig {
	t.Helper()
	cfg, err := r.Add(HostConfig{Name: name, Command: command, Args: args, Enabled: true})
	require.NoError(t, err)
	require.NoError(t, m.Start(cfg.ID))
	t.Cleanup(func() { _ = m.Stop(cfg.ID) })
	return cfg
}

func TestManager_StartStatusStop(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	// cat echoes stdin to stdout, a well-behaved line host.
	cfg := startHost(t, m, r, "echo", "cat")

	status, err := m.Status(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	assert.NotZero(t, status.PID)

	require.NoError(t, m.Stop(cfg.ID))

	status, err = m.Status(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
	assert.Empty(t, status.Error)
}

func TestManager_NonZeroExitRecordsError(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	cfg, err := r.Add(HostConfig{Name: "crasher", Command: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	require.NoError(t, m.Start(cfg.ID))

	require.Eventually(t, func() bool {
		status, err := m.Status(cfg.ID)
		return err == nil && status.State == StateFailed
	}, 3*time.Second, 20*time.Millisecond)

	status, err := m.Status(cfg.ID)
	require.NoError(t, err)
	assert.Contains(t, status.Error, "exit status 3")
}

func TestManager_DescribeRunning(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	cfg, err := r.Add(HostConfig{Name: "echo", Command: "cat", Description: "echoes lines", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, m.Start(cfg.ID))
	defer m.StopAll()

	assert.Equal(t, "[tool] echo: echoes lines", m.DescribeRunning())
}

func TestExecutor_RoundTrip(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	// cat reflects the request verbatim; the reflected line carries the same
	// id and no error member, so it reads as a successful empty result.
	startHost(t, m, r, "echo", "cat")

	e := NewExecutor(m, 2*time.Second)
	res := e.Execute(context.Background(), "echo", "ping", map[string]any{"k": "v"})
	assert.True(t, res.Success, res.Error)
}

func TestExecutor_ErrorSurfaced(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	// Respond to each request with a JSON-RPC error carrying the same id.
	script := `while read line; do printf '%s\n' "$line" | sed 's/.*"id":"\([^"]*\)".*/{"jsonrpc":"2.0","id":"\1","error":{"code":-32000,"message":"boom"}}/'; done`
	startHost(t, m, r, "failing", "sh", "-c", script)

	e := NewExecutor(m, 2*time.Second)
	res := e.Execute(context.Background(), "failing", "anything", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
}

func TestExecutor_TimeoutOnSilentHost(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	startHost(t, m, r, "silent", "sleep", "60")

	e := NewExecutor(m, 300*time.Millisecond)
	start := time.Now()
	res := e.Execute(context.Background(), "silent", "ping", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecutor_UnknownHost(t *testing.T) {
	r := openRegistry(t)
	m := NewManager(r, time.Second)

	e := NewExecutor(m, time.Second)
	res := e.Execute(context.Background(), "ghost", "ping", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "service not running")
}

func TestStringifyResult(t *testing.T) {
	assert.Equal(t, "hello", stringifyResult([]byte(`"hello"`)))
	assert.Equal(t, "42", stringifyResult([]byte(`42`)))
	assert.Equal(t, "3.5", stringifyResult([]byte(`3.5`)))
	assert.Equal(t, `{"a":1}`, stringifyResult([]byte(`{"a":1}`)))
	assert.Equal(t, "", stringifyResult(nil))
}
