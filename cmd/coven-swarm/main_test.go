// ABOUTME: Tests for CLI helpers: flag parsing, init, URL building, and log handlers.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/config"
)

func TestServerURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"0.0.0.0:8080", "http://127.0.0.1:8080/health"},
		{":9000", "http://127.0.0.1:9000/health"},
		{"localhost:8080", "http://localhost:8080/health"},
		{"[::]:8080", "http://127.0.0.1:8080/health"},
		{"bad-addr", "http://bad-addr/health"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, serverURL(tt.addr, "/health"), tt.addr)
	}
}

func TestParseFlags(t *testing.T) {
	path, force, err := parseFlags("init", []string{"--config", "/tmp/x.yaml", "--force"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.yaml", path)
	assert.True(t, force)

	_, _, err = parseFlags("serve", []string{"extra"})
	assert.Error(t, err)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, runInit([]string{"--config", path}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.HTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, 50, cfg.Queue.MaxPending)

	err = runInit([]string{"--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o600))
	require.NoError(t, runInit([]string{"--config", path, "--force"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# coven-swarm configuration"))
}

func TestNewLogger_Handlers(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf, true)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "warn"}, &buf, false)
	logger.Info("quiet")
	logger.Warn("loud", "n", 1)
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "msg=loud")

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "info"}, &buf, true)
	logger.With("component", "hub").WithGroup("req").Info("served", "status", 200)
	out := buf.String()
	assert.Contains(t, out, "INF served")
	assert.Contains(t, out, "component=hub")
	assert.Contains(t, out, "req.status=200")
}

func TestPrintAgents(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, printAgents(&buf, nil))
	assert.Equal(t, "no agents\n", buf.String())

	buf.Reset()
	require.NoError(t, printAgents(&buf, []agent.Agent{
		{Name: "Agent-1", Role: "Scanner", Status: agent.StatusRunning, Progress: 40, TaskCount: 2, LastCommand: "nmap example.com"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "LAST COMMAND")
	assert.Contains(t, lines[1], "Agent-1")
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[1], "40%")
}
