// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/config"
)

func fileConfig(t *testing.T, format string) (*config.LogConfig, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "boardlink.log")
	return &config.LogConfig{
		Level:  "info",
		Format: format,
		Output: []config.LogOutputConfig{
			{Type: "console", Enabled: false},
			{Type: "file", Enabled: true, Path: path},
		},
		Levels: map[string]string{"monitor": "DEBUG", "api": "ERROR"},
	}, path
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		output  config.LogOutputConfig
		wantErr string
	}{
		{name: "console", output: config.LogOutputConfig{Type: "console", Enabled: true}},
		{name: "disabled file without path", output: config.LogOutputConfig{Type: "file", Enabled: false}},
		{name: "file without path", output: config.LogOutputConfig{Type: "file", Enabled: true}, wantErr: "requires a path"},
		{name: "unknown type", output: config.LogOutputConfig{Type: "syslog", Enabled: true}, wantErr: "unsupported output type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(&config.LogConfig{Level: "info", Format: "json", Output: []config.LogOutputConfig{tt.output}})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, m.Close())
		})
	}
}

func TestManager_PackageLevels(t *testing.T) {
	cfg, path := fileConfig(t, "json")
	m, err := NewManager(cfg)
	require.NoError(t, err)

	monitorLog := m.GetLogger("monitor")
	apiLog := m.GetLogger("api")
	engineLog := m.GetLogger("engine")

	monitorLog.Debug().Msg("monitor debug")
	apiLog.Warn().Msg("api warn")
	apiLog.Error().Msg("api error")
	engineLog.Debug().Msg("engine debug")
	engineLog.Info().Msg("engine info")
	require.NoError(t, m.Close())

	lines := readLines(t, path)
	msgs := make([]string, 0, len(lines))
	for _, l := range lines {
		msgs = append(msgs, l["pkg"].(string)+": "+l["message"].(string))
	}
	assert.Equal(t, []string{"monitor: monitor debug", "api: api error", "engine: engine info"}, msgs)
}

func TestManager_SetPackageLevel(t *testing.T) {
	cfg, path := fileConfig(t, "json")
	m, err := NewManager(cfg)
	require.NoError(t, err)

	before := m.GetLogger("board")
	before.Debug().Msg("hidden")
	m.SetPackageLevel("board", "debug")
	after := m.GetLogger("board")
	after.Debug().Msg("shown")
	require.NoError(t, m.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestManager_ConcurrentGetLogger(t *testing.T) {
	cfg, _ := fileConfig(t, "json")
	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, pkg := range []string{"engine", "agent", "monitor"} {
				l := m.GetLogger(pkg)
				l.Info().Msg("x")
			}
		}()
	}
	wg.Wait()
}

func TestManager_RotatingFile(t *testing.T) {
	cfg, path := fileConfig(t, "console")
	cfg.Output[1].Rotate = config.LogRotateConfig{MaxSizeMB: 1, MaxBackups: 1}
	m, err := NewManager(cfg)
	require.NoError(t, err)

	l := m.GetLogger("agent")
	l.Info().Msg("through lumberjack")
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "through lumberjack")
	assert.Contains(t, string(data), "| INFO  |")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"Error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	} {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestGlobal(t *testing.T) {
	require.NoError(t, CloseGlobal())
	quiet := GetAgentLogger()
	quiet.Info().Msg("goes nowhere before Initialize")

	cfg, path := fileConfig(t, "json")
	require.NoError(t, Initialize(cfg))
	l := GetMonitorLogger()
	l.Debug().Str("session_id", "s1").Msg("via global")
	require.NoError(t, CloseGlobal())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "monitor", lines[0]["pkg"])
	assert.Equal(t, "s1", lines[0]["session_id"])
}
