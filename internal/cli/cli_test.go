// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/agent"
	"github.com/noldarim/boardlink/internal/config"
	"github.com/noldarim/boardlink/internal/serialport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "boardlink version "+appVersion+"\n", out)
}

func TestConfigShow_RedactsPassword(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: https://lab.example.org
auth:
  username: board-7
  password: hunter2
`)
	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "username: board-7")
	assert.Contains(t, out, "url: https://lab.example.org")
	assert.NotContains(t, out, "hunter2")
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "board:\n  type: toaster\n")
	_, err := execute(t, "config", "show", "--config", path)
	assert.ErrorContains(t, err, "board.type")
}

func TestPorts(t *testing.T) {
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })

	listPorts = func() ([]serialport.Info, error) {
		return []serialport.Info{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "2341", PID: "0043", Product: "Uno"},
			{Name: "/dev/ttyS0"},
		}, nil
	}
	out, err := execute(t, "ports")
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/ttyUSB0")
	assert.Contains(t, out, "2341:0043")
	assert.Contains(t, out, "/dev/ttyS0")

	out, err = execute(t, "ports", "--json")
	require.NoError(t, err)
	var got []serialport.Info
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got, 2)

	listPorts = func() ([]serialport.Info, error) { return nil, nil }
	out, err = execute(t, "ports")
	require.NoError(t, err)
	assert.Equal(t, "no serial ports found\n", out)

	listPorts = func() ([]serialport.Info, error) { return nil, errors.New("no sysfs") }
	_, err = execute(t, "ports")
	assert.ErrorContains(t, err, "no sysfs")
}

func TestBuildBoard_ScriptUsesUploadTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available")
	}
	script := filepath.Join(t.TempDir(), "flash.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))

	cfg := &config.AppConfig{
		Backend: config.BackendConfig{Timeout: time.Hour},
		Board: config.BoardConfig{
			Type:          config.BoardScript,
			UploadScript:  script,
			UploadTimeout: 50 * time.Millisecond,
		},
	}
	b := buildBoard(cfg, nil)

	start := time.Now()
	assert.Error(t, b.Upload(context.Background(), "fw.bin"))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestAgent_PanelNeedsFakeBoard(t *testing.T) {
	path := writeConfig(t, `
board:
  type: script
  upload_script: /bin/true
  device: /dev/null
`)
	_, err := execute(t, "agent", "--panel", "--config", path)
	assert.ErrorContains(t, err, "--panel needs a fake board")
}

// TestRunAgent_ServerHangsUp runs the agent against a websocket server that
// answers the auth request and then drops the connection.
func TestRunAgent_ServerHangsUp(t *testing.T) {
	authed := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var env map[string]any
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		authed <- env
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"auth_result","payload":{"error":null}}`))
	}))
	defer srv.Close()

	cfg, err := config.NewConfig(writeConfig(t, `
log:
  level: ERROR
  output:
    - type: console
      enabled: false
backend:
  url: `+srv.URL+`
  websocket_url: ws`+strings.TrimPrefix(srv.URL, "http")+`
  download_dir: `+t.TempDir()+`
auth:
  username: board-1
  password: pw
board:
  type: fake
  fake_tick: 0s
`))
	require.NoError(t, err)

	err = runAgent(context.Background(), cfg, &agentOptions{})
	assert.ErrorIs(t, err, agent.ErrTransportClosed)

	env := <-authed
	assert.Equal(t, "auth_request", env["command"])
	assert.Equal(t, map[string]any{"username": "board-1", "password": "pw"}, env["payload"])
}
