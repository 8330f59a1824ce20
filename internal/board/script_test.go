// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package board

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/protocol"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available")
	}
	path := filepath.Join(t.TempDir(), "flash.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestScript_UploadPassesFileAndDevice(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	s := NewScript(writeScript(t, `echo "$1 $2" > `+out), "/dev/ttyFAKE", time.Second)

	require.NoError(t, s.Upload(context.Background(), "fw.bin"))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "fw.bin /dev/ttyFAKE\n", string(got))
	assert.Equal(t, KindScript, s.Kind())
}

func TestScript_NonZeroExit(t *testing.T) {
	s := NewScript(writeScript(t, "echo flashing\necho no device >&2\nexit 3"), "", time.Second)

	err := s.Upload(context.Background(), "fw.bin")

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Code)
	assert.Equal(t, "flashing\n", se.Stdout)
	assert.Equal(t, "upload script exited with code 3\nstdout: flashing\nstderr: no device", err.Error())
}

func TestScript_OutputIsBounded(t *testing.T) {
	body := `i=0
while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done
exit 1`
	s := NewScript(writeScript(t, body), "", 5*time.Second)

	var se *ScriptError
	require.ErrorAs(t, s.Upload(context.Background(), "fw.bin"), &se)
	assert.LessOrEqual(t, len(se.Stdout), maxScriptOutput+64)
	assert.True(t, strings.HasPrefix(se.Stdout, "... "), se.Stdout[:32])
	assert.Contains(t, se.Stdout, "bytes truncated")
	assert.True(t, strings.HasSuffix(se.Stdout, "line 1999\n"), "the tail is kept")
}

func TestOutputTail(t *testing.T) {
	var o outputTail
	_, _ = o.Write([]byte("short"))
	assert.Equal(t, "short", o.String())

	_, _ = o.Write([]byte(strings.Repeat("x", maxScriptOutput)))
	assert.Equal(t, "... 5 bytes truncated ...\n"+strings.Repeat("x", maxScriptOutput), o.String())
}

func TestScript_Timeout(t *testing.T) {
	s := NewScript(writeScript(t, "exec sleep 5"), "", 50*time.Millisecond)

	start := time.Now()
	err := s.Upload(context.Background(), "fw.bin")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestScript_Misconfigured(t *testing.T) {
	assert.EqualError(t, NewScript("", "", 0).Upload(context.Background(), "fw.bin"), "no upload script configured")

	_, err := NewScript("", "", 0).OpenPort("", protocol.DefaultMonitorConfig())
	assert.EqualError(t, err, "no serial device configured")
}
