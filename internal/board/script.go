// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package board

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/noldarim/boardlink/internal/protocol"
	"github.com/noldarim/boardlink/internal/serialport"
)

const KindScript = "script"

// ScriptError is a flashing script that exited with a non-zero code.
type ScriptError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ScriptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upload script exited with code %d", e.Code)
	if out := strings.TrimSpace(e.Stdout); out != "" {
		fmt.Fprintf(&b, "\nstdout: %s", out)
	}
	if out := strings.TrimSpace(e.Stderr); out != "" {
		fmt.Fprintf(&b, "\nstderr: %s", out)
	}
	return b.String()
}

// Script flashes a real board with an external script, invoked as
//
//	<script> <file> <device>
//
// and reads its serial port through the operating system.
type Script struct {
	path    string
	device  string
	timeout time.Duration
}

func NewScript(path, device string, timeout time.Duration) *Script {
	return &Script{path: path, device: device, timeout: timeout}
}

func (s *Script) Kind() string { return KindScript }

func (s *Script) Upload(ctx context.Context, filePath string) error {
	if s.path == "" {
		return errors.New("no upload script configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	getLog().Debug().Str("script", s.path).Str("file", filePath).Str("device", s.device).Msg("Running upload script")

	stdout, stderr := &outputTail{}, &outputTail{}
	cmd := exec.CommandContext(ctx, s.path, filePath, s.device)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children of a killed script may hold the output pipes open.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return &ScriptError{Code: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
	default:
		return fmt.Errorf("run upload script %s: %w", s.path, err)
	}
}

func (s *Script) OpenPort(device string, cfg protocol.MonitorConfig) (serialport.Port, error) {
	if device == "" {
		device = s.device
	}
	return serialport.Open(device, cfg.Normalize().BaudRate)
}

// maxScriptOutput bounds the text kept per stream of a flashing script.
const maxScriptOutput = 4 * 1024

// outputTail keeps the last maxScriptOutput bytes written to it.
type outputTail struct {
	mu      sync.Mutex
	buf     []byte
	dropped int
}

func (o *outputTail) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf = append(o.buf, p...)
	if over := len(o.buf) - maxScriptOutput; over > 0 {
		o.dropped += over
		o.buf = append(o.buf[:0], o.buf[over:]...)
	}
	return len(p), nil
}

func (o *outputTail) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == 0 {
		return string(o.buf)
	}
	return fmt.Sprintf("... %d bytes truncated ...\n%s", o.dropped, o.buf)
}
