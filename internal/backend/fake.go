// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Fake serves every software id with the same content, written to a fresh
// file in Dir (the system temp dir when empty).
type Fake struct {
	Dir     string
	Content []byte
	Err     error

	mu        sync.Mutex
	requested []string
}

func (f *Fake) SoftwareDownload(ctx context.Context, softwareID string) (string, error) {
	f.mu.Lock()
	f.requested = append(f.requested, softwareID)
	f.mu.Unlock()

	if f.Err != nil {
		return "", f.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file, err := os.CreateTemp(f.Dir, "software-"+safeName(softwareID)+"-*")
	if err != nil {
		return "", fmt.Errorf("fake backend: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(f.Content); err != nil {
		return "", fmt.Errorf("fake backend: %w", err)
	}
	return file.Name(), nil
}

// Requested lists the software ids asked for so far.
func (f *Fake) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}
