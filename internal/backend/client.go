// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend talks to the REST side of the control server.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/noldarim/boardlink/internal/config"
	"github.com/noldarim/boardlink/internal/logger"
)

var ErrEmptySoftwareID = errors.New("empty software id")

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client downloads board software with basic auth.
type Client struct {
	baseURL     string
	username    string
	password    string
	downloadDir string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(backend config.BackendConfig, auth config.AuthConfig, opts ...Option) (*Client, error) {
	if _, err := url.Parse(backend.URL); err != nil || backend.URL == "" {
		return nil, fmt.Errorf("backend: invalid url %q", backend.URL)
	}
	timeout := backend.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	dir := backend.DownloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	c := &Client{
		baseURL:     strings.TrimSuffix(backend.URL, "/"),
		username:    auth.Username,
		password:    auth.Password,
		downloadDir: dir,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SoftwareDownload fetches a software image into the download directory and
// returns the file path. The caller owns the file.
func (c *Client) SoftwareDownload(ctx context.Context, softwareID string) (string, error) {
	if softwareID == "" {
		return "", ErrEmptySoftwareID
	}
	path := "/api/v1/software/" + url.PathEscape(softwareID) + "/download"
	log := logger.GetBackendLogger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("backend: failed to create request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: request to GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &StatusError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := os.MkdirAll(c.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("backend: create download dir: %w", err)
	}
	f, err := os.CreateTemp(c.downloadDir, "software-"+safeName(softwareID)+"-*"+extension(resp.Header))
	if err != nil {
		return "", fmt.Errorf("backend: create download file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("backend: write software %s: %w", softwareID, err)
	}

	log.Info().Str("software_id", softwareID).Int64("bytes", n).Str("path", f.Name()).Msg("Software downloaded")
	return f.Name(), nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// extension keeps the extension of the served file name, if any.
func extension(h http.Header) string {
	_, params, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	ext := filepath.Ext(filepath.Base(params["filename"]))
	if ext == "" || unsafeChars.MatchString(ext) {
		return ""
	}
	return ext
}
