// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/noldarim/boardlink/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Manager hands out one zerolog logger per subsystem, all sharing the same
// outputs but with individually configurable levels.
type Manager struct {
	config  *config.LogConfig
	root    zerolog.Logger
	closers []io.Closer

	mu      sync.RWMutex
	loggers map[string]zerolog.Logger
}

// NewManager builds the configured outputs and the root logger.
func NewManager(cfg *config.LogConfig) (*Manager, error) {
	m := &Manager{
		config:  cfg,
		loggers: make(map[string]zerolog.Logger),
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	for _, out := range cfg.Output {
		if !out.Enabled {
			continue
		}
		w, err := m.openOutput(cfg.Format, out)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create log writers: %w", err)
		}
		writers = append(writers, w)
	}

	var sink io.Writer
	switch len(writers) {
	case 0:
		// Nothing enabled: stay silent rather than guessing a location.
		sink = io.Discard
	case 1:
		sink = writers[0]
	default:
		sink = zerolog.MultiLevelWriter(writers...)
	}

	m.root = m.decorate(zerolog.New(sink).Level(level))
	return m, nil
}

func (m *Manager) openOutput(format string, out config.LogOutputConfig) (io.Writer, error) {
	switch out.Type {
	case "console":
		if format == "console" {
			return consoleWriter(os.Stderr, "15:04:05.000", true), nil
		}
		return os.Stderr, nil

	case "file":
		if out.Path == "" {
			return nil, fmt.Errorf("file output requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(out.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		var file io.WriteCloser
		if out.Rotate.MaxSizeMB > 0 {
			file = &lumberjack.Logger{
				Filename:   out.Path,
				MaxSize:    out.Rotate.MaxSizeMB,
				MaxBackups: out.Rotate.MaxBackups,
				MaxAge:     out.Rotate.MaxAgeDays,
				Compress:   out.Rotate.Compress,
			}
		} else {
			f, err := os.OpenFile(out.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", out.Path, err)
			}
			file = f
		}
		m.closers = append(m.closers, file)

		if format == "console" {
			return consoleWriter(file, "2006-01-02 15:04:05.000", false), nil
		}
		return file, nil

	default:
		return nil, fmt.Errorf("unsupported output type: %s", out.Type)
	}
}

func consoleWriter(out io.Writer, timeFormat string, color bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: timeFormat,
		NoColor:    !color,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
	}
}

// decorate applies context and sampling settings.
func (m *Manager) decorate(l zerolog.Logger) zerolog.Logger {
	if m.config.Context.IncludeTimestamp {
		l = l.With().Timestamp().Logger()
	}
	if m.config.Context.IncludeCaller {
		l = l.With().Caller().Logger()
	}
	if m.config.Sampling.Enabled {
		l = l.Sample(&zerolog.BurstSampler{
			Burst:       m.config.Sampling.Initial,
			Period:      m.config.Sampling.Tick,
			NextSampler: &zerolog.BasicSampler{N: m.config.Sampling.Thereafter},
		})
	}
	return l
}

// levelFor resolves the level of a subsystem, falling back to the global one.
func (m *Manager) levelFor(pkg string) zerolog.Level {
	if lvl, ok := m.config.Levels[pkg]; ok {
		return parseLevel(lvl)
	}
	return parseLevel(m.config.Level)
}

// GetLogger returns the logger of a subsystem, creating it on first use.
func (m *Manager) GetLogger(pkg string) zerolog.Logger {
	m.mu.RLock()
	l, ok := m.loggers[pkg]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loggers[pkg]; ok {
		return l
	}
	l = m.root.With().Str("pkg", pkg).Logger().Level(m.levelFor(pkg))
	m.loggers[pkg] = l
	return l
}

// SetPackageLevel changes a subsystem level. Loggers already handed out keep
// their old level; new GetLogger calls see the change.
func (m *Manager) SetPackageLevel(pkg string, level string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.Levels == nil {
		m.config.Levels = make(map[string]string)
	}
	m.config.Levels[pkg] = level
	if l, ok := m.loggers[pkg]; ok {
		m.loggers[pkg] = l.Level(parseLevel(level))
	}
}

// Close closes every file output.
func (m *Manager) Close() error {
	var firstErr error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	return firstErr
}

// parseLevel converts string level to zerolog.Level, defaulting to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "PANIC":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	globalMu      sync.RWMutex
	globalManager *Manager
)

// Initialize installs the process wide manager. Calling it again replaces
// the previous manager and closes its files.
func Initialize(cfg *config.LogConfig) error {
	m, err := NewManager(cfg)
	if err != nil {
		return err
	}
	globalMu.Lock()
	prev := globalManager
	globalManager = m
	globalMu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// GetLogger returns a logger for the specified subsystem. Before Initialize
// it returns a discard logger so libraries and tests stay quiet.
func GetLogger(pkg string) zerolog.Logger {
	globalMu.RLock()
	m := globalManager
	globalMu.RUnlock()
	if m == nil {
		return zerolog.New(io.Discard)
	}
	return m.GetLogger(pkg)
}

// CloseGlobal closes the process wide manager.
func CloseGlobal() error {
	globalMu.Lock()
	m := globalManager
	globalManager = nil
	globalMu.Unlock()
	if m != nil {
		return m.Close()
	}
	return nil
}
