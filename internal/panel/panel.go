// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package panel is a terminal front panel for the fake board. It shows the
// LEDs, text and displays the client writes as MinOS records, and turns
// key presses into switch and button records read from the board.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noldarim/boardlink/internal/chunk"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetPanelLogger()
		log = &l
	})
	return log
}

const (
	maxTextLines = 8
	numDisplays  = 4
)

// Poster accepts messages for the board engine.
type Poster interface {
	Post(msg protocol.Incoming)
}

// WrittenMsg carries bytes the client wrote to the board.
type WrittenMsg struct {
	Data []byte
}

type closedMsg struct{}

// Model is the bubbletea model of the panel.
type Model struct {
	poster  Poster
	written <-chan []byte
	chunker *chunk.MinOSChunker
	keys    keyMap
	help    help.Model

	leds     chunk.Value8
	switches chunk.Value8
	pressed  int
	displays [numDisplays]chunk.Value8
	text     []string
	errors   int
	closed   bool
}

type Option func(*Model)

// WithWritten feeds the panel the bytes written to the board.
func WithWritten(ch <-chan []byte) Option {
	return func(m *Model) { m.written = ch }
}

func New(poster Poster, opts ...Option) Model {
	m := Model{
		poster:  poster,
		chunker: chunk.NewMinOSChunker(),
		keys:    defaultKeys(),
		help:    help.New(),
		pressed: -1,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return m.waitWritten()
}

func (m Model) waitWritten() tea.Cmd {
	if m.written == nil {
		return nil
	}
	ch := m.written
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return WrittenMsg{Data: data}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case WrittenMsg:
		m.apply(msg.Data)
		return m, m.waitWritten()

	case closedMsg:
		m.closed = true
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Clear):
		m.text = nil
		return m, nil
	}

	for i, b := range m.keys.Switches {
		if key.Matches(msg, b) {
			m.switches = m.switches.Toggle(i)
			m.send(chunk.Switch{Mask: m.switches})
			return m, nil
		}
	}
	for i, b := range m.keys.Buttons {
		if key.Matches(msg, b) {
			m.pressed = i
			m.send(chunk.IndexedButton{Index: byte(i), Pressed: true})
			m.send(chunk.IndexedButton{Index: byte(i), Pressed: false})
			return m, nil
		}
	}
	return m, nil
}

// send posts a record as if the board had written it to the serial port.
func (m Model) send(r chunk.Record) {
	m.poster.Post(protocol.InternalReceivedSerialBytes{Data: chunk.EncodeRecord(r)})
}

func (m *Model) apply(data []byte) {
	chunks, err := m.chunker.Feed(data)
	if err != nil {
		m.errors++
		getLog().Debug().Err(err).Msg("Malformed chunk from client")
	}
	for _, c := range chunks {
		rec, err := chunk.Parse(c)
		if err != nil {
			m.errors++
			getLog().Debug().Err(err).Msg("Unusable record from client")
			continue
		}
		switch r := rec.(type) {
		case chunk.LED:
			m.leds = r.Mask
		case chunk.Text:
			m.text = append(m.text, strings.Split(strings.TrimRight(r.Text, "\n"), "\n")...)
			if len(m.text) > maxTextLines {
				m.text = m.text[len(m.text)-maxTextLines:]
			}
		case chunk.Display:
			if int(r.Index) < numDisplays {
				m.displays[r.Index] = r.Segments
			}
		default:
			getLog().Debug().Str("record", fmt.Sprintf("%T", r)).Msg("Ignoring record the panel cannot show")
		}
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	onStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func bits(v chunk.Value8, on, off string) string {
	return strings.Join(lo.Times(8, func(i int) string {
		if v.Bit(i) {
			return onStyle.Render(on)
		}
		return offStyle.Render(off)
	}), " ")
}

func (m Model) View() string {
	leds := boxStyle.Render(titleStyle.Render("LEDs") + "\n" + bits(m.leds, "●", "○"))
	switches := boxStyle.Render(titleStyle.Render("Switches") + "\n" + bits(m.switches, "▮", "▯"))

	displays := lo.Map(m.displays[:], func(seg chunk.Value8, i int) string {
		return fmt.Sprintf("%d:%08b", i, seg)
	})
	display := boxStyle.Render(titleStyle.Render("Displays") + "\n" + strings.Join(displays, "  "))

	text := mutedStyle.Render("(no text)")
	if len(m.text) > 0 {
		text = strings.Join(m.text, "\n")
	}
	textBox := boxStyle.Width(48).Render(titleStyle.Render("Text") + "\n" + text)

	status := fmt.Sprintf("last button: %s   bad records: %d", m.lastButton(), m.errors)
	if m.closed {
		status += "   (board disconnected)"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, leds, switches),
		display,
		textBox,
		mutedStyle.Render(status),
		m.help.View(m.keys),
	)
}

func (m Model) lastButton() string {
	if m.pressed < 0 {
		return "-"
	}
	return string(rune('a' + m.pressed))
}

// Run shows the panel until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
