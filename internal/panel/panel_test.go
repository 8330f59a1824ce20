// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/chunk"
	"github.com/noldarim/boardlink/internal/protocol"
)

type recordingPoster struct {
	mu   sync.Mutex
	msgs []protocol.Incoming
}

func (p *recordingPoster) Post(msg protocol.Incoming) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPoster) records(t *testing.T) []chunk.Record {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []chunk.Record
	for _, msg := range p.msgs {
		rb, ok := msg.(protocol.InternalReceivedSerialBytes)
		require.True(t, ok, "unexpected message %T", msg)
		chunks, leftover, err := chunk.DecodeStream(rb.Data)
		require.NoError(t, err)
		require.Empty(t, leftover)
		for _, c := range chunks {
			r, err := chunk.Parse(c)
			require.NoError(t, err)
			out = append(out, r)
		}
	}
	return out
}

func press(m tea.Model, r rune) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	return m
}

func TestPanel_SwitchesAndButtonsArePosted(t *testing.T) {
	p := &recordingPoster{}
	var m tea.Model = New(p)

	m = press(m, '1')
	m = press(m, '3')
	m = press(m, '1')
	m = press(m, 'b')

	assert.Equal(t, []chunk.Record{
		chunk.Switch{Mask: 0b001},
		chunk.Switch{Mask: 0b101},
		chunk.Switch{Mask: 0b100},
		chunk.IndexedButton{Index: 1, Pressed: true},
		chunk.IndexedButton{Index: 1, Pressed: false},
	}, p.records(t))

	pm := m.(Model)
	assert.Equal(t, chunk.Value8(0b100), pm.switches)
	assert.Equal(t, "b", pm.lastButton())
}

func TestPanel_AppliesWrittenRecords(t *testing.T) {
	var m tea.Model = New(&recordingPoster{})

	stream := append(chunk.EncodeRecord(chunk.LED{Mask: 0b1010}), chunk.EncodeRecord(chunk.Text{Text: "hello\nworld"})...)
	stream = append(stream, chunk.EncodeRecord(chunk.Display{Index: 2, Segments: 0x3f})...)
	stream = append(stream, chunk.EncodeRecord(chunk.Display{Index: 9, Segments: 0xff})...)

	// Split mid-chunk to exercise reassembly.
	m, _ = m.Update(WrittenMsg{Data: stream[:3]})
	m, _ = m.Update(WrittenMsg{Data: stream[3:]})

	pm := m.(Model)
	assert.Equal(t, chunk.Value8(0b1010), pm.leds)
	assert.Equal(t, []string{"hello", "world"}, pm.text)
	assert.Equal(t, chunk.Value8(0x3f), pm.displays[2])
	assert.Zero(t, pm.errors)

	view := pm.View()
	assert.Contains(t, view, "hello")
	assert.Contains(t, view, "2:00111111")
}

func TestPanel_BadRecordsAreCounted(t *testing.T) {
	var m tea.Model = New(&recordingPoster{})
	bad := chunk.Chunk{Type: chunk.TypeLED, Content: []byte{1, 2, 3}}.MustEncode()

	m, _ = m.Update(WrittenMsg{Data: bad})
	assert.Equal(t, 1, m.(Model).errors)
}

func TestPanel_TextIsBounded(t *testing.T) {
	var m tea.Model = New(&recordingPoster{})
	for i := 0; i < maxTextLines+3; i++ {
		m, _ = m.Update(WrittenMsg{Data: chunk.EncodeRecord(chunk.Text{Text: string(rune('A' + i))})})
	}
	text := m.(Model).text
	require.Len(t, text, maxTextLines)
	assert.Equal(t, "D", text[0])

	m = press(m, 'x')
	assert.Empty(t, m.(Model).text)
}

func TestPanel_WrittenChannel(t *testing.T) {
	ch := make(chan []byte, 1)
	m := New(&recordingPoster{}, WithWritten(ch))

	ch <- chunk.EncodeRecord(chunk.LED{Mask: 1})
	msg := m.Init()()
	assert.IsType(t, WrittenMsg{}, msg)

	close(ch)
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	next, _ = next.Update(cmd())
	assert.True(t, next.(Model).closed)
	assert.Equal(t, chunk.Value8(1), next.(Model).leds)
}

func TestPanel_Quit(t *testing.T) {
	_, cmd := New(&recordingPoster{}).Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
