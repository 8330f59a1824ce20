// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Switches [8]key.Binding
	Buttons  [8]key.Binding
	Clear    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	k := keyMap{
		Clear: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear text")),
		Help:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:  key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
	}
	for i := range k.Switches {
		sw := string(rune('1' + i))
		k.Switches[i] = key.NewBinding(key.WithKeys(sw), key.WithHelp(sw, "toggle switch"))
		btn := string(rune('a' + i))
		k.Buttons[i] = key.NewBinding(key.WithKeys(btn), key.WithHelp(btn, "press button"))
	}
	return k
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("1"), key.WithHelp("1-8", "toggle switch")),
		key.NewBinding(key.WithKeys("a"), key.WithHelp("a-h", "press button")),
		k.Clear, k.Help, k.Quit,
	}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.Switches[:], k.Buttons[:], {k.Clear, k.Help, k.Quit}}
}
