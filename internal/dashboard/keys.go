package dashboard

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the dashboard.
type KeyMap struct {
	Live        key.Binding
	Refresh     key.Binding
	ClearEvents key.Binding
	ClearAlerts key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Live: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "toggle live"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		ClearEvents: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear events"),
		),
		ClearAlerts: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "clear resolved alerts"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
