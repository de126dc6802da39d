package teleop

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/swarmbot/internal/agent"
)

// KeyMap holds the console bindings.
type KeyMap struct {
	Forward    key.Binding
	TurnRight  key.Binding
	TurnAround key.Binding
	TurnLeft   key.Binding
	NewEpisode key.Binding
	Help       key.Binding
	Quit       key.Binding
}

// DefaultKeyMap binds the four actions to arrows and WASD.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Forward: key.NewBinding(
			key.WithKeys("up", "w"),
			key.WithHelp("↑/w", "forward"),
		),
		TurnRight: key.NewBinding(
			key.WithKeys("right", "d"),
			key.WithHelp("→/d", "turn right"),
		),
		TurnAround: key.NewBinding(
			key.WithKeys("down", "s"),
			key.WithHelp("↓/s", "turn around"),
		),
		TurnLeft: key.NewBinding(
			key.WithKeys("left", "a"),
			key.WithHelp("←/a", "turn left"),
		),
		NewEpisode: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new episode"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.TurnLeft, k.TurnRight, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Forward, k.TurnRight, k.TurnAround, k.TurnLeft},
		{k.NewEpisode, k.Help, k.Quit},
	}
}

// action maps a key press to a protocol action.
func (k KeyMap) action(msg tea.KeyMsg) (int, bool) {
	switch {
	case key.Matches(msg, k.Forward):
		return agent.ActionForward, true
	case key.Matches(msg, k.TurnRight):
		return agent.ActionTurnRight, true
	case key.Matches(msg, k.TurnAround):
		return agent.ActionTurnAround, true
	case key.Matches(msg, k.TurnLeft):
		return agent.ActionTurnLeft, true
	}
	return 0, false
}
