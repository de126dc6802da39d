// Package teleop is a terminal console that plays the master for a single
// agent: it announces itself, assigns the agent an index, starts episodes
// and sends the action bound to each key press, showing the observation
// and reward the agent reports back.
package teleop

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/swarmbot/internal/agent"
	"github.com/Iron-Ham/swarmbot/internal/protocol"
	"github.com/Iron-Ham/swarmbot/internal/transport"
	"github.com/Iron-Ham/swarmbot/internal/tui/styles"
)

const historySize = 8

// Link is the part of a transport the console drives.
type Link interface {
	Subscribe(topic string) error
	Publish(topic string, payload []byte, retain bool) error
}

// Inbox buffers broker deliveries until the program reads them.
type Inbox chan transport.Message

// NewInbox returns an inbox holding up to size undelivered messages.
func NewInbox(size int) Inbox {
	return make(Inbox, size)
}

// Handle is a transport.Handler.
func (in Inbox) Handle(msg transport.Message) {
	in <- msg
}

func (in Inbox) wait() tea.Cmd {
	if in == nil {
		return nil
	}
	return func() tea.Msg { return InboundMsg(<-in) }
}

// InboundMsg is a broker message delivered to the program.
type InboundMsg transport.Message

type announcedMsg struct{ err error }

type registeredMsg struct{ err error }

type startedMsg struct {
	episode int
	err     error
}

type sentMsg struct {
	action int
	err    error
}

// result flags collected for one step
const (
	gotObv = 1 << iota
	gotReward
	gotDone
	gotAll = gotObv | gotReward | gotDone
)

// Model is the bubbletea model of the console.
type Model struct {
	link   Link
	inbox  Inbox
	topics protocol.Topics
	keys   KeyMap
	help   help.Model

	joined  bool
	ready   bool
	episode int
	step    int
	waiting bool
	got     int
	action  int

	observation float64
	haveObs     bool
	reward      int
	total       int
	done        bool
	history     []string

	info     string
	err      string
	width    int
	quitting bool
}

// New returns a console that will assign index to the first agent that
// announces itself on link.
func New(link Link, index uint32, inbox Inbox) Model {
	return Model{
		link:   link,
		inbox:  inbox,
		topics: protocol.AgentTopics(index),
		keys:   DefaultKeyMap(),
		help:   help.New(),
		info:   "announcing master",
	}
}

// Run starts the program on the alternate screen and blocks until it quits.
func Run(link Link, index uint32, inbox Inbox) error {
	_, err := tea.NewProgram(New(link, index, inbox), tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.announce(), m.inbox.wait())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case InboundMsg:
		var cmd tea.Cmd
		m, cmd = m.handleInbound(transport.Message(msg))
		return m, tea.Batch(cmd, m.inbox.wait())

	case announcedMsg:
		if msg.err != nil {
			m.err = "announce failed: " + msg.err.Error()
			return m, nil
		}
		m.info = "waiting for an agent to join"
		return m, nil

	case registeredMsg:
		if msg.err != nil {
			m.err = "register failed: " + msg.err.Error()
			m.joined = false
			return m, nil
		}
		m.info = fmt.Sprintf("assigned index %d, waiting for agent status", m.topics.Index)
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.err = "start failed: " + msg.err.Error()
			return m, nil
		}
		m.episode = msg.episode
		m.step = 0
		m.total = 0
		m.done = false
		m.waiting = false
		m.history = nil
		m.info = fmt.Sprintf("episode %d started", msg.episode)
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.err = "send failed: " + msg.err.Error()
			m.waiting = false
			m.step--
			return m, nil
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	m.err = ""
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.NewEpisode):
		if !m.ready {
			m.info = "agent not ready"
			return m, nil
		}
		return m, m.start(m.episode + 1)
	}

	action, ok := m.keys.action(msg)
	if !ok {
		return m, nil
	}
	switch {
	case !m.ready || m.episode == 0:
		m.info = "agent not ready"
		return m, nil
	case m.done:
		m.info = "episode over, press n for a new one"
		return m, nil
	case m.waiting:
		m.info = "waiting for step results"
		return m, nil
	}
	m.waiting = true
	m.got = 0
	m.action = action
	m.step++
	m.info = ""
	return m, m.send(action)
}

func (m Model) handleInbound(msg transport.Message) (Model, tea.Cmd) {
	if msg.Topic == protocol.AddTopic {
		v, err := protocol.ParseInt(msg.Payload)
		if err != nil {
			return m, nil
		}
		switch {
		case v == protocol.Join && !m.joined:
			m.joined = true
			m.info = "agent joining"
			return m, m.register()
		case v == protocol.Leave:
			m.info = "agent left"
		}
		return m, nil
	}

	n, leaf, ok := protocol.ParseAgentTopic(msg.Topic)
	if !ok || n != m.topics.Index {
		return m, nil
	}
	switch leaf {
	case protocol.LeafStatus:
		ready, err := protocol.ParseFlag(msg.Payload)
		if err != nil {
			return m, nil
		}
		m.ready = ready
		if !ready {
			m.info = "agent went offline"
			return m, nil
		}
		if m.episode == 0 {
			return m, m.start(1)
		}
	case protocol.LeafObv:
		v, err := protocol.ParseObservation(msg.Payload)
		if err != nil || len(v) == 0 {
			return m, nil
		}
		m.observation = v[0]
		m.haveObs = true
		m.collected(gotObv)
	case protocol.LeafReward:
		r, err := protocol.ParseInt(msg.Payload)
		if err != nil {
			return m, nil
		}
		m.reward = r
		m.total += r
		m.collected(gotReward)
	case protocol.LeafDone:
		done, err := protocol.ParseDone(msg.Payload)
		if err != nil {
			return m, nil
		}
		m.done = m.done || done
		m.collected(gotDone)
	}
	return m, nil
}

// collected records one result of the pending step and closes the step
// once all three arrived.
func (m *Model) collected(flag int) {
	if !m.waiting {
		return
	}
	m.got |= flag
	if m.got != gotAll {
		return
	}
	m.waiting = false
	line := fmt.Sprintf("#%d %-11s %7.1f mm  reward %d", m.step, actionName(m.action), m.observation, m.reward)
	m.history = append(m.history, line)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

func (m Model) announce() tea.Cmd {
	link := m.link
	return func() tea.Msg {
		if err := link.Subscribe(protocol.AddTopic); err != nil {
			return announcedMsg{err}
		}
		return announcedMsg{link.Publish(protocol.MasterStatusTopic, protocol.FormatFlag(true), true)}
	}
}

func (m Model) register() tea.Cmd {
	link, t := m.link, m.topics
	return func() tea.Msg {
		if err := link.Publish(t.Start, protocol.FormatFlag(false), true); err != nil {
			return registeredMsg{err}
		}
		for _, topic := range append(t.Results(), t.Status) {
			if err := link.Subscribe(topic); err != nil {
				return registeredMsg{err}
			}
		}
		return registeredMsg{link.Publish(protocol.IndexTopic, protocol.FormatInt(int(t.Index)), false)}
	}
}

// start clears the retained start flag before raising it so the agent
// sees a fresh episode.
func (m Model) start(episode int) tea.Cmd {
	link, t := m.link, m.topics
	return func() tea.Msg {
		if episode > 1 {
			if err := link.Publish(t.Start, protocol.FormatFlag(false), true); err != nil {
				return startedMsg{episode, err}
			}
		}
		return startedMsg{episode, link.Publish(t.Start, protocol.FormatFlag(true), true)}
	}
}

func (m Model) send(action int) tea.Cmd {
	link, topic := m.link, m.topics.Action
	return func() tea.Msg {
		return sentMsg{action, link.Publish(topic, protocol.FormatInt(action), false)}
	}
}

func (m Model) status() string {
	switch {
	case m.done:
		return "done"
	case m.ready:
		return "ready"
	case m.joined:
		return "joining"
	default:
		return "waiting"
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := fmt.Sprintf("swarmbot teleop  agent %d", m.topics.Index)
	header := styles.Header.Render(title)
	if m.width > 4 {
		header = styles.Header.Width(m.width - 4).Render(title)
	}
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(styles.Badge(m.status()))
	b.WriteString("\n\n")

	distance := "-"
	if m.haveObs {
		distance = fmt.Sprintf("%.1f mm", m.observation)
	}
	rows := []string{
		row("Episode", fmt.Sprint(m.episode)),
		row("Step", fmt.Sprint(m.step)),
		row("Distance", distance),
		styles.Label.Render("Last reward") + styles.RewardStyle(m.reward).Bold(true).Render(fmt.Sprint(m.reward)),
		row("Total reward", fmt.Sprint(m.total)),
	}
	b.WriteString(styles.ContentBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	b.WriteString("\n")

	if len(m.history) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Title.Render("Recent steps"))
		b.WriteString("\n")
		for _, line := range m.history {
			b.WriteString(styles.Muted.Render(line))
			b.WriteString("\n")
		}
	}

	if m.err != "" {
		b.WriteString("\n")
		b.WriteString(styles.ErrorMsg.Render("Error: " + m.err))
		b.WriteString("\n")
	} else if m.info != "" {
		b.WriteString("\n")
		b.WriteString(styles.SuccessMsg.Render(m.info))
		b.WriteString("\n")
	}

	b.WriteString(styles.HelpBar.Render(m.help.View(m.keys)))
	return b.String()
}

func row(label, value string) string {
	return styles.Label.Render(label) + styles.Value.Render(value)
}

func actionName(action int) string {
	switch action {
	case agent.ActionForward:
		return "forward"
	case agent.ActionTurnRight:
		return "turn right"
	case agent.ActionTurnAround:
		return "turn around"
	case agent.ActionTurnLeft:
		return "turn left"
	default:
		return fmt.Sprintf("action %d", action)
	}
}
