// Package monitor implements the live TUI: the local task list with
// per-task sync markers, plus queue depth and connection state. It
// re-reads the store on a fixed tick, so changes from other processes
// and from the realtime channel show up without any wiring.
package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/realtime"
	"github.com/ChalidNL/todoless/internal/store"
)

// Engine is the slice of the sync engine the monitor reads.
type Engine interface {
	Pending() int
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Delete  key.Binding
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Delete, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.Delete},
		{k.Refresh, k.Help, k.Quit},
	}
}

var defaultKeys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle done")),
	Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

// Model is the bubbletea model for the monitor.
type Model struct {
	store    *store.Store
	engine   Engine                // nil when sync is off
	connFn   func() realtime.State // nil when no realtime channel
	interval time.Duration
	version  string

	tasks  []models.Task
	cursor int
	keys   keyMap
	help   help.Model
	width  int
	height int
	err    error
}

// NewModel creates a monitor over the given store. engine and connFn
// may be nil when the session runs without sync.
func NewModel(st *store.Store, eng Engine, connFn func() realtime.State, interval time.Duration, version string) Model {
	if interval < 250*time.Millisecond {
		interval = time.Second
	}
	return Model{
		store:    st,
		engine:   eng,
		connFn:   connFn,
		interval: interval,
		version:  version,
		keys:     defaultKeys,
		help:     help.New(),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.reload(), m.tick())
}

func (m *Model) reload() tea.Cmd {
	tasks, err := m.store.List()
	if err != nil {
		m.err = err
		return nil
	}
	m.err = nil
	m.tasks = tasks
	if m.cursor >= len(m.tasks) {
		m.cursor = len(m.tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.reload()
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.tasks)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Toggle):
			if task := m.selected(); task != nil {
				completed := !task.Completed
				if _, err := m.store.Update(task.ID, models.TaskPatch{Completed: &completed}); err != nil {
					m.err = err
				}
				m.reload()
			}
		case key.Matches(msg, m.keys.Delete):
			if task := m.selected(); task != nil {
				if err := m.store.Remove(task.ID); err != nil {
					m.err = err
				}
				m.reload()
			}
		case key.Matches(msg, m.keys.Refresh):
			m.reload()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

func (m *Model) selected() *models.Task {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return nil
	}
	return &m.tasks[m.cursor]
}
