// Package tui renders the PR dashboard with bubbletea. The model is a
// thin view over state snapshots published by the dispatch loop; every
// key press translates to an action sent back to the loop, and nothing
// here mutates application state directly.
package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/state"
)

// StateMsg delivers a fresh state snapshot from the dispatch loop.
type StateMsg struct {
	Snapshot state.AppState
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	snap state.AppState
	send func(action.Action)

	width  int
	height int
	ready  bool

	showHelp bool
	quitting bool

	// Scrollable build-log pane, content refreshed from snapshots.
	logs viewport.Model

	// Add-repo form, nil when not open.
	form       *huh.Form
	formOrg    string
	formRepo   string
	formBranch string
}

// NewModel creates a Model sending actions through send.
func NewModel(initial state.AppState, send func(action.Action)) Model {
	return Model{snap: initial, send: send}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.logs = viewport.New(msg.Width, max(msg.Height-1, 1))
			m.ready = true
		} else {
			m.logs.Width = msg.Width
			m.logs.Height = max(msg.Height-1, 1)
		}
		return m, nil

	case StateMsg:
		hadLogs := m.snap.LogView != nil
		m.snap = msg.Snapshot
		if m.snap.LogView != nil {
			m.logs.SetContent(logContent(m.snap.LogView))
			if !hadLogs {
				m.logs.GotoTop()
			}
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.form != nil {
		return m.updateForm(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.send(action.Quit{})
		m.quitting = true
		return m, tea.Quit
	}

	if m.form != nil {
		if msg.String() == "esc" {
			m.form = nil
			return m, nil
		}
		return m.updateForm(msg)
	}

	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	if m.snap.LogView != nil {
		switch msg.String() {
		case "esc", "q":
			m.send(action.CloseLogView{})
			return m, nil
		}
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.send(action.Quit{})
		m.quitting = true
		return m, tea.Quit

	case "tab", "l", "right":
		m.send(action.NextRepo{})
	case "shift+tab", "h", "left":
		m.send(action.PrevRepo{})
	case "down", "j":
		m.send(action.CursorDown{})
	case "up", "k":
		m.send(action.CursorUp{})

	case " ":
		m.send(action.ToggleSelect{})
	case "a":
		m.send(action.SelectAll{})
	case "esc":
		m.send(action.ClearSelection{})

	case "r":
		m.send(action.Reload{Bypass: true})
	case "ctrl+r":
		m.send(action.ReloadAll{})

	case "v":
		m.send(action.ApproveSelected{})
	case "x":
		m.send(action.CloseSelected{})
	case "b":
		m.send(action.RebaseSelected{})
	case "m":
		m.send(action.MergeSelected{})
	case "A":
		m.send(action.EnableAutoMergeSelected{})

	case "M":
		m.send(action.StartMergeBot{})
	case "S":
		m.send(action.StopMergeBot{})

	case "f":
		m.send(action.RerunFailedJobs{})
	case "L":
		m.send(action.ViewBuildLogs{})
	case "o":
		m.send(action.OpenInBrowser{})
	case "i":
		m.send(action.OpenInIDE{})

	case "n":
		m.openAddRepoForm()
		return m, m.form.Init()
	case "D":
		if r, _, ok := m.snap.Active(); ok {
			m.send(action.RemoveRepo{Key: r.Key()})
		}

	case "?":
		m.showHelp = true
	}
	return m, nil
}

func (m *Model) openAddRepoForm() {
	m.formOrg, m.formRepo, m.formBranch = "", "", "main"
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Organization").Value(&m.formOrg),
			huh.NewInput().Title("Repository").Value(&m.formRepo),
			huh.NewInput().Title("Base branch").Value(&m.formBranch),
		),
	)
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		if m.formOrg != "" && m.formRepo != "" {
			branch := m.formBranch
			if branch == "" {
				branch = "main"
			}
			m.send(action.AddRepo{Repo: state.Repo{Org: m.formOrg, Repo: m.formRepo, Branch: branch}})
		}
		m.form = nil
	} else if m.form.State == huh.StateAborted {
		m.form = nil
	}
	return m, cmd
}

// Snapshot returns the model's current snapshot (for testing).
func (m Model) Snapshot() state.AppState {
	return m.snap
}

// ShowingHelp reports whether the help overlay is open (for testing).
func (m Model) ShowingHelp() bool {
	return m.showHelp
}

// AddingRepo reports whether the add-repo form is open (for testing).
func (m Model) AddingRepo() bool {
	return m.form != nil
}

// Quitting reports whether the model is shutting down (for testing).
func (m Model) Quitting() bool {
	return m.quitting
}
