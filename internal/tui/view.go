package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#57606a", Dark: "#8b949e"}).
			Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0550ae", Dark: "#58a6ff"}).
			Padding(0, 1).
			Bold(true).
			Underline(true)

	cursorStyle = lipgloss.NewStyle().
			Background(lipgloss.AdaptiveColor{Light: "#d8dee4", Dark: "#30363d"})
	selectedMarkStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#0550ae", Dark: "#58a6ff"}).
				Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.AdaptiveColor{Light: "#d8dee4", Dark: "#30363d"}).
			Foreground(lipgloss.AdaptiveColor{Light: "#24292f", Dark: "#e6edf3"}).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}).
			Padding(1, 3)

	errorTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"})
)

var statusStyles = map[pr.Status]lipgloss.Style{
	pr.StatusReady:           lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}),
	pr.StatusNeedsRebase:     lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}),
	pr.StatusConflicted:      lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}),
	pr.StatusBuildInProgress: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}),
	pr.StatusBuildFailed:     lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}),
	pr.StatusBlocked:         lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#57606a", Dark: "#8b949e"}),
	pr.StatusRebasing:        lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0550ae", Dark: "#58a6ff"}),
	pr.StatusMerging:         lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0550ae", Dark: "#58a6ff"}),
	pr.StatusUnknown:         lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#57606a", Dark: "#8b949e"}),
}

func statusLabel(s pr.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		style = statusStyles[pr.StatusUnknown]
	}
	return style.Render(string(s))
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.quitting {
		return "Saving session...\n"
	}
	if m.form != nil {
		return m.form.View()
	}
	if m.showHelp {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			helpStyle.Render(helpText))
	}
	if m.snap.LogView != nil {
		return m.logs.View()
	}

	var b strings.Builder
	b.WriteString(m.tabs())
	b.WriteString("\n\n")
	b.WriteString(m.table())

	content := b.String()
	gap := m.height - lipgloss.Height(content) - 1
	if gap > 0 {
		content += strings.Repeat("\n", gap)
	}
	return content + "\n" + m.statusBar()
}

func (m Model) tabs() string {
	if len(m.snap.Repos) == 0 {
		return tabStyle.Render("no repositories (press n to add one)")
	}
	parts := make([]string, 0, len(m.snap.Repos))
	for i, r := range m.snap.Repos {
		label := r.Org + "/" + r.Repo
		if d := m.snap.Data[r.Key()]; d != nil && d.Loading.Phase == state.LoadLoading {
			label += " " + spinnerFrames[m.snap.Spinner%len(spinnerFrames)]
		}
		if i == m.snap.ActiveRepo {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) table() string {
	_, d, ok := m.snap.Active()
	if !ok || d == nil {
		return ""
	}

	switch d.Loading.Phase {
	case state.LoadIdle, state.LoadLoading:
		if len(d.PRs) == 0 {
			return "  " + spinnerFrames[m.snap.Spinner%len(spinnerFrames)] + " loading pull requests..."
		}
	case state.LoadError:
		if d.Loading.Err != "" {
			return errorTextStyle.Render("  error: " + d.Loading.Err)
		}
	}

	if len(d.PRs) == 0 {
		return "  no open pull requests"
	}

	var b strings.Builder
	for i, p := range d.PRs {
		mark := " "
		if _, sel := d.Selected[p.Number]; sel {
			mark = selectedMarkStyle.Render("●")
		}

		title := p.Title
		if p.Draft {
			title = "[draft] " + title
		}
		if len(title) > 60 {
			title = title[:57] + "..."
		}

		line := fmt.Sprintf(" %s #%-5d %-60s %-18s %s",
			mark, p.Number, title, statusLabel(p.Status), meta(p))
		if i == d.Cursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func meta(p pr.PR) string {
	parts := []string{"@" + p.Author}
	if p.Approvals > 0 {
		parts = append(parts, fmt.Sprintf("✓%d", p.Approvals))
	}
	if n := p.IssueComments + p.ReviewComments; n > 0 {
		parts = append(parts, fmt.Sprintf("💬%d", n))
	}
	return strings.Join(parts, " ")
}

func (m Model) statusBar() string {
	left := m.snap.StatusLine
	if left == "" {
		left = "? help"
	}
	if m.snap.Bot.Running() {
		left = fmt.Sprintf("merge bot: %s | %s", m.snap.Bot.Summary(), left)
	}
	return statusBarStyle.Width(m.width).Render(left)
}

func logContent(lv *state.LogView) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("build logs for #%d (esc to close)", lv.PRNumber), "")
	if len(lv.Jobs) == 0 {
		lines = append(lines, "  no failed jobs found")
	}
	for _, job := range lv.Jobs {
		lines = append(lines, fmt.Sprintf("%s (%d errors)", job.Name, job.ErrorCount))
		for _, e := range job.Errors {
			lines = append(lines, errorTextStyle.Render("  "+e))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

const helpText = `prdeck keys

  tab / shift+tab   switch repository
  j / k             move cursor
  space             select PR        a  select all      esc  clear
  r                 reload repo      ctrl+r  reload all

  v  approve        x  close         b  rebase          m  merge
  A  enable auto-merge
  M  start merge bot                 S  stop merge bot

  f  re-run failed jobs              L  view build logs
  o  open in browser                 i  open in IDE

  n  add repository                  D  remove repository
  q  quit`
