// Package state defines the application state owned by the dispatch loop.
// The reducer is the only writer; everything else sees snapshots.
package state

import (
	"fmt"
	"time"

	"github.com/prdeck/prdeck/internal/mergebot"
	"github.com/prdeck/prdeck/internal/pr"
)

// Repo identifies a tracked repository and the base branch PRs target.
type Repo struct {
	Org    string `yaml:"org" json:"org"`
	Repo   string `yaml:"repo" json:"repo"`
	Branch string `yaml:"branch" json:"branch"`
}

// Key returns the identity string used to index per-repo data.
func (r Repo) Key() string {
	return fmt.Sprintf("%s/%s#%s", r.Org, r.Repo, r.Branch)
}

func (r Repo) String() string { return r.Key() }

// LoadingState tracks where a repo's PR list is in its load cycle.
type LoadingState struct {
	Phase LoadPhase
	Err   string
}

type LoadPhase string

const (
	LoadIdle    LoadPhase = "idle"
	LoadLoading LoadPhase = "loading"
	LoadLoaded  LoadPhase = "loaded"
	LoadError   LoadPhase = "error"
)

// AutoMergePR is a PR being watched after auto-merge was enabled on it.
// The watcher gives up after AutoMergeMaxChecks checks.
type AutoMergePR struct {
	Number     pr.Number
	StartedAt  time.Time
	CheckCount int
}

const AutoMergeMaxChecks = 20

// Operation is a long-running PR mutation tracked by an OperationMonitor.
type Operation string

const (
	OpRebase Operation = "rebase"
	OpMerge  Operation = "merge"
)

// OperationMonitor tracks an in-flight rebase or merge until its effect is
// visible (head SHA change, merge confirmation) or it times out.
type OperationMonitor struct {
	Number           pr.Number
	Op               Operation
	StartedAt        time.Time
	CheckCount       int
	LastKnownHeadSHA string
}

const (
	MonitorMaxChecks      = 40
	MonitorMaxConsecFails = 5
)

// RepoData is the per-repository slice of application state. Selection is
// keyed by PR number, never by row index, so it survives list reloads.
type RepoData struct {
	PRs       []pr.PR
	Cursor    int
	Selected  map[pr.Number]struct{}
	Loading   LoadingState
	AutoMerge []AutoMergePR
	Monitors  []OperationMonitor
}

// NewRepoData returns an empty RepoData in the idle loading state.
func NewRepoData() *RepoData {
	return &RepoData{
		Selected: make(map[pr.Number]struct{}),
		Loading:  LoadingState{Phase: LoadIdle},
	}
}

// SetPRs replaces the PR list. The selection set is intersected with the
// new list and the cursor is clamped, so stale numbers never linger.
func (d *RepoData) SetPRs(prs []pr.PR) {
	d.PRs = prs
	alive := make(map[pr.Number]struct{}, len(prs))
	for _, p := range prs {
		alive[p.Number] = struct{}{}
	}
	for n := range d.Selected {
		if _, ok := alive[n]; !ok {
			delete(d.Selected, n)
		}
	}
	if d.Cursor >= len(prs) {
		d.Cursor = len(prs) - 1
	}
	if d.Cursor < 0 {
		d.Cursor = 0
	}
}

// PR returns the PR with the given number, if present.
func (d *RepoData) PR(n pr.Number) (pr.PR, bool) {
	for _, p := range d.PRs {
		if p.Number == n {
			return p, true
		}
	}
	return pr.PR{}, false
}

// SetStatus updates the status of one PR in place. Returns false if the PR
// is no longer in the list.
func (d *RepoData) SetStatus(n pr.Number, s pr.Status) bool {
	for i := range d.PRs {
		if d.PRs[i].Number == n {
			d.PRs[i].Status = s
			return true
		}
	}
	return false
}

// CursorPR returns the PR under the cursor.
func (d *RepoData) CursorPR() (pr.PR, bool) {
	if d.Cursor < 0 || d.Cursor >= len(d.PRs) {
		return pr.PR{}, false
	}
	return d.PRs[d.Cursor], true
}

// SelectedNumbers returns the selected PR numbers in display order.
func (d *RepoData) SelectedNumbers() []pr.Number {
	out := make([]pr.Number, 0, len(d.Selected))
	for _, p := range d.PRs {
		if _, ok := d.Selected[p.Number]; ok {
			out = append(out, p.Number)
		}
	}
	return out
}

// ToggleSelect flips selection of the given PR number.
func (d *RepoData) ToggleSelect(n pr.Number) {
	if _, ok := d.Selected[n]; ok {
		delete(d.Selected, n)
		return
	}
	if _, present := d.PR(n); present {
		d.Selected[n] = struct{}{}
	}
}

// FindMonitor returns the index of the monitor for the given PR, or -1.
func (d *RepoData) FindMonitor(n pr.Number) int {
	for i, m := range d.Monitors {
		if m.Number == n {
			return i
		}
	}
	return -1
}

// RemoveMonitor drops the monitor for the given PR, if any.
func (d *RepoData) RemoveMonitor(n pr.Number) {
	if i := d.FindMonitor(n); i >= 0 {
		d.Monitors = append(d.Monitors[:i], d.Monitors[i+1:]...)
	}
}

// FindAutoMerge returns the index of the auto-merge entry for the PR, or -1.
func (d *RepoData) FindAutoMerge(n pr.Number) int {
	for i, a := range d.AutoMerge {
		if a.Number == n {
			return i
		}
	}
	return -1
}

// RemoveAutoMerge drops the auto-merge entry for the given PR, if any.
func (d *RepoData) RemoveAutoMerge(n pr.Number) {
	if i := d.FindAutoMerge(n); i >= 0 {
		d.AutoMerge = append(d.AutoMerge[:i], d.AutoMerge[i+1:]...)
	}
}

// AppState is the root of the engine's state tree.
type AppState struct {
	Repos      []Repo
	Data       map[string]*RepoData
	ActiveRepo int
	Bot        *mergebot.Bot
	BotRepo    Repo
	Spinner    int
	Booting    bool
	StatusLine string
	LogView    *LogView
}

// LogView holds a fetched build-log summary for display.
type LogView struct {
	PRNumber pr.Number
	Jobs     []JobLog
}

// JobLog is one CI job's parsed log summary.
type JobLog struct {
	Name       string
	ErrorCount int
	Errors     []string
}

// New returns an AppState tracking the given repos, all idle, in bootstrap.
func New(repos []Repo) *AppState {
	s := &AppState{
		Repos:   repos,
		Data:    make(map[string]*RepoData, len(repos)),
		Bot:     mergebot.New(),
		Booting: true,
	}
	for _, r := range repos {
		s.Data[r.Key()] = NewRepoData()
	}
	return s
}

// Active returns the currently focused repo and its data.
func (s *AppState) Active() (Repo, *RepoData, bool) {
	if s.ActiveRepo < 0 || s.ActiveRepo >= len(s.Repos) {
		return Repo{}, nil, false
	}
	r := s.Repos[s.ActiveRepo]
	return r, s.Data[r.Key()], true
}

// RepoData returns the data for the given repo, creating it if needed.
func (s *AppState) RepoData(r Repo) *RepoData {
	d, ok := s.Data[r.Key()]
	if !ok {
		d = NewRepoData()
		s.Data[r.Key()] = d
	}
	return d
}

// RepoByKey resolves a repo key back to the Repo, if tracked.
func (s *AppState) RepoByKey(key string) (Repo, bool) {
	for _, r := range s.Repos {
		if r.Key() == key {
			return r, true
		}
	}
	return Repo{}, false
}

// AddRepo appends a repo to the tracked list. Duplicate keys are ignored.
func (s *AppState) AddRepo(r Repo) bool {
	if _, ok := s.Data[r.Key()]; ok {
		return false
	}
	s.Repos = append(s.Repos, r)
	s.Data[r.Key()] = NewRepoData()
	return true
}

// RemoveRepo drops a repo and its data. The active index is clamped.
func (s *AppState) RemoveRepo(key string) bool {
	for i, r := range s.Repos {
		if r.Key() == key {
			s.Repos = append(s.Repos[:i], s.Repos[i+1:]...)
			delete(s.Data, key)
			if s.ActiveRepo >= len(s.Repos) && s.ActiveRepo > 0 {
				s.ActiveRepo = len(s.Repos) - 1
			}
			return true
		}
	}
	return false
}

// RecomputeBooting clears the bootstrap flag once every repo has reached a
// terminal loading phase at least once.
func (s *AppState) RecomputeBooting() {
	if !s.Booting {
		return
	}
	for _, r := range s.Repos {
		switch s.Data[r.Key()].Loading.Phase {
		case LoadLoaded, LoadError:
		default:
			return
		}
	}
	s.Booting = false
}
