package server

import (
	"github.com/prdeck/prdeck/internal/mergebot"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// Snapshot is the wire form of the dashboard state.
type Snapshot struct {
	ActiveRepo string         `json:"active_repo"`
	StatusLine string         `json:"status_line"`
	Repos      []RepoSnapshot `json:"repos"`
	Bot        *BotSnapshot   `json:"bot,omitempty"`
}

type RepoSnapshot struct {
	Key     string       `json:"key"`
	Loading string       `json:"loading"`
	Error   string       `json:"error,omitempty"`
	PRs     []PRSnapshot `json:"prs"`
}

type PRSnapshot struct {
	Number    pr.Number `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	HeadRef   string    `json:"head_ref"`
	Status    pr.Status `json:"status"`
	Approvals int       `json:"approvals"`
	Draft     bool      `json:"draft,omitempty"`
	Selected  bool      `json:"selected,omitempty"`
	URL       string    `json:"url"`
}

type BotSnapshot struct {
	Phase   string      `json:"phase"`
	Repo    string      `json:"repo"`
	Queue   []pr.Number `json:"queue"`
	Merged  []pr.Number `json:"merged"`
	Failed  int         `json:"failed"`
	Current pr.Number   `json:"current,omitempty"`
}

// TakeSnapshot converts the app state to its wire form.
func TakeSnapshot(s state.AppState) Snapshot {
	snap := Snapshot{StatusLine: s.StatusLine}
	if r, _, ok := s.Active(); ok {
		snap.ActiveRepo = r.Key()
	}

	for _, r := range s.Repos {
		d := s.Data[r.Key()]
		if d == nil {
			continue
		}
		rs := RepoSnapshot{
			Key:     r.Key(),
			Loading: string(d.Loading.Phase),
		}
		if d.Loading.Err != "" {
			rs.Error = d.Loading.Err
		}
		for _, p := range d.PRs {
			_, selected := d.Selected[p.Number]
			rs.PRs = append(rs.PRs, PRSnapshot{
				Number:    p.Number,
				Title:     p.Title,
				Author:    p.Author,
				HeadRef:   p.HeadRef,
				Status:    p.Status,
				Approvals: p.Approvals,
				Draft:     p.Draft,
				Selected:  selected,
				URL:       p.HTMLURL,
			})
		}
		snap.Repos = append(snap.Repos, rs)
	}

	if s.Bot != nil && s.Bot.Phase != mergebot.PhaseIdle {
		bs := &BotSnapshot{
			Phase:  string(s.Bot.Phase),
			Repo:   s.BotRepo.Key(),
			Queue:  s.Bot.Queue,
			Merged: s.Bot.Merged,
			Failed: len(s.Bot.Failed),
		}
		if current, ok := s.Bot.Current(); ok {
			bs.Current = current
		}
		snap.Bot = bs
	}
	return snap
}
