package config

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/task"
)

// Filter builds the worker's PR filter from the configured patterns.
// Branch and title patterns each match-any within their list; a PR must
// pass both lists. An invalid pattern simply never matches.
func (f FilterConfig) Filter() task.Filter {
	return func(p pr.PR) bool {
		if f.ExcludeDrafts && p.Draft {
			return false
		}
		if !matchAny(f.Branches, p.HeadRef) {
			return false
		}
		return matchAny(f.Titles, p.Title)
	}
}

func matchAny(patterns []string, s string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, s); err == nil && ok {
			return true
		}
	}
	return false
}
