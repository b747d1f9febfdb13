package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// SaveRepos replaces the stored repository list with the given one,
// preserving its order.
func (db *DB) SaveRepos(repos []state.Repo) error {
	return db.Tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM repos`); err != nil {
			return fmt.Errorf("clearing repos: %w", err)
		}
		for i, r := range repos {
			_, err := tx.Exec(`
				INSERT INTO repos (key, org, repo, branch, position)
				VALUES (?, ?, ?, ?, ?)`,
				r.Key(), r.Org, r.Repo, r.Branch, i,
			)
			if err != nil {
				return fmt.Errorf("inserting repo %s: %w", r.Key(), err)
			}
		}
		return nil
	})
}

// LoadRepos returns the stored repository list in saved order.
func (db *DB) LoadRepos() ([]state.Repo, error) {
	rows, err := db.conn.Query(`SELECT org, repo, branch FROM repos ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	defer rows.Close()

	var repos []state.Repo
	for rows.Next() {
		var r state.Repo
		if err := rows.Scan(&r.Org, &r.Repo, &r.Branch); err != nil {
			return nil, fmt.Errorf("scanning repo: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// Session is what survives a restart: the repo tab that was active and
// the selections per repo.
type Session struct {
	ActiveRepo string                 `json:"active_repo"`
	Selected   map[string][]pr.Number `json:"selected"`
}

// SaveSession stores the session derived from the given state.
func (db *DB) SaveSession(s state.AppState) error {
	sess := Session{Selected: make(map[string][]pr.Number)}
	if r, _, ok := s.Active(); ok {
		sess.ActiveRepo = r.Key()
	}
	for key, d := range s.Data {
		if nums := d.SelectedNumbers(); len(nums) > 0 {
			sess.Selected[key] = nums
		}
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO session (key, value) VALUES ('last', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// LoadSession returns the stored session, or the zero Session when none
// has been saved yet.
func (db *DB) LoadSession() (Session, error) {
	var payload string
	err := db.conn.QueryRow(`SELECT value FROM session WHERE key = 'last'`).Scan(&payload)
	if err == sql.ErrNoRows {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}
	return sess, nil
}
