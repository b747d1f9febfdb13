package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prdeck/prdeck/internal/pr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prdeck.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
auth:
  token: ghp_testtoken
repos:
  - org: octo
    repo: hello
    branch: main
  - org: octo
    repo: world
filters:
  branches:
    - "feature/**"
    - "dependabot/**"
  titles:
    - "*"
  exclude_drafts: true
cadence:
  cache_ttl: 2m
  monitor_period: 45s
log:
  level: debug
  file: /tmp/prdeck.log
github_url: https://ghe.example.com/api/v3
ide_command: code-open
listen: 127.0.0.1:7750
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "ghp_testtoken" {
		t.Errorf("Auth.Token = %q", cfg.Auth.Token)
	}
	if len(cfg.Repos) != 2 {
		t.Fatalf("Repos length = %d, want 2", len(cfg.Repos))
	}
	repos := cfg.StateRepos()
	if repos[1].Branch != "main" {
		t.Errorf("missing branch should default to main, got %q", repos[1].Branch)
	}
	if !cfg.Filters.ExcludeDrafts || len(cfg.Filters.Branches) != 2 {
		t.Errorf("unexpected filters: %+v", cfg.Filters)
	}
	if cfg.Cadence.CacheTTL.Std() != 2*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.Cadence.CacheTTL.Std())
	}
	if cfg.Cadence.MonitorPeriod.Std() != 45*time.Second {
		t.Errorf("MonitorPeriod = %v", cfg.Cadence.MonitorPeriod.Std())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Listen != "127.0.0.1:7750" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
}

func TestLoad_ExpandsEnvInAuth(t *testing.T) {
	t.Setenv("PRDECK_TEST_TOKEN", "ghp_fromenv")
	path := writeConfig(t, `
auth:
  token: ${PRDECK_TEST_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.Token != "ghp_fromenv" {
		t.Errorf("Auth.Token = %q, want expansion", cfg.Auth.Token)
	}
}

func TestLoad_FallsBackToGithubTokenEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_ambient")
	path := writeConfig(t, `
repos:
  - org: octo
    repo: hello
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.Token != "ghp_ambient" {
		t.Errorf("Auth.Token = %q, want GITHUB_TOKEN fallback", cfg.Auth.Token)
	}
}

func TestLoad_MissingAuth_ReturnsError(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	path := writeConfig(t, `
repos:
  - org: octo
    repo: hello
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "missing auth") {
		t.Fatalf("expected missing auth error, got %v", err)
	}
}

func TestLoad_IncompleteRepo_ReturnsError(t *testing.T) {
	path := writeConfig(t, `
auth:
  token: ghp_x
repos:
  - org: octo
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "org and repo are required") {
		t.Fatalf("expected repo validation error, got %v", err)
	}
}

func TestLoad_BadDuration_ReturnsError(t *testing.T) {
	path := writeConfig(t, `
auth:
  token: ghp_x
cadence:
  cache_ttl: soonish
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestFilter(t *testing.T) {
	f := FilterConfig{
		Branches:      []string{"feature/**", "dependabot/**"},
		Titles:        []string{"*"},
		ExcludeDrafts: true,
	}.Filter()

	tests := []struct {
		name string
		p    pr.PR
		want bool
	}{
		{"matching branch", pr.PR{HeadRef: "feature/login", Title: "Add login"}, true},
		{"nested branch", pr.PR{HeadRef: "dependabot/go_modules/x", Title: "Bump x"}, true},
		{"non-matching branch", pr.PR{HeadRef: "hotfix/crash", Title: "Fix"}, false},
		{"draft excluded", pr.PR{HeadRef: "feature/wip", Title: "WIP", Draft: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f(tt.p); got != tt.want {
				t.Errorf("filter(%+v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestFilter_EmptyMatchesAll(t *testing.T) {
	f := FilterConfig{}.Filter()
	if !f(pr.PR{HeadRef: "anything", Title: "whatever", Draft: true}) {
		t.Error("empty filter should pass everything, drafts included")
	}
}
