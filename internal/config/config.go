// Package config loads the prdeck configuration file: which repositories
// to track, how to authenticate against GitHub, PR filters and the
// polling cadences.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prdeck/prdeck/internal/state"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Auth    AuthConfig    `yaml:"auth"`
	Repos   []RepoConfig  `yaml:"repos"`
	Filters FilterConfig  `yaml:"filters"`
	Cadence CadenceConfig `yaml:"cadence"`
	Log     LogConfig     `yaml:"log"`

	// GithubURL overrides the API endpoint, for GitHub Enterprise.
	GithubURL string `yaml:"github_url"`
	// DBPath overrides the database location (default ~/.prdeck/prdeck.db).
	DBPath string `yaml:"db_path"`
	// IDECommand is run as `<cmd> <org>/<repo> <branch>` to open a PR's
	// branch locally. Empty disables the binding.
	IDECommand string `yaml:"ide_command"`
	// Listen is the address for the state websocket. Empty disables it.
	Listen string `yaml:"listen"`
}

// AuthConfig holds the GitHub token or App credentials. String fields
// support ${ENV_VAR} expansion.
type AuthConfig struct {
	Token             string `yaml:"token"`
	AppClientID       string `yaml:"app_client_id"`
	AppInstallationID int64  `yaml:"app_installation_id"`
	AppPrivateKeyPath string `yaml:"app_private_key_path"`
}

// HasApp returns true if GitHub App credentials are configured.
func (a AuthConfig) HasApp() bool {
	return a.AppClientID != "" && a.AppInstallationID != 0 && a.AppPrivateKeyPath != ""
}

type RepoConfig struct {
	Org    string `yaml:"org"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// FilterConfig narrows which open PRs are shown. Branches and Titles are
// doublestar glob patterns; empty lists match everything.
type FilterConfig struct {
	Branches      []string `yaml:"branches"`
	Titles        []string `yaml:"titles"`
	ExcludeDrafts bool     `yaml:"exclude_drafts"`
}

// CadenceConfig overrides the polling intervals. Zero values keep the
// defaults.
type CadenceConfig struct {
	CacheTTL        Duration `yaml:"cache_ttl"`
	MonitorPeriod   Duration `yaml:"monitor_period"`
	AutoMergePeriod Duration `yaml:"auto_merge_period"`
	CIPollDelay     Duration `yaml:"ci_poll_delay"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultDir returns the prdeck config directory (~/.prdeck).
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".prdeck")
}

// Load reads and parses a config file at the given path. ${ENV_VAR}
// references in auth fields are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Auth.Token = os.ExpandEnv(cfg.Auth.Token)
	cfg.Auth.AppClientID = os.ExpandEnv(cfg.Auth.AppClientID)
	cfg.Auth.AppPrivateKeyPath = os.ExpandEnv(cfg.Auth.AppPrivateKeyPath)

	if cfg.Auth.Token == "" && !cfg.Auth.HasApp() {
		cfg.Auth.Token = os.Getenv("GITHUB_TOKEN")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Discover looks for prdeck.yaml in the current directory, then for
// config.yaml under ~/.prdeck.
func Discover() (*Config, error) {
	if _, err := os.Stat("prdeck.yaml"); err == nil {
		return Load("prdeck.yaml")
	}
	candidate := filepath.Join(DefaultDir(), "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return Load(candidate)
	}
	return nil, fmt.Errorf("no prdeck.yaml in current directory and no %s", candidate)
}

// Resolve tries the explicit path first, then falls back to Discover.
func Resolve(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	return Discover()
}

func (c *Config) validate() error {
	if c.Auth.Token == "" && !c.Auth.HasApp() {
		return fmt.Errorf("missing auth: set auth.token or app credentials (or GITHUB_TOKEN)")
	}
	for i, r := range c.Repos {
		if r.Org == "" || r.Repo == "" {
			return fmt.Errorf("repos[%d]: org and repo are required", i)
		}
	}
	return nil
}

// StateRepos converts the configured repos to state.Repo values. A
// missing branch defaults to "main".
func (c *Config) StateRepos() []state.Repo {
	repos := make([]state.Repo, 0, len(c.Repos))
	for _, r := range c.Repos {
		branch := r.Branch
		if branch == "" {
			branch = "main"
		}
		repos = append(repos, state.Repo{Org: r.Org, Repo: r.Repo, Branch: branch})
	}
	return repos
}
