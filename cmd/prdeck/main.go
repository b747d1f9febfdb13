package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/config"
	"github.com/prdeck/prdeck/internal/db"
	"github.com/prdeck/prdeck/internal/effect"
	ghclient "github.com/prdeck/prdeck/internal/github"
	"github.com/prdeck/prdeck/internal/logging"
	"github.com/prdeck/prdeck/internal/loop"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/reducer"
	"github.com/prdeck/prdeck/internal/server"
	"github.com/prdeck/prdeck/internal/state"
	"github.com/prdeck/prdeck/internal/task"
	"github.com/prdeck/prdeck/internal/tui"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `prdeck — pull request dashboard

Usage:
  prdeck [flags]

Flags:
  --config   Path to config file (default: ./prdeck.yaml, then ~/.prdeck/config.yaml)
  --no-tui   Run headless; requires "listen" in the config
`)
}

func main() {
	configPath := ""
	noTUI := false

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--no-tui":
			noTUI = true
		case "--version", "version":
			fmt.Println("prdeck " + version)
			return
		case "help", "-h", "--help":
			usage()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n\n", args[i])
			usage()
			os.Exit(1)
		}
	}

	if err := run(configPath, noTUI); err != nil {
		fmt.Fprintf(os.Stderr, "prdeck: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, noTUI bool) error {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if noTUI && cfg.Listen == "" {
		return fmt.Errorf("--no-tui requires \"listen\" in the config")
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = logging.DefaultLogFile()
	}
	logger, err := logging.Setup(logFile, cfg.Log.Level, !noTUI)
	if err != nil {
		return err
	}
	defer logging.CloseFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database: repo list, session, PR cache.
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = db.DefaultPath()
		if err != nil {
			return err
		}
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	// The config declares repos; the database carries the ones added at
	// runtime. Config entries win on conflict.
	repos := cfg.StateRepos()
	stored, err := database.LoadRepos()
	if err != nil {
		logger.Warn("loading stored repos", "error", err)
	}
	for _, r := range stored {
		if !containsRepo(repos, r) {
			repos = append(repos, r)
		}
	}
	if len(repos) == 0 {
		logger.Warn("no repositories configured; press n to add one")
	}

	// GitHub client.
	var ghOpts []ghclient.Option
	if cfg.GithubURL != "" {
		ghOpts = append(ghOpts, ghclient.WithBaseURL(cfg.GithubURL+"/"))
	}
	if cfg.Auth.HasApp() {
		ghOpts = append(ghOpts, ghclient.WithAppAuth(ghclient.AppCredentials{
			ClientID:       cfg.Auth.AppClientID,
			InstallationID: cfg.Auth.AppInstallationID,
			PrivateKeyPath: cfg.Auth.AppPrivateKeyPath,
		}))
	}
	gh, err := ghclient.New(cfg.Auth.Token, ghOpts...)
	if err != nil {
		return fmt.Errorf("creating github client: %w", err)
	}

	// Worker.
	cache := db.NewCache(database, cfg.Cadence.CacheTTL.Std(), logger)
	workerOpts := []task.Option{
		task.WithCache(cache),
		task.WithFilter(cfg.Filters.Filter()),
		task.WithLogger(logger),
	}
	if cfg.Cadence.MonitorPeriod.Std() > 0 || cfg.Cadence.AutoMergePeriod.Std() > 0 {
		workerOpts = append(workerOpts,
			task.WithMonitorPeriods(cfg.Cadence.MonitorPeriod.Std(), cfg.Cadence.AutoMergePeriod.Std()))
	}
	worker := task.New(gh, workerOpts...)

	// State, session restore.
	st := state.New(repos)
	if sess, err := database.LoadSession(); err != nil {
		logger.Warn("loading session", "error", err)
	} else {
		restoreSession(st, sess)
	}

	// Executor.
	execOpts := []effect.ExecOption{
		effect.WithStore(database),
		effect.WithLogger(logger),
		effect.WithOpeners(openBrowser, ideOpener(cfg.IDECommand)),
	}
	if d := cfg.Cadence.CIPollDelay.Std(); d > 0 {
		execOpts = append(execOpts, effect.WithPollDelays(2*time.Second, d))
	}
	executor := effect.NewExecutor(worker, execOpts...)

	// Optional websocket hub.
	var hub *server.Hub
	if cfg.Listen != "" {
		hub = server.NewHub(logger)
		srv, err := server.New(cfg.Listen, hub)
		if err != nil {
			return err
		}
		defer srv.Close()
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Debug("websocket server stopped", "error", err)
			}
		}()
		logger.Info("websocket listening", "addr", srv.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	snapshot := func(s state.AppState) {
		if program != nil {
			program.Send(tui.StateMsg{Snapshot: s})
		}
		if hub != nil {
			if msg, err := server.NewWSMessage(server.MsgStateSnapshot, server.TakeSnapshot(s)); err == nil {
				hub.Broadcast(msg)
			}
		}
	}

	dispatch := loop.New(st, reducer.Reduce, executor, worker.Results(),
		loop.WithLogger(logger),
		loop.WithSnapshot(snapshot),
		loop.WithQuit(cancel),
	)

	// The program must exist before the loop starts publishing snapshots.
	if !noTUI {
		program = tea.NewProgram(
			tui.NewModel(*st, dispatch.Send),
			tea.WithAltScreen(),
		)
	}

	go worker.Run(ctx)
	go dispatch.Run(ctx)
	dispatch.Send(action.ReloadAll{})

	if noTUI {
		logger.Info("running headless", "repos", len(repos))
		<-ctx.Done()
		return nil
	}

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}

func containsRepo(repos []state.Repo, r state.Repo) bool {
	for _, existing := range repos {
		if existing.Key() == r.Key() {
			return true
		}
	}
	return false
}

// restoreSession reapplies the saved active tab. Selections are restored
// lazily by key once lists load; numbers that vanished get pruned by the
// reducer's intersection rule.
func restoreSession(st *state.AppState, sess db.Session) {
	for i, r := range st.Repos {
		if r.Key() == sess.ActiveRepo {
			st.ActiveRepo = i
		}
	}
	for key, nums := range sess.Selected {
		d, ok := st.Data[key]
		if !ok {
			continue
		}
		for _, n := range nums {
			d.Selected[n] = struct{}{}
		}
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// ideOpener builds the IDE launcher from the configured command. The
// command receives "org/repo" and the PR's head branch as arguments.
func ideOpener(command string) func(state.Repo, pr.PR) error {
	if command == "" {
		return nil
	}
	parts := strings.Fields(command)
	return func(r state.Repo, p pr.PR) error {
		args := append(parts[1:], r.Org+"/"+r.Repo, p.HeadRef)
		return exec.Command(parts[0], args...).Start()
	}
}
