package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/worldclone/internal/api"
	"github.com/mattjoyce/worldclone/internal/config"
	"github.com/mattjoyce/worldclone/internal/lock"
	"github.com/mattjoyce/worldclone/internal/log"
	"github.com/mattjoyce/worldclone/internal/storage"
	"github.com/mattjoyce/worldclone/internal/tui/watch"
	"github.com/mattjoyce/worldclone/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// shutdownTimeout bounds how long stopping waits for copies to settle and
// clones to be saved.
const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "clone":
		return runCloneNoun(args)
	case "config":
		return runConfigNoun(args)

	case "start":
		return runStart(args)
	case "inspect":
		return runInspect(args)
	case "tiles":
		return runTiles(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: worldclone version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("worldclone %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`worldclone - per-player copies of a live world, cut to a region

Usage:
  worldclone <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle and health
  clone     Player clones and their copy history
  config    Configuration and integrity

System Commands:
  system start      Run the clone service in the foreground
  system status     Show config, database and lock health
  system watch      Real-time clone and event monitor TUI

Clone Commands:
  clone enter <owner>    Create or load a clone (offline)
  clone reset <owner>    Replace a clone with a fresh copy (offline)
  clone jobs [owner]     List recent copy jobs
  clone inspect <owner>  Show a clone's tree, settings and history
  clone tiles            Preview the tiles a region selects

Config Commands:
  config lock       Authorize current state (update integrity hashes)
  config check      Validate configuration against the filesystem
  config show       Print the resolved configuration

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'worldclone <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runCloneNoun(args []string) int {
	if len(args) < 1 {
		printCloneNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCloneNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "enter", "reset":
		if hasHelpFlag(actionArgs) {
			printCloneCreateHelp(action)
			return 0
		}
		return runCloneCreate(action, actionArgs)
	case "jobs":
		if hasHelpFlag(actionArgs) {
			printCloneJobsHelp()
			return 0
		}
		return runCloneJobs(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printCloneInspectHelp()
			return 0
		}
		return runInspect(actionArgs)
	case "tiles":
		if hasHelpFlag(actionArgs) {
			printCloneTilesHelp()
			return 0
		}
		return runTiles(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown clone action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: worldclone system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printCloneNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: worldclone clone <action>")
	fmt.Fprintln(w, "Actions: enter, reset, jobs, inspect, tiles")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: worldclone config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check, show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: worldclone system start [--config PATH] [--db PATH]")
	fmt.Println("Run the clone service and its HTTP API in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: worldclone system status [--config PATH] [--json]")
	fmt.Println("Show config, database readiness and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: worldclone system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitor of clone copies and lifecycle events.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Service API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or WORLDCLONE_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate clones")
}

func printConfigLockHelp() {
	fmt.Println("Usage: worldclone config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: worldclone config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration against source worlds and the clone container.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: worldclone config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration, defaults and includes applied.")
}

// --- ACTION IMPLEMENTATIONS ---

// resolveConfigPath falls back to the discovered config location when
// configPath is empty.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	return discovered, nil
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "api.enabled is false; the service has nothing to serve")
		return 1
	}

	var hookCfg webhook.Config
	if cfg.Webhooks.Listen != "" {
		if hookCfg, err = webhook.FromConfig(cfg.Webhooks); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid webhooks config: %v\n", err)
			return 1
		}
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("worldclone starting", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, log.Get())
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	logger.Info("acquired PID lock", "path", rt.lock.Path())
	logger.Info("database opened", "path", cfg.State.Path)

	server := api.New(api.Config{
		Listen:        cfg.API.Listen,
		APIKey:        cfg.API.Auth.APIKey,
		MaxWait:       cfg.API.MaxWait,
		DefaultSource: cfg.World.DefaultSourceName(),
		DefaultRadius: cfg.World.Radius,
		MaxRadius:     cfg.World.MaxRadius,
		TileEdge:      cfg.World.TileEdge,
		TileExt:       cfg.World.TileExt,
	}, rt.coord, rt.jobs, rt.coord.Naming(), rt.hub, log.Get())

	hookErr := make(chan error, 1)
	if hookCfg.Listen != "" {
		hooks := webhook.New(hookCfg, rt.dir, rt.hub, log.Get())
		go func() {
			err := hooks.Start(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webhook server failed", "error", err)
				stop()
			}
			hookErr <- err
		}()
	} else {
		hookErr <- nil
	}

	serveErr := server.Start(ctx)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}
	if serveErr != nil {
		logger.Error("API server failed", "error", serveErr)
	}
	stop()
	if err := <-hookErr; err != nil && !errors.Is(err, context.Canceled) && serveErr == nil {
		serveErr = err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return 1
	}
	logger.Info("worldclone stopped")
	if serveErr != nil {
		return 1
	}
	return 0
}

type statusCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	ActivePID int    `json:"active_pid,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	add := func(c statusCheck) {
		report.Checks = append(report.Checks, c)
		if !c.OK {
			report.Healthy = false
		}
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		add(statusCheck{Name: "config_load", Detail: err.Error()})
		add(statusCheck{Name: "state_db", Detail: "skipped: config not loaded"})
		add(statusCheck{Name: "pid_lock", Detail: "skipped: config not loaded"})
	} else {
		add(statusCheck{Name: "config_load", OK: true, Detail: fmt.Sprintf("%d source world(s)", len(cfg.World.Sources))})
		add(checkStateDB(cfg.State.Path))
		add(checkPIDLock(lock.PathFor(cfg.State.Path)))
		add(checkContainer(cfg.World.Container))
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			state := "OK"
			if !c.OK {
				state = "FAIL"
			}
			fmt.Printf("%s: %s", c.Name, state)
			if c.Detail != "" {
				fmt.Printf(" (%s)", c.Detail)
			}
			fmt.Println()
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func checkStateDB(path string) statusCheck {
	c := statusCheck{Name: "state_db"}
	db, err := storage.OpenSQLite(context.Background(), path)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	defer db.Close()
	if err := db.PingContext(context.Background()); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = path
	return c
}

// checkPIDLock passes when no other process holds the lock, i.e. a
// service could start.
func checkPIDLock(path string) statusCheck {
	c := statusCheck{Name: "pid_lock"}
	l, err := lock.AcquirePIDLock(path)
	if err != nil {
		c.Detail = err.Error()
		if errors.Is(err, lock.ErrHeld) {
			if pid, perr := lock.HolderPID(path); perr == nil {
				c.ActivePID = pid
			}
		}
		return c
	}
	_ = l.Release()
	c.OK = true
	c.Detail = "free"
	return c
}

func checkContainer(dir string) statusCheck {
	c := statusCheck{Name: "container"}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.OK = true
		c.Detail = "not created yet"
	case err != nil:
		c.Detail = err.Error()
	case !info.IsDir():
		c.Detail = dir + " is not a directory"
	default:
		entries, err := os.ReadDir(dir)
		if err != nil {
			c.Detail = err.Error()
			return c
		}
		c.OK = true
		c.Detail = fmt.Sprintf("%d entr(y/ies)", len(entries))
	}
	return c
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("WORLDCLONE_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or WORLDCLONE_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
