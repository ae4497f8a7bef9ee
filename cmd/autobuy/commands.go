package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/metrics"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/paths"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/secrets"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/supervisor"
)

// CheckCmd validates the config and prints a summary.
type CheckCmd struct{}

func (c *CheckCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	fmt.Printf("config:   %s\n", cfg.Path)
	fmt.Printf("profile:  %s (port %d)\n", cfg.Profile, cfg.Port)
	fmt.Printf("timeout:  %s, interval %s\n", cfg.Timeout, cfg.Interval)
	fmt.Printf("tabs:     %d\n", cfg.TabCount())
	for _, grp := range cfg.Groups {
		fmt.Printf("group %q tab %d: %d startup, %d steps\n", grp.Name, grp.Tab, len(grp.Startup), len(grp.Steps))
		for _, s := range grp.Startup {
			fmt.Printf("  startup %-20s %s\n", s.Label(), s.Action)
		}
		for _, s := range grp.Steps {
			fmt.Printf("  step    %-20s %s\n", s.Label(), s.Action)
		}
	}
	return nil
}

// StatusCmd prints supervisor.json from the data dir.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	dataDir, err := paths.BaseDir()
	if err != nil {
		return err
	}
	state, err := supervisor.LoadState(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no run recorded")
			return nil
		}
		return err
	}

	fmt.Printf("run:      %s (pid %d)\n", state.RunID, state.PID)
	fmt.Printf("started:  %s\n", state.StartedAt.Format(time.RFC3339))
	fmt.Printf("restarts: %d\n", state.RestartCount)
	if state.LastRestartAt != nil {
		fmt.Printf("last:     %s: %s\n", state.LastRestartAt.Format(time.RFC3339), state.LastError)
	}
	return nil
}

// StatsCmd prints metrics.json from the data dir.
type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals) error {
	path, err := paths.DataPath(metrics.FileName)
	if err != nil {
		return err
	}
	snap, err := metrics.LoadSnapshot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no statistics recorded")
			return nil
		}
		return err
	}

	fmt.Printf("as of %s\n", snap.TakenAt.Format(time.RFC3339))
	for _, p := range metrics.Paths(snap.Counters) {
		fmt.Printf("%-40s %d\n", p, snap.Counters[p].Value)
	}
	for _, p := range metrics.Paths(snap.Outcomes) {
		o := snap.Outcomes[p]
		fmt.Printf("%-40s ok %d, failed %d (%.0f%%)\n", p, o.Success, o.Failures, o.SuccessRate)
		for reason, n := range o.FailureReasons {
			fmt.Printf("    %-36s %d\n", reason, n)
		}
	}
	for _, p := range metrics.Paths(snap.Timings) {
		tm := snap.Timings[p]
		fmt.Printf("%-40s n=%d avg %.0fms max %.0fms p95 %.0fms\n", p, tm.Count, tm.AvgMs, tm.MaxMs, tm.P95Ms)
	}
	return nil
}

// ProfilesCmd groups the profile subcommands.
type ProfilesCmd struct {
	List  ProfilesListCmd  `cmd:"" default:"1" help:"List browser profiles."`
	Clear ProfilesClearCmd `cmd:"" help:"Delete a profile's cookies and cache."`
}

type ProfilesListCmd struct{}

func (c *ProfilesListCmd) Run(g *Globals) error {
	profiles, err := profileManager(g)
	if err != nil {
		return err
	}
	list, err := profiles.ListProfiles()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no profiles")
		return nil
	}
	for _, p := range list {
		fmt.Printf("%-20s %10s  %s\n", p.Name, browser.FormatSize(p.Size), p.LastUsed.Format("2006-01-02 15:04"))
	}
	return nil
}

type ProfilesClearCmd struct {
	Name string `arg:"" help:"Profile name."`
	Yes  bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *ProfilesClearCmd) Run(g *Globals) error {
	if err := browser.ValidateProfileName(c.Name); err != nil {
		return err
	}
	profiles, err := profileManager(g)
	if err != nil {
		return err
	}
	if !c.Yes {
		ok, err := confirm(fmt.Sprintf("Delete cookies and cache of profile %q?", c.Name))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}
	if err := profiles.ClearProfile(c.Name); err != nil {
		return err
	}
	fmt.Printf("cleared profile %s\n", c.Name)
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("autobuy %s\n", version)
	return nil
}

// configPaths resolves the config and secrets files from the flags and
// the default locations.
func configPaths(g *Globals) (cfgPath, secretsPath string, err error) {
	cfgPath = g.Config
	if cfgPath == "" {
		if cfgPath, err = paths.ConfigPath(); err != nil {
			return "", "", err
		}
		if cfgPath == "" {
			return "", "", fmt.Errorf("no %s found in the current directory or the data directory", paths.ConfigFileName)
		}
	}

	secretsPath = g.Secrets
	if secretsPath == "" {
		if secretsPath, err = paths.SecretsPath(cfgPath); err != nil {
			return "", "", err
		}
	}
	return cfgPath, secretsPath, nil
}

// loadConfig resolves, loads and secret-expands the config, then applies
// its log level unless --log-level was given.
func loadConfig(g *Globals) (*config.Config, error) {
	path, secretsPath, err := configPaths(g)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	store, err := secrets.Load(secretsPath)
	if err != nil {
		return nil, err
	}
	if err := secrets.Apply(cfg, store); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	SetLevel(lvl)

	L_debug("config loaded", "path", path, "groups", len(cfg.Groups))
	return cfg, nil
}

// browserConfig converts the [browser] section, filling unset values from
// the browser defaults.
func browserConfig(s config.BrowserSection) (browser.BrowserConfig, error) {
	bc := browser.DefaultBrowserConfig()
	bc.Bin = s.Bin
	bc.NoSandbox = s.NoSandbox
	bc.KillNames = s.KillNames
	if s.Headless != nil {
		bc.Headless = *s.Headless
	}
	if s.Stealth != nil {
		bc.Stealth = *s.Stealth
	}
	if s.Device != "" {
		bc.Device = s.Device
	}

	dir := s.Dir
	if dir == "" {
		var err error
		if dir, err = paths.BrowserDir(); err != nil {
			return bc, err
		}
	}
	dir, err := paths.ExpandTilde(dir)
	if err != nil {
		return bc, err
	}
	bc.Dir = dir
	return bc, nil
}

func profileManager(g *Globals) (*browser.ProfileManager, error) {
	var section config.BrowserSection
	if path := g.Config; path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		section = cfg.Browser
	} else if path, err := paths.ConfigPath(); err == nil && path != "" {
		if cfg, err := config.Load(path); err == nil {
			section = cfg.Browser
		}
	}

	bc, err := browserConfig(section)
	if err != nil {
		return nil, err
	}
	return browser.NewProfileManager(bc.ResolveProfilesDir("")), nil
}
