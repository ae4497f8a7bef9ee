package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sevlyar/go-daemon"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/captcha"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/notify"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/paths"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/supervisor"
)

const (
	pidFileName   = "autobuy.pid"
	daemonLogName = "autobuy.log"
)

// RunCmd runs the supervisor loop.
type RunCmd struct {
	Watch  bool `help:"Restart with the new config whenever the config or secrets file changes."`
	Daemon bool `help:"Detach from the terminal. Output goes to autobuy.log in the data directory." short:"d"`
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	dataDir, err := paths.BaseDir()
	if err != nil {
		return err
	}
	if err := paths.EnsureDir(dataDir); err != nil {
		return err
	}

	if c.Daemon {
		dctx := daemonContext(dataDir)
		child, err := dctx.Reborn()
		if err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		if child != nil {
			fmt.Printf("autobuy running in background (pid %d)\n", child.Pid)
			return nil
		}
		defer dctx.Release()
	}

	if c.Watch {
		return c.watch(ctx, g, dataDir)
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	return runOnce(ctx, cfg, dataDir)
}

// watch runs the config until it completes, restarting the run whenever
// the files change. An invalid edit leaves the loop waiting for the next.
func (c *RunCmd) watch(ctx context.Context, g *Globals, dataDir string) error {
	cfgPath, secretsPath, err := configPaths(g)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	w, err := config.NewWatcher(0, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, cfgPath, secretsPath)
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		cfg, err := loadConfig(g)
		if err != nil {
			L_error("autobuy: config invalid, waiting for changes", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
				continue
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- runOnce(runCtx, cfg, dataDir) }()

		select {
		case err := <-done:
			cancel()
			return err
		case <-ctx.Done():
			err := <-done
			cancel()
			return err
		case <-changed:
			cancel()
			if err := <-done; err != nil {
				L_warn("autobuy: run ended during reload", "error", err)
			}
			L_info("autobuy: restarting with new config", "path", cfgPath)
		}
	}
}

// runOnce builds the browser session, solver and notifier for cfg and
// runs the supervisor until it returns.
func runOnce(ctx context.Context, cfg *config.Config, dataDir string) error {
	screenshotDir, err := paths.ExpandTilde(cfg.ScreenshotDir)
	if err != nil {
		return err
	}

	bc, err := browserConfig(cfg.Browser)
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	solver, err := captcha.New(cfg.Captcha)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	session := browser.NewSession(browser.Options{
		Tabs:          cfg.TabCount(),
		Timeout:       cfg.Timeout,
		Profile:       cfg.Profile,
		ScreenshotDir: screenshotDir,
		Port:          cfg.Port,
	}, browser.NewRodLauncher(bc, home), browser.RodDialer(bc))

	L_info("autobuy: starting", "version", version, "config", cfg.Path, "groups", len(cfg.Groups), "profile", cfg.Profile)

	sup := supervisor.New(cfg, session, solver, dataDir)
	sup.SetNotifier(notifier)
	return sup.Run(ctx)
}

func buildNotifier(n config.NotifySection) (notify.Notifier, error) {
	if n.TelegramToken == "" {
		return notify.Log{}, nil
	}
	tg, err := notify.NewTelegram(n.TelegramToken, n.TelegramChatID, "")
	if err != nil {
		return nil, err
	}
	return notify.Multi{notify.Log{}, tg}, nil
}

func daemonContext(dataDir string) *daemon.Context {
	return &daemon.Context{
		PidFileName: filepath.Join(dataDir, pidFileName),
		PidFilePerm: 0644,
		LogFileName: filepath.Join(dataDir, daemonLogName),
		LogFilePerm: 0640,
		Umask:       027,
		Args:        os.Args,
	}
}
