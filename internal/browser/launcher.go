package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// Launcher owns the browser processes behind a Session.
type Launcher interface {
	// KillStale removes processes and lock files left by a previous run.
	KillStale(ctx context.Context, profile string) error
	// Spawn starts a browser bound to port with the profile's data dir and
	// returns its control URL.
	Spawn(ctx context.Context, port int, profile string) (string, error)
	// KillBrowser force-kills the browser application processes.
	KillBrowser(ctx context.Context) error
	// KillDriver force-kills the process Spawn started.
	KillDriver(ctx context.Context) error
}

// cleanupStaleLocks removes Chrome lock files left behind by crashed sessions
// Chrome refuses to start if SingletonLock or other lock files exist
func cleanupStaleLocks(profileDir string) {
	lockFiles := []string{
		"SingletonLock",
		"SingletonCookie",
		"SingletonSocket",
	}

	for _, lockFile := range lockFiles {
		lockPath := filepath.Join(profileDir, lockFile)
		if _, err := os.Lstat(lockPath); err == nil {
			if err := os.Remove(lockPath); err != nil {
				L_warn("browser: failed to remove stale lock file", "file", lockPath, "error", err)
			} else {
				L_info("browser: removed stale lock file", "file", lockPath)
			}
		}
	}
}

// RodLauncher spawns Chrome through go-rod's launcher.
type RodLauncher struct {
	config     BrowserConfig
	profiles   *ProfileManager
	downloader *Downloader

	mu         sync.Mutex
	l          *launcher.Launcher
	profileDir string
}

// NewRodLauncher creates a launcher. homeDir anchors the default browser dir.
func NewRodLauncher(cfg BrowserConfig, homeDir string) *RodLauncher {
	return &RodLauncher{
		config:     cfg,
		profiles:   NewProfileManager(cfg.ResolveProfilesDir(homeDir)),
		downloader: NewDownloader(cfg.ResolveBinDir(homeDir)),
	}
}

// Profiles returns the profile manager
func (r *RodLauncher) Profiles() *ProfileManager {
	return r.profiles
}

func (r *RodLauncher) KillStale(ctx context.Context, profile string) error {
	profileDir, err := r.profiles.ProfileDir(profile)
	if err != nil {
		return err
	}
	err = r.killByName(ctx, r.patterns(profileDir))
	cleanupStaleLocks(profileDir)
	return err
}

func (r *RodLauncher) Spawn(ctx context.Context, port int, profile string) (string, error) {
	bin := r.config.Bin
	if bin == "" {
		var err error
		if bin, err = r.downloader.EnsureBrowser(); err != nil {
			return "", fmt.Errorf("failed to ensure browser: %w", err)
		}
	}

	profileDir, err := r.profiles.EnsureProfile(profile)
	if err != nil {
		return "", fmt.Errorf("failed to ensure profile: %w", err)
	}
	cleanupStaleLocks(profileDir)

	L_debug("browser: launching browser", "profile", profile, "profileDir", profileDir, "port", port, "headless", r.config.Headless)

	l := launcher.New().
		Bin(bin).
		UserDataDir(profileDir).
		RemoteDebuggingPort(port).
		Headless(r.config.Headless).
		Leakless(false). // Close must own the kill, not a watchdog
		Set("disable-dev-shm-usage")

	// Use 1920x1080 to ensure sites show full desktop layout
	if !r.config.Headless {
		l = l.Set("window-size", "1920,1080").
			Set("start-maximized")
	}
	if r.config.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	if r.config.NoSandbox {
		l = l.Set(flags.NoSandbox)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}

	r.mu.Lock()
	r.l = l
	r.profileDir = profileDir
	r.mu.Unlock()

	L_info("browser: launched", "profile", profile, "pid", l.PID(), "controlURL", controlURL)
	return controlURL, nil
}

func (r *RodLauncher) KillBrowser(ctx context.Context) error {
	r.mu.Lock()
	profileDir := r.profileDir
	r.mu.Unlock()
	if profileDir == "" && len(r.config.KillNames) == 0 {
		return nil
	}
	return r.killByName(ctx, r.patterns(profileDir))
}

func (r *RodLauncher) KillDriver(ctx context.Context) error {
	r.mu.Lock()
	l := r.l
	r.l = nil
	r.mu.Unlock()

	if l == nil {
		return nil
	}
	// Kill rather than Cleanup: Cleanup also deletes the user data dir
	l.Kill()
	L_debug("browser: killed browser process", "pid", l.PID())
	return nil
}

// patterns returns what killByName matches: configured names, or the
// profile dir, which only appears on command lines of our own browsers.
func (r *RodLauncher) patterns(profileDir string) []string {
	if len(r.config.KillNames) > 0 {
		return r.config.KillNames
	}
	if profileDir == "" {
		return nil
	}
	return []string{profileDir}
}

// killByName force-kills processes matching each pattern. No match is not
// an error.
func (r *RodLauncher) killByName(ctx context.Context, patterns []string) error {
	for _, p := range patterns {
		var cmd *exec.Cmd
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "taskkill", "/f", "/im", p)
		} else {
			cmd = exec.CommandContext(ctx, "pkill", "-9", "-f", p)
		}
		out, err := cmd.CombinedOutput()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
				continue // nothing matched
			}
			return fmt.Errorf("kill %q: %w (%s)", p, err, out)
		}
		L_debug("browser: killed processes", "pattern", p)
	}
	return nil
}

// Downloader resolves the browser binary, downloading Chromium on first use.
type Downloader struct {
	binDir  string
	mu      sync.Mutex
	binPath string // cached once resolved
}

// NewDownloader creates a new Chromium downloader
func NewDownloader(binDir string) *Downloader {
	return &Downloader{binDir: binDir}
}

// EnsureBrowser returns the path of a usable browser binary.
// A system browser is preferred; otherwise Chromium is downloaded to binDir.
func (d *Downloader) EnsureBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.binPath != "" {
		if _, err := os.Stat(d.binPath); err == nil {
			return d.binPath, nil
		}
		d.binPath = ""
	}

	if path, ok := launcher.LookPath(); ok {
		d.binPath = path
		L_debug("browser: using system browser", "path", path)
		return path, nil
	}

	if err := os.MkdirAll(d.binDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create browser bin directory: %w", err)
	}

	b := launcher.NewBrowser()
	b.RootDir = d.binDir

	// no-op if already downloaded
	binPath, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}

	d.binPath = binPath
	L_info("browser: ready", "path", binPath, "revision", strconv.Itoa(b.Revision))
	return binPath, nil
}
