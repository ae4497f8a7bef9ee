package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// DefaultProfile is used when no profile name is given.
const DefaultProfile = "default"

// ErrBadProfileName is wrapped by every profile name rejection.
var ErrBadProfileName = errors.New("invalid profile name")

// ProfileInfo is one profile directory and its disk usage.
type ProfileInfo struct {
	Name     string
	Path     string
	Size     int64
	LastUsed time.Time // newest mtime inside the profile
}

// ProfileManager keeps one user data dir per profile name under a single
// root. Names never leave that root.
type ProfileManager struct {
	root string
}

func NewProfileManager(profilesDir string) *ProfileManager {
	return &ProfileManager{root: profilesDir}
}

// ValidateProfileName accepts a single path element: no separators, not
// "." or "..", not empty.
func ValidateProfileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrBadProfileName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrBadProfileName, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, os.PathSeparator):
		return fmt.Errorf("%w: %q contains a path separator", ErrBadProfileName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrBadProfileName, name)
	}
	return nil
}

// dir resolves name to its directory, checking it stays directly under root.
func (m *ProfileManager) dir(name string) (string, error) {
	if name == "" {
		name = DefaultProfile
	}
	if err := ValidateProfileName(name); err != nil {
		return "", err
	}
	p := filepath.Join(m.root, name)
	if filepath.Dir(p) != filepath.Clean(m.root) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrBadProfileName, name, m.root)
	}
	return p, nil
}

// EnsureProfile creates the profile directory if missing and returns it.
func (m *ProfileManager) EnsureProfile(name string) (string, error) {
	p, err := m.dir(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0750); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	L_debug("browser: profile ready", "name", name, "path", p)
	return p, nil
}

// ProfileDir returns the directory for name without creating it.
func (m *ProfileManager) ProfileDir(name string) (string, error) {
	return m.dir(name)
}

func (m *ProfileManager) ProfileExists(name string) bool {
	p, err := m.dir(name)
	if err != nil {
		return false
	}
	info, err := os.Lstat(p)
	return err == nil && info.IsDir()
}

// ListProfiles returns every profile sorted by name. A missing root is an
// empty list.
func (m *ProfileManager) ListProfiles() ([]ProfileInfo, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []ProfileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	profiles := make([]ProfileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		profiles = append(profiles, usage(e.Name(), filepath.Join(m.root, e.Name())))
	}
	slices.SortFunc(profiles, func(a, b ProfileInfo) int { return strings.Compare(a.Name, b.Name) })
	return profiles, nil
}

// usage sums file sizes under path. Unreadable entries are skipped.
func usage(name, path string) ProfileInfo {
	info := ProfileInfo{Name: name, Path: path}
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			info.Size += fi.Size()
		}
		if fi.ModTime().After(info.LastUsed) {
			info.LastUsed = fi.ModTime()
		}
		return nil
	})
	return info
}

// ClearProfile empties a profile directory, dropping cookies, cache and
// local storage. The directory itself is kept. A symlinked profile is
// refused rather than followed.
func (m *ProfileManager) ClearProfile(name string) error {
	p, err := m.dir(name)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("profile does not exist: %s", name)
	}
	if err != nil {
		return fmt.Errorf("failed to stat profile: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("profile %s is not a directory", name)
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return fmt.Errorf("failed to read profile directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		entry := filepath.Join(p, e.Name())
		if err := os.RemoveAll(entry); err != nil {
			L_warn("browser: failed to remove profile entry", "path", entry, "error", err)
			continue
		}
		removed++
	}

	L_info("browser: cleared profile", "name", name, "entries", removed)
	return nil
}

// FormatSize renders bytes in binary units, e.g. "1.5 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
