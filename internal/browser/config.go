package browser

import (
	"path/filepath"
	"strings"

	"github.com/go-rod/rod/lib/devices"
)

// BrowserConfig holds browser process configuration.
// The config package converts its [browser] section into this so it stays
// independent of the browser package.
type BrowserConfig struct {
	Bin       string   // Browser binary (empty = download/lookup via rod)
	Dir       string   // Browser data directory (empty = ~/.autobuy/browser)
	Headless  bool     // Run in headless mode
	NoSandbox bool     // Disable sandbox (needed for Docker/root)
	Stealth   bool     // Open tabs through go-rod/stealth
	Device    string   // Device emulation: "clear", "laptop", "iphone-x", etc.
	KillNames []string // Process name patterns force-killed on teardown (empty = match the profile dir)
}

// DefaultBrowserConfig returns the default browser configuration
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Stealth:  true,
		Device:   "clear", // No viewport emulation, fills window
	}
}

// ResolveDir returns the browser directory, defaulting to ~/.autobuy/browser
func (c *BrowserConfig) ResolveDir(homeDir string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(homeDir, ".autobuy", "browser")
}

// ResolveBinDir returns the directory downloaded browsers are kept in
func (c *BrowserConfig) ResolveBinDir(homeDir string) string {
	return filepath.Join(c.ResolveDir(homeDir), "bin")
}

// ResolveProfilesDir returns the profiles directory
func (c *BrowserConfig) ResolveProfilesDir(homeDir string) string {
	return filepath.Join(c.ResolveDir(homeDir), "profiles")
}

// ResolveDevice returns the devices.Device for the configured device name.
// Unknown names fall back to "clear" (no emulation).
func (c *BrowserConfig) ResolveDevice() devices.Device {
	switch strings.ToLower(c.Device) {
	case "", "clear":
		return devices.Clear
	case "laptop", "laptop-mdpi":
		return devices.LaptopWithMDPIScreen
	case "laptop-hidpi":
		return devices.LaptopWithHiDPIScreen
	case "laptop-touch":
		return devices.LaptopWithTouch
	case "iphone-x":
		return devices.IPhoneX
	case "iphone-8":
		return devices.IPhone6or7or8
	case "iphone-se":
		return devices.IPhone5orSE
	case "ipad":
		return devices.IPad
	case "ipad-pro":
		return devices.IPadPro
	case "pixel-2":
		return devices.Pixel2
	case "galaxy-s5":
		return devices.GalaxyS5
	case "nexus-7":
		return devices.Nexus7
	default:
		return devices.Clear
	}
}
