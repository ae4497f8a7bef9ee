// Package config loads sites.toml (or a YAML equivalent) into the immutable
// structure the step engine runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	cronlib "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// Config is the validated configuration. It is not modified after Load
// returns, apart from MapInsertValues during secret substitution.
type Config struct {
	Path              string
	Timeout           time.Duration // per remote command
	Profile           string
	ScreenshotDir     string
	Port              int
	Interval          time.Duration // pause after each pass over the groups
	RestartBackoff    time.Duration
	RestartBackoffMax time.Duration
	Schedule          cronlib.Schedule // nil = start at once
	Browser           BrowserSection
	Captcha           CaptchaSection
	Notify            NotifySection
	Log               LogSection
	Groups            []Group
}

// Group is an ordered list of steps bound to one tab.
type Group struct {
	Name    string
	Tab     int
	Startup []Step
	Steps   []Step
}

// Step is one declarative unit of work.
type Step struct {
	Name          string
	Action        Action
	IfCond        string
	IfNotCond     string
	Optional      bool
	OptionalGroup string
	Logging       bool
	WaitMax       time.Duration
	Delay         time.Duration
}

// Label returns the step name, or its action when unnamed.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Action.String()
}

// BrowserSection configures the browser binary and its data dir.
type BrowserSection struct {
	Bin       string   `toml:"bin" yaml:"bin"`               // browser binary (empty = rod lookup)
	Dir       string   `toml:"dir" yaml:"dir"`               // browser data dir (empty = ~/.autobuy/browser)
	Headless  *bool    `toml:"headless" yaml:"headless"`     // default true
	NoSandbox bool     `toml:"no_sandbox" yaml:"no_sandbox"` // needed for Docker/root
	Stealth   *bool    `toml:"stealth" yaml:"stealth"`       // default true
	Device    string   `toml:"device" yaml:"device"`         // emulated device, "clear" = none
	KillNames []string `toml:"kill_names" yaml:"kill_names"` // process names force-killed on teardown
}

// Captcha solver providers.
const (
	CaptchaCommand   = "command"
	CaptchaOpenAI    = "openai"
	CaptchaAnthropic = "anthropic"
)

// CaptchaSection configures the captcha solver: an external command or a
// vision model.
type CaptchaSection struct {
	Provider string
	Command  string
	Args     []string
	Model    string
	APIKey   string // may hold a secret placeholder
	BaseURL  string
	Timeout  time.Duration
}

// Configured reports whether a solver can be built.
func (c CaptchaSection) Configured() bool {
	if c.Provider == CaptchaCommand {
		return c.Command != ""
	}
	return true
}

// NotifySection configures run notifications. Empty token disables them.
type NotifySection struct {
	TelegramToken  string `toml:"telegram_token" yaml:"telegram_token"` // may hold a secret placeholder
	TelegramChatID int64  `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
}

// LogSection configures logging.
type LogSection struct {
	Level string `toml:"level" yaml:"level"`
}

// File is the on-disk form of Config. Durations are milliseconds except
// interval, which is seconds. Pointer fields distinguish an explicit zero
// or false from a missing key.
type File struct {
	Timeout           int64          `toml:"timeout" yaml:"timeout"`
	Profile           string         `toml:"profile" yaml:"profile"`
	ScreenshotDir     string         `toml:"screenshot_dir" yaml:"screenshot_dir"`
	Port              int            `toml:"port" yaml:"port"`
	Interval          *int64         `toml:"interval" yaml:"interval"`
	RestartBackoff    *int64         `toml:"restart_backoff" yaml:"restart_backoff"`
	RestartBackoffMax *int64         `toml:"restart_backoff_max" yaml:"restart_backoff_max"`
	Schedule          string         `toml:"schedule" yaml:"schedule"` // cron expression
	ScheduleTZ        string         `toml:"schedule_tz" yaml:"schedule_tz"`
	Browser           BrowserSection `toml:"browser" yaml:"browser"`
	Captcha           CaptchaFile    `toml:"captcha" yaml:"captcha"`
	Notify            NotifySection  `toml:"notify" yaml:"notify"`
	Log               LogSection     `toml:"log" yaml:"log"`
	Groups            []GroupFile    `toml:"groups" yaml:"groups"`
}

// CaptchaFile is the on-disk form of CaptchaSection.
type CaptchaFile struct {
	Provider string   `toml:"provider" yaml:"provider"`
	Command  string   `toml:"command" yaml:"command"`
	Args     []string `toml:"args" yaml:"args"`
	Model    string   `toml:"model" yaml:"model"`
	APIKey   string   `toml:"api_key" yaml:"api_key"`
	BaseURL  string   `toml:"base_url" yaml:"base_url"`
	Timeout  int64    `toml:"timeout" yaml:"timeout"` // ms
}

// GroupFile is the on-disk form of Group.
type GroupFile struct {
	Name    string     `toml:"name" yaml:"name"`
	Tab     *int       `toml:"tab" yaml:"tab"`
	Startup []StepFile `toml:"startup" yaml:"startup"`
	Steps   []StepFile `toml:"steps" yaml:"steps"`
}

// StepFile is the on-disk form of Step.
type StepFile struct {
	Name          string     `toml:"name" yaml:"name"`
	Action        ActionSpec `toml:"action" yaml:"action"`
	IfCond        string     `toml:"if_cond" yaml:"if_cond"`
	IfNotCond     string     `toml:"if_not_cond" yaml:"if_not_cond"`
	Optional      bool       `toml:"optional" yaml:"optional"`
	OptionalGroup string     `toml:"optional_group" yaml:"optional_group"`
	Logging       *bool      `toml:"logging" yaml:"logging"` // default true
	WaitMax       int64      `toml:"wait_max" yaml:"wait_max"`
	Delay         int64      `toml:"delay" yaml:"delay"`
}

// Defaults returns the values used for keys missing from the file.
func Defaults() File {
	return File{
		Timeout:           10000,
		Profile:           "default",
		ScreenshotDir:     "screenshots",
		Port:              9222,
		Interval:          i64(5),
		RestartBackoff:    i64(1000),
		RestartBackoffMax: i64(60000),
		Browser: BrowserSection{
			Headless: boolPtr(true),
			Stealth:  boolPtr(true),
			Device:   "clear",
		},
		Captcha: CaptchaFile{
			Provider: CaptchaCommand,
			Timeout:  30000,
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Load reads, defaults and validates the config at path.
// Files ending in .yaml or .yml are YAML, everything else is TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path

	logging.L_debug("config: loaded", "path", path, "groups", len(cfg.Groups))
	return cfg, nil
}

// Format selects the decoder used by Parse.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatTOML
}

// Parse decodes data, fills defaults and builds the Config.
func Parse(data []byte, format Format) (*Config, error) {
	var f File

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	}

	// without dereferencing, a set pointer is kept even when it holds a
	// zero value
	if err := mergo.Merge(&f, Defaults(), mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	return f.Build()
}

// Build validates f and converts it to a Config. All problems are reported
// together.
func (f File) Build() (*Config, error) {
	var errs []error

	if f.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if f.Port <= 0 || f.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", f.Port))
	}
	if err := browser.ValidateProfileName(f.Profile); err != nil {
		errs = append(errs, fmt.Errorf("profile: %w", err))
	}
	interval, backoff, backoffMax := deref(f.Interval), deref(f.RestartBackoff), deref(f.RestartBackoffMax)
	if interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative"))
	}
	if backoff < 0 {
		errs = append(errs, fmt.Errorf("restart_backoff must not be negative"))
	}
	if backoffMax < backoff {
		errs = append(errs, fmt.Errorf("restart_backoff_max must be >= restart_backoff"))
	}
	if len(f.Groups) == 0 {
		errs = append(errs, fmt.Errorf("at least one group is required"))
	}
	switch f.Captcha.Provider {
	case CaptchaCommand, CaptchaOpenAI, CaptchaAnthropic:
	default:
		errs = append(errs, fmt.Errorf("captcha provider %q unknown (command, openai, anthropic)", f.Captcha.Provider))
	}
	if f.Notify.TelegramToken != "" && f.Notify.TelegramChatID == 0 {
		errs = append(errs, fmt.Errorf("notify: telegram_token needs telegram_chat_id"))
	}

	schedule, err := parseSchedule(f.Schedule, f.ScheduleTZ)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Timeout:           ms(f.Timeout),
		Profile:           f.Profile,
		ScreenshotDir:     f.ScreenshotDir,
		Port:              f.Port,
		Interval:          time.Duration(interval) * time.Second,
		RestartBackoff:    ms(backoff),
		RestartBackoffMax: ms(backoffMax),
		Schedule:          schedule,
		Browser:           f.Browser,
		Captcha: CaptchaSection{
			Provider: f.Captcha.Provider,
			Command:  f.Captcha.Command,
			Args:     f.Captcha.Args,
			Model:    f.Captcha.Model,
			APIKey:   f.Captcha.APIKey,
			BaseURL:  f.Captcha.BaseURL,
			Timeout:  ms(f.Captcha.Timeout),
		},
		Notify: f.Notify,
		Log:    f.Log,
	}

	seen := make(map[string]bool)
	for i, gf := range f.Groups {
		g, gerrs := gf.build(i)
		if g.Name != "" && seen[g.Name] {
			gerrs = append(gerrs, fmt.Errorf("duplicate group name"))
		}
		seen[g.Name] = true
		for _, err := range gerrs {
			errs = append(errs, fmt.Errorf("group %q: %w", g.Name, err))
		}
		if g.usesCaptcha() && !cfg.Captcha.Configured() {
			errs = append(errs, fmt.Errorf("group %q: special solve_captcha needs [captcha] command", g.Name))
		}
		cfg.Groups = append(cfg.Groups, g)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// parseSchedule parses a standard five-field cron expression, evaluated in
// tz when set.
func parseSchedule(expr, tz string) (cronlib.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		if tz != "" {
			return nil, fmt.Errorf("schedule_tz needs schedule")
		}
		return nil, nil
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid schedule_tz %q: %w", tz, err)
		}
		expr = "CRON_TZ=" + tz + " " + expr
	}

	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return schedule, nil
}

func (gf GroupFile) build(index int) (Group, []error) {
	g := Group{Name: gf.Name, Tab: index}
	if g.Name == "" {
		g.Name = fmt.Sprintf("group-%d", index)
	}
	if gf.Tab != nil {
		g.Tab = *gf.Tab
	}

	var errs []error
	if g.Tab < 0 {
		errs = append(errs, fmt.Errorf("tab must not be negative"))
	}
	if len(gf.Steps) == 0 {
		errs = append(errs, fmt.Errorf("no steps"))
	}

	g.Startup, errs = buildSteps("startup", gf.Startup, errs)
	g.Steps, errs = buildSteps("steps", gf.Steps, errs)

	warnDanglingConditions(g)
	return g, errs
}

func buildSteps(section string, files []StepFile, errs []error) ([]Step, []error) {
	var out []Step
	for i, sf := range files {
		s, err := sf.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s[%d] %s: %w", section, i, sf.Name, err))
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

func (sf StepFile) build() (Step, error) {
	action, err := sf.Action.Build()
	if err != nil {
		return Step{}, err
	}
	if sf.WaitMax < 0 || sf.Delay < 0 {
		return Step{}, fmt.Errorf("wait_max and delay must not be negative")
	}
	logEnabled := true
	if sf.Logging != nil {
		logEnabled = *sf.Logging
	}
	return Step{
		Name:          sf.Name,
		Action:        action,
		IfCond:        sf.IfCond,
		IfNotCond:     sf.IfNotCond,
		Optional:      sf.Optional,
		OptionalGroup: sf.OptionalGroup,
		Logging:       logEnabled,
		WaitMax:       ms(sf.WaitMax),
		Delay:         ms(sf.Delay),
	}, nil
}

// warnDanglingConditions logs conditions no step in the group can satisfy.
// Such steps never run, which is allowed but usually a typo.
func warnDanglingConditions(g Group) {
	names := make(map[string]bool)
	keys := make(map[string]bool)
	for _, s := range append(append([]Step{}, g.Startup...), g.Steps...) {
		if s.Name != "" {
			names[s.Name] = true
			if s.Optional {
				keys[s.Name] = true
			}
		}
		if s.Optional && s.OptionalGroup != "" {
			keys[s.OptionalGroup] = true
		}
	}
	for _, s := range append(append([]Step{}, g.Startup...), g.Steps...) {
		if s.IfCond != "" && !names[s.IfCond] {
			logging.L_warn("config: if_cond never produced", "group", g.Name, "step", s.Label(), "cond", s.IfCond)
		}
		if s.IfNotCond != "" && !keys[s.IfNotCond] {
			logging.L_warn("config: if_not_cond never produced", "group", g.Name, "step", s.Label(), "cond", s.IfNotCond)
		}
	}
}

func (g Group) usesCaptcha() bool {
	for _, s := range append(append([]Step{}, g.Startup...), g.Steps...) {
		if sp, ok := s.Action.(Special); ok && sp.Kind == SpecialSolveCaptcha {
			return true
		}
	}
	return false
}

// TabCount is the number of tabs the groups need.
func (c *Config) TabCount() int {
	n := 1
	for _, g := range c.Groups {
		if g.Tab+1 > n {
			n = g.Tab + 1
		}
	}
	return n
}

// MapInsertValues replaces every Insert value with fn(value).
func (c *Config) MapInsertValues(fn func(string) (string, error)) error {
	var errs []error
	for gi := range c.Groups {
		g := &c.Groups[gi]
		for _, list := range [][]Step{g.Startup, g.Steps} {
			for si := range list {
				find, ok := list[si].Action.(Find)
				if !ok {
					continue
				}
				ins, ok := find.Do.(FindInsert)
				if !ok {
					continue
				}
				v, err := fn(ins.Value)
				if err != nil {
					errs = append(errs, fmt.Errorf("group %q step %s: %w", g.Name, list[si].Label(), err))
					continue
				}
				find.Do = FindInsert{Value: v}
				list[si].Action = find
			}
		}
	}
	return errors.Join(errs...)
}

func ms(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func i64(n int64) *int64 { return &n }

func boolPtr(b bool) *bool { return &b }

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
