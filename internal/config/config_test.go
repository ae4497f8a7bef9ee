package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
timeout = 5000
profile = "shop"
port = 9333

[browser]
headless = false
kill_names = ["chrome"]

[captcha]
command = "solve-captcha"

[[groups]]
name = "amazon"

[[groups.startup]]
name = "login"
action = { navigate = { url = "https://example.com/login" } }

[[groups.steps]]
name = "open"
action = { navigate = { url = "https://example.com/item", anti_cache = true } }

[[groups.steps]]
name = "captcha"
optional = true
optional_group = "cap"
action = { find = { selector = "#captchacharacters" } }

[[groups.steps]]
if_cond = "captcha"
action = { special = "solve_captcha" }

[[groups.steps]]
name = "buy"
wait_max = 3000
delay = 250
logging = false
action = { find = { selector = "#buy-now", click = true } }

[[groups.steps]]
action = { end = true }

[[groups]]
name = "other"
tab = 3

[[groups.steps]]
action = { wait = 1500 }
`

func TestParseTOML(t *testing.T) {
	cfg, err := Parse([]byte(sampleTOML), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "shop", cfg.Profile)
	assert.Equal(t, 9333, cfg.Port)
	assert.Equal(t, "screenshots", cfg.ScreenshotDir, "default")
	assert.Equal(t, 5*time.Second, cfg.Interval, "default")
	require.NotNil(t, cfg.Browser.Headless)
	assert.False(t, *cfg.Browser.Headless)
	require.NotNil(t, cfg.Browser.Stealth)
	assert.True(t, *cfg.Browser.Stealth, "default")

	require.Len(t, cfg.Groups, 2)
	g := cfg.Groups[0]
	assert.Equal(t, "amazon", g.Name)
	assert.Equal(t, 0, g.Tab)
	require.Len(t, g.Startup, 1)
	require.Len(t, g.Steps, 5)

	assert.Equal(t, Navigate{URL: "https://example.com/item", AntiCache: true}, g.Steps[0].Action)
	assert.Equal(t, Find{Selector: "#captchacharacters", Do: FindNone{}}, g.Steps[1].Action)
	assert.True(t, g.Steps[1].Optional)
	assert.Equal(t, "cap", g.Steps[1].OptionalGroup)
	assert.Equal(t, Special{Kind: SpecialSolveCaptcha}, g.Steps[2].Action)

	buy := g.Steps[3]
	assert.Equal(t, Find{Selector: "#buy-now", Do: FindClick{}}, buy.Action)
	assert.Equal(t, 3*time.Second, buy.WaitMax)
	assert.Equal(t, 250*time.Millisecond, buy.Delay)
	assert.False(t, buy.Logging)
	assert.True(t, g.Steps[0].Logging, "logging defaults to true")

	assert.Equal(t, End{}, g.Steps[4].Action)

	assert.Equal(t, 3, cfg.Groups[1].Tab)
	assert.Equal(t, Wait{Duration: 1500 * time.Millisecond}, cfg.Groups[1].Steps[0].Action)
	assert.Equal(t, 4, cfg.TabCount())
}

const sampleYAML = `
timeout: 2000
groups:
  - name: shop
    steps:
      - name: fill
        action:
          find:
            selector: "input[name=email]"
            insert: "{{secret:EMAIL}}"
      - action:
          match_url: "/checkout"
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	require.Len(t, cfg.Groups, 1)
	steps := cfg.Groups[0].Steps
	assert.Equal(t, Find{Selector: "input[name=email]", Do: FindInsert{Value: "{{secret:EMAIL}}"}}, steps[0].Action)
	assert.Equal(t, MatchURL{Substring: "/checkout"}, steps[1].Action)
	assert.Equal(t, 9222, cfg.Port, "default")
}

func TestLoadPicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "no groups",
			toml: `timeout = 100`,
			want: "at least one group",
		},
		{
			name: "two actions",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
action = { refresh = true, end = true }
`,
			want: "more than one action",
		},
		{
			name: "empty action",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
name = "x"
`,
			want: "no action set",
		},
		{
			name: "exclusive find",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
action = { find = { selector = "#a", click = true, switch_frame = true } }
`,
			want: "exclusive",
		},
		{
			name: "non-http url",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
action = { navigate = { url = "file:///etc/passwd" } }
`,
			want: "only http/https",
		},
		{
			name: "unknown special",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
action = { special = "teleport" }
`,
			want: "unknown kind",
		},
		{
			name: "captcha without solver",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
action = { special = "solve_captcha" }
`,
			want: "needs [captcha] command",
		},
		{
			name: "duplicate group",
			toml: `
[[groups]]
name = "a"
[[groups.steps]]
action = { refresh = true }
[[groups]]
name = "a"
[[groups.steps]]
action = { refresh = true }
`,
			want: "duplicate group name",
		},
		{
			name: "unknown key",
			toml: `
colour = "red"
[[groups]]
name = "a"
[[groups.steps]]
action = { refresh = true }
`,
			want: "unknown keys: colour",
		},
		{
			name: "profile escapes profiles dir",
			toml: `profile = ".."
[[groups]]
name = "a"
[[groups.steps]]
action = { wait = 1 }
`,
			want: "profile: invalid profile name",
		},
		{
			name: "profile with separator",
			toml: `profile = "../../etc"
[[groups]]
name = "a"
[[groups.steps]]
action = { wait = 1 }
`,
			want: "path separator",
		},
		{
			name: "negative restart backoff",
			toml: `restart_backoff = -1
[[groups]]
name = "a"
[[groups.steps]]
action = { wait = 1 }
`,
			want: "restart_backoff must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml), FormatTOML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseAggregatesErrors(t *testing.T) {
	_, err := Parse([]byte(`
port = 70000
[[groups]]
name = "a"
[[groups.steps]]
action = { find = { selector = "" } }
`), FormatTOML)
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "port 70000 out of range"), msg)
	assert.True(t, strings.Contains(msg, "selector is required"), msg)
}

func TestMapInsertValues(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	err = cfg.MapInsertValues(func(v string) (string, error) {
		return strings.ReplaceAll(v, "{{secret:EMAIL}}", "me@example.com"), nil
	})
	require.NoError(t, err)

	find := cfg.Groups[0].Steps[0].Action.(Find)
	assert.Equal(t, FindInsert{Value: "me@example.com"}, find.Do)
}

func TestActionStringHidesInsertValue(t *testing.T) {
	a := Find{Selector: "#pw", Do: FindInsert{Value: "hunter2"}}
	assert.NotContains(t, a.String(), "hunter2")
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]int{"n": 1}, 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))
}

const minimalGroup = `
[[groups]]
name = "a"
[[groups.steps]]
action = { special = "solve_captcha" }
`

func TestSchedule(t *testing.T) {
	cfg, err := Parse([]byte(`
schedule = "30 9 * * *"
schedule_tz = "UTC"
[captcha]
command = "solve"
`+minimalGroup), FormatTOML)
	require.NoError(t, err)
	require.NotNil(t, cfg.Schedule)

	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), cfg.Schedule.Next(from).UTC())

	cfg, err = Parse([]byte(`
[captcha]
command = "solve"
`+minimalGroup), FormatTOML)
	require.NoError(t, err)
	assert.Nil(t, cfg.Schedule)
}

func TestCaptchaAndNotifyValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"bad schedule", "schedule = \"every day\"\n[captcha]\ncommand = \"x\"\n", "invalid schedule"},
		{"bad tz", "schedule = \"0 9 * * *\"\nschedule_tz = \"Mars/Olympus\"\n[captcha]\ncommand = \"x\"\n", "invalid schedule_tz"},
		{"tz alone", "schedule_tz = \"UTC\"\n[captcha]\ncommand = \"x\"\n", "schedule_tz needs schedule"},
		{"unknown provider", "[captcha]\nprovider = \"oracle\"\n", "captcha provider \"oracle\" unknown"},
		{"telegram without chat", "[captcha]\ncommand = \"x\"\n[notify]\ntelegram_token = \"t\"\n", "telegram_chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml+minimalGroup), FormatTOML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVisionProviderSatisfiesCaptcha(t *testing.T) {
	cfg, err := Parse([]byte(`
[captcha]
provider = "openai"
model = "gpt-4o-mini"
api_key = "{{secret:OPENAI_KEY}}"
`+minimalGroup), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, CaptchaOpenAI, cfg.Captcha.Provider)
	assert.Equal(t, "{{secret:OPENAI_KEY}}", cfg.Captcha.APIKey)
	assert.True(t, cfg.Captcha.Configured())
}

func TestExplicitFalseAndZeroKept(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		doc    string
	}{
		{"toml", FormatTOML, `
interval = 0
restart_backoff = 0
restart_backoff_max = 0

[browser]
headless = false
stealth = false

[[groups]]
name = "g"
[[groups.steps]]
action = { wait = 100 }
`},
		{"yaml", FormatYAML, `
interval: 0
restart_backoff: 0
restart_backoff_max: 0
browser:
  headless: false
  stealth: false
groups:
  - name: g
    steps:
      - action:
          wait: 100
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc), tt.format)
			require.NoError(t, err)

			require.NotNil(t, cfg.Browser.Headless)
			assert.False(t, *cfg.Browser.Headless)
			require.NotNil(t, cfg.Browser.Stealth)
			assert.False(t, *cfg.Browser.Stealth)
			assert.Zero(t, cfg.Interval)
			assert.Zero(t, cfg.RestartBackoff)
			assert.Zero(t, cfg.RestartBackoffMax)
		})
	}
}

func TestMissingKeysTakeDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[[groups]]
name = "g"
[[groups.steps]]
action = { wait = 100 }
`), FormatTOML)
	require.NoError(t, err)

	require.NotNil(t, cfg.Browser.Headless)
	assert.True(t, *cfg.Browser.Headless)
	require.NotNil(t, cfg.Browser.Stealth)
	assert.True(t, *cfg.Browser.Stealth)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, time.Second, cfg.RestartBackoff)
	assert.Equal(t, time.Minute, cfg.RestartBackoffMax)
}

func TestDefaultsAreIndependent(t *testing.T) {
	a, b := Defaults(), Defaults()
	*a.Browser.Headless = false
	*a.Interval = 1
	assert.True(t, *a.Browser.Stealth)
	assert.True(t, *b.Browser.Headless)
	assert.Equal(t, int64(5), *b.Interval)
}

func TestFindEquals(t *testing.T) {
	cfg, err := Parse([]byte(`
[[groups]]
name = "g"
[[groups.steps]]
name = "price"
action = { find = { selector = "#price", equals = "$19.99" } }
`), FormatTOML)
	require.NoError(t, err)

	action := cfg.Groups[0].Steps[0].Action
	assert.Equal(t, Find{Selector: "#price", Do: FindCompare{Equals: "$19.99"}}, action)
	assert.Equal(t, "compare #price", action.String())

	_, err = Parse([]byte(`
[[groups]]
name = "g"
[[groups.steps]]
action = { find = { selector = "#price", equals = "1", click = true } }
`), FormatTOML)
	assert.ErrorContains(t, err, "exclusive")
}
