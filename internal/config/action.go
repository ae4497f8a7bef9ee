package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Action is one of the step variants below. The set is closed: only types
// in this package implement it, so a type switch over them is exhaustive.
type Action interface {
	isAction()
	String() string
}

// Navigate loads URL. AntiCache appends a random query parameter.
type Navigate struct {
	URL       string
	AntiCache bool
}

// Wait pauses the step for a fixed duration.
type Wait struct {
	Duration time.Duration
}

// Screenshot captures the active tab into the screenshot dir.
type Screenshot struct{}

// MatchURL succeeds only if the current URL contains Substring.
type MatchURL struct {
	Substring string
}

// Refresh reloads the active tab.
type Refresh struct{}

// End stops the group without counting as a failure.
type End struct{}

// TopWindow leaves every frame and returns to the tab's top document.
type TopWindow struct{}

// Find resolves Selector and applies Do to the element.
type Find struct {
	Selector string
	Do       FindAction
}

// Special runs an action implemented outside the browser session.
type Special struct {
	Kind SpecialKind
}

// FindAction is what a Find does with the element it resolved.
type FindAction interface {
	isFindAction()
}

// FindClick clicks the element.
type FindClick struct{}

// FindInsert sets the form field matching the selector to Value.
type FindInsert struct {
	Value string
}

// FindSwitchFrame enters the element as the active frame.
type FindSwitchFrame struct{}

// FindCompare asserts that the element's text, trimmed of surrounding
// whitespace, equals Equals.
type FindCompare struct {
	Equals string
}

// FindNone only asserts that the element exists.
type FindNone struct{}

// SpecialKind names an opaque external action.
type SpecialKind string

const (
	SpecialSolveCaptcha SpecialKind = "solve_captcha"
)

func (Navigate) isAction()   {}
func (Wait) isAction()       {}
func (Screenshot) isAction() {}
func (MatchURL) isAction()   {}
func (Refresh) isAction()    {}
func (End) isAction()        {}
func (TopWindow) isAction()  {}
func (Find) isAction()       {}
func (Special) isAction()    {}

func (FindClick) isFindAction()       {}
func (FindInsert) isFindAction()      {}
func (FindSwitchFrame) isFindAction() {}
func (FindCompare) isFindAction()     {}
func (FindNone) isFindAction()        {}

func (a Navigate) String() string {
	if a.AntiCache {
		return "navigate " + a.URL + " (anti-cache)"
	}
	return "navigate " + a.URL
}
func (a Wait) String() string       { return "wait " + a.Duration.String() }
func (Screenshot) String() string   { return "screenshot" }
func (a MatchURL) String() string   { return "match_url " + a.Substring }
func (Refresh) String() string      { return "refresh" }
func (End) String() string          { return "end" }
func (TopWindow) String() string    { return "top_window" }
func (a Special) String() string    { return "special " + string(a.Kind) }

func (a Find) String() string {
	switch a.Do.(type) {
	case FindClick:
		return "click " + a.Selector
	case FindInsert:
		// value may be a secret
		return "insert " + a.Selector
	case FindSwitchFrame:
		return "switch_frame " + a.Selector
	case FindCompare:
		return "compare " + a.Selector
	default:
		return "find " + a.Selector
	}
}

// ActionSpec is the file form of an action. Exactly one field must be set.
type ActionSpec struct {
	Navigate   *NavigateSpec `toml:"navigate" yaml:"navigate"`
	Wait       *int64        `toml:"wait" yaml:"wait"` // milliseconds
	Screenshot bool          `toml:"screenshot" yaml:"screenshot"`
	MatchURL   *string       `toml:"match_url" yaml:"match_url"`
	Refresh    bool          `toml:"refresh" yaml:"refresh"`
	End        bool          `toml:"end" yaml:"end"`
	TopWindow  bool          `toml:"top_window" yaml:"top_window"`
	Find       *FindSpec     `toml:"find" yaml:"find"`
	Special    string        `toml:"special" yaml:"special"`
}

// NavigateSpec is the file form of Navigate.
type NavigateSpec struct {
	URL       string `toml:"url" yaml:"url"`
	AntiCache bool   `toml:"anti_cache" yaml:"anti_cache"`
}

// FindSpec is the file form of Find. At most one of Click, Insert,
// SwitchFrame and Equals may be set; none means an existence check.
type FindSpec struct {
	Selector    string  `toml:"selector" yaml:"selector"`
	Click       bool    `toml:"click" yaml:"click"`
	Insert      *string `toml:"insert" yaml:"insert"`
	SwitchFrame bool    `toml:"switch_frame" yaml:"switch_frame"`
	Equals      *string `toml:"equals" yaml:"equals"`
}

// Build converts s into an Action.
func (s ActionSpec) Build() (Action, error) {
	var set []string
	var action Action

	if s.Navigate != nil {
		set = append(set, "navigate")
		if err := validateURL(s.Navigate.URL); err != nil {
			return nil, fmt.Errorf("navigate: %w", err)
		}
		action = Navigate{URL: s.Navigate.URL, AntiCache: s.Navigate.AntiCache}
	}
	if s.Wait != nil {
		set = append(set, "wait")
		if *s.Wait < 0 {
			return nil, fmt.Errorf("wait: duration must not be negative")
		}
		action = Wait{Duration: time.Duration(*s.Wait) * time.Millisecond}
	}
	if s.Screenshot {
		set = append(set, "screenshot")
		action = Screenshot{}
	}
	if s.MatchURL != nil {
		set = append(set, "match_url")
		action = MatchURL{Substring: *s.MatchURL}
	}
	if s.Refresh {
		set = append(set, "refresh")
		action = Refresh{}
	}
	if s.End {
		set = append(set, "end")
		action = End{}
	}
	if s.TopWindow {
		set = append(set, "top_window")
		action = TopWindow{}
	}
	if s.Find != nil {
		set = append(set, "find")
		find, err := s.Find.build()
		if err != nil {
			return nil, err
		}
		action = find
	}
	if s.Special != "" {
		set = append(set, "special")
		switch SpecialKind(s.Special) {
		case SpecialSolveCaptcha:
			action = Special{Kind: SpecialSolveCaptcha}
		default:
			return nil, fmt.Errorf("special: unknown kind %q", s.Special)
		}
	}

	switch len(set) {
	case 0:
		return nil, fmt.Errorf("no action set")
	case 1:
		return action, nil
	default:
		return nil, fmt.Errorf("more than one action set: %s", strings.Join(set, ", "))
	}
}

// validateURL accepts absolute http and https URLs only.
func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q not allowed, only http/https", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("empty hostname in %q", raw)
	}
	return nil
}

func (s FindSpec) build() (Find, error) {
	if strings.TrimSpace(s.Selector) == "" {
		return Find{}, fmt.Errorf("find: selector is required")
	}

	n := 0
	var do FindAction = FindNone{}
	if s.Click {
		n++
		do = FindClick{}
	}
	if s.Insert != nil {
		n++
		do = FindInsert{Value: *s.Insert}
	}
	if s.SwitchFrame {
		n++
		do = FindSwitchFrame{}
	}
	if s.Equals != nil {
		n++
		do = FindCompare{Equals: *s.Equals}
	}
	if n > 1 {
		return Find{}, fmt.Errorf("find %s: click, insert, switch_frame and equals are exclusive", s.Selector)
	}
	return Find{Selector: s.Selector, Do: do}, nil
}
