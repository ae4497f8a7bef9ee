package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// Options are the parameters Open and Restart launch with.
type Options struct {
	Tabs          int
	Timeout       time.Duration // per remote command
	Profile       string
	ScreenshotDir string
	Port          int
}

// minLaunchTimeout bounds browser spawn, which is slower than one command.
const minLaunchTimeout = 30 * time.Second

// Session is one browser process pair and its control connection.
// Every operation is bounded by Options.Timeout and reports failures as
// *Error. A Session has a single caller; the mutex only guards the driver
// slot against the goroutine of a timed-out TopWindow.
type Session struct {
	opts     Options
	launcher Launcher
	dial     Dialer
	now      func() time.Time

	mu     sync.Mutex
	driver Driver // nil while taken by TopWindow or closed
	gen    int    // bumped by Close; stale put-backs are discarded

	started time.Time
	shots   int
}

// NewSession creates a closed session. Call Open before use.
func NewSession(opts Options, l Launcher, dial Dialer) *Session {
	if opts.Tabs < 1 {
		opts.Tabs = 1
	}
	return &Session{
		opts:     opts,
		launcher: l,
		dial:     dial,
		now:      time.Now,
	}
}

// Options returns the launch options.
func (s *Session) Options() Options {
	return s.opts
}

func (s *Session) launchTimeout() time.Duration {
	if t := 3 * s.opts.Timeout; t > minLaunchTimeout {
		return t
	}
	return minLaunchTimeout
}

// Open kills leftovers of a previous run, spawns the browser, connects and
// opens the configured number of tabs.
func (s *Session) Open(ctx context.Context) error {
	start := time.Now()

	if err := s.launcher.KillStale(ctx, s.opts.Profile); err != nil {
		L_warn("browser: failed to kill stale processes", "error", err)
	}

	controlURL, err := timed(ctx, s.launchTimeout(), "spawn browser", func(ctx context.Context) (string, error) {
		return s.launcher.Spawn(ctx, s.opts.Port, s.opts.Profile)
	})
	if err != nil {
		return err
	}

	d, err := timed(ctx, s.opts.Timeout, "connect", func(ctx context.Context) (Driver, error) {
		return s.dial(ctx, controlURL)
	})
	if err != nil {
		s.abortOpen(ctx, nil)
		return err
	}

	for i := 1; i < s.opts.Tabs; i++ {
		if err := timedDo(ctx, s.opts.Timeout, fmt.Sprintf("open tab %d", i), d.NewTab); err != nil {
			s.abortOpen(ctx, d)
			return err
		}
	}

	s.mu.Lock()
	s.driver = d
	s.started = s.now()
	s.shots = 0
	s.mu.Unlock()

	L_elapsed(start, "browser: session open", "tabs", s.opts.Tabs, "profile", s.opts.Profile, "port", s.opts.Port)
	return nil
}

func (s *Session) abortOpen(ctx context.Context, d Driver) {
	if d != nil {
		if err := d.Close(); err != nil {
			L_debug("browser: close after failed open", "error", err)
		}
	}
	if err := s.launcher.KillDriver(ctx); err != nil {
		L_warn("browser: kill after failed open", "error", err)
	}
}

// Close kills the browser application, closes the control connection and
// kills the driver process. Every step runs even if an earlier one fails;
// the failures are combined.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	d := s.driver
	s.driver = nil
	s.gen++
	s.mu.Unlock()

	var err error
	if e := s.launcher.KillBrowser(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("kill browser: %w", e))
	}
	if d != nil {
		if e := timedDo(ctx, s.opts.Timeout, "close connection", func(context.Context) error { return d.Close() }); e != nil {
			err = multierr.Append(err, e)
		}
	}
	if e := s.launcher.KillDriver(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("kill driver: %w", e))
	}

	if err != nil {
		L_warn("browser: teardown incomplete", "error", err)
	} else {
		L_debug("browser: session closed")
	}
	return err
}

// Restart tears the session down and opens it again with the same options.
// Teardown failures are logged; only a failed Open is returned.
func (s *Session) Restart(ctx context.Context) error {
	L_info("browser: restarting session")
	if err := s.Close(ctx); err != nil {
		L_warn("browser: continuing restart after teardown errors", "error", err)
	}
	return s.Open(ctx)
}

// borrow returns the driver for an operation that leaves it in its slot.
func (s *Session) borrow(op string) (Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil, NewError(KindClientLost, op, nil)
	}
	return s.driver, nil
}

// take empties the slot. The caller must put the driver back.
func (s *Session) take(op string) (Driver, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil, 0, NewError(KindClientLost, op, nil)
	}
	d := s.driver
	s.driver = nil
	return d, s.gen, nil
}

// put refills the slot, unless the session was closed meanwhile, in which
// case the connection is closed instead.
func (s *Session) put(gen int, d Driver) {
	s.mu.Lock()
	stale := gen != s.gen || s.driver != nil
	if !stale {
		s.driver = d
	}
	s.mu.Unlock()

	if stale {
		if err := d.Close(); err != nil {
			L_debug("browser: closing stale connection", "error", err)
		}
	}
}

func (s *Session) do(ctx context.Context, op string, fn func(ctx context.Context, d Driver) error) error {
	d, err := s.borrow(op)
	if err != nil {
		return err
	}
	return timedDo(ctx, s.opts.Timeout, op, func(ctx context.Context) error {
		return fn(ctx, d)
	})
}

func call[T any](ctx context.Context, s *Session, op string, fn func(ctx context.Context, d Driver) (T, error)) (T, error) {
	d, err := s.borrow(op)
	if err != nil {
		var zero T
		return zero, err
	}
	return timed(ctx, s.opts.Timeout, op, func(ctx context.Context) (T, error) {
		return fn(ctx, d)
	})
}

// Navigate loads url in the active tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.do(ctx, "navigate "+url, func(ctx context.Context, d Driver) error {
		return d.Navigate(ctx, url)
	})
}

// Refresh reloads the active tab.
func (s *Session) Refresh(ctx context.Context) error {
	return s.do(ctx, "refresh", func(ctx context.Context, d Driver) error {
		return d.Reload(ctx)
	})
}

// Find resolves selector in the active frame.
func (s *Session) Find(ctx context.Context, selector string) (Element, error) {
	return call(ctx, s, "find "+selector, func(ctx context.Context, d Driver) (Element, error) {
		return d.Find(ctx, selector)
	})
}

// Click resolves selector and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.do(ctx, "click "+selector, func(ctx context.Context, d Driver) error {
		el, err := d.Find(ctx, selector)
		if err != nil {
			return err
		}
		return el.Click(ctx)
	})
}

// Insert sets the field matching selector inside the page's top-level form.
func (s *Session) Insert(ctx context.Context, selector, text string) error {
	return s.do(ctx, "insert "+selector, func(ctx context.Context, d Driver) error {
		form, err := d.Find(ctx, "form")
		if err != nil {
			return err
		}
		field, err := form.Find(ctx, selector)
		if err != nil {
			return err
		}
		return field.SetValue(ctx, text)
	})
}

// FindAttribute returns attribute name of the element matching selector.
// ok is false if the element has no such attribute.
func (s *Session) FindAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	type attr struct {
		val string
		ok  bool
	}
	a, err := call(ctx, s, "attribute "+name+" of "+selector, func(ctx context.Context, d Driver) (attr, error) {
		el, err := d.Find(ctx, selector)
		if err != nil {
			return attr{}, err
		}
		v, ok, err := el.Attribute(ctx, name)
		return attr{v, ok}, err
	})
	return a.val, a.ok, err
}

// FindText returns the rendered text of the element matching selector.
func (s *Session) FindText(ctx context.Context, selector string) (string, error) {
	return call(ctx, s, "text of "+selector, func(ctx context.Context, d Driver) (string, error) {
		el, err := d.Find(ctx, selector)
		if err != nil {
			return "", err
		}
		return el.Text(ctx)
	})
}

// CurrentURL returns the active tab's URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	return call(ctx, s, "current url", func(ctx context.Context, d Driver) (string, error) {
		return d.CurrentURL(ctx)
	})
}

// Screenshot captures the active tab into the screenshot dir and returns
// the file path.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	const op = "screenshot"
	raw, err := call(ctx, s, op, func(ctx context.Context, d Driver) ([]byte, error) {
		return d.Screenshot(ctx)
	})
	if err != nil {
		return "", err
	}

	data, err := encodeScreenshot(raw)
	if err != nil {
		return "", NewError(KindScreenshotEncode, op, err)
	}
	path, err := writeScreenshot(s.opts.ScreenshotDir, screenshotName(s.started, s.shots), data)
	if err != nil {
		return "", NewError(KindScreenshotEncode, op, err)
	}
	s.shots++

	size := decodedSize(data)
	L_info("browser: screenshot saved", "path", path, "width", size.X, "height", size.Y)
	return path, nil
}

// SwitchTab activates tab index. Indexes past the open tabs are KindTabMissing.
func (s *Session) SwitchTab(ctx context.Context, index int) error {
	op := fmt.Sprintf("switch to tab %d", index)
	return s.do(ctx, op, func(ctx context.Context, d Driver) error {
		n, err := d.TabCount(ctx)
		if err != nil {
			return err
		}
		if index < 0 || index >= n {
			return NewError(KindTabMissing, op, fmt.Errorf("%d tabs open", n))
		}
		return d.SwitchTab(ctx, index)
	})
}

// TopWindow leaves all frames. The driver is out of its slot for the
// duration; if the call times out, operations report KindClientLost until
// the stalled call returns it.
func (s *Session) TopWindow(ctx context.Context) error {
	const op = "top window"
	d, gen, err := s.take(op)
	if err != nil {
		return err
	}
	return timedDo(ctx, s.opts.Timeout, op, func(ctx context.Context) error {
		err := d.TopFrame(ctx)
		s.put(gen, d)
		return err
	})
}

// SwitchFrame enters el, which must be a frame element of the active frame.
func (s *Session) SwitchFrame(ctx context.Context, el Element) error {
	return s.do(ctx, "switch frame", func(ctx context.Context, d Driver) error {
		return d.EnterFrame(ctx, el)
	})
}
