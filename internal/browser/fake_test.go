package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeDriver records calls and serves a fixed DOM of selectors.
type fakeDriver struct {
	mu sync.Mutex

	elements   map[string]*fakeElement // top-level selectors
	url        string
	tabs       int
	active     int
	inFrame    bool
	shot       []byte
	closeErr   error
	closed     bool
	calls      []string
	topBlock   chan struct{} // TopFrame waits on it when set
	navigateFn func(ctx context.Context, url string) error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		elements: map[string]*fakeElement{},
		tabs:     1,
		url:      "about:blank",
	}
}

func (d *fakeDriver) record(s string) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	d.mu.Unlock()
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.record("navigate " + url)
	if d.navigateFn != nil {
		return d.navigateFn(ctx, url)
	}
	d.url = url
	return nil
}

func (d *fakeDriver) Reload(ctx context.Context) error {
	d.record("reload")
	return nil
}

func (d *fakeDriver) Find(ctx context.Context, selector string) (Element, error) {
	d.record("find " + selector)
	if el, ok := d.elements[selector]; ok {
		return el, nil
	}
	return nil, fmt.Errorf("%s: %w", selector, ErrNoSuchElement)
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	return d.url, nil
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.record("screenshot")
	return d.shot, nil
}

func (d *fakeDriver) TabCount(ctx context.Context) (int, error) {
	return d.tabs, nil
}

func (d *fakeDriver) NewTab(ctx context.Context) error {
	d.record("new tab")
	d.tabs++
	return nil
}

func (d *fakeDriver) SwitchTab(ctx context.Context, index int) error {
	d.record(fmt.Sprintf("switch tab %d", index))
	d.active = index
	return nil
}

func (d *fakeDriver) EnterFrame(ctx context.Context, el Element) error {
	d.record("enter frame")
	d.inFrame = true
	return nil
}

func (d *fakeDriver) TopFrame(ctx context.Context) error {
	if d.topBlock != nil {
		<-d.topBlock
	}
	d.record("top frame")
	d.mu.Lock()
	d.inFrame = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Close() error {
	d.record("close")
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.closeErr
}

type fakeElement struct {
	mu       sync.Mutex
	children map[string]*fakeElement
	attrs    map[string]string
	text     string
	value    string
	clicks   int
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) SetValue(ctx context.Context, text string) error {
	e.value = text
	return nil
}

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	return e.text, nil
}

func (e *fakeElement) Find(ctx context.Context, selector string) (Element, error) {
	if c, ok := e.children[selector]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%s: %w", selector, ErrNoSuchElement)
}

// fakeLauncher records process control calls in order.
type fakeLauncher struct {
	mu             sync.Mutex
	calls          []string
	spawnErr       error
	killBrowserErr error
	killDriverErr  error
}

func (l *fakeLauncher) record(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *fakeLauncher) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *fakeLauncher) KillStale(ctx context.Context, profile string) error {
	l.record("kill stale " + profile)
	return nil
}

func (l *fakeLauncher) Spawn(ctx context.Context, port int, profile string) (string, error) {
	l.record(fmt.Sprintf("spawn %d %s", port, profile))
	if l.spawnErr != nil {
		return "", l.spawnErr
	}
	return fmt.Sprintf("ws://127.0.0.1:%d/devtools", port), nil
}

func (l *fakeLauncher) KillBrowser(ctx context.Context) error {
	l.record("kill browser")
	return l.killBrowserErr
}

func (l *fakeLauncher) KillDriver(ctx context.Context) error {
	l.record("kill driver")
	return l.killDriverErr
}

// dialSequence hands out drivers in order, one per Open.
func dialSequence(drivers ...*fakeDriver) Dialer {
	var mu sync.Mutex
	return func(ctx context.Context, controlURL string) (Driver, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(drivers) == 0 {
			return nil, errors.New("no more drivers")
		}
		d := drivers[0]
		drivers = drivers[1:]
		return d, nil
	}
}
