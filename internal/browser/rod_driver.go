package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// rodDriver implements Driver over the Chrome DevTools protocol.
type rodDriver struct {
	browser *rod.Browser
	stealth bool
	pages   []*rod.Page // tab order as opened
	active  int
	frame   *rod.Page // nil = top document of the active tab
}

// RodDialer returns a Dialer that connects go-rod to a launched browser.
func RodDialer(cfg BrowserConfig) Dialer {
	return func(ctx context.Context, controlURL string) (Driver, error) {
		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to browser: %w", err)
		}

		// Rod defaults to LaptopWithMDPIScreen which constrains the viewport
		b = b.DefaultDevice(cfg.ResolveDevice())

		d := &rodDriver{browser: b, stealth: cfg.Stealth}
		if err := d.adoptInitialTab(ctx); err != nil {
			b.Close()
			return nil, err
		}

		L_debug("browser: connected", "controlURL", controlURL, "stealth", cfg.Stealth)
		return d, nil
	}
}

// adoptInitialTab makes the browser's first tab index 0. With stealth the
// default blank tab is replaced by a stealth one.
func (d *rodDriver) adoptInitialTab(ctx context.Context) error {
	existing, err := d.browser.Context(ctx).Pages()
	if err != nil {
		return fmt.Errorf("failed to list tabs: %w", err)
	}

	if !d.stealth && len(existing) > 0 {
		d.pages = []*rod.Page{existing[0]}
		return nil
	}

	if err := d.NewTab(ctx); err != nil {
		return err
	}
	for _, p := range existing {
		if err := p.Close(); err != nil {
			L_debug("browser: failed to close default tab", "error", err)
		}
	}
	return nil
}

func (d *rodDriver) top() (*rod.Page, error) {
	if d.active < 0 || d.active >= len(d.pages) {
		return nil, NewError(KindTabMissing, fmt.Sprintf("tab %d", d.active), nil)
	}
	return d.pages[d.active], nil
}

// current is the page element lookups run against: the active frame if one
// was entered, else the tab's top document.
func (d *rodDriver) current() (*rod.Page, error) {
	if d.frame != nil {
		return d.frame, nil
	}
	return d.top()
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	p, err := d.top()
	if err != nil {
		return err
	}
	d.frame = nil

	p = p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		// page might still be usable
		L_debug("browser: WaitLoad failed", "url", url, "error", err)
	}
	return nil
}

func (d *rodDriver) Reload(ctx context.Context) error {
	p, err := d.top()
	if err != nil {
		return err
	}
	d.frame = nil

	p = p.Context(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		L_debug("browser: WaitLoad failed after reload", "error", err)
	}
	return nil
}

func (d *rodDriver) Find(ctx context.Context, selector string) (Element, error) {
	p, err := d.current()
	if err != nil {
		return nil, err
	}
	el, err := p.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return nil, notFound(selector, err)
	}
	return &rodElement{el: el}, nil
}

func (d *rodDriver) CurrentURL(ctx context.Context) (string, error) {
	p, err := d.top()
	if err != nil {
		return "", err
	}
	info, err := p.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to get page info: %w", err)
	}
	return info.URL, nil
}

func (d *rodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	p, err := d.top()
	if err != nil {
		return nil, err
	}
	// webp keeps the CDP payload small; encodeScreenshot converts it
	return p.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatWebp,
	})
}

// TabCount drops tabs that were closed outside the session.
func (d *rodDriver) TabCount(ctx context.Context) (int, error) {
	pages, err := d.browser.Context(ctx).Pages()
	if err != nil {
		return 0, fmt.Errorf("failed to list tabs: %w", err)
	}

	alive := make(map[proto.TargetTargetID]bool, len(pages))
	for _, p := range pages {
		alive[p.TargetID] = true
	}

	kept := d.pages[:0]
	for i, p := range d.pages {
		if alive[p.TargetID] {
			kept = append(kept, p)
		} else {
			L_warn("browser: tab closed externally", "index", i)
		}
	}
	d.pages = kept
	return len(d.pages), nil
}

func (d *rodDriver) NewTab(ctx context.Context) error {
	var (
		p   *rod.Page
		err error
	)
	b := d.browser.Context(ctx)
	if d.stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}
	d.pages = append(d.pages, p)
	return nil
}

func (d *rodDriver) SwitchTab(ctx context.Context, index int) error {
	if index < 0 || index >= len(d.pages) {
		return NewError(KindTabMissing, fmt.Sprintf("switch to tab %d", index), nil)
	}
	if _, err := d.pages[index].Context(ctx).Activate(); err != nil {
		return fmt.Errorf("failed to activate tab %d: %w", index, err)
	}
	d.active = index
	d.frame = nil
	return nil
}

func (d *rodDriver) EnterFrame(ctx context.Context, el Element) error {
	re, ok := el.(*rodElement)
	if !ok {
		return fmt.Errorf("element %T does not belong to this driver", el)
	}
	frame, err := re.el.Context(ctx).Frame()
	if err != nil {
		return fmt.Errorf("failed to enter frame: %w", err)
	}
	d.frame = frame
	return nil
}

func (d *rodDriver) TopFrame(ctx context.Context) error {
	if _, err := d.top(); err != nil {
		return err
	}
	d.frame = nil
	return nil
}

// Close asks the browser to exit. Session.Close kills the browser first,
// so a control connection the peer already dropped counts as closed.
func (d *rodDriver) Close() error {
	d.pages = nil
	d.frame = nil
	if err := d.browser.Close(); err != nil && !peerGone(err) {
		return err
	}
	return nil
}

// peerGone reports whether err only says the other end of the control
// connection has gone away.
func peerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		L_debug("browser: failed to scroll into view", "error", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) SetValue(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		L_debug("browser: failed to select text", "error", err)
	}
	// Input replaces the selection
	return el.Input(text)
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Find(ctx context.Context, selector string) (Element, error) {
	el, err := e.el.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return nil, notFound(selector, err)
	}
	return &rodElement{el: el}, nil
}

// notFound wraps rod's not-found error so the timed call sees ErrNoSuchElement.
func notFound(selector string, err error) error {
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("%s: %w", selector, ErrNoSuchElement)
	}
	return err
}
