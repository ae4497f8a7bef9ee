package browser

import "context"

// Driver is the remote-control connection the Session drives. It tracks
// an ordered list of tabs, one active tab, and the active frame within it.
// Lookups that match nothing return an error wrapping ErrNoSuchElement.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Find(ctx context.Context, selector string) (Element, error)
	CurrentURL(ctx context.Context) (string, error)
	// Screenshot returns the encoded viewport capture of the active tab.
	Screenshot(ctx context.Context) ([]byte, error)

	TabCount(ctx context.Context) (int, error)
	NewTab(ctx context.Context) error
	SwitchTab(ctx context.Context, index int) error

	EnterFrame(ctx context.Context, el Element) error
	TopFrame(ctx context.Context) error

	// Close ends the control connection. The browser process is left to
	// the Launcher.
	Close() error
}

// Element is a resolved DOM node. It is only valid until the page
// navigates or the session restarts.
type Element interface {
	Click(ctx context.Context) error
	// SetValue replaces the element's current value with text.
	SetValue(ctx context.Context, text string) error
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)
	Find(ctx context.Context, selector string) (Element, error)
}

// Dialer connects to a spawned browser's control URL.
type Dialer func(ctx context.Context, controlURL string) (Driver, error)
