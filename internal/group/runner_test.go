package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/steps"
)

// pageBrowser clicks only the selectors listed in present.
type pageBrowser struct {
	present map[string]bool
	clicked []string
}

func newPage(present ...string) *pageBrowser {
	p := &pageBrowser{present: map[string]bool{}}
	for _, s := range present {
		p.present[s] = true
	}
	return p
}

func (p *pageBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (p *pageBrowser) Refresh(ctx context.Context) error              { return nil }
func (p *pageBrowser) Find(ctx context.Context, selector string) (browser.Element, error) {
	if !p.present[selector] {
		return nil, browser.NewError(browser.KindNoSuchElement, "find", browser.ErrNoSuchElement)
	}
	return nil, nil
}
func (p *pageBrowser) Click(ctx context.Context, selector string) error {
	if _, err := p.Find(ctx, selector); err != nil {
		return err
	}
	p.clicked = append(p.clicked, selector)
	return nil
}
func (p *pageBrowser) Insert(ctx context.Context, selector, text string) error {
	_, err := p.Find(ctx, selector)
	return err
}
func (p *pageBrowser) FindAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	return "", false, nil
}
func (p *pageBrowser) FindText(ctx context.Context, selector string) (string, error) {
	_, err := p.Find(ctx, selector)
	return "", err
}
func (p *pageBrowser) CurrentURL(ctx context.Context) (string, error)          { return "", nil }
func (p *pageBrowser) Screenshot(ctx context.Context) (string, error)          { return "", nil }
func (p *pageBrowser) TopWindow(ctx context.Context) error                     { return nil }
func (p *pageBrowser) SwitchFrame(ctx context.Context, el browser.Element) error { return nil }

func click(name, selector string) config.Step {
	return config.Step{Name: name, Action: config.Find{Selector: selector, Do: config.FindClick{}}, Logging: true}
}

func run(t *testing.T, page *pageBrowser, g config.Group, withStartup bool) (Report, error) {
	t.Helper()
	return NewRunner(steps.NewInterpreter(page, nil)).Run(context.Background(), g, withStartup)
}

func TestOptionalGroupFailureEnablesFallback(t *testing.T) {
	a := click("a", "#a")
	a.Optional = true
	a.OptionalGroup = "g"
	b := click("b", "#b")
	b.IfNotCond = "g"
	g := config.Group{Name: "shop", Steps: []config.Step{a, b}}

	page := newPage("#b")
	_, err := run(t, page, g, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"#b"}, page.clicked)

	page = newPage("#a", "#b")
	_, err = run(t, page, g, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"#a"}, page.clicked, "b is skipped when a succeeds")
}

func TestNamedSuccessGating(t *testing.T) {
	c := click("c", "#c")
	c.IfCond = "x"

	tests := []struct {
		name    string
		present []string
		want    []string
	}{
		{"x succeeds", []string{"#x", "#c"}, []string{"#x", "#c"}},
		{"x fails", []string{"#c"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := click("x", "#x")
			x.Optional = true
			g := config.Group{Name: "shop", Steps: []config.Step{x, c}}
			page := newPage(tt.present...)
			_, err := run(t, page, g, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.clicked)
		})
	}
}

func TestEndHaltsRemainingSteps(t *testing.T) {
	g := config.Group{Name: "shop", Steps: []config.Step{
		click("a", "#a"),
		{Action: config.End{}},
		click("b", "#b"),
	}}
	page := newPage("#a", "#b")

	report, err := run(t, page, g, false)
	assert.True(t, browser.IsEarlyEnd(err))
	assert.Equal(t, []string{"#a"}, page.clicked)
	assert.Equal(t, 2, report.Steps)
}

func TestRequiredFailureStopsGroup(t *testing.T) {
	g := config.Group{Name: "shop", Steps: []config.Step{click("a", "#a"), click("b", "#b")}}
	page := newPage("#b")

	_, err := run(t, page, g, false)
	assert.Equal(t, browser.KindNoSuchElement, browser.KindOf(err))
	assert.Empty(t, page.clicked)
}

func TestStartup(t *testing.T) {
	g := config.Group{
		Name:    "shop",
		Startup: []config.Step{click("login", "#login")},
		Steps:   []config.Step{click("buy", "#buy")},
	}

	page := newPage("#login", "#buy")
	report, err := run(t, page, g, true)
	require.NoError(t, err)
	assert.True(t, report.StartupDone)
	assert.Equal(t, []string{"#login", "#buy"}, page.clicked)

	page = newPage("#login", "#buy")
	report, err = run(t, page, g, false)
	require.NoError(t, err)
	assert.False(t, report.StartupDone)
	assert.Equal(t, []string{"#buy"}, page.clicked)

	page = newPage("#buy")
	report, err = run(t, page, g, true)
	require.Error(t, err)
	assert.False(t, report.StartupDone)
	assert.Empty(t, page.clicked)
}

func TestStartupSharesGatingState(t *testing.T) {
	buy := click("buy", "#buy")
	buy.IfCond = "login"
	g := config.Group{
		Name:    "shop",
		Startup: []config.Step{click("login", "#login")},
		Steps:   []config.Step{buy},
	}

	page := newPage("#login", "#buy")
	_, err := run(t, page, g, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"#login", "#buy"}, page.clicked)
}

func TestCancelledContext(t *testing.T) {
	g := config.Group{Name: "shop", Steps: []config.Step{click("a", "#a")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := newPage("#a")
	_, err := NewRunner(steps.NewInterpreter(page, nil)).Run(ctx, g, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, page.clicked)
}
