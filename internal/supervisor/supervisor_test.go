package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/notify"
)

// fakeSession scripts Click results per selector. A selector without
// scripted results succeeds.
type fakeSession struct {
	mu         sync.Mutex
	tabs       int
	results    map[string][]error
	clicks     []string
	switches   []int
	opens      int
	restarts   int
	closes     int
	openErr    error
	restartErr error
	onClick    func(selector string)
}

func newFakeSession(tabs int) *fakeSession {
	return &fakeSession{tabs: tabs, results: map[string][]error{}}
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeSession) Refresh(ctx context.Context) error              { return nil }
func (f *fakeSession) Find(ctx context.Context, selector string) (browser.Element, error) {
	return nil, nil
}
func (f *fakeSession) Insert(ctx context.Context, selector, text string) error { return nil }
func (f *fakeSession) FindAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeSession) FindText(ctx context.Context, selector string) (string, error) {
	return "", nil
}
func (f *fakeSession) CurrentURL(ctx context.Context) (string, error)            { return "", nil }
func (f *fakeSession) Screenshot(ctx context.Context) (string, error)            { return "", nil }
func (f *fakeSession) TopWindow(ctx context.Context) error                       { return nil }
func (f *fakeSession) SwitchFrame(ctx context.Context, el browser.Element) error { return nil }

func (f *fakeSession) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, selector)
	var err error
	if queue := f.results[selector]; len(queue) > 0 {
		err, f.results[selector] = queue[0], queue[1:]
	}
	hook := f.onClick
	f.mu.Unlock()
	if hook != nil {
		hook(selector)
	}
	return err
}

func (f *fakeSession) Open(ctx context.Context) error {
	f.opens++
	return f.openErr
}

func (f *fakeSession) SwitchTab(ctx context.Context, index int) error {
	f.switches = append(f.switches, index)
	if index >= f.tabs {
		return browser.NewError(browser.KindTabMissing, "switch tab", nil)
	}
	return nil
}

func (f *fakeSession) Restart(ctx context.Context) error {
	f.restarts++
	return f.restartErr
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.closes++
	return nil
}

func click(selector string) config.Step {
	return config.Step{Name: selector, Action: config.Find{Selector: selector, Do: config.FindClick{}}, Logging: true}
}

func testConfig(groups ...config.Group) *config.Config {
	return &config.Config{
		Timeout:           time.Second,
		RestartBackoff:    time.Millisecond,
		RestartBackoffMax: 4 * time.Millisecond,
		Groups:            groups,
	}
}

var (
	notFound = browser.NewError(browser.KindNoSuchElement, "click", browser.ErrNoSuchElement)
	timeout  = browser.NewError(browser.KindTimeout, "click", nil)
)

func TestTimeoutRestartsOnceAndRerunsStartup(t *testing.T) {
	cfg := testConfig(
		config.Group{Name: "g0", Tab: 0, Startup: []config.Step{click("#l0")}, Steps: []config.Step{click("#a")}},
		config.Group{Name: "g1", Tab: 1, Startup: []config.Step{click("#l1")}, Steps: []config.Step{click("#b")}},
	)
	sess := newFakeSession(2)
	sess.results["#a"] = []error{notFound}
	sess.results["#b"] = []error{timeout}

	dir := t.TempDir()
	s := New(cfg, sess, nil, dir)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 1, sess.opens)
	assert.Equal(t, 1, sess.restarts)
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, []string{"#l0", "#a", "#l1", "#b", "#l0", "#a"}, sess.clicks)
	assert.Equal(t, []int{0, 1, 0}, sess.switches)

	state, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, state.RestartCount)
	assert.NotEmpty(t, state.RunID)
	assert.NotNil(t, state.LastRestartAt)
	assert.Contains(t, state.LastError, "timeout")

	logData, err := os.ReadFile(filepath.Join(dir, RestartLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "=== RESTART")
	assert.Contains(t, string(logData), "Group:     g1")
}

func TestStartupRunsOncePerSession(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Startup: []config.Step{click("#login")}, Steps: []config.Step{click("#buy")}})
	sess := newFakeSession(1)
	sess.results["#buy"] = []error{notFound, notFound}

	require.NoError(t, New(cfg, sess, nil, "").Run(context.Background()))
	assert.Equal(t, []string{"#login", "#buy", "#buy", "#buy"}, sess.clicks)
	assert.Equal(t, 0, sess.restarts)
}

func TestFailedStartupIsRetried(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Startup: []config.Step{click("#login")}, Steps: []config.Step{click("#buy")}})
	sess := newFakeSession(1)
	sess.results["#login"] = []error{notFound}

	require.NoError(t, New(cfg, sess, nil, "").Run(context.Background()))
	assert.Equal(t, []string{"#login", "#login", "#buy"}, sess.clicks)
}

func TestMissingTabRestarts(t *testing.T) {
	cfg := testConfig(
		config.Group{Name: "far", Tab: 5, Steps: []config.Step{click("#x")}},
		config.Group{Name: "near", Tab: 0, Steps: []config.Step{click("#y")}},
	)
	sess := newFakeSession(1)

	require.NoError(t, New(cfg, sess, nil, "").Run(context.Background()))
	assert.Equal(t, []int{5, 0}, sess.switches)
	assert.Equal(t, 1, sess.restarts)
	assert.Equal(t, []string{"#y"}, sess.clicks)
}

func TestRestartFailureIsFatal(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	sess := newFakeSession(1)
	sess.results["#a"] = []error{timeout}
	sess.restartErr = errors.New("chrome gone")

	err := New(cfg, sess, nil, "").Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome gone")
	assert.Equal(t, 1, sess.restarts)
}

func TestOpenFailure(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	sess := newFakeSession(1)
	sess.openErr = errors.New("no browser")

	err := New(cfg, sess, nil, "").Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, sess.clicks)
}

func TestCancelStopsLoop(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	sess := newFakeSession(1)
	sess.results["#a"] = []error{notFound, notFound, notFound, notFound, notFound}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	sess.onClick = func(string) {
		n++
		if n == 3 {
			cancel()
		}
	}

	require.NoError(t, New(cfg, sess, nil, "").Run(ctx))
	assert.Equal(t, 3, len(sess.clicks))
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, 0, sess.restarts)
}

func TestIntervalBetweenPasses(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	cfg.Interval = 40 * time.Millisecond
	sess := newFakeSession(1)
	sess.results["#a"] = []error{notFound}

	start := time.Now()
	require.NoError(t, New(cfg, sess, nil, "").Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), cfg.Interval)
	assert.Len(t, sess.clicks, 2)
}

func TestNextBackoff(t *testing.T) {
	max := 5 * time.Second
	d := time.Second
	var got []time.Duration
	for i := 0; i < 4; i++ {
		d = nextBackoff(d, max)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}

func TestCircularBuffer(t *testing.T) {
	b := NewCircularBuffer(3)
	b.Write("a")
	b.Write("b")
	assert.Equal(t, []string{"a", "b"}, b.Lines())

	b.Write("c")
	b.Write("d")
	assert.Equal(t, []string{"b", "c", "d"}, b.Lines())

	b.Reset()
	assert.Empty(t, b.Lines())
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return errors.New("delivery failed")
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestNotifiesRestartAndCompletion(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	sess := newFakeSession(1)
	sess.results["#a"] = []error{timeout}

	n := &recordingNotifier{}
	s := New(cfg, sess, nil, "")
	s.SetNotifier(n)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []notify.Kind{notify.KindRestart, notify.KindCompleted}, n.kinds())
	assert.Equal(t, "g0", n.events[1].Group)
	assert.Equal(t, s.State().RunID, n.events[0].RunID)
}

func TestNotifiesFatal(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	sess := newFakeSession(1)
	sess.results["#a"] = []error{timeout}
	sess.restartErr = errors.New("chrome gone")

	n := &recordingNotifier{}
	s := New(cfg, sess, nil, "")
	s.SetNotifier(n)
	require.Error(t, s.Run(context.Background()))
	assert.Equal(t, []notify.Kind{notify.KindRestart, notify.KindFatal}, n.kinds())
}

type afterSchedule time.Duration

func (d afterSchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

func TestScheduleDelaysOpen(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	cfg.Schedule = afterSchedule(30 * time.Millisecond)
	sess := newFakeSession(1)

	start := time.Now()
	require.NoError(t, New(cfg, sess, nil, "").Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 1, sess.opens)
}

func TestScheduleCancelledBeforeStart(t *testing.T) {
	cfg := testConfig(config.Group{Name: "g0", Steps: []config.Step{click("#a")}})
	cfg.Schedule = afterSchedule(time.Hour)
	sess := newFakeSession(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, New(cfg, sess, nil, "").Run(ctx))
	assert.Equal(t, 0, sess.opens)
	assert.Empty(t, sess.clicks)
}
