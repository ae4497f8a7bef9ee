// Package supervisor drives the configured groups against one browser
// session, restarting the session when a group fails in a way only a fresh
// browser can fix.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/captcha"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/group"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/metrics"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/notify"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/steps"
)

const (
	resetThreshold = 5 * time.Minute // healthy stretch that resets backoff
	outputLines    = 50              // log lines kept for restart.log

	StateFile      = "supervisor.json"
	RestartLogFile = "restart.log"
)

// Session is the browser surface the loop needs. *browser.Session
// implements it.
type Session interface {
	steps.Browser
	Open(ctx context.Context) error
	SwitchTab(ctx context.Context, index int) error
	Restart(ctx context.Context) error
	Close(ctx context.Context) error
}

// State represents the supervisor's current state (persisted to supervisor.json)
type State struct {
	RunID         string     `json:"run_id"`
	PID           int        `json:"pid"`
	StartedAt     time.Time  `json:"started_at"`
	RestartCount  int        `json:"restart_count"`
	LastRestartAt *time.Time `json:"last_restart_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Supervisor owns the top-level loop and the per-group startup flags.
type Supervisor struct {
	cfg     *config.Config
	session Session
	runner  *group.Runner
	dataDir string // empty disables state and restart log files

	// startupDone[i] is set once group i's startup ran in the current
	// browser session.
	startupDone []bool

	state   State
	stateMu sync.Mutex

	outputBuf *CircularBuffer

	notifier notify.Notifier
	now      func() time.Time
}

// New creates a supervisor. solver may be nil.
func New(cfg *config.Config, session Session, solver captcha.Solver, dataDir string) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		session:     session,
		runner:      group.NewRunner(steps.NewInterpreter(session, solver)),
		dataDir:     dataDir,
		startupDone: make([]bool, len(cfg.Groups)),
		outputBuf:   NewCircularBuffer(outputLines),
		notifier:    notify.Log{},
		now:         time.Now,
	}
}

// SetNotifier replaces the default log notifier.
func (s *Supervisor) SetNotifier(n notify.Notifier) {
	if n == nil {
		n = notify.Log{}
	}
	s.notifier = n
}

// State returns a copy of the current state.
func (s *Supervisor) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Run opens the session and cycles through the groups until one completes,
// ctx is cancelled, or a restart fails. Only the last case is an error.
func (s *Supervisor) Run(ctx context.Context) error {
	s.state = State{
		RunID:     uuid.NewString(),
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	s.saveState()

	SetTap(s.outputBuf.Write)
	defer SetTap(nil)

	L_info("supervisor: started", "run_id", s.state.RunID, "groups", len(s.cfg.Groups))

	if err := s.waitSchedule(ctx); err != nil {
		return nil
	}

	if err := s.session.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = fmt.Errorf("open browser session: %w", err)
		s.notify(ctx, notify.KindFatal, "", err.Error())
		return err
	}

	backoff := s.cfg.RestartBackoff
	healthySince := time.Now()
	n := len(s.cfg.Groups)

	for i, pass := 0, 0; ; i = (i + 1) % n {
		if i == 0 {
			if pass > 0 && s.cfg.Interval > 0 {
				L_debug("supervisor: pass finished", "pass", pass, "interval", s.cfg.Interval)
				_ = sleepCtx(ctx, s.cfg.Interval)
			}
			pass++
		}
		if ctx.Err() != nil {
			s.shutdown(ctx, "cancelled")
			return nil
		}

		g := s.cfg.Groups[i]
		err := s.runGroup(ctx, i)
		if err == nil {
			L_info("supervisor: group completed, stopping", "group", g.Name)
			s.notify(ctx, notify.KindCompleted, g.Name, "all steps succeeded")
			s.shutdown(ctx, "completed")
			return nil
		}
		if ctx.Err() != nil {
			s.shutdown(ctx, "cancelled")
			return nil
		}

		if browser.IsRestart(err) {
			if time.Since(healthySince) > resetThreshold {
				backoff = s.cfg.RestartBackoff
				L_debug("supervisor: backoff reset (healthy run)")
			}
			if rerr := s.restart(ctx, g.Name, err, backoff); rerr != nil {
				if ctx.Err() != nil {
					s.shutdown(ctx, "cancelled")
					return nil
				}
				s.notify(ctx, notify.KindFatal, g.Name, rerr.Error())
				return rerr
			}
			backoff = nextBackoff(backoff, s.cfg.RestartBackoffMax)
			healthySince = time.Now()
			continue
		}

		L_warn("supervisor: group failed", "group", g.Name, "kind", browser.KindOf(err).String(), "error", err)
	}
}

// runGroup selects the group's tab and runs it. A failed tab switch is
// returned as restart-class whatever its kind.
func (s *Supervisor) runGroup(ctx context.Context, i int) error {
	g := s.cfg.Groups[i]

	if err := s.session.SwitchTab(ctx, g.Tab); err != nil {
		if !browser.IsRestart(err) {
			err = browser.NewError(browser.KindTabMissing, fmt.Sprintf("select tab %d", g.Tab), err)
		}
		return err
	}

	report, err := s.runner.Run(ctx, g, !s.startupDone[i])
	if report.StartupDone {
		s.startupDone[i] = true
	}
	if err != nil {
		metrics.MetricFailWithReason("groups", g.Name, browser.KindOf(err).String())
	} else {
		metrics.MetricSuccess("groups", g.Name)
	}
	return err
}

// restart waits out backoff, restarts the session and clears every
// startup flag.
func (s *Supervisor) restart(ctx context.Context, groupName string, cause error, backoff time.Duration) error {
	s.stateMu.Lock()
	s.state.RestartCount++
	now := time.Now()
	s.state.LastRestartAt = &now
	s.state.LastError = cause.Error()
	count := s.state.RestartCount
	s.stateMu.Unlock()
	s.saveState()
	metrics.MetricInc("supervisor", "restarts")
	s.saveMetrics()

	L_error("supervisor: restarting browser",
		"group", groupName,
		"kind", browser.KindOf(cause).String(),
		"restart_count", count,
		"backoff", backoff,
		"error", cause,
	)
	s.logRestart(now, groupName, cause, count)
	s.notify(ctx, notify.KindRestart, groupName, fmt.Sprintf("restart #%d: %s", count, cause))

	if err := sleepCtx(ctx, backoff); err != nil {
		return err
	}

	if err := s.session.Restart(ctx); err != nil {
		L_error("supervisor: restart failed", "error", err)
		return fmt.Errorf("restart browser session: %w", err)
	}

	for i := range s.startupDone {
		s.startupDone[i] = false
	}
	s.outputBuf.Reset()
	return nil
}

// waitSchedule blocks until the next scheduled start. It returns ctx's
// error if cancelled first.
func (s *Supervisor) waitSchedule(ctx context.Context) error {
	if s.cfg.Schedule == nil {
		return nil
	}
	now := s.now()
	next := s.cfg.Schedule.Next(now)
	if next.IsZero() {
		L_warn("supervisor: schedule has no next run, starting now")
		return nil
	}
	L_info("supervisor: waiting for schedule", "start_at", next.Format(time.RFC3339), "in", next.Sub(now).Round(time.Second))
	return sleepCtx(ctx, next.Sub(now))
}

// notify delivers an event; failures are only logged.
func (s *Supervisor) notify(ctx context.Context, kind notify.Kind, groupName, msg string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ev := notify.Event{
		Kind:    kind,
		RunID:   s.State().RunID,
		Group:   groupName,
		Message: msg,
		At:      s.now(),
	}
	if err := s.notifier.Notify(nctx, ev); err != nil {
		L_warn("supervisor: notify failed", "kind", kind, "error", err)
	}
}

// shutdown closes the session; ctx may already be cancelled.
func (s *Supervisor) shutdown(ctx context.Context, reason string) {
	s.saveMetrics()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), max(3*s.cfg.Timeout, 10*time.Second))
	defer cancel()

	if err := s.session.Close(closeCtx); err != nil {
		L_warn("supervisor: close failed", "reason", reason, "error", err)
		return
	}
	L_info("supervisor: stopped", "reason", reason, "restarts", s.State().RestartCount)
}

// logRestart appends a restart entry to restart.log
func (s *Supervisor) logRestart(at time.Time, groupName string, cause error, count int) {
	if s.dataDir == "" {
		return
	}
	path := filepath.Join(s.dataDir, RestartLogFile)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		L_error("supervisor: failed to open restart.log", "error", err)
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "\n=== RESTART %s ===\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(f, "Run:       %s\n", s.state.RunID)
	fmt.Fprintf(f, "Restart #: %d (this run)\n", count)
	fmt.Fprintf(f, "Group:     %s\n", groupName)
	fmt.Fprintf(f, "Kind:      %s\n", browser.KindOf(cause))
	fmt.Fprintf(f, "Error:     %s\n", cause)
	fmt.Fprintf(f, "Last %d log lines:\n", outputLines)
	fmt.Fprintln(f, "---")
	for _, line := range s.outputBuf.Lines() {
		fmt.Fprintln(f, line)
	}
	fmt.Fprintln(f, "---")

	L_debug("supervisor: restart logged", "path", path)
}

// saveState persists supervisor state to supervisor.json
func (s *Supervisor) saveState() {
	if s.dataDir == "" {
		return
	}
	state := s.State()
	if err := config.AtomicWriteJSON(filepath.Join(s.dataDir, StateFile), state, 0600); err != nil {
		L_error("supervisor: failed to write state", "error", err)
	}
}

// saveMetrics writes the metrics snapshot to metrics.json
func (s *Supervisor) saveMetrics() {
	if s.dataDir == "" {
		return
	}
	if err := metrics.GetInstance().Save(filepath.Join(s.dataDir, metrics.FileName)); err != nil {
		L_error("supervisor: failed to write metrics", "error", err)
	}
}

// LoadState reads supervisor state from supervisor.json
func LoadState(dataDir string) (*State, error) {
	var state State
	if err := config.ReadJSON(filepath.Join(dataDir, StateFile), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// nextBackoff doubles d, capped at max.
func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
