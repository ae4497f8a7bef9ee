// Package steps executes configured steps against a browser session:
// condition gating, the per-step retry loop and optional-step bookkeeping.
package steps

import (
	"context"
	"time"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/captcha"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/metrics"
)

// Browser is the session surface steps run against. *browser.Session
// implements it.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error
	Find(ctx context.Context, selector string) (browser.Element, error)
	Click(ctx context.Context, selector string) error
	Insert(ctx context.Context, selector, text string) error
	FindAttribute(ctx context.Context, selector, name string) (string, bool, error)
	FindText(ctx context.Context, selector string) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) (string, error)
	TopWindow(ctx context.Context) error
	SwitchFrame(ctx context.Context, el browser.Element) error
}

// Interpreter runs single steps.
type Interpreter struct {
	browser Browser
	solver  captcha.Solver // nil disables solve_captcha
	random  func() uint64
}

// NewInterpreter creates an interpreter. solver may be nil.
func NewInterpreter(b Browser, solver captcha.Solver) *Interpreter {
	return &Interpreter{
		browser: b,
		solver:  solver,
		random:  randomUint64,
	}
}

// Execute runs step unless its conditions exclude it.
//
// The action is retried until it succeeds or step.WaitMax has elapsed,
// pausing step.Delay before every attempt. Restart-class failures and End
// stop the retries at once. An optional step that fails recoverably is
// recorded in seq and Execute returns nil; every other failure is returned.
func (it *Interpreter) Execute(ctx context.Context, step config.Step, seq *Sequence) error {
	if !gateOpen(step, seq) {
		L_trace("steps: skipped", "group", seq.Group, "step", step.Label(), "if_cond", step.IfCond, "if_not_cond", step.IfNotCond)
		return nil
	}

	start := time.Now()
	attempts := 0
	var err error
	for {
		if step.Delay > 0 {
			if serr := sleep(ctx, step.Delay); serr != nil {
				err = browser.NewError(browser.KindUnexpected, "delay", serr)
				break
			}
		}
		attempts++
		err = it.dispatch(ctx, step.Action)
		if err == nil || browser.IsRestart(err) || browser.IsEarlyEnd(err) {
			break
		}
		if time.Since(start) >= step.WaitMax {
			break
		}
	}

	took := time.Since(start)
	elapsed := took.Round(time.Millisecond).String()
	metric := seq.Group + "/" + step.Label()
	MetricDuration("steps", metric, took)

	if err == nil {
		MetricSuccess("steps", metric)
		seq.markSuccess(step.Name)
		logStep(step, L_info, "steps: success", "group", seq.Group, "step", step.Label(), "attempts", attempts, "elapsed", elapsed)
		return nil
	}

	MetricFailWithReason("steps", metric, browser.KindOf(err).String())

	if browser.IsEarlyEnd(err) {
		logStep(step, L_info, "steps: group ended", "group", seq.Group, "step", step.Label())
		return err
	}

	if step.Optional && !browser.IsRestart(err) {
		seq.markFailed(step.Name, step.OptionalGroup)
		logStep(step, L_info, "steps: optional step failed", "group", seq.Group, "step", step.Label(),
			"optional_group", step.OptionalGroup, "attempts", attempts, "error", err)
		return nil
	}

	logStep(step, L_warn, "steps: failed", "group", seq.Group, "step", step.Label(),
		"kind", browser.KindOf(err).String(), "attempts", attempts, "elapsed", elapsed, "error", err)

	if !step.Optional {
		if path, serr := it.browser.Screenshot(ctx); serr != nil {
			L_warn("steps: failure screenshot", "group", seq.Group, "step", step.Label(), "error", serr)
		} else {
			L_info("steps: failure screenshot", "group", seq.Group, "step", step.Label(), "path", path)
		}
	}
	return err
}

// gateOpen applies if_cond and if_not_cond; both must hold when both are set.
func gateOpen(step config.Step, seq *Sequence) bool {
	if step.IfCond != "" && !seq.Succeeded(step.IfCond) {
		return false
	}
	if step.IfNotCond != "" && !seq.Failed(step.IfNotCond) {
		return false
	}
	return true
}

// logStep emits through log when the step has logging on, else at debug.
func logStep(step config.Step, log func(string, ...interface{}), msg string, args ...interface{}) {
	if step.Logging {
		log(msg, args...)
		return
	}
	L_debug(msg, args...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
