// Package group runs one configured group: its startup steps when asked,
// then its steps, against a fresh gating state.
package group

import (
	"context"
	"time"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/steps"
)

// Executor runs a single step. *steps.Interpreter implements it.
type Executor interface {
	Execute(ctx context.Context, step config.Step, seq *steps.Sequence) error
}

// Report describes a group execution.
type Report struct {
	StartupDone bool // startup steps ran to completion
	Steps       int  // steps dispatched, startup included
}

// Runner executes groups.
type Runner struct {
	exec Executor
}

// NewRunner creates a runner around exec.
func NewRunner(exec Executor) *Runner {
	return &Runner{exec: exec}
}

// Run executes g. Startup steps run only when withStartup is set; the caller
// keeps track of whether they already ran in the current browser session.
//
// A nil error means every step ran without an unrecovered failure. Otherwise
// the first propagated error is returned as is.
func (r *Runner) Run(ctx context.Context, g config.Group, withStartup bool) (Report, error) {
	var report Report
	start := time.Now()
	seq := steps.NewSequence(g.Name)

	if withStartup {
		if len(g.Startup) > 0 {
			L_debug("group: startup", "group", g.Name, "steps", len(g.Startup))
		}
		if err := r.runSteps(ctx, g.Startup, seq, &report); err != nil {
			return report, err
		}
		report.StartupDone = true
	}

	if err := r.runSteps(ctx, g.Steps, seq, &report); err != nil {
		return report, err
	}

	L_elapsed(start, "group: completed", "group", g.Name, "steps", report.Steps)
	return report, nil
}

func (r *Runner) runSteps(ctx context.Context, list []config.Step, seq *steps.Sequence, report *Report) error {
	for _, step := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Steps++
		if err := r.exec.Execute(ctx, step, seq); err != nil {
			return err
		}
	}
	return nil
}
