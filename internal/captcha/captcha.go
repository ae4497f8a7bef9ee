// Package captcha solves the image captcha shop pages interpose before
// checkout, through an external solver command or a vision model.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// Selectors of the captcha interstitial.
const (
	ImageSelector  = "form[action='/errors/validateCaptcha'] img"
	InputSelector  = "#captchacharacters"
	SubmitSelector = "form[action='/errors/validateCaptcha'] button[type='submit']"
)

// ErrUnsolvable is returned when the solver produced no answer.
var ErrUnsolvable = errors.New("captcha unsolvable")

// Solver turns a captcha image URL into its text.
type Solver interface {
	Solve(ctx context.Context, imageURL string) (string, error)
}

// Page is the part of a browser session the captcha flow uses.
type Page interface {
	FindAttribute(ctx context.Context, selector, name string) (string, bool, error)
	Insert(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
}

// Solve reads the captcha image, asks solver for the text, types it and
// submits the form. Solver failures are browser.KindCaptcha; page failures
// keep their own kind.
func Solve(ctx context.Context, p Page, solver Solver) error {
	src, ok, err := p.FindAttribute(ctx, ImageSelector, "src")
	if err != nil {
		return err
	}
	if !ok || src == "" {
		return browser.NewError(browser.KindCaptcha, "captcha", errors.New("missing src attribute on captcha img"))
	}

	start := time.Now()
	answer, err := solver.Solve(ctx, src)
	if err != nil {
		return browser.NewError(browser.KindCaptcha, "captcha", err)
	}
	L_elapsed(start, "captcha: solved", "image", src)

	if err := p.Insert(ctx, InputSelector, answer); err != nil {
		return err
	}
	return p.Click(ctx, SubmitSelector)
}

// ExecSolver runs an external command and reads the answer from stdout.
// An argument "{url}" is replaced by the image URL; without one the URL is
// appended.
type ExecSolver struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (s *ExecSolver) args(imageURL string) []string {
	out := make([]string, 0, len(s.Args)+1)
	replaced := false
	for _, a := range s.Args {
		if strings.Contains(a, "{url}") {
			a = strings.ReplaceAll(a, "{url}", imageURL)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, imageURL)
	}
	return out
}

func (s *ExecSolver) Solve(ctx context.Context, imageURL string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command, s.args(imageURL)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrUnsolvable, s.Command, err, strings.TrimSpace(stderr.String()))
	}

	answer := strings.TrimSpace(string(out))
	if answer == "" {
		return "", fmt.Errorf("%w: %s printed nothing", ErrUnsolvable, s.Command)
	}
	L_debug("captcha: solver answered", "command", s.Command, "length", len(answer))
	return answer, nil
}
