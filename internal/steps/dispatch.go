package steps

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/browser"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/captcha"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
)

// dispatch performs one attempt of action.
func (it *Interpreter) dispatch(ctx context.Context, action config.Action) error {
	b := it.browser

	switch a := action.(type) {
	case config.Navigate:
		url := a.URL
		if a.AntiCache {
			url = antiCacheURL(url, it.random())
		}
		return b.Navigate(ctx, url)

	case config.Wait:
		if err := sleep(ctx, a.Duration); err != nil {
			return browser.NewError(browser.KindUnexpected, "wait", err)
		}
		return nil

	case config.Screenshot:
		_, err := b.Screenshot(ctx)
		return err

	case config.MatchURL:
		current, err := b.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(current, a.Substring) {
			return browser.NewError(browser.KindMatchURL, "match url "+a.Substring, fmt.Errorf("current url is %s", current))
		}
		return nil

	case config.Refresh:
		return b.Refresh(ctx)

	case config.End:
		return browser.NewError(browser.KindEarlyEnd, "end", nil)

	case config.TopWindow:
		return b.TopWindow(ctx)

	case config.Find:
		return it.dispatchFind(ctx, a)

	case config.Special:
		switch a.Kind {
		case config.SpecialSolveCaptcha:
			if it.solver == nil {
				return browser.NewError(browser.KindCaptcha, "captcha", errors.New("no solver configured"))
			}
			return captcha.Solve(ctx, b, it.solver)
		}
		return browser.NewError(browser.KindUnexpected, "special "+string(a.Kind), errors.New("unknown special action"))
	}

	return browser.NewError(browser.KindUnexpected, "dispatch", fmt.Errorf("unknown action %T", action))
}

func (it *Interpreter) dispatchFind(ctx context.Context, a config.Find) error {
	b := it.browser

	switch do := a.Do.(type) {
	case config.FindClick:
		return b.Click(ctx, a.Selector)
	case config.FindInsert:
		return b.Insert(ctx, a.Selector, do.Value)
	case config.FindSwitchFrame:
		el, err := b.Find(ctx, a.Selector)
		if err != nil {
			return err
		}
		return b.SwitchFrame(ctx, el)
	case config.FindCompare:
		text, err := b.FindText(ctx, a.Selector)
		if err != nil {
			return err
		}
		if got := strings.TrimSpace(text); got != do.Equals {
			return browser.NewError(browser.KindTextMismatch, "compare "+a.Selector, fmt.Errorf("%q != %q", got, do.Equals))
		}
		return nil
	default:
		_, err := b.Find(ctx, a.Selector)
		return err
	}
}

// antiCacheURL adds a random query parameter, keeping any fragment last.
func antiCacheURL(url string, n uint64) string {
	fragment := ""
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url, fragment = url[:i], url[i:]
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + strconv.FormatUint(n, 10) + fragment
}

func randomUint64() uint64 {
	return rand.Uint64()
}
