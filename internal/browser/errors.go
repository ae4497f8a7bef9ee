package browser

import (
	"errors"
	"fmt"
)

// Kind classifies every failure a Session operation can report.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNoSuchElement
	KindEarlyEnd
	KindScreenshotEncode
	KindMatchURL
	KindCaptcha
	KindTimeout
	KindClientLost
	KindTabMissing
	KindTextMismatch
)

var kindNames = map[Kind]string{
	KindUnexpected:       "unexpected",
	KindNoSuchElement:    "no such element",
	KindEarlyEnd:         "early end",
	KindScreenshotEncode: "screenshot encode",
	KindMatchURL:         "url mismatch",
	KindCaptcha:          "captcha",
	KindTimeout:          "timeout",
	KindClientLost:       "client lost",
	KindTabMissing:       "tab missing",
	KindTextMismatch:     "text mismatch",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Class is the recovery policy of a Kind.
type Class int

const (
	// ClassRecoverable failures are retried, skipped as optional, or end
	// the current group without touching the browser.
	ClassRecoverable Class = iota
	// ClassRestart failures tear down and relaunch the browser.
	ClassRestart
)

func (c Class) String() string {
	if c == ClassRestart {
		return "restart"
	}
	return "recoverable"
}

// Class returns the recovery policy for k.
func (k Kind) Class() Class {
	switch k {
	case KindNoSuchElement, KindEarlyEnd, KindScreenshotEncode, KindMatchURL, KindCaptcha, KindTextMismatch:
		return ClassRecoverable
	default:
		return ClassRestart
	}
}

// ErrNoSuchElement marks a lookup that matched nothing. Drivers wrap or
// return it so the timed call can classify the failure.
var ErrNoSuchElement = errors.New("no such element")

// Error is a classified Session failure.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "click #buy"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf maps err to its Kind. Unclassified errors are KindUnexpected.
// KindOf(nil) is meaningless and also returns KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNoSuchElement) {
		return KindNoSuchElement
	}
	return KindUnexpected
}

// IsRestart reports whether err requires a browser restart.
func IsRestart(err error) bool {
	return err != nil && KindOf(err).Class() == ClassRestart
}

// IsEarlyEnd reports whether err is a deliberate End step.
func IsEarlyEnd(err error) bool {
	return err != nil && KindOf(err) == KindEarlyEnd
}
