package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// WaitTargetKind tells what a WaitTarget waits for.
type WaitTargetKind int

const (
	WaitTargetSelector WaitTargetKind = iota + 1
	WaitTargetXPath
	WaitTargetDelay
	WaitTargetPredicate
)

func (k WaitTargetKind) String() string {
	switch k {
	case WaitTargetSelector:
		return "selector"
	case WaitTargetXPath:
		return "xpath"
	case WaitTargetDelay:
		return "delay"
	case WaitTargetPredicate:
		return "predicate"
	default:
		return fmt.Sprintf("WaitTargetKind(%d)", int(k))
	}
}

// PageFunction is the source of a JS function to run in the page.
type PageFunction string

// WaitTarget is the target of Frame.WaitFor.
type WaitTarget struct {
	kind      WaitTargetKind
	selector  string
	delay     time.Duration
	predicate PageFunction
}

// Kind returns the kind of the target.
func (t WaitTarget) Kind() WaitTargetKind {
	return t.kind
}

// NewWaitTarget builds a wait target from a string (a selector, or an
// XPath expression if it starts with "//"), a number of milliseconds or
// a time.Duration (a delay) or a PageFunction (a predicate).
func NewWaitTarget(v any) (WaitTarget, error) {
	switch tv := v.(type) {
	case string:
		if strings.HasPrefix(tv, XPathMarker) {
			return WaitTarget{kind: WaitTargetXPath, selector: tv}, nil
		}
		return WaitTarget{kind: WaitTargetSelector, selector: tv}, nil
	case PageFunction:
		return WaitTarget{kind: WaitTargetPredicate, predicate: tv}, nil
	case time.Duration:
		return WaitTarget{kind: WaitTargetDelay, delay: tv}, nil
	case int:
		return WaitTarget{kind: WaitTargetDelay, delay: time.Duration(tv) * time.Millisecond}, nil
	case int64:
		return WaitTarget{kind: WaitTargetDelay, delay: time.Duration(tv) * time.Millisecond}, nil
	case float64:
		return WaitTarget{kind: WaitTargetDelay, delay: time.Duration(tv * float64(time.Millisecond))}, nil
	default:
		return WaitTarget{}, fmt.Errorf("%w: %T", ErrUnsupportedWaitTarget, v)
	}
}

// WaitTargetFromValue builds a wait target from a JS value. Functions
// become predicates; other values are handled as in NewWaitTarget.
func WaitTargetFromValue(v goja.Value) (WaitTarget, error) {
	if v == nil {
		return WaitTarget{}, fmt.Errorf("%w: nil", ErrUnsupportedWaitTarget)
	}
	if _, ok := goja.AssertFunction(v); ok {
		return WaitTarget{kind: WaitTargetPredicate, predicate: PageFunction(v.String())}, nil
	}
	return NewWaitTarget(v.Export())
}
