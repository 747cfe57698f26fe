package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto"
)

var (
	// ErrTimedOut is matched by every TimeoutError.
	ErrTimedOut = errors.New("timed out")

	// ErrFrameDetached terminates the wait tasks of a detached frame.
	ErrFrameDetached = errors.New("frame got detached")

	// ErrMainFrameReattached is returned when a second frame without a
	// parent is attached while a main frame exists.
	ErrMainFrameReattached = errors.New("main frame is already attached")

	ErrInvalidPolling          = errors.New("invalid polling")
	ErrInvalidTimeout          = errors.New("timeout must not be negative")
	ErrInvalidWaitUntil        = errors.New("invalid waitUntil")
	ErrUnsupportedWaitTarget   = errors.New("unsupported wait target")
	ErrWaitForVisibleAndHidden = errors.New("visible and hidden options cannot both be set")
	ErrSelectValueType         = errors.New("select values must be strings")
	ErrNoExecutionContext      = errors.New("frame has no execution context")
	ErrNotAnElement            = errors.New("remote object is not an element")
)

// TimeoutError is returned when a deadline elapses before a navigation
// or a wait succeeds.
type TimeoutError struct {
	// Timeout is the configured duration that elapsed.
	Timeout time.Duration
	// What describes what was awaited.
	What string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout %s exceeded", e.What, e.Timeout)
}

// Is reports whether target is ErrTimedOut.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}

var contextDestroyedMessages = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
}

// isContextDestroyed tells if err means that the execution context an
// evaluation ran in went away, usually because of a navigation.
func isContextDestroyed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	var cdpErr *cdproto.Error
	if errors.As(err, &cdpErr) {
		msg = cdpErr.Message
	}
	for _, m := range contextDestroyedMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}
