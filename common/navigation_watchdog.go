package common

import (
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"

	"github.com/liuxd6825/k6frames/api"
)

// NavigationOutcome is what a navigation detector reports on success.
type NavigationOutcome struct {
	// Response is the document response of the navigation, if any.
	Response api.Response
	// LoaderID identifies the detected navigation. It is empty for
	// same-document navigations.
	LoaderID cdp.LoaderID
	URL      string
}

// NavigationDetector resolves once a navigation outcome is observed.
type NavigationDetector interface {
	// Done is closed once the outcome is known.
	Done() <-chan struct{}
	// Outcome returns the outcome. It must be called after Done is closed.
	Outcome() (NavigationOutcome, error)
	// Dispose releases the detector's subscriptions.
	Dispose()
}

// DetectorFactory builds the navigation detectors of frame navigations.
type DetectorFactory interface {
	// NewLifecycleWatchdog returns a detector resolving once the
	// navigation identified by loaderID has committed in f and the
	// waitUntil lifecycle events have fired in f and its descendants.
	NewLifecycleWatchdog(f *Frame, loaderID cdp.LoaderID, url string, waitUntil []LifecycleEvent) NavigationDetector
	// NewNavigationDetector returns a detector resolving once the next
	// navigation of f commits, with an empty loader ID when it stays
	// within the document.
	NewNavigationDetector(f *Frame) NavigationDetector
}

// lifecycleDetectorFactory builds detectors on the frame manager events.
type lifecycleDetectorFactory struct{}

func (lifecycleDetectorFactory) NewLifecycleWatchdog(
	f *Frame, loaderID cdp.LoaderID, url string, waitUntil []LifecycleEvent,
) NavigationDetector {
	w := &lifecycleWatchdog{
		detector:  detector{done: make(chan struct{})},
		frame:     f,
		loaderID:  loaderID,
		url:       url,
		waitUntil: waitUntil,
	}
	w.off = f.manager.On(
		[]string{EventFrameNavigated, EventFrameLifecycle, EventFrameDetached},
		w.onEvent)
	// the navigation may have completed before the subscription
	w.check()

	return w
}

func (lifecycleDetectorFactory) NewNavigationDetector(f *Frame) NavigationDetector {
	d := &nextNavigationDetector{
		detector: detector{done: make(chan struct{})},
		frame:    f,
	}
	d.off = f.manager.On([]string{EventFrameNavigated, EventFrameDetached}, d.onEvent)

	return d
}

type detector struct {
	done    chan struct{}
	once    sync.Once
	outcome NavigationOutcome
	err     error
	off     func()
}

func (d *detector) settle(o NavigationOutcome, err error) {
	d.once.Do(func() {
		d.outcome, d.err = o, err
		close(d.done)
	})
}

func (d *detector) Done() <-chan struct{} {
	return d.done
}

func (d *detector) Outcome() (NavigationOutcome, error) {
	<-d.done
	return d.outcome, d.err
}

func (d *detector) Dispose() {
	if d.off != nil {
		d.off()
	}
}

type lifecycleWatchdog struct {
	detector

	frame     *Frame
	loaderID  cdp.LoaderID
	url       string
	waitUntil []LifecycleEvent
}

func (w *lifecycleWatchdog) onEvent(ev Event) {
	if ev.Type == EventFrameDetached {
		if ev.Data.(*Frame) == w.frame {
			w.settle(NavigationOutcome{}, fmt.Errorf("navigating frame to %q: %w", w.url, ErrFrameDetached))
		}
		return
	}
	w.check()
}

func (w *lifecycleWatchdog) check() {
	if w.frame.NavigationID() != w.loaderID {
		return
	}
	if !lifecycleComplete(w.frame, w.waitUntil) {
		return
	}
	w.settle(NavigationOutcome{
		Response: w.frame.manager.network.Response(w.loaderID),
		LoaderID: w.loaderID,
		URL:      w.frame.URL(),
	}, nil)
}

// lifecycleComplete tells if events fired in f and its descendants.
func lifecycleComplete(f *Frame, events []LifecycleEvent) bool {
	for _, ev := range events {
		if !f.HasLifecycleEventFired(ev) {
			return false
		}
	}
	for _, c := range f.ChildFrames() {
		if !lifecycleComplete(c, events) {
			return false
		}
	}
	return true
}

type nextNavigationDetector struct {
	detector

	frame *Frame
}

func (d *nextNavigationDetector) onEvent(ev Event) {
	switch data := ev.Data.(type) {
	case FrameNavigatedEvent:
		if data.Frame != d.frame {
			return
		}
		d.settle(NavigationOutcome{LoaderID: data.LoaderID, URL: data.URL}, nil)
	case *Frame:
		if data == d.frame {
			d.settle(NavigationOutcome{}, fmt.Errorf("waiting for navigation: %w", ErrFrameDetached))
		}
	}
}
