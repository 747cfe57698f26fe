package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/trace"
)

// navigateResult answers Page.navigate with result.
func navigateResult(result string) func(string, easyjson.Marshaler) (string, error) {
	return func(method string, _ easyjson.Marshaler) (string, error) {
		if method == page.CommandNavigate {
			return result, nil
		}
		return "", nil
	}
}

type navigationResult struct {
	resp api.Response
	err  error
}

func awaitNavigationResult(t *testing.T, ch <-chan navigationResult) navigationResult {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("navigation did not finish")
		return navigationResult{}
	}
}

func TestFrameGoto(t *testing.T) {
	t.Parallel()

	t.Run("should resolve without a detector for same-document navigation", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{}
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df))
		s.handler = navigateResult(`{"frameId":"main"}`)

		resp, err := f.Goto(context.Background(), "https://a.test/#b", nil)
		require.NoError(t, err)
		assert.Nil(t, resp)
		assert.Empty(t, df.watchdogRequests())
	})

	t.Run("should return the response of the watchdog", func(t *testing.T) {
		t.Parallel()

		want := &Response{status: 200, url: "https://a.test/"}
		df := &fakeDetectorFactory{watchdog: newFakeDetector()}
		df.watchdog.resolve(NavigationOutcome{Response: want, LoaderID: "L2"}, nil)
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df))

		var params *page.NavigateParams
		s.handler = func(method string, p easyjson.Marshaler) (string, error) {
			params, _ = p.(*page.NavigateParams)
			return `{"frameId":"main","loaderId":"L2"}`, nil
		}

		opts := NewFrameGotoOptions("https://referer.test/", time.Second)
		opts.WaitUntil = []LifecycleEvent{LifecycleEventDOMContentLoad}
		resp, err := f.Goto(context.Background(), "https://a.test/", opts)
		require.NoError(t, err)
		assert.Same(t, want, resp)

		require.NotNil(t, params)
		assert.Equal(t, "https://a.test/", params.URL)
		assert.Equal(t, "https://referer.test/", params.Referrer)
		assert.Equal(t, cdp.FrameID("main"), params.FrameID)

		reqs := df.watchdogRequests()
		require.Len(t, reqs, 1)
		assert.Same(t, f, reqs[0].frame)
		assert.Equal(t, cdp.LoaderID("L2"), reqs[0].loaderID)
		assert.Equal(t, "https://a.test/", reqs[0].url)
		assert.Equal(t, []LifecycleEvent{LifecycleEventDOMContentLoad}, reqs[0].waitUntil)
		assert.True(t, df.watchdog.disposed.Load())
	})

	t.Run("err/timeout", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{watchdog: newFakeDetector()}
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df))
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2"}`)

		resp, err := f.Goto(context.Background(), "https://a.test/", NewFrameGotoOptions("", 50*time.Millisecond))
		assert.Nil(t, resp)
		require.ErrorIs(t, err, ErrTimedOut)
		assert.EqualError(t, err, `navigating frame to "https://a.test/": timeout 50ms exceeded`)
		assert.True(t, df.watchdog.disposed.Load())
	})

	t.Run("err/default navigation timeout", func(t *testing.T) {
		t.Parallel()

		ts := NewTimeoutSettings(nil)
		ts.SetDefaultTimeout(time.Hour)
		ts.SetDefaultNavigationTimeout(30 * time.Millisecond)
		df := &fakeDetectorFactory{watchdog: newFakeDetector()}
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df), WithTimeoutSettings(ts))
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2"}`)

		_, err := f.Goto(context.Background(), "https://a.test/", nil)
		var terr *TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, 30*time.Millisecond, terr.Timeout)
	})

	t.Run("err/watchdog", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{watchdog: newFakeDetector()}
		df.watchdog.resolve(NavigationOutcome{}, ErrFrameDetached)
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df))
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2"}`)

		_, err := f.Goto(context.Background(), "https://a.test/", nil)
		require.ErrorIs(t, err, ErrFrameDetached)
		assert.True(t, df.watchdog.disposed.Load())
	})

	t.Run("err/navigation error text", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{}
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df))
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2","errorText":"net::ERR_NAME_NOT_RESOLVED"}`)

		_, err := f.Goto(context.Background(), "https://nowhere.test/", nil)
		require.ErrorContains(t, err, "net::ERR_NAME_NOT_RESOLVED")
		assert.Empty(t, df.watchdogRequests())
	})

	t.Run("err/navigate command", func(t *testing.T) {
		t.Parallel()

		f, _, s := newTestMainFrame(t, nil)
		s.handler = func(string, easyjson.Marshaler) (string, error) {
			return "", errors.New("connection closed")
		}

		_, err := f.Goto(context.Background(), "https://a.test/", nil)
		require.EqualError(t, err, `navigating frame to "https://a.test/": connection closed`)
	})

	t.Run("err/caller context", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{watchdog: newFakeDetector()}
		f, _, s := newTestMainFrame(t, nil, WithDetectorFactory(df))
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2"}`)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := f.Goto(ctx, "https://a.test/", NewFrameGotoOptions("", time.Minute))

		require.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimedOut)
		assert.True(t, df.watchdog.disposed.Load())
	})

	t.Run("should wait for the lifecycle with the default detectors", func(t *testing.T) {
		t.Parallel()

		f, m, s := newTestMainFrame(t, nil)
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2"}`)

		done := make(chan navigationResult, 1)
		go func() {
			resp, err := f.Goto(context.Background(), "https://a.test/", NewFrameGotoOptions("", 5*time.Second))
			done <- navigationResult{resp, err}
		}()
		require.Eventually(t, func() bool {
			return m.handlerCount(EventFrameLifecycle) == 1
		}, time.Second, time.Millisecond)

		s.emit(&network.EventResponseReceived{
			FrameID:  "main",
			LoaderID: "L2",
			Type:     network.ResourceTypeDocument,
			Response: &network.Response{URL: "https://a.test/", Status: 200, StatusText: "OK"},
		})
		s.emit(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", LoaderID: "L2", URL: "https://a.test/"}})
		s.emit(&page.EventLifecycleEvent{FrameID: "main", Name: "DOMContentLoaded"})
		s.emit(&page.EventLifecycleEvent{FrameID: "main", Name: "load"})

		r := awaitNavigationResult(t, done)
		require.NoError(t, r.err)
		require.NotNil(t, r.resp)
		assert.Equal(t, int64(200), r.resp.Status())
		assert.Equal(t, "https://a.test/", r.resp.URL())
		assert.Zero(t, m.handlerCount(EventFrameLifecycle), "the watchdog should be disposed")
	})

	t.Run("should see a navigation completed before the watchdog", func(t *testing.T) {
		t.Parallel()

		f, _, s := newTestMainFrame(t, nil)
		s.handler = func(method string, _ easyjson.Marshaler) (string, error) {
			if method != page.CommandNavigate {
				return "", nil
			}
			s.emit(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", LoaderID: "L2", URL: "https://a.test/"}})
			s.emit(&page.EventLifecycleEvent{FrameID: "main", Name: "load"})
			return `{"frameId":"main","loaderId":"L2"}`, nil
		}

		resp, err := f.Goto(context.Background(), "https://a.test/", NewFrameGotoOptions("", time.Second))
		require.NoError(t, err)
		assert.Nil(t, resp, "no document response was received")
	})

	t.Run("should trace the navigation", func(t *testing.T) {
		t.Parallel()

		sr := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		df := &fakeDetectorFactory{watchdog: newFakeDetector()}
		f, _, s := newTestMainFrame(t, nil,
			WithDetectorFactory(df), WithTracer(trace.NewTracer(tp, nil)))
		s.handler = navigateResult(`{"frameId":"main","loaderId":"L2"}`)

		_, err := f.Goto(context.Background(), "https://a.test/", NewFrameGotoOptions("", 10*time.Millisecond))
		require.ErrorIs(t, err, ErrTimedOut)

		ended := sr.Ended()
		require.Len(t, ended, 1)
		assert.Equal(t, "frame.goto", ended[0].Name())
		assert.Equal(t, codes.Error, ended[0].Status().Code)
	})
}

func TestFrameWaitForNavigation(t *testing.T) {
	t.Parallel()

	t.Run("should resolve on same-document navigation", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{navigation: newFakeDetector()}
		df.navigation.resolve(NavigationOutcome{URL: "https://a.test/#b"}, nil)
		f, _, _ := newTestMainFrame(t, nil, WithDetectorFactory(df))

		resp, err := f.WaitForNavigation(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, resp)
		assert.Empty(t, df.watchdogRequests())
		assert.True(t, df.navigation.disposed.Load())
	})

	t.Run("should wait for the lifecycle of the new document", func(t *testing.T) {
		t.Parallel()

		want := &Response{status: 201}
		df := &fakeDetectorFactory{navigation: newFakeDetector(), watchdog: newFakeDetector()}
		df.navigation.resolve(NavigationOutcome{LoaderID: "L3", URL: "https://b.test/"}, nil)
		df.watchdog.resolve(NavigationOutcome{Response: want, LoaderID: "L3"}, nil)
		f, _, _ := newTestMainFrame(t, nil, WithDetectorFactory(df))

		resp, err := f.WaitForNavigation(context.Background(), NewFrameWaitForNavigationOptions(time.Second))
		require.NoError(t, err)
		assert.Same(t, want, resp)

		reqs := df.watchdogRequests()
		require.Len(t, reqs, 1)
		assert.Equal(t, cdp.LoaderID("L3"), reqs[0].loaderID)
		assert.Equal(t, "https://b.test/", reqs[0].url)
		assert.Equal(t, []LifecycleEvent{LifecycleEventLoad}, reqs[0].waitUntil)
		assert.True(t, df.navigation.disposed.Load())
		assert.True(t, df.watchdog.disposed.Load())
	})

	t.Run("err/timeout", func(t *testing.T) {
		t.Parallel()

		df := &fakeDetectorFactory{navigation: newFakeDetector()}
		f, _, _ := newTestMainFrame(t, nil, WithDetectorFactory(df))

		_, err := f.WaitForNavigation(context.Background(), NewFrameWaitForNavigationOptions(50*time.Millisecond))
		require.ErrorIs(t, err, ErrTimedOut)
		assert.EqualError(t, err, "waiting for navigation: timeout 50ms exceeded")
		assert.True(t, df.navigation.disposed.Load())
	})

	t.Run("should resolve on a fragment navigation with the default detectors", func(t *testing.T) {
		t.Parallel()

		f, m, s := newTestMainFrame(t, nil)
		require.NoError(t, m.frameNavigated("main", "", "https://a.test/", "", "L1"))

		done := make(chan navigationResult, 1)
		go func() {
			resp, err := f.WaitForNavigation(context.Background(), NewFrameWaitForNavigationOptions(5*time.Second))
			done <- navigationResult{resp, err}
		}()
		require.Eventually(t, func() bool {
			return m.handlerCount(EventFrameNavigated) == 1
		}, time.Second, time.Millisecond)

		s.emit(&page.EventNavigatedWithinDocument{FrameID: "main", URL: "https://a.test/#b"})

		r := awaitNavigationResult(t, done)
		require.NoError(t, r.err)
		assert.Nil(t, r.resp)
		assert.Zero(t, m.handlerCount(EventFrameNavigated))
	})

	t.Run("err/frame detached", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestFrameManager(t)
		require.NoError(t, m.frameAttached("main", ""))
		require.NoError(t, m.frameAttached("child", "main"))
		child := m.Frame("child")

		done := make(chan navigationResult, 1)
		go func() {
			resp, err := child.WaitForNavigation(context.Background(), NewFrameWaitForNavigationOptions(5*time.Second))
			done <- navigationResult{resp, err}
		}()
		require.Eventually(t, func() bool {
			return m.handlerCount(EventFrameDetached) == 1
		}, time.Second, time.Millisecond)

		m.frameDetached("child")

		r := awaitNavigationResult(t, done)
		assert.ErrorIs(t, r.err, ErrFrameDetached)
	})
}
