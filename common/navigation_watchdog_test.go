package common

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isDone(d NavigationDetector) bool {
	select {
	case <-d.Done():
		return true
	default:
		return false
	}
}

func TestLifecycleWatchdog(t *testing.T) {
	t.Parallel()

	t.Run("should wait for the commit and the lifecycle of the subtree", func(t *testing.T) {
		t.Parallel()

		m, s := newTestFrameManager(t)
		require.NoError(t, m.frameNavigated("main", "", "about:blank", "", "L1"))
		main := m.MainFrame()

		w := lifecycleDetectorFactory{}.NewLifecycleWatchdog(main, "L2", "https://a.test/", []LifecycleEvent{LifecycleEventLoad})
		defer w.Dispose()

		m.frameLifecycleEvent("main", "load")
		assert.False(t, isDone(w), "load of the previous document")

		s.emit(&network.EventResponseReceived{
			FrameID:  "main",
			LoaderID: "L2",
			Type:     network.ResourceTypeDocument,
			Response: &network.Response{URL: "https://a.test/", Status: 404},
		})
		require.NoError(t, m.frameNavigated("main", "", "https://a.test/", "", "L2"))
		require.NoError(t, m.frameAttached("child", "main"))
		m.frameLifecycleEvent("main", "load")
		assert.False(t, isDone(w), "child frame has not loaded")

		m.frameLifecycleEvent("child", "load")
		require.True(t, isDone(w))

		o, err := w.Outcome()
		require.NoError(t, err)
		assert.Equal(t, "https://a.test/", o.URL)
		require.NotNil(t, o.Response)
		assert.Equal(t, int64(404), o.Response.Status())
		assert.False(t, o.Response.Ok())
	})

	t.Run("should fail when the frame is detached", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestFrameManager(t)
		require.NoError(t, m.frameAttached("main", ""))
		require.NoError(t, m.frameAttached("child", "main"))

		w := lifecycleDetectorFactory{}.NewLifecycleWatchdog(m.Frame("child"), "L2", "https://a.test/", nil)
		defer w.Dispose()

		m.frameDetached("child")
		require.True(t, isDone(w))
		_, err := w.Outcome()
		assert.ErrorIs(t, err, ErrFrameDetached)
	})

	t.Run("should unsubscribe on dispose", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestFrameManager(t)
		require.NoError(t, m.frameAttached("main", ""))

		w := lifecycleDetectorFactory{}.NewLifecycleWatchdog(m.MainFrame(), "L2", "", nil)
		require.Equal(t, 1, m.handlerCount(EventFrameLifecycle))
		w.Dispose()

		assert.Zero(t, m.handlerCount(EventFrameLifecycle))
		assert.Zero(t, m.handlerCount(EventFrameNavigated))
		assert.Zero(t, m.handlerCount(EventFrameDetached))
	})
}

func TestNextNavigationDetector(t *testing.T) {
	t.Parallel()

	t.Run("should report the next navigation of the frame", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestFrameManager(t)
		require.NoError(t, m.frameAttached("main", ""))
		require.NoError(t, m.frameAttached("child", "main"))

		d := lifecycleDetectorFactory{}.NewNavigationDetector(m.MainFrame())
		defer d.Dispose()

		require.NoError(t, m.frameNavigated("child", "main", "https://child.test/", "", "C1"))
		assert.False(t, isDone(d), "navigation of another frame")

		require.NoError(t, m.frameNavigated("main", "", "https://a.test/", "", "L2"))
		require.True(t, isDone(d))
		o, err := d.Outcome()
		require.NoError(t, err)
		assert.Equal(t, NavigationOutcome{LoaderID: "L2", URL: "https://a.test/"}, o)
	})

	t.Run("should report same-document navigations", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestFrameManager(t)
		require.NoError(t, m.frameAttached("main", ""))

		d := lifecycleDetectorFactory{}.NewNavigationDetector(m.MainFrame())
		defer d.Dispose()

		m.frameNavigatedWithinDocument("main", "https://a.test/#b")
		o, err := d.Outcome()
		require.NoError(t, err)
		assert.Empty(t, o.LoaderID)
	})
}
