package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6frames/api"
)

// fakeSession answers commands with the JSON results handler returns
// and lets tests deliver protocol events.
type fakeSession struct {
	handler func(method string, params easyjson.Marshaler) (string, error)

	mu          sync.Mutex
	calls       []string
	subscribers map[uint64]func(ev any)
	nextID      uint64
}

func newFakeSession() *fakeSession {
	return &fakeSession{subscribers: make(map[uint64]func(ev any))}
}

func (s *fakeSession) Execute(
	_ context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return nil
	}
	result, err := handler(method, params)
	if err != nil {
		return err
	}
	if result == "" || res == nil {
		return nil
	}
	return easyjson.Unmarshal([]byte(result), res)
}

func (s *fakeSession) ID() target.SessionID {
	return "session"
}

func (s *fakeSession) Subscribe(fn func(ev any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *fakeSession) emit(ev any) {
	s.mu.Lock()
	subs := make([]func(ev any), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (s *fakeSession) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subscribers)
}

func (s *fakeSession) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

type fakeCall struct {
	js   string
	args []any
}

// fakeExecutionContext records its evaluations. evalHandle, when set,
// decides the outcome of the nth (1-based) EvalHandle call.
type fakeExecutionContext struct {
	id         runtime.ExecutionContextID
	evalHandle func(ctx context.Context, n int, js string, args []any) (api.JSHandle, error)

	mu    sync.Mutex
	calls []fakeCall
}

func (e *fakeExecutionContext) ID() runtime.ExecutionContextID {
	return e.id
}

func (e *fakeExecutionContext) record(js string, args []any) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, fakeCall{js: js, args: args})
	return len(e.calls)
}

func (e *fakeExecutionContext) Eval(_ context.Context, js string, args ...any) (any, error) {
	e.record(js, args)
	return nil, nil
}

func (e *fakeExecutionContext) EvalHandle(ctx context.Context, js string, args ...any) (api.JSHandle, error) {
	n := e.record(js, args)
	if e.evalHandle == nil {
		return falsyHandle(), nil
	}
	return e.evalHandle(ctx, n, js, args)
}

func (e *fakeExecutionContext) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.calls)
}

func (e *fakeExecutionContext) call(n int) fakeCall {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls[n-1]
}

type fakeHandle struct {
	ro       *runtime.RemoteObject
	disposed atomic.Bool
}

func (h *fakeHandle) AsElement() api.ElementHandle { return nil }

func (h *fakeHandle) Dispose(context.Context) error {
	h.disposed.Store(true)
	return nil
}

func (h *fakeHandle) JSONValue(context.Context) (string, error) {
	return string(h.ro.Value), nil
}

func (h *fakeHandle) RemoteObject() *runtime.RemoteObject {
	return h.ro
}

func truthyHandle() *fakeHandle {
	return &fakeHandle{ro: &runtime.RemoteObject{
		Type:  runtime.TypeString,
		Value: easyjson.RawMessage(`"ok"`),
	}}
}

func falsyHandle() *fakeHandle {
	return &fakeHandle{ro: &runtime.RemoteObject{
		Type:    runtime.TypeObject,
		Subtype: runtime.SubtypeNull,
		Value:   easyjson.RawMessage(`null`),
	}}
}

// fakeElement is a DOM node handle whose queries return its children.
type fakeElement struct {
	fakeHandle

	mu        sync.Mutex
	children  map[string]*fakeElement
	evaluated []string
	selected  []string
	clicked   int
	typed     string
	result    any
}

func newFakeElement() *fakeElement {
	return &fakeElement{
		fakeHandle: fakeHandle{ro: &runtime.RemoteObject{
			Type:     runtime.TypeObject,
			Subtype:  runtime.SubtypeNode,
			ObjectID: "node",
		}},
		children: make(map[string]*fakeElement),
	}
}

func (e *fakeElement) AsElement() api.ElementHandle { return e }

func (e *fakeElement) Click(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clicked++
	return nil
}

func (e *fakeElement) Evaluate(_ context.Context, pageFunc string, _ ...any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluated = append(e.evaluated, pageFunc)
	return e.result, nil
}

func (e *fakeElement) EvalOnSelector(context.Context, string, string, ...any) (any, error) {
	return e.result, nil
}

func (e *fakeElement) EvalOnSelectorAll(context.Context, string, string, ...any) (any, error) {
	return e.result, nil
}

func (e *fakeElement) Focus(context.Context) error { return nil }
func (e *fakeElement) Hover(context.Context) error { return nil }

func (e *fakeElement) Query(_ context.Context, selector string) (api.ElementHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.children[selector]; ok {
		return c, nil
	}
	return nil, nil
}

func (e *fakeElement) QueryAll(ctx context.Context, selector string) ([]api.ElementHandle, error) {
	el, err := e.Query(ctx, selector)
	if el == nil || err != nil {
		return nil, err
	}
	return []api.ElementHandle{el}, nil
}

func (e *fakeElement) SelectOption(_ context.Context, values []string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.selected = values
	return values, nil
}

func (e *fakeElement) Type(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.typed += text
	return nil
}

func (e *fakeElement) XPath(context.Context, string) ([]api.ElementHandle, error) {
	return nil, nil
}

// fakeDetector settles when the test resolves it.
type fakeDetector struct {
	done     chan struct{}
	once     sync.Once
	outcome  NavigationOutcome
	err      error
	disposed atomic.Bool
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{done: make(chan struct{})}
}

func (d *fakeDetector) resolve(o NavigationOutcome, err error) {
	d.once.Do(func() {
		d.outcome, d.err = o, err
		close(d.done)
	})
}

func (d *fakeDetector) Done() <-chan struct{} { return d.done }

func (d *fakeDetector) Outcome() (NavigationOutcome, error) {
	<-d.done
	return d.outcome, d.err
}

func (d *fakeDetector) Dispose() { d.disposed.Store(true) }

type watchdogRequest struct {
	frame     *Frame
	loaderID  cdp.LoaderID
	url       string
	waitUntil []LifecycleEvent
}

// fakeDetectorFactory hands out the detectors the test prepared and
// records the watchdogs requested.
type fakeDetectorFactory struct {
	watchdog   *fakeDetector
	navigation *fakeDetector

	mu        sync.Mutex
	watchdogs []watchdogRequest
	detectors int
}

func (df *fakeDetectorFactory) NewLifecycleWatchdog(
	f *Frame, loaderID cdp.LoaderID, url string, waitUntil []LifecycleEvent,
) NavigationDetector {
	df.mu.Lock()
	defer df.mu.Unlock()

	df.watchdogs = append(df.watchdogs, watchdogRequest{f, loaderID, url, waitUntil})
	return df.watchdog
}

func (df *fakeDetectorFactory) NewNavigationDetector(*Frame) NavigationDetector {
	df.mu.Lock()
	defer df.mu.Unlock()

	df.detectors++
	return df.navigation
}

func (df *fakeDetectorFactory) watchdogRequests() []watchdogRequest {
	df.mu.Lock()
	defer df.mu.Unlock()

	return append([]watchdogRequest(nil), df.watchdogs...)
}

func newTestFrameManager(t *testing.T, opts ...FrameManagerOption) (*FrameManager, *fakeSession) {
	t.Helper()

	s := newFakeSession()
	m := NewFrameManager(s, opts...)
	t.Cleanup(m.Dispose)

	return m, s
}

// newTestMainFrame returns the main frame of a new frame manager, with
// ec as its execution context.
func newTestMainFrame(
	t *testing.T, ec *fakeExecutionContext, opts ...FrameManagerOption,
) (*Frame, *FrameManager, *fakeSession) {
	t.Helper()

	m, s := newTestFrameManager(t, opts...)
	require.NoError(t, m.frameAttached("main", ""))
	f := m.Frame("main")
	require.NotNil(t, f)
	if ec != nil {
		f.setExecutionContext(ec)
	}

	return f, m, s
}

func frameIDs(frames []*Frame) []cdp.FrameID {
	ids := make([]cdp.FrameID, 0, len(frames))
	for _, f := range frames {
		ids = append(ids, f.ID())
	}
	return ids
}
