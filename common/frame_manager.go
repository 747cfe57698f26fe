/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/k6frames/log"
	"github.com/liuxd6825/k6frames/trace"
)

// FrameManager manages the frame tree of a page. It keeps the tree in
// sync with the protocol events of the session and notifies its
// subscribers of the changes.
type FrameManager struct {
	*BaseEventEmitter

	session         Session
	logger          *log.Logger
	tracer          *trace.Tracer
	timeoutSettings *TimeoutSettings
	polling         Polling
	detectors       DetectorFactory
	network         NetworkTracker
	ownedTracker    *ResponseTracker

	mu          sync.RWMutex
	frames      map[cdp.FrameID]*Frame
	mainFrameID cdp.FrameID
	contexts    map[runtime.ExecutionContextID]*Frame

	unsubscribe func()
	disposeOnce sync.Once
}

// FrameManagerOption configures a FrameManager.
type FrameManagerOption func(*FrameManager)

// WithLogger sets the logger of the frame manager and its frames.
func WithLogger(l *log.Logger) FrameManagerOption {
	return func(m *FrameManager) { m.logger = l }
}

// WithTracer sets the tracer of navigations and waits.
func WithTracer(t *trace.Tracer) FrameManagerOption {
	return func(m *FrameManager) { m.tracer = t }
}

// WithTimeoutSettings sets the default timeouts of navigations and waits.
func WithTimeoutSettings(ts *TimeoutSettings) FrameManagerOption {
	return func(m *FrameManager) { m.timeoutSettings = ts }
}

// WithPolling sets the default polling of predicate waits.
func WithPolling(p Polling) FrameManagerOption {
	return func(m *FrameManager) { m.polling = p }
}

// WithDetectorFactory sets the factory of navigation detectors.
func WithDetectorFactory(df DetectorFactory) FrameManagerOption {
	return func(m *FrameManager) { m.detectors = df }
}

// WithNetworkTracker sets the tracker navigation responses are looked up in.
func WithNetworkTracker(nt NetworkTracker) FrameManagerOption {
	return func(m *FrameManager) { m.network = nt }
}

// NewFrameManager creates a frame manager subscribed to the events of s.
func NewFrameManager(s Session, opts ...FrameManagerOption) *FrameManager {
	m := &FrameManager{
		BaseEventEmitter: NewBaseEventEmitter(),
		session:          s,
		logger:           log.NewNullLogger(),
		tracer:           trace.NewNoopTracer(),
		timeoutSettings:  NewTimeoutSettings(nil),
		polling:          Polling{Type: PollingRaf},
		frames:           make(map[cdp.FrameID]*Frame),
		contexts:         make(map[runtime.ExecutionContextID]*Frame),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(map[string]any{"sid": s.ID()})
	if m.detectors == nil {
		m.detectors = &lifecycleDetectorFactory{}
	}
	if m.network == nil {
		m.ownedTracker = NewResponseTracker(s, m.logger)
		m.network = m.ownedTracker
	}
	m.unsubscribe = s.Subscribe(m.onProtocolEvent)

	m.logger.Debugf("NewFrameManager", "sid:%v", s.ID())

	return m
}

// Initialize enables the protocol domains the frame manager relies on
// and builds the frame tree the page already has.
func (m *FrameManager) Initialize(ctx context.Context) error {
	exec := cdp.WithExecutor(ctx, m.session)

	if err := page.Enable().Do(exec); err != nil {
		return fmt.Errorf("enabling page domain: %w", err)
	}
	tree, err := page.GetFrameTree().Do(exec)
	if err != nil {
		return fmt.Errorf("getting frame tree: %w", err)
	}
	if err := m.handleFrameTree(tree); err != nil {
		return fmt.Errorf("building frame tree: %w", err)
	}

	if err := page.SetLifecycleEventsEnabled(true).Do(exec); err != nil {
		return fmt.Errorf("enabling lifecycle events: %w", err)
	}
	if err := runtime.Enable().Do(exec); err != nil {
		return fmt.Errorf("enabling runtime domain: %w", err)
	}
	if err := network.Enable().Do(exec); err != nil {
		return fmt.Errorf("enabling network domain: %w", err)
	}

	return nil
}

func (m *FrameManager) handleFrameTree(tree *page.FrameTree) error {
	if tree == nil || tree.Frame == nil {
		return nil
	}
	fr := tree.Frame
	if err := m.frameAttached(fr.ID, fr.ParentID); err != nil {
		return err
	}
	if err := m.frameNavigated(fr.ID, fr.ParentID, fr.URL+fr.URLFragment, fr.Name, fr.LoaderID); err != nil {
		return err
	}
	for _, child := range tree.ChildFrames {
		if err := m.handleFrameTree(child); err != nil {
			return err
		}
	}
	return nil
}

// Dispose unsubscribes the frame manager from the session.
// It is safe to call more than once.
func (m *FrameManager) Dispose() {
	m.disposeOnce.Do(func() {
		m.logger.Debugf("FrameManager:Dispose", "sid:%v", m.session.ID())

		m.unsubscribe()
		if m.ownedTracker != nil {
			m.ownedTracker.Dispose()
		}
	})
}

// Frame returns the frame with the given ID, or nil.
func (m *FrameManager) Frame(id cdp.FrameID) *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.frames[id]
}

// MainFrame returns the main frame, or nil before one is attached.
func (m *FrameManager) MainFrame() *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.mainFrameID == "" {
		return nil
	}
	return m.frames[m.mainFrameID]
}

// Frames returns the frames of the tree in pre-order, main frame first
// and children in attach order. It returns nil before a main frame
// is attached.
func (m *FrameManager) Frames() []*Frame {
	main := m.MainFrame()
	if main == nil {
		return nil
	}

	var (
		frames []*Frame
		walk   func(*Frame)
	)
	walk = func(f *Frame) {
		frames = append(frames, f)
		for _, c := range f.ChildFrames() {
			walk(c)
		}
	}
	walk(main)

	return frames
}

// NetworkTracker returns the tracker navigation responses are looked up in.
func (m *FrameManager) NetworkTracker() NetworkTracker {
	return m.network
}

func (m *FrameManager) onProtocolEvent(ev any) {
	err := m.handleEvent(ev)
	if err == nil {
		return
	}
	m.logger.Errorf("FrameManager:onProtocolEvent", "sid:%v event:%T err:%v", m.session.ID(), ev, err)
	if errors.Is(err, ErrMainFrameReattached) {
		panic(err)
	}
}

func (m *FrameManager) handleEvent(ev any) error {
	switch ev := ev.(type) {
	case *page.EventFrameAttached:
		return m.frameAttached(ev.FrameID, ev.ParentFrameID)
	case *page.EventFrameDetached:
		m.frameDetached(ev.FrameID)
	case *page.EventFrameNavigated:
		fr := ev.Frame
		return m.frameNavigated(fr.ID, fr.ParentID, fr.URL+fr.URLFragment, fr.Name, fr.LoaderID)
	case *page.EventNavigatedWithinDocument:
		m.frameNavigatedWithinDocument(ev.FrameID, ev.URL)
	case *page.EventLifecycleEvent:
		m.frameLifecycleEvent(ev.FrameID, ev.Name)
	case *page.EventFrameStoppedLoading:
		m.frameStoppedLoading(ev.FrameID)
	case *runtime.EventExecutionContextCreated:
		m.executionContextCreated(ev.Context)
	case *runtime.EventExecutionContextDestroyed:
		m.executionContextDestroyed(ev.ExecutionContextID)
	case *runtime.EventExecutionContextsCleared:
		m.executionContextsCleared()
	}
	return nil
}

func (m *FrameManager) frameAttached(id, parentID cdp.FrameID) error {
	m.logger.Debugf("FrameManager:frameAttached", "fid:%s pfid:%s", id, parentID)

	m.mu.Lock()
	if _, ok := m.frames[id]; ok {
		m.mu.Unlock()
		m.logger.Debugf("FrameManager:frameAttached:return", "fid:%s pfid:%s already attached", id, parentID)
		return nil
	}
	var parent *Frame
	if parentID != "" {
		parent = m.frames[parentID]
	}
	if parent == nil && m.mainFrameID != "" {
		mainID := m.mainFrameID
		m.mu.Unlock()
		return fmt.Errorf("attaching frame %s without parent while %s is the main frame: %w",
			id, mainID, ErrMainFrameReattached)
	}
	if parent == nil {
		parentID = ""
	}
	f := newFrame(m, id, parentID, m.logger)
	m.frames[id] = f
	if parent == nil {
		m.mainFrameID = id
	}
	m.mu.Unlock()

	if parent != nil {
		parent.addChild(id)
	}
	m.emit(EventFrameAttached, f)

	return nil
}

func (m *FrameManager) frameDetached(id cdp.FrameID) {
	m.logger.Debugf("FrameManager:frameDetached", "fid:%s", id)

	f := m.Frame(id)
	if f == nil {
		return
	}
	m.removeFramesRecursively(f)
}

// removeFramesRecursively detaches the children of f, then f.
func (m *FrameManager) removeFramesRecursively(f *Frame) {
	for _, c := range f.ChildFrames() {
		m.removeFramesRecursively(c)
	}

	f.detach()

	m.mu.Lock()
	delete(m.frames, f.id)
	if m.mainFrameID == f.id {
		m.mainFrameID = ""
	}
	for id, cf := range m.contexts {
		if cf == f {
			delete(m.contexts, id)
		}
	}
	m.mu.Unlock()

	m.tracer.EndFrame(string(f.id))
	m.emit(EventFrameDetached, f)
}

func (m *FrameManager) frameNavigated(id, parentID cdp.FrameID, url, name string, loaderID cdp.LoaderID) error {
	m.logger.Debugf("FrameManager:frameNavigated", "fid:%s pfid:%s url:%q lid:%s", id, parentID, url, loaderID)

	f := m.Frame(id)
	if f == nil {
		if parentID != "" && m.Frame(parentID) == nil {
			m.logger.Debugf("FrameManager:frameNavigated:return", "fid:%s pfid:%s unknown parent", id, parentID)
			return nil
		}
		if err := m.frameAttached(id, parentID); err != nil {
			return err
		}
		f = m.Frame(id)
	}

	// the children's documents went away with the parent's
	for _, c := range f.ChildFrames() {
		m.removeFramesRecursively(c)
	}
	f.navigated(url, name, loaderID)

	m.tracer.TraceNavigation(string(id), url)
	m.emit(EventFrameNavigated, FrameNavigatedEvent{Frame: f, URL: url, LoaderID: loaderID})

	return nil
}

func (m *FrameManager) frameNavigatedWithinDocument(id cdp.FrameID, url string) {
	m.logger.Debugf("FrameManager:frameNavigatedWithinDocument", "fid:%s url:%q", id, url)

	f := m.Frame(id)
	if f == nil {
		return
	}
	f.navigatedWithinDocument(url)
	m.emit(EventFrameNavigated, FrameNavigatedEvent{Frame: f, URL: url})
}

func (m *FrameManager) frameLifecycleEvent(id cdp.FrameID, name string) {
	m.logger.Debugf("FrameManager:frameLifecycleEvent", "fid:%s event:%s", id, name)

	f := m.Frame(id)
	if f == nil {
		return
	}
	fired := f.onLifecycleEvent(name)
	m.emit(EventFrameLifecycle, FrameLifecycleEvent{Frame: f, Name: strings.ToLower(name)})

	if !fired || f != m.MainFrame() {
		return
	}
	switch name {
	case "load":
		m.emit(EventLoad, f)
	case "DOMContentLoaded":
		m.emit(EventDOMContentLoaded, f)
	}
}

// frameStoppedLoading marks the document as loaded for browsers that
// stop loading without sending every lifecycle event.
func (m *FrameManager) frameStoppedLoading(id cdp.FrameID) {
	m.frameLifecycleEvent(id, "DOMContentLoaded")
	m.frameLifecycleEvent(id, "load")
}

func (m *FrameManager) executionContextCreated(c *runtime.ExecutionContextDescription) {
	if c == nil {
		return
	}
	aux := []byte(c.AuxData)
	fid := cdp.FrameID(gjson.GetBytes(aux, "frameId").String())
	isDefault := gjson.GetBytes(aux, "isDefault").Bool()

	m.logger.Debugf("FrameManager:executionContextCreated",
		"fid:%s ectxid:%d name:%q default:%t", fid, c.ID, c.Name, isDefault)

	f := m.Frame(fid)
	if f == nil || !isDefault {
		return
	}
	m.mu.Lock()
	m.contexts[c.ID] = f
	m.mu.Unlock()

	f.setExecutionContext(newExecutionContext(m.session, c.ID, fid, m.logger))
}

func (m *FrameManager) executionContextDestroyed(id runtime.ExecutionContextID) {
	m.logger.Debugf("FrameManager:executionContextDestroyed", "ectxid:%d", id)

	m.mu.Lock()
	f := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()

	if f != nil {
		f.clearExecutionContext(id)
	}
}

func (m *FrameManager) executionContextsCleared() {
	m.logger.Debugf("FrameManager:executionContextsCleared", "sid:%v", m.session.ID())

	m.mu.Lock()
	frames := make([]*Frame, 0, len(m.contexts))
	for _, f := range m.contexts {
		frames = append(frames, f)
	}
	m.contexts = make(map[runtime.ExecutionContextID]*Frame)
	m.mu.Unlock()

	for _, f := range frames {
		f.clearExecutionContext(0)
	}
}
