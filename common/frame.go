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
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/log"
	"github.com/liuxd6825/k6frames/trace"
)

type documentState int

const (
	documentAbsent documentState = iota
	documentPending
	documentPresent
)

// Frame is a node of the frame tree of a page.
//
// Frames refer to their parent and children by ID; the frame manager
// owns the index that resolves them.
type Frame struct {
	manager *FrameManager
	id      cdp.FrameID
	logger  *log.Logger

	mu              sync.RWMutex
	parentID        cdp.FrameID
	childIDs        []cdp.FrameID
	url             string
	name            string
	loaderID        cdp.LoaderID
	lifecycleEvents map[string]bool
	detached        bool

	execMu       sync.Mutex
	execCtx      ExecutionContext
	execCtxReady chan struct{}

	docMu    sync.Mutex
	docState documentState
	docReady chan struct{}
	doc      api.ElementHandle
	// docGen invalidates document resolutions started before a commit.
	docGen uint64

	waitTasksMu sync.Mutex
	waitTasks   map[*WaitTask]struct{}
}

func newFrame(m *FrameManager, id, parentID cdp.FrameID, l *log.Logger) *Frame {
	l.Debugf("NewFrame", "fid:%s pfid:%s", id, parentID)

	return &Frame{
		manager:         m,
		id:              id,
		parentID:        parentID,
		logger:          l,
		lifecycleEvents: make(map[string]bool),
		execCtxReady:    make(chan struct{}),
		waitTasks:       make(map[*WaitTask]struct{}),
	}
}

// ID returns the frame ID.
func (f *Frame) ID() cdp.FrameID {
	return f.id
}

// URL returns the URL of the frame's current document.
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.url
}

// Name returns the name attribute of the frame element.
func (f *Frame) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.name
}

// NavigationID returns the loader ID of the last committed navigation.
func (f *Frame) NavigationID() cdp.LoaderID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.loaderID
}

// IsDetached tells if the frame was removed from the tree.
func (f *Frame) IsDetached() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.detached
}

// Manager returns the frame manager owning the frame.
func (f *Frame) Manager() *FrameManager {
	return f.manager
}

// Session returns the CDP session the frame belongs to.
func (f *Frame) Session() Session {
	return f.manager.session
}

func (f *Frame) tracer() *trace.Tracer {
	return f.manager.tracer
}

// ParentFrame returns the parent frame, or nil for the main frame and
// for detached frames.
func (f *Frame) ParentFrame() *Frame {
	f.mu.RLock()
	pid := f.parentID
	f.mu.RUnlock()

	if pid == "" {
		return nil
	}
	return f.manager.Frame(pid)
}

// ChildFrames returns the child frames in attach order.
func (f *Frame) ChildFrames() []*Frame {
	ids := f.childFrameIDs()

	children := make([]*Frame, 0, len(ids))
	for _, id := range ids {
		if c := f.manager.Frame(id); c != nil {
			children = append(children, c)
		}
	}
	return children
}

func (f *Frame) childFrameIDs() []cdp.FrameID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]cdp.FrameID(nil), f.childIDs...)
}

func (f *Frame) addChild(id cdp.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.childIDs = append(f.childIDs, id)
}

func (f *Frame) removeChild(id cdp.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, cid := range f.childIDs {
		if cid == id {
			f.childIDs = append(f.childIDs[:i:i], f.childIDs[i+1:]...)
			return
		}
	}
}

// HasLifecycleEventFired tells if the lifecycle event fired for the
// current document.
func (f *Frame) HasLifecycleEventFired(event LifecycleEvent) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.lifecycleEvents[event.String()]
}

func (f *Frame) firedLifecycleEvents() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	fired := make(map[string]bool, len(f.lifecycleEvents))
	for k, v := range f.lifecycleEvents {
		fired[k] = v
	}
	return fired
}

// onLifecycleEvent records a fired lifecycle event and tells if it had
// not fired yet for the current document.
func (f *Frame) onLifecycleEvent(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = strings.ToLower(name)
	if f.lifecycleEvents[name] {
		return false
	}
	f.lifecycleEvents[name] = true
	return true
}

// navigated commits a navigation to a new document.
func (f *Frame) navigated(url, name string, loaderID cdp.LoaderID) {
	f.logger.Debugf("Frame:navigated", "fid:%s furl:%q lid:%s", f.id, url, loaderID)

	f.mu.Lock()
	f.url = url
	f.name = name
	f.loaderID = loaderID
	f.lifecycleEvents = make(map[string]bool)
	f.mu.Unlock()

	f.invalidateDocument()
}

func (f *Frame) navigatedWithinDocument(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.url = url
}

// detach unlinks the frame from its parent and terminates its wait tasks.
// Only the frame manager calls it, once per frame.
func (f *Frame) detach() {
	f.logger.Debugf("Frame:detach", "fid:%s furl:%q", f.id, f.URL())

	parent := f.ParentFrame()

	f.mu.Lock()
	f.detached = true
	f.parentID = ""
	f.mu.Unlock()

	if parent != nil {
		parent.removeChild(f.id)
	}

	f.waitTasksMu.Lock()
	tasks := make([]*WaitTask, 0, len(f.waitTasks))
	for t := range f.waitTasks {
		tasks = append(tasks, t)
	}
	f.waitTasksMu.Unlock()

	for _, t := range tasks {
		t.terminate(ErrFrameDetached)
	}
}

// addWaitTask registers t unless the frame is detached.
func (f *Frame) addWaitTask(t *WaitTask) bool {
	if f.IsDetached() {
		return false
	}
	f.waitTasksMu.Lock()
	defer f.waitTasksMu.Unlock()

	f.waitTasks[t] = struct{}{}
	return true
}

func (f *Frame) removeWaitTask(t *WaitTask) {
	f.waitTasksMu.Lock()
	defer f.waitTasksMu.Unlock()

	delete(f.waitTasks, t)
}

func (f *Frame) waitTaskCount() int {
	f.waitTasksMu.Lock()
	defer f.waitTasksMu.Unlock()

	return len(f.waitTasks)
}

// setExecutionContext sets the default execution context of the frame
// and wakes up the callers waiting for one.
func (f *Frame) setExecutionContext(ec ExecutionContext) {
	f.execMu.Lock()
	defer f.execMu.Unlock()

	if f.execCtx == nil {
		close(f.execCtxReady)
	}
	f.execCtx = ec
}

// clearExecutionContext forgets the default execution context if its
// ID is id, or whatever the context is if id is zero.
func (f *Frame) clearExecutionContext(id runtime.ExecutionContextID) {
	f.execMu.Lock()
	defer f.execMu.Unlock()

	if f.execCtx == nil || (id != 0 && f.execCtx.ID() != id) {
		return
	}
	f.execCtx = nil
	f.execCtxReady = make(chan struct{})
}

// executionContext returns the default execution context, waiting for
// one to be created if there is none.
func (f *Frame) executionContext(ctx context.Context) (ExecutionContext, error) {
	for {
		f.execMu.Lock()
		ec, ready := f.execCtx, f.execCtxReady
		f.execMu.Unlock()

		if ec != nil {
			return ec, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *Frame) invalidateDocument() {
	f.docMu.Lock()
	defer f.docMu.Unlock()

	f.docGen++
	f.docState = documentAbsent
	f.doc = nil
}

// document returns the handle of the current document, resolving it
// once per navigation.
func (f *Frame) document(ctx context.Context) (api.ElementHandle, error) {
	for {
		f.docMu.Lock()
		switch f.docState {
		case documentPresent:
			doc := f.doc
			f.docMu.Unlock()
			return doc, nil
		case documentPending:
			ready := f.docReady
			f.docMu.Unlock()
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		f.docState = documentPending
		ready := make(chan struct{})
		f.docReady = ready
		gen := f.docGen
		f.docMu.Unlock()

		doc, err := f.resolveDocument(ctx)

		f.docMu.Lock()
		if gen == f.docGen {
			if err != nil {
				f.docState = documentAbsent
			} else {
				f.docState = documentPresent
				f.doc = doc
			}
		}
		close(ready)
		f.docMu.Unlock()

		return doc, err
	}
}

func (f *Frame) resolveDocument(ctx context.Context) (api.ElementHandle, error) {
	ec, err := f.executionContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := ec.EvalHandle(ctx, `() => document`)
	if err != nil {
		return nil, err
	}
	doc := h.AsElement()
	if doc == nil {
		disposeHandle(h)
		return nil, ErrNotAnElement
	}
	return doc, nil
}
