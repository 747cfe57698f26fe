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
	"sync"

	"github.com/chromedp/cdproto/cdp"
)

// Ensure BaseEventEmitter implements the EventEmitter interface
var _ EventEmitter = &BaseEventEmitter{}

const (
	// FrameManager
	EventFrameAttached    string = "frameattached"
	EventFrameDetached    string = "framedetached"
	EventFrameNavigated   string = "framenavigated"
	EventLoad             string = "load"
	EventDOMContentLoaded string = "domcontentloaded"
	EventFrameLifecycle   string = "framelifecycle"
)

// Event as emitted by an EventEmitter.
type Event struct {
	Type string
	Data any
}

// FrameNavigatedEvent is the data of an EventFrameNavigated event.
type FrameNavigatedEvent struct {
	Frame *Frame
	URL   string
	// LoaderID is empty for same-document navigations.
	LoaderID cdp.LoaderID
}

// SameDocument reports whether no new document was created.
func (e FrameNavigatedEvent) SameDocument() bool {
	return e.LoaderID == ""
}

// FrameLifecycleEvent is the data of an EventFrameLifecycle event.
type FrameLifecycleEvent struct {
	Frame *Frame
	// Name is the lowercased lifecycle event name, as sent by the browser.
	Name string
}

type eventHandler struct {
	id uint64
	fn func(Event)
}

// EventEmitter that all event emitters need to implement.
type EventEmitter interface {
	emit(event string, data any)
	On(events []string, fn func(Event)) (off func())
}

// BaseEventEmitter delivers events synchronously, in emission order,
// to the handlers registered when the event is emitted.
type BaseEventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]eventHandler
	nextID   uint64
}

// NewBaseEventEmitter creates a new instance of a base event emitter.
func NewBaseEventEmitter() *BaseEventEmitter {
	return &BaseEventEmitter{
		handlers: make(map[string][]eventHandler),
	}
}

// On registers fn for events. Calling the returned func removes the
// registration; it is safe to call more than once, also from fn.
func (e *BaseEventEmitter) On(events []string, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = make(map[string][]eventHandler)
	}
	e.nextID++
	id := e.nextID
	for _, ev := range events {
		e.handlers[ev] = append(e.handlers[ev], eventHandler{id: id, fn: fn})
	}

	var once sync.Once
	return func() {
		once.Do(func() { e.off(events, id) })
	}
}

func (e *BaseEventEmitter) off(events []string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range events {
		hs := e.handlers[ev]
		for i, h := range hs {
			if h.id != id {
				continue
			}
			// copy so that an emit iterating over the old slice is unaffected
			nhs := make([]eventHandler, 0, len(hs)-1)
			nhs = append(nhs, hs[:i]...)
			nhs = append(nhs, hs[i+1:]...)
			e.handlers[ev] = nhs
			break
		}
		if len(e.handlers[ev]) == 0 {
			delete(e.handlers, ev)
		}
	}
}

func (e *BaseEventEmitter) handlerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[event])
}

func (e *BaseEventEmitter) emit(event string, data any) {
	e.mu.RLock()
	hs := e.handlers[event]
	e.mu.RUnlock()

	ev := Event{Type: event, Data: data}
	for _, h := range hs {
		h.fn(ev)
	}
}
