package common

import (
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/log"
)

// NetworkTracker looks up the document responses of navigations.
type NetworkTracker interface {
	// Response returns the document response of the navigation
	// identified by loaderID, or nil if none was received.
	Response(loaderID cdp.LoaderID) api.Response
}

// Ensure ResponseTracker implements the NetworkTracker interface
var _ NetworkTracker = &ResponseTracker{}

// ResponseTracker records the document responses a session receives.
// Only the latest navigation of each frame is kept.
type ResponseTracker struct {
	logger *log.Logger

	mu        sync.RWMutex
	responses map[cdp.LoaderID]*Response
	latest    map[cdp.FrameID]cdp.LoaderID

	off func()
}

// NewResponseTracker creates a tracker subscribed to the events of s.
func NewResponseTracker(s Session, l *log.Logger) *ResponseTracker {
	t := &ResponseTracker{
		logger:    l,
		responses: make(map[cdp.LoaderID]*Response),
		latest:    make(map[cdp.FrameID]cdp.LoaderID),
	}
	t.off = s.Subscribe(t.onEvent)

	return t
}

// Response implements NetworkTracker.
func (t *ResponseTracker) Response(loaderID cdp.LoaderID) api.Response {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.responses[loaderID]; ok {
		return r
	}
	// avoid a typed nil
	return nil
}

// Dispose unsubscribes the tracker from the session.
func (t *ResponseTracker) Dispose() {
	t.off()
}

func (t *ResponseTracker) onEvent(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}

	t.logger.Debugf("ResponseTracker:onResponseReceived",
		"fid:%s lid:%s rid:%s url:%q status:%d",
		e.FrameID, e.LoaderID, e.RequestID, e.Response.URL, e.Response.Status)

	r := newResponse(e)

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.latest[e.FrameID]; ok && prev != e.LoaderID {
		delete(t.responses, prev)
	}
	t.latest[e.FrameID] = e.LoaderID
	t.responses[e.LoaderID] = r
}

// Ensure Response implements the api.Response interface
var _ api.Response = &Response{}

// Response is the document response of a navigation.
type Response struct {
	frameID    cdp.FrameID
	url        string
	status     int64
	statusText string
	mimeType   string
	headers    map[string]string
}

func newResponse(e *network.EventResponseReceived) *Response {
	headers := make(map[string]string, len(e.Response.Headers))
	for k, v := range e.Response.Headers {
		headers[k] = fmt.Sprint(v)
	}
	return &Response{
		frameID:    e.FrameID,
		url:        e.Response.URL,
		status:     e.Response.Status,
		statusText: e.Response.StatusText,
		mimeType:   e.Response.MimeType,
		headers:    headers,
	}
}

func (r *Response) FrameID() string            { return string(r.frameID) }
func (r *Response) Headers() map[string]string { return r.headers }
func (r *Response) MimeType() string           { return r.mimeType }
func (r *Response) Ok() bool                   { return r.status == 0 || (r.status >= 200 && r.status <= 299) }
func (r *Response) Status() int64              { return r.status }
func (r *Response) StatusText() string         { return r.statusText }
func (r *Response) URL() string                { return r.url }
