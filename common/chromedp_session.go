package common

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/mailru/easyjson"

	"github.com/liuxd6825/k6frames/log"
)

// Ensure ChromedpSession implements the Session interface
var _ Session = &ChromedpSession{}

type subscriber struct {
	id uint64
	fn func(ev any)
}

// ChromedpSession adapts the target of a chromedp context to a Session.
type ChromedpSession struct {
	target *chromedp.Target
	logger *log.Logger

	mu          sync.RWMutex
	subscribers []subscriber
	nextID      uint64

	cancel context.CancelFunc
}

// NewChromedpSession returns a session for the target chromedp has
// attached to ctx. The target must already be allocated, which is the
// case once chromedp.Run has been called on ctx.
func NewChromedpSession(ctx context.Context, logger *log.Logger) (*ChromedpSession, error) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return nil, errors.New("context has no chromedp target")
	}

	lctx, cancel := context.WithCancel(ctx)
	s := &ChromedpSession{
		target: c.Target,
		logger: logger,
		cancel: cancel,
	}
	chromedp.ListenTarget(lctx, s.dispatch)

	logger.Debugf("ChromedpSession:New", "sid:%v tid:%v", s.ID(), c.Target.TargetID)

	return s, nil
}

// Execute implements cdp.Executor.
func (s *ChromedpSession) Execute(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	s.logger.Tracef("ChromedpSession:Execute", "sid:%v method:%q", s.ID(), method)
	return s.target.Execute(ctx, method, params, res)
}

// ID returns the CDP session ID.
func (s *ChromedpSession) ID() target.SessionID {
	return s.target.SessionID
}

// Subscribe registers fn for every event of the target.
func (s *ChromedpSession) Subscribe(fn func(ev any)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		subs := make([]subscriber, 0, len(s.subscribers))
		for _, sub := range s.subscribers {
			if sub.id != id {
				subs = append(subs, sub)
			}
		}
		s.subscribers = subs
	}
}

// Close stops listening to the target.
func (s *ChromedpSession) Close() {
	s.cancel()
}

func (s *ChromedpSession) dispatch(ev any) {
	s.mu.RLock()
	subs := s.subscribers
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
