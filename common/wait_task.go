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
	_ "embed"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/trace"
)

//go:embed js/wait_for_predicate.js
var waitForPredicateJS string

// WaitTask polls a predicate in the execution context of a frame until
// the predicate returns a truthy value, the task times out or the task
// is terminated.
type WaitTask struct {
	frame         *Frame
	title         string
	predicateBody string
	polling       Polling
	timeout       time.Duration
	args          []any

	// ctx is cancelled once the task settles, aborting the attempt in flight.
	ctx    context.Context
	cancel context.CancelFunc
	span   oteltrace.Span

	runCount atomic.Int64

	mu         sync.Mutex
	timer      *time.Timer
	terminated bool
	settled    bool
	result     api.JSHandle
	err        error
	done       chan struct{}
}

// newWaitTask registers a wait task with frame and starts its first attempt.
// A zero timeout waits until the task is terminated.
func newWaitTask(
	ctx context.Context, frame *Frame, title, predicateBody string,
	polling Polling, timeout time.Duration, args ...any,
) (*WaitTask, error) {
	if err := polling.Validate(); err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &WaitTask{
		frame:         frame,
		title:         title,
		predicateBody: predicateBody,
		polling:       polling,
		timeout:       timeout,
		args:          args,
		ctx:           tctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	_, t.span = frame.tracer().TraceAPICall(ctx, string(frame.ID()), "frame.waitTask")

	frame.logger.Debugf("WaitTask:new", "fid:%v title:%q polling:%s timeout:%s",
		frame.ID(), title, polling, timeout)

	if !frame.addWaitTask(t) {
		t.terminate(ErrFrameDetached)
		return t, nil
	}
	if timeout > 0 {
		t.mu.Lock()
		if !t.settled {
			t.timer = time.AfterFunc(timeout, func() {
				t.terminate(&TimeoutError{Timeout: timeout, What: t.title + " failed"})
			})
		}
		t.mu.Unlock()
	}
	t.rerun()

	return t, nil
}

// Done is closed once the task settles.
func (t *WaitTask) Done() <-chan struct{} {
	return t.done
}

// Result waits for the task to settle and returns the handle to the
// truthy value the predicate returned.
func (t *WaitTask) Result(ctx context.Context) (api.JSHandle, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WaitTask) rerun() {
	runCount := t.runCount.Add(1)
	go t.attempt(runCount)
}

func (t *WaitTask) attempt(runCount int64) {
	h, err := t.evaluate()

	if t.isTerminated() || runCount != t.runCount.Load() {
		disposeHandle(h)
		return
	}

	switch {
	case err != nil && isContextDestroyed(err):
		t.frame.logger.Debugf("WaitTask:attempt", "fid:%v run:%d context destroyed, rerunning",
			t.frame.ID(), runCount)
		t.rerun()
	case err != nil:
		t.settle(nil, err)
	case !handleIsTruthy(h):
		// the remote poll gave up on its own; the timer settles the task
		disposeHandle(h)
	default:
		t.settle(h, nil)
	}
}

func (t *WaitTask) evaluate() (api.JSHandle, error) {
	ec, err := t.frame.executionContext(t.ctx)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(t.args)+3)
	args = append(args, t.predicateBody, t.polling.scriptArg(), t.timeout.Milliseconds())
	args = append(args, t.args...)

	return ec.EvalHandle(t.ctx, waitForPredicateJS, args...)
}

// terminate rejects the task with err unless it already settled.
func (t *WaitTask) terminate(err error) {
	t.mu.Lock()
	t.terminated = true
	t.mu.Unlock()

	t.settle(nil, err)
}

func (t *WaitTask) isTerminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.terminated || t.settled
}

func (t *WaitTask) settle(h api.JSHandle, err error) {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		disposeHandle(h)
		return
	}
	t.settled = true
	t.result, t.err = h, err
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.cancel()
	t.frame.removeWaitTask(t)
	trace.End(t.span, err)

	if err != nil {
		t.frame.logger.Debugf("WaitTask:settle", "fid:%v title:%q err:%v", t.frame.ID(), t.title, err)
	}
	close(t.done)
}

func (t *WaitTask) hasPendingTimer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timer != nil
}

func handleIsTruthy(h api.JSHandle) bool {
	if h == nil {
		return false
	}
	if rh, ok := h.(remoteObjectHandle); ok {
		return isTruthy(rh.RemoteObject())
	}
	return true
}

func disposeHandle(h api.JSHandle) {
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = h.Dispose(ctx)
}
