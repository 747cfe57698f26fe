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
	"time"

	"github.com/liuxd6825/k6frames/api"
)

//go:embed js/selector_predicate.js
var selectorPredicateJS string

// predicateBody turns the source of a function into the body of a
// predicate calling it with the wait arguments.
func predicateBody(fn PageFunction) string {
	return "return (" + string(fn) + ")(...args)"
}

func (f *Frame) defaultTimeout() time.Duration {
	return f.manager.timeoutSettings.timeout()
}

// WaitFor waits for target: a selector or an XPath expression to match,
// a delay to pass or a predicate to return a truthy value.
func (f *Frame) WaitFor(
	ctx context.Context, target WaitTarget, opts *FrameWaitForOptions, args ...any,
) (api.JSHandle, error) {
	if opts == nil {
		opts = NewFrameWaitForOptions(f.manager.polling, f.defaultTimeout())
	}

	switch target.kind {
	case WaitTargetXPath:
		return asJSHandle(f.WaitForXPath(ctx, target.selector, opts.selectorOptions()))
	case WaitTargetSelector:
		return asJSHandle(f.WaitForSelector(ctx, target.selector, opts.selectorOptions()))
	case WaitTargetDelay:
		return nil, f.WaitForTimeout(ctx, target.delay)
	case WaitTargetPredicate:
		return f.WaitForFunction(ctx, target.predicate, opts.functionOptions(), args...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedWaitTarget, target.kind)
	}
}

func asJSHandle(el api.ElementHandle, err error) (api.JSHandle, error) {
	if el == nil {
		return nil, err
	}
	return el, err
}

// WaitForFunction waits for fn to return a truthy value when called
// with args in the page, and returns a handle to the value.
func (f *Frame) WaitForFunction(
	ctx context.Context, fn PageFunction, opts *FrameWaitForFunctionOptions, args ...any,
) (api.JSHandle, error) {
	if opts == nil {
		opts = NewFrameWaitForFunctionOptions(f.manager.polling, f.defaultTimeout())
	}
	t, err := newWaitTask(ctx, f, "waiting for function", predicateBody(fn), opts.Polling, opts.Timeout, args...)
	if err != nil {
		return nil, err
	}
	return awaitWaitTask(ctx, t)
}

// WaitForSelector waits for an element matching selector, or for it to
// become visible or hidden.
func (f *Frame) WaitForSelector(
	ctx context.Context, selector string, opts *FrameWaitForSelectorOptions,
) (api.ElementHandle, error) {
	return f.waitForSelectorOrXPath(ctx, selector, false, opts)
}

// WaitForXPath waits for a node matching the XPath expression, or for
// it to become visible or hidden.
func (f *Frame) WaitForXPath(
	ctx context.Context, expression string, opts *FrameWaitForSelectorOptions,
) (api.ElementHandle, error) {
	return f.waitForSelectorOrXPath(ctx, expression, true, opts)
}

func (f *Frame) waitForSelectorOrXPath(
	ctx context.Context, selectorOrXPath string, isXPath bool, opts *FrameWaitForSelectorOptions,
) (api.ElementHandle, error) {
	if opts == nil {
		opts = NewFrameWaitForSelectorOptions(f.defaultTimeout())
	}
	if opts.Visible && opts.Hidden {
		return nil, ErrWaitForVisibleAndHidden
	}

	polling := Polling{Type: PollingMutation}
	if opts.Visible || opts.Hidden {
		polling = Polling{Type: PollingRaf}
	}
	what := "selector"
	if isXPath {
		what = "XPath"
	}
	title := fmt.Sprintf("waiting for %s %q", what, selectorOrXPath)
	switch {
	case opts.Visible:
		title += " to be visible"
	case opts.Hidden:
		title += " to be hidden"
	}

	t, err := newWaitTask(ctx, f, title, predicateBody(PageFunction(selectorPredicateJS)),
		polling, opts.Timeout, selectorOrXPath, isXPath, opts.Visible, opts.Hidden)
	if err != nil {
		return nil, err
	}
	h, err := awaitWaitTask(ctx, t)
	if h == nil || err != nil {
		return nil, err
	}
	el := h.AsElement()
	if el == nil {
		disposeHandle(h)
		return nil, nil
	}
	return el, nil
}

// WaitForTimeout waits for d to pass.
func (f *Frame) WaitForTimeout(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitWaitTask waits for t to settle. The task is terminated if ctx is
// done first.
func awaitWaitTask(ctx context.Context, t *WaitTask) (api.JSHandle, error) {
	h, err := t.Result(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		t.terminate(ctxErr)
		<-t.Done()
	}
	return h, err
}
