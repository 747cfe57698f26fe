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
	"time"

	"github.com/chromedp/cdproto/page"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/trace"
)

// Goto navigates the frame to url and waits for the navigation to
// reach opts.WaitUntil. A navigation that stays within the document
// returns a nil response right away.
func (f *Frame) Goto(ctx context.Context, url string, opts *FrameGotoOptions) (_ api.Response, err error) {
	if opts == nil {
		opts = NewFrameGotoOptions("", f.manager.timeoutSettings.navigationTimeout())
	}
	f.logger.Debugf("Frame:Goto", "fid:%s furl:%q url:%q timeout:%s", f.id, f.URL(), url, opts.Timeout)

	ctx, span := f.tracer().TraceAPICall(ctx, string(f.id), "frame.goto")
	defer func() { trace.End(span, err) }()

	what := fmt.Sprintf("navigating frame to %q", url)
	tctx, cancel := withNavigationTimeout(ctx, opts.Timeout)
	defer cancel()

	params := page.Navigate(url).WithFrameID(f.id)
	if opts.Referer != "" {
		params = params.WithReferrer(opts.Referer)
	}
	var res page.NavigateReturns
	if err := f.Session().Execute(tctx, page.CommandNavigate, params, &res); err != nil {
		return nil, navigationError(ctx, tctx, opts.Timeout, what, err)
	}
	if res.ErrorText != "" {
		return nil, fmt.Errorf("%s: %s", what, res.ErrorText)
	}
	if res.LoaderID == "" {
		f.logger.Debugf("Frame:Goto:return", "fid:%s url:%q same document", f.id, url)
		return nil, nil
	}

	watchdog := f.manager.detectors.NewLifecycleWatchdog(f, res.LoaderID, url, opts.WaitUntil)
	outcome, err := awaitNavigation(ctx, tctx, watchdog, opts.Timeout, what)
	if err != nil {
		return nil, err
	}
	return outcome.Response, nil
}

// WaitForNavigation waits for the next navigation of the frame to reach
// opts.WaitUntil. A navigation that stays within the document returns
// a nil response right away.
func (f *Frame) WaitForNavigation(
	ctx context.Context, opts *FrameWaitForNavigationOptions,
) (_ api.Response, err error) {
	if opts == nil {
		opts = NewFrameWaitForNavigationOptions(f.manager.timeoutSettings.navigationTimeout())
	}
	f.logger.Debugf("Frame:WaitForNavigation", "fid:%s furl:%q timeout:%s", f.id, f.URL(), opts.Timeout)

	ctx, span := f.tracer().TraceAPICall(ctx, string(f.id), "frame.waitForNavigation")
	defer func() { trace.End(span, err) }()

	what := "waiting for navigation"
	tctx, cancel := withNavigationTimeout(ctx, opts.Timeout)
	defer cancel()

	nav, err := awaitNavigation(ctx, tctx, f.manager.detectors.NewNavigationDetector(f), opts.Timeout, what)
	if err != nil {
		return nil, err
	}
	if nav.LoaderID == "" {
		return nil, nil
	}

	what = fmt.Sprintf("waiting for navigation to %q", nav.URL)
	watchdog := f.manager.detectors.NewLifecycleWatchdog(f, nav.LoaderID, nav.URL, opts.WaitUntil)
	outcome, err := awaitNavigation(ctx, tctx, watchdog, opts.Timeout, what)
	if err != nil {
		return nil, err
	}
	return outcome.Response, nil
}

// withNavigationTimeout returns a context done when timeout elapses.
// A zero timeout never elapses.
func withNavigationTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// awaitNavigation races the navigation timeout against d, and disposes d.
func awaitNavigation(
	ctx, tctx context.Context, d NavigationDetector, timeout time.Duration, what string,
) (NavigationOutcome, error) {
	defer d.Dispose()

	select {
	case <-d.Done():
		return d.Outcome()
	case <-tctx.Done():
		return NavigationOutcome{}, navigationError(ctx, tctx, timeout, what, tctx.Err())
	}
}

// navigationError turns the expiry of the navigation timeout into a
// TimeoutError.
func navigationError(ctx, tctx context.Context, timeout time.Duration, what string, err error) error {
	if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout, What: what}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", what, err)
}
