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
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/pkg/errors"

	"github.com/liuxd6825/k6frames/api"
)

// Ensure ElementHandle implements the api.ElementHandle interface
var _ api.ElementHandle = &ElementHandle{}

// ElementHandle represents a handle to an in-page DOM element.
type ElementHandle struct {
	*jsHandle
}

func (h *ElementHandle) AsElement() api.ElementHandle {
	return h
}

func (h *ElementHandle) session() Session {
	return h.ec.session
}

// Evaluate calls pageFunc with the element as its first argument.
func (h *ElementHandle) Evaluate(ctx context.Context, pageFunc string, args ...any) (any, error) {
	return h.ec.Eval(ctx, pageFunc, append([]any{h}, args...)...)
}

func (h *ElementHandle) evaluateHandle(ctx context.Context, pageFunc string, args ...any) (api.JSHandle, error) {
	return h.ec.EvalHandle(ctx, pageFunc, append([]any{h}, args...)...)
}

// elementOrNil disposes handles that do not point to an element.
func elementOrNil(ctx context.Context, jh api.JSHandle) (api.ElementHandle, error) {
	if el := jh.AsElement(); el != nil {
		return el, nil
	}
	return nil, jh.Dispose(ctx)
}

// Query returns the first element matching selector below this element.
func (h *ElementHandle) Query(ctx context.Context, selector string) (api.ElementHandle, error) {
	jh, err := h.evaluateHandle(ctx, `(el, selector) => el.querySelector(selector)`, selector)
	if err != nil {
		return nil, errors.Wrapf(err, "querying selector %q", selector)
	}
	return elementOrNil(ctx, jh)
}

// QueryAll returns all the elements matching selector below this element.
func (h *ElementHandle) QueryAll(ctx context.Context, selector string) ([]api.ElementHandle, error) {
	els, err := h.collect(ctx,
		`(el, selector) => el.querySelectorAll(selector).length`,
		`(el, selector, i) => el.querySelectorAll(selector)[i]`,
		selector)
	return els, errors.Wrapf(err, "querying all selector %q", selector)
}

// XPath returns the elements the XPath expression evaluates to, using
// this element as the context node.
func (h *ElementHandle) XPath(ctx context.Context, expression string) ([]api.ElementHandle, error) {
	els, err := h.collect(ctx,
		`(el, expr) => document.evaluate(expr, el, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`,
		`(el, expr, i) => document.evaluate(expr, el, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotItem(i)`,
		expression)
	return els, errors.Wrapf(err, "evaluating XPath %q", expression)
}

func (h *ElementHandle) collect(ctx context.Context, countFn, itemFn, query string) ([]api.ElementHandle, error) {
	n, err := h.Evaluate(ctx, countFn, query)
	if err != nil {
		return nil, err
	}
	count, _ := n.(float64)

	els := make([]api.ElementHandle, 0, int(count))
	for i := 0; i < int(count); i++ {
		jh, err := h.evaluateHandle(ctx, itemFn, query, int64(i))
		if err != nil {
			return els, err
		}
		el, err := elementOrNil(ctx, jh)
		if err != nil {
			return els, err
		}
		if el != nil {
			els = append(els, el)
		}
	}
	return els, nil
}

// EvalOnSelector calls pageFunc with the first element matching selector.
func (h *ElementHandle) EvalOnSelector(
	ctx context.Context, selector string, pageFunc string, args ...any,
) (any, error) {
	el, err := h.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("failed to find element matching selector %q", selector)
	}
	defer func() { _ = el.Dispose(ctx) }()

	return el.Evaluate(ctx, pageFunc, args...)
}

// EvalOnSelectorAll calls pageFunc with the array of elements matching selector.
func (h *ElementHandle) EvalOnSelectorAll(
	ctx context.Context, selector string, pageFunc string, args ...any,
) (any, error) {
	arr, err := h.evaluateHandle(ctx, `(el, selector) => Array.from(el.querySelectorAll(selector))`, selector)
	if err != nil {
		return nil, errors.Wrapf(err, "querying all selector %q", selector)
	}
	defer func() { _ = arr.Dispose(ctx) }()

	return h.ec.Eval(ctx, pageFunc, append([]any{arr}, args...)...)
}

// Focus focuses the element.
func (h *ElementHandle) Focus(ctx context.Context) error {
	action := dom.Focus().WithObjectID(h.remoteObject.ObjectID)
	if err := action.Do(cdp.WithExecutor(ctx, h.session())); err != nil {
		return errors.Wrap(err, "focusing element")
	}
	return nil
}

// clickablePoint scrolls the element into view and returns the center
// of its content box.
func (h *ElementHandle) clickablePoint(ctx context.Context) (float64, float64, error) {
	if _, err := h.Evaluate(ctx, `el => el.scrollIntoView({block: 'center', inline: 'center'})`); err != nil {
		return 0, 0, errors.Wrap(err, "scrolling element into view")
	}
	box, err := dom.GetBoxModel().
		WithObjectID(h.remoteObject.ObjectID).
		Do(cdp.WithExecutor(ctx, h.session()))
	if err != nil {
		return 0, 0, errors.Wrap(err, "getting element box model")
	}
	q := box.Content
	if len(q) < 8 {
		return 0, 0, errors.New("element has no content box")
	}
	x := (q[0] + q[2] + q[4] + q[6]) / 4
	y := (q[1] + q[3] + q[5] + q[7]) / 4
	return x, y, nil
}

// Hover moves the mouse to the center of the element.
func (h *ElementHandle) Hover(ctx context.Context) error {
	x, y, err := h.clickablePoint(ctx)
	if err != nil {
		return err
	}
	err = input.DispatchMouseEvent(input.MouseMoved, x, y).Do(cdp.WithExecutor(ctx, h.session()))
	return errors.Wrap(err, "hovering element")
}

// Click clicks the center of the element with the left mouse button.
func (h *ElementHandle) Click(ctx context.Context) error {
	x, y, err := h.clickablePoint(ctx)
	if err != nil {
		return err
	}
	for _, typ := range []input.MouseType{input.MouseMoved, input.MousePressed, input.MouseReleased} {
		action := input.DispatchMouseEvent(typ, x, y)
		if typ != input.MouseMoved {
			action = action.WithButton(input.Left).WithClickCount(1)
		}
		if err := action.Do(cdp.WithExecutor(ctx, h.session())); err != nil {
			return errors.Wrap(err, "clicking element")
		}
	}
	return nil
}

// Type focuses the element and sends text to it one character at a time.
func (h *ElementHandle) Type(ctx context.Context, text string) error {
	if err := h.Focus(ctx); err != nil {
		return err
	}
	for _, r := range text {
		action := input.DispatchKeyEvent(input.KeyChar).WithText(string(r))
		if err := action.Do(cdp.WithExecutor(ctx, h.session())); err != nil {
			return errors.Wrapf(err, "typing %q", string(r))
		}
	}
	return nil
}

const selectOptionsJS = `(el, values) => {
	if (el.nodeName.toLowerCase() !== 'select') {
		throw new Error('element is not a <select> element');
	}
	const options = Array.from(el.options);
	el.value = undefined;
	for (const option of options) {
		option.selected = values.includes(option.value);
		if (option.selected && !el.multiple) {
			break;
		}
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return options.filter(option => option.selected).map(option => option.value);
}`

// SelectOption selects the options of a <select> element whose values
// are in values, and returns the values that ended up selected.
func (h *ElementHandle) SelectOption(ctx context.Context, values []string) ([]string, error) {
	res, err := h.Evaluate(ctx, selectOptionsJS, values)
	if err != nil {
		return nil, errors.Wrap(err, "selecting options")
	}
	selected, _ := res.([]any)
	out := make([]string, 0, len(selected))
	for _, s := range selected {
		if v, ok := s.(string); ok {
			out = append(out, v)
		}
	}
	return out, nil
}
