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

	"github.com/pkg/errors"

	"github.com/liuxd6825/k6frames/api"
)

// Query returns the first element matching selector in the frame's
// document, or nil.
func (f *Frame) Query(ctx context.Context, selector string) (api.ElementHandle, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting document")
	}
	return doc.Query(ctx, selector)
}

// QueryAll returns all the elements matching selector in the frame's document.
func (f *Frame) QueryAll(ctx context.Context, selector string) ([]api.ElementHandle, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting document")
	}
	return doc.QueryAll(ctx, selector)
}

// EvalOnSelector calls pageFunc with the first element matching selector.
func (f *Frame) EvalOnSelector(ctx context.Context, selector, pageFunc string, args ...any) (any, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting document")
	}
	return doc.EvalOnSelector(ctx, selector, pageFunc, args...)
}

// EvalOnSelectorAll calls pageFunc with all the elements matching selector.
func (f *Frame) EvalOnSelectorAll(ctx context.Context, selector, pageFunc string, args ...any) (any, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting document")
	}
	return doc.EvalOnSelectorAll(ctx, selector, pageFunc, args...)
}

// XPath returns the nodes matching the XPath expression in the frame's document.
func (f *Frame) XPath(ctx context.Context, expression string) ([]api.ElementHandle, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting document")
	}
	return doc.XPath(ctx, expression)
}

const contentJS = `() => {
	let content = '';
	if (document.doctype) {
		content = new XMLSerializer().serializeToString(document.doctype);
	}
	if (document.documentElement) {
		content += document.documentElement.outerHTML;
	}
	return content;
}`

// Content returns the HTML of the frame's document, doctype included.
func (f *Frame) Content(ctx context.Context) (string, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting document")
	}
	v, err := doc.Evaluate(ctx, contentJS)
	if err != nil {
		return "", errors.Wrap(err, "getting frame content")
	}
	s, _ := v.(string)
	return s, nil
}

// SetContent replaces the frame's document with html.
func (f *Frame) SetContent(ctx context.Context, html string) error {
	doc, err := f.document(ctx)
	if err != nil {
		return errors.Wrap(err, "getting document")
	}
	js := `(_, html) => {
		window.stop();
		document.open();
		document.write(html);
		document.close();
	}`
	_, err = doc.Evaluate(ctx, js, html)
	return errors.Wrap(err, "setting frame content")
}

// Title returns the title of the frame's document.
func (f *Frame) Title(ctx context.Context) (string, error) {
	doc, err := f.document(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting document")
	}
	v, err := doc.Evaluate(ctx, `() => document.title`)
	if err != nil {
		return "", errors.Wrap(err, "getting frame title")
	}
	s, _ := v.(string)
	return s, nil
}

// Select selects the options with the given values in the <select>
// element matching selector. Every value must be a string.
func (f *Frame) Select(ctx context.Context, selector string, values ...any) ([]string, error) {
	strs := make([]string, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: value %d is %T", ErrSelectValueType, i, v)
		}
		strs = append(strs, s)
	}

	el, err := f.mustQuery(ctx, selector)
	if err != nil {
		return nil, err
	}
	defer disposeHandle(el)

	return el.SelectOption(ctx, strs)
}

// Click clicks the element matching selector.
func (f *Frame) Click(ctx context.Context, selector string) error {
	return f.withElement(ctx, selector, func(el api.ElementHandle) error {
		return el.Click(ctx)
	})
}

// Focus focuses the element matching selector.
func (f *Frame) Focus(ctx context.Context, selector string) error {
	return f.withElement(ctx, selector, func(el api.ElementHandle) error {
		return el.Focus(ctx)
	})
}

// Hover hovers the element matching selector.
func (f *Frame) Hover(ctx context.Context, selector string) error {
	return f.withElement(ctx, selector, func(el api.ElementHandle) error {
		return el.Hover(ctx)
	})
}

// Type types text into the element matching selector.
func (f *Frame) Type(ctx context.Context, selector, text string) error {
	return f.withElement(ctx, selector, func(el api.ElementHandle) error {
		return el.Type(ctx, text)
	})
}

func (f *Frame) withElement(ctx context.Context, selector string, fn func(api.ElementHandle) error) error {
	el, err := f.mustQuery(ctx, selector)
	if err != nil {
		return err
	}
	defer disposeHandle(el)

	return fn(el)
}

func (f *Frame) mustQuery(ctx context.Context, selector string) (api.ElementHandle, error) {
	el, err := f.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("no node found for selector %q", selector)
	}
	return el, nil
}
