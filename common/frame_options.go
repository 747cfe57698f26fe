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
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/liuxd6825/k6frames/lib/types"
)

// FrameGotoOptions are the options of Frame.Goto.
type FrameGotoOptions struct {
	Referer   string
	Timeout   time.Duration
	WaitUntil []LifecycleEvent
}

// FrameWaitForNavigationOptions are the options of Frame.WaitForNavigation.
type FrameWaitForNavigationOptions struct {
	Timeout   time.Duration
	WaitUntil []LifecycleEvent
}

// FrameWaitForFunctionOptions are the options of Frame.WaitForFunction.
type FrameWaitForFunctionOptions struct {
	Polling Polling
	Timeout time.Duration
}

// FrameWaitForSelectorOptions are the options of Frame.WaitForSelector
// and Frame.WaitForXPath.
type FrameWaitForSelectorOptions struct {
	Visible bool
	Hidden  bool
	Timeout time.Duration
}

// NewFrameGotoOptions returns the default goto options.
func NewFrameGotoOptions(defaultReferer string, defaultTimeout time.Duration) *FrameGotoOptions {
	return &FrameGotoOptions{
		Referer:   defaultReferer,
		Timeout:   defaultTimeout,
		WaitUntil: []LifecycleEvent{LifecycleEventLoad},
	}
}

// NewFrameWaitForNavigationOptions returns the default waitForNavigation options.
func NewFrameWaitForNavigationOptions(defaultTimeout time.Duration) *FrameWaitForNavigationOptions {
	return &FrameWaitForNavigationOptions{
		Timeout:   defaultTimeout,
		WaitUntil: []LifecycleEvent{LifecycleEventLoad},
	}
}

// NewFrameWaitForFunctionOptions returns the default waitForFunction options.
func NewFrameWaitForFunctionOptions(defaultPolling Polling, defaultTimeout time.Duration) *FrameWaitForFunctionOptions {
	return &FrameWaitForFunctionOptions{
		Polling: defaultPolling,
		Timeout: defaultTimeout,
	}
}

// NewFrameWaitForSelectorOptions returns the default waitForSelector options.
func NewFrameWaitForSelectorOptions(defaultTimeout time.Duration) *FrameWaitForSelectorOptions {
	return &FrameWaitForSelectorOptions{
		Timeout: defaultTimeout,
	}
}

func isEmptyValue(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func parseTimeout(v goja.Value) (time.Duration, error) {
	d, err := types.GetDurationValue(v.Export())
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTimeout, d)
	}
	return d, nil
}

// Parse parses goto options from a JS object.
func (o *FrameGotoOptions) Parse(rt *goja.Runtime, opts goja.Value) error {
	if isEmptyValue(opts) {
		return nil
	}
	obj := opts.ToObject(rt)
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if isEmptyValue(v) {
			continue
		}
		var err error
		switch k {
		case "referer":
			o.Referer = v.String()
		case "timeout":
			o.Timeout, err = parseTimeout(v)
		case "waitUntil":
			o.WaitUntil, err = NormalizeWaitUntil(v.Export())
		}
		if err != nil {
			return fmt.Errorf("parsing goto options: %w", err)
		}
	}
	return nil
}

// Parse parses waitForNavigation options from a JS object.
func (o *FrameWaitForNavigationOptions) Parse(rt *goja.Runtime, opts goja.Value) error {
	if isEmptyValue(opts) {
		return nil
	}
	obj := opts.ToObject(rt)
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if isEmptyValue(v) {
			continue
		}
		var err error
		switch k {
		case "timeout":
			o.Timeout, err = parseTimeout(v)
		case "waitUntil":
			o.WaitUntil, err = NormalizeWaitUntil(v.Export())
		}
		if err != nil {
			return fmt.Errorf("parsing waitForNavigation options: %w", err)
		}
	}
	return nil
}

// Parse parses waitForFunction options from a JS object.
func (o *FrameWaitForFunctionOptions) Parse(rt *goja.Runtime, opts goja.Value) error {
	if isEmptyValue(opts) {
		return nil
	}
	obj := opts.ToObject(rt)
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if isEmptyValue(v) {
			continue
		}
		var err error
		switch k {
		case "timeout":
			o.Timeout, err = parseTimeout(v)
		case "polling":
			o.Polling, err = ParsePolling(v.Export())
		}
		if err != nil {
			return fmt.Errorf("parsing waitForFunction options: %w", err)
		}
	}
	return nil
}

// Parse parses waitForSelector options from a JS object.
func (o *FrameWaitForSelectorOptions) Parse(rt *goja.Runtime, opts goja.Value) error {
	if isEmptyValue(opts) {
		return nil
	}
	obj := opts.ToObject(rt)
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if isEmptyValue(v) {
			continue
		}
		var err error
		switch k {
		case "visible":
			o.Visible = v.ToBoolean()
		case "hidden":
			o.Hidden = v.ToBoolean()
		case "timeout":
			o.Timeout, err = parseTimeout(v)
		}
		if err != nil {
			return fmt.Errorf("parsing waitForSelector options: %w", err)
		}
	}
	if o.Visible && o.Hidden {
		return fmt.Errorf("parsing waitForSelector options: %w", ErrWaitForVisibleAndHidden)
	}
	return nil
}

// FrameWaitForOptions are the options of Frame.WaitFor. Which of them
// apply depends on the wait target.
type FrameWaitForOptions struct {
	Visible bool
	Hidden  bool
	Polling Polling
	Timeout time.Duration
}

// NewFrameWaitForOptions returns the default waitFor options.
func NewFrameWaitForOptions(defaultPolling Polling, defaultTimeout time.Duration) *FrameWaitForOptions {
	return &FrameWaitForOptions{
		Polling: defaultPolling,
		Timeout: defaultTimeout,
	}
}

// Parse parses waitFor options from a JS object.
func (o *FrameWaitForOptions) Parse(rt *goja.Runtime, opts goja.Value) error {
	sopts := o.selectorOptions()
	if err := sopts.Parse(rt, opts); err != nil {
		return err
	}
	fopts := o.functionOptions()
	if err := fopts.Parse(rt, opts); err != nil {
		return err
	}
	o.Visible, o.Hidden = sopts.Visible, sopts.Hidden
	o.Polling, o.Timeout = fopts.Polling, fopts.Timeout
	return nil
}

func (o *FrameWaitForOptions) selectorOptions() *FrameWaitForSelectorOptions {
	return &FrameWaitForSelectorOptions{Visible: o.Visible, Hidden: o.Hidden, Timeout: o.Timeout}
}

func (o *FrameWaitForOptions) functionOptions() *FrameWaitForFunctionOptions {
	return &FrameWaitForFunctionOptions{Polling: o.Polling, Timeout: o.Timeout}
}
