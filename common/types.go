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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/liuxd6825/k6frames/lib/types"
)

// LifecycleEvent is a document milestone a navigation can wait for.
type LifecycleEvent int

const (
	LifecycleEventLoad LifecycleEvent = iota
	LifecycleEventDOMContentLoad
)

func (l LifecycleEvent) String() string {
	return lifecycleEventToString[l]
}

var lifecycleEventToString = map[LifecycleEvent]string{
	LifecycleEventLoad:           "load",
	LifecycleEventDOMContentLoad: "domcontentloaded",
}

var lifecycleEventToID = map[string]LifecycleEvent{
	"load":             LifecycleEventLoad,
	"domcontentloaded": LifecycleEventDOMContentLoad,
}

// MarshalJSON marshals the enum as a quoted JSON string.
func (l LifecycleEvent) MarshalJSON() ([]byte, error) {
	buffer := bytes.NewBufferString(`"`)
	buffer.WriteString(lifecycleEventToString[l])
	buffer.WriteString(`"`)
	return buffer.Bytes(), nil
}

// UnmarshalJSON unmarshals a quoted JSON string to the enum value.
func (l *LifecycleEvent) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	return l.UnmarshalText([]byte(j))
}

// MarshalText returns the string representation of the enum value.
// It returns an error if the enum value is invalid.
func (l *LifecycleEvent) MarshalText() ([]byte, error) {
	if l == nil {
		return []byte(""), nil
	}
	s, ok := lifecycleEventToString[*l]
	if !ok {
		return nil, fmt.Errorf("invalid lifecycle event: %v", int(*l))
	}

	return []byte(s), nil
}

// UnmarshalText unmarshals a text representation to the enum value.
// It returns an error if given a wrong value.
func (l *LifecycleEvent) UnmarshalText(text []byte) error {
	var (
		ok  bool
		val = string(text)
	)

	if *l, ok = lifecycleEventToID[val]; !ok {
		valid := make([]string, 0, len(lifecycleEventToID))
		for k := range lifecycleEventToID {
			valid = append(valid, k)
		}
		sort.Slice(valid, func(i, j int) bool {
			return lifecycleEventToID[valid[j]] > lifecycleEventToID[valid[i]]
		})
		return fmt.Errorf(
			"%w: invalid lifecycle event: %q; must be one of: %s",
			ErrInvalidWaitUntil, val, strings.Join(valid, ", "))
	}

	return nil
}

// NormalizeWaitUntil turns a single lifecycle event name or a list of
// them into a list of lifecycle events. Only "load" and
// "domcontentloaded" are accepted.
func NormalizeWaitUntil(v any) ([]LifecycleEvent, error) {
	var names []any
	switch w := v.(type) {
	case LifecycleEvent:
		return []LifecycleEvent{w}, nil
	case []LifecycleEvent:
		return append([]LifecycleEvent(nil), w...), nil
	case string:
		names = []any{w}
	case []string:
		for _, n := range w {
			names = append(names, n)
		}
	case []any:
		names = w
	default:
		return nil, fmt.Errorf("%w: unexpected type %T", ErrInvalidWaitUntil, v)
	}

	events := make([]LifecycleEvent, 0, len(names))
	for _, n := range names {
		s, ok := n.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected element type %T", ErrInvalidWaitUntil, n)
		}
		var ev LifecycleEvent
		if err := ev.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, nil
}

// PollingType is the strategy the predicate-poll script re-evaluates a
// predicate with.
type PollingType int

const (
	PollingRaf PollingType = iota + 1
	PollingMutation
	PollingInterval
)

var pollingTypeToString = map[PollingType]string{
	PollingRaf:      "raf",
	PollingMutation: "mutation",
	PollingInterval: "interval",
}

func (p PollingType) String() string {
	return pollingTypeToString[p]
}

// Polling describes how a wait task polls: on every animation frame,
// on DOM mutations or on a fixed interval.
type Polling struct {
	Type     PollingType
	Interval time.Duration
}

// PollingEvery returns an interval polling.
func PollingEvery(d time.Duration) Polling {
	return Polling{Type: PollingInterval, Interval: d}
}

func (p Polling) String() string {
	if p.Type == PollingInterval {
		return p.Interval.String()
	}
	return p.Type.String()
}

// Validate returns ErrInvalidPolling unless p is raf, mutation or
// an interval of at least one millisecond.
func (p Polling) Validate() error {
	switch p.Type {
	case PollingRaf, PollingMutation:
		return nil
	case PollingInterval:
		if p.Interval >= time.Millisecond {
			return nil
		}
		return fmt.Errorf("%w: interval must be at least 1ms, got %s", ErrInvalidPolling, p.Interval)
	default:
		return fmt.Errorf("%w: unknown polling type %d", ErrInvalidPolling, int(p.Type))
	}
}

// scriptArg is the polling argument of the predicate-poll script.
func (p Polling) scriptArg() any {
	if p.Type == PollingInterval {
		return p.Interval.Milliseconds()
	}
	return p.Type.String()
}

// ParsePolling parses "raf", "mutation" or an interval given as
// milliseconds or as a duration string. Bare numeric strings are
// milliseconds.
func ParsePolling(v any) (Polling, error) {
	var p Polling
	switch pv := v.(type) {
	case Polling:
		p = pv
	case string:
		switch pv {
		case "raf":
			p = Polling{Type: PollingRaf}
		case "mutation":
			p = Polling{Type: PollingMutation}
		default:
			d, err := types.ParseDuration(pv)
			if err != nil {
				return Polling{}, fmt.Errorf("%w: %q", ErrInvalidPolling, pv)
			}
			p = PollingEvery(d)
		}
	case time.Duration:
		p = PollingEvery(pv)
	case int:
		p = PollingEvery(time.Duration(pv) * time.Millisecond)
	case int64:
		p = PollingEvery(time.Duration(pv) * time.Millisecond)
	case float64:
		if math.IsNaN(pv) || math.IsInf(pv, 0) {
			return Polling{}, fmt.Errorf("%w: %v", ErrInvalidPolling, pv)
		}
		p = PollingEvery(time.Duration(pv * float64(time.Millisecond)))
	default:
		return Polling{}, fmt.Errorf("%w: unexpected type %T", ErrInvalidPolling, v)
	}

	return p, p.Validate()
}
