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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/k6frames/api"
	"github.com/liuxd6825/k6frames/log"
)

// ExecutionContext evaluates functions in the script environment of a frame.
// It goes away, and evaluations in flight fail, when the frame navigates.
type ExecutionContext interface {
	ID() runtime.ExecutionContextID
	// Eval calls the function declaration js with args and returns
	// the result by value.
	Eval(ctx context.Context, js string, args ...any) (any, error)
	// EvalHandle calls the function declaration js with args and
	// returns a handle to the result.
	EvalHandle(ctx context.Context, js string, args ...any) (api.JSHandle, error)
}

// remoteObjectHandle is implemented by handles that can tell what
// they point to without a round trip.
type remoteObjectHandle interface {
	RemoteObject() *runtime.RemoteObject
}

// Ensure executionContext implements the ExecutionContext interface
var _ ExecutionContext = &executionContext{}

type executionContext struct {
	session Session
	id      runtime.ExecutionContextID
	fid     cdp.FrameID
	logger  *log.Logger
}

func newExecutionContext(
	s Session, id runtime.ExecutionContextID, fid cdp.FrameID, l *log.Logger,
) *executionContext {
	l.Debugf("NewExecutionContext", "sid:%v fid:%v ectxid:%d", s.ID(), fid, id)

	return &executionContext{
		session: s,
		id:      id,
		fid:     fid,
		logger:  l,
	}
}

func (e *executionContext) ID() runtime.ExecutionContextID {
	return e.id
}

func (e *executionContext) Eval(ctx context.Context, js string, args ...any) (any, error) {
	ro, err := e.call(ctx, true, js, args...)
	if err != nil {
		return nil, err
	}
	return valueFromRemoteObject(ro)
}

func (e *executionContext) EvalHandle(ctx context.Context, js string, args ...any) (api.JSHandle, error) {
	ro, err := e.call(ctx, false, js, args...)
	if err != nil {
		return nil, err
	}
	return newJSHandle(e, ro), nil
}

func (e *executionContext) call(
	ctx context.Context, returnByValue bool, js string, args ...any,
) (*runtime.RemoteObject, error) {
	e.logger.Debugf(
		"ExecutionContext:call",
		"sid:%v fid:%v ectxid:%d returnByValue:%t",
		e.session.ID(), e.fid, e.id, returnByValue)

	arguments := make([]*runtime.CallArgument, 0, len(args))
	for _, arg := range args {
		a, err := convertArgument(e, arg)
		if err != nil {
			return nil, fmt.Errorf("converting argument (%v) "+
				"in execution context (%d) in frame (%v): %w",
				arg, e.id, e.fid, err)
		}
		arguments = append(arguments, a)
	}

	js += "\n//# sourceURL=" + evaluationScriptURL + "\n"
	action := runtime.CallFunctionOn(js).
		WithArguments(arguments).
		WithExecutionContextID(e.id).
		WithReturnByValue(returnByValue).
		WithAwaitPromise(true).
		WithUserGesture(true)

	ro, exc, err := action.Do(cdp.WithExecutor(ctx, e.session))
	if err != nil {
		return nil, fmt.Errorf("calling function in execution context (%d) "+
			"in frame (%v) with session (%v): %w",
			e.id, e.fid, e.session.ID(), err)
	}
	if exc != nil {
		return nil, fmt.Errorf("calling function in execution context (%d) "+
			"in frame (%v) with session (%v): %s",
			e.id, e.fid, e.session.ID(), parseExceptionDetails(exc))
	}

	return ro, nil
}

func parseExceptionDetails(exc *runtime.ExceptionDetails) string {
	if exc == nil {
		return ""
	}
	var msg string
	if exc.Exception != nil {
		if exc.Exception.Description != "" {
			msg = exc.Exception.Description
		} else if len(exc.Exception.Value) > 0 {
			msg = string(exc.Exception.Value)
		}
	}
	if msg == "" {
		msg = exc.Text
	}
	if exc.StackTrace != nil && msg == exc.Text {
		for _, cf := range exc.StackTrace.CallFrames {
			msg += fmt.Sprintf("\n    at %s (%s:%d:%d)",
				cf.FunctionName, cf.URL, cf.LineNumber, cf.ColumnNumber)
		}
	}
	return msg
}

func valueFromRemoteObject(ro *runtime.RemoteObject) (any, error) {
	if ro == nil || ro.Type == runtime.TypeUndefined {
		return nil, nil
	}
	if uv := string(ro.UnserializableValue); uv != "" {
		switch uv {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "-0":
			return math.Copysign(0, -1), nil
		}
		// bigint
		return strings.TrimSuffix(uv, "n"), nil
	}
	if len(ro.Value) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(ro.Value, &v); err != nil {
		return nil, fmt.Errorf("parsing remote object value: %w", err)
	}
	return v, nil
}

// isTruthy tells if JavaScript would treat the remote object as true.
func isTruthy(ro *runtime.RemoteObject) bool {
	if ro == nil {
		return false
	}
	switch ro.Type {
	case runtime.TypeUndefined:
		return false
	case runtime.TypeObject:
		return ro.Subtype != runtime.SubtypeNull
	case runtime.TypeFunction, runtime.TypeSymbol:
		return true
	}
	if uv := ro.UnserializableValue; uv != "" {
		switch uv {
		case "NaN", "-0", "0n", "-0n":
			return false
		}
		return true
	}

	v := gjson.ParseBytes(ro.Value)
	switch v.Type {
	case gjson.True, gjson.JSON:
		return true
	case gjson.Number:
		return v.Float() != 0
	case gjson.String:
		return v.Str != ""
	default:
		return false
	}
}

//nolint:cyclop
func convertArgument(e *executionContext, arg any) (*runtime.CallArgument, error) {
	switch a := arg.(type) {
	case *ElementHandle:
		return a.callArgument(e)
	case *jsHandle:
		return a.callArgument(e)
	case int64:
		if a > math.MaxInt32 || a < math.MinInt32 {
			return &runtime.CallArgument{
				UnserializableValue: runtime.UnserializableValue(fmt.Sprintf("%dn", a)),
			}, nil
		}
		b, err := json.Marshal(a)
		return &runtime.CallArgument{Value: easyjson.RawMessage(b)}, err
	case float64:
		var unserVal string
		switch {
		case math.IsNaN(a):
			unserVal = "NaN"
		case math.IsInf(a, 1):
			unserVal = "Infinity"
		case math.IsInf(a, -1):
			unserVal = "-Infinity"
		case a == 0 && math.Signbit(a):
			unserVal = "-0"
		}
		if unserVal != "" {
			return &runtime.CallArgument{
				UnserializableValue: runtime.UnserializableValue(unserVal),
			}, nil
		}
		b, err := json.Marshal(a)
		return &runtime.CallArgument{Value: easyjson.RawMessage(b)}, err
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshaling argument: %w", err)
		}
		return &runtime.CallArgument{Value: easyjson.RawMessage(b)}, nil
	}
}

var errWrongExecutionContext = errors.New("handle belongs to another execution context")

// Ensure jsHandle implements the api.JSHandle interface
var _ api.JSHandle = &jsHandle{}

type jsHandle struct {
	ec           *executionContext
	remoteObject *runtime.RemoteObject
}

func newJSHandle(ec *executionContext, ro *runtime.RemoteObject) api.JSHandle {
	h := &jsHandle{ec: ec, remoteObject: ro}
	if ro != nil && ro.Subtype == runtime.SubtypeNode {
		return &ElementHandle{jsHandle: h}
	}
	return h
}

func (h *jsHandle) AsElement() api.ElementHandle {
	return nil
}

func (h *jsHandle) RemoteObject() *runtime.RemoteObject {
	return h.remoteObject
}

func (h *jsHandle) Dispose(ctx context.Context) error {
	if h.remoteObject == nil || h.remoteObject.ObjectID == "" {
		return nil
	}
	err := runtime.ReleaseObject(h.remoteObject.ObjectID).Do(cdp.WithExecutor(ctx, h.ec.session))
	if err != nil && !isContextDestroyed(err) {
		return fmt.Errorf("disposing handle: %w", err)
	}
	return nil
}

func (h *jsHandle) JSONValue(ctx context.Context) (string, error) {
	if h.remoteObject == nil {
		return "undefined", nil
	}
	if h.remoteObject.ObjectID == "" {
		if uv := h.remoteObject.UnserializableValue; uv != "" {
			return string(uv), nil
		}
		return string(h.remoteObject.Value), nil
	}
	action := runtime.CallFunctionOn("function() { return this; }").
		WithObjectID(h.remoteObject.ObjectID).
		WithReturnByValue(true).
		WithAwaitPromise(true)
	ro, exc, err := action.Do(cdp.WithExecutor(ctx, h.ec.session))
	if err != nil {
		return "", fmt.Errorf("getting JSON value of handle: %w", err)
	}
	if exc != nil {
		return "", fmt.Errorf("getting JSON value of handle: %s", parseExceptionDetails(exc))
	}
	return string(ro.Value), nil
}

func (h *jsHandle) callArgument(e *executionContext) (*runtime.CallArgument, error) {
	if h.ec != e {
		return nil, errWrongExecutionContext
	}
	ro := h.remoteObject
	switch {
	case ro.UnserializableValue != "":
		return &runtime.CallArgument{UnserializableValue: ro.UnserializableValue}, nil
	case ro.ObjectID == "":
		return &runtime.CallArgument{Value: ro.Value}, nil
	default:
		return &runtime.CallArgument{ObjectID: ro.ObjectID}, nil
	}
}
