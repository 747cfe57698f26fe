package common

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWaitForPredicate runs the predicate-poll script in an event loop
// until no timers are left, and returns the promise it returned.
func runWaitForPredicate(t *testing.T, predicateBody string, polling any, timeout int64, args ...any) *goja.Promise {
	t.Helper()

	p, _ := runWaitForPredicateIn(t, "", predicateBody, polling, timeout, args...)
	return p
}

// runWaitForPredicateIn is runWaitForPredicate with setup evaluated
// first in the same runtime. The runtime is returned for inspection
// once the loop is done.
func runWaitForPredicateIn(
	t *testing.T, setup, predicateBody string, polling any, timeout int64, args ...any,
) (*goja.Promise, *goja.Runtime) {
	t.Helper()

	var (
		p  *goja.Promise
		rt *goja.Runtime
	)
	loop := eventloop.NewEventLoop()
	loop.Run(func(vm *goja.Runtime) {
		rt = vm
		if setup != "" {
			_, err := vm.RunString(setup)
			require.NoError(t, err)
		}
		_, err := vm.RunString(waitForPredicateJS)
		require.NoError(t, err)
		fn, ok := goja.AssertFunction(vm.Get("waitForPredicate"))
		require.True(t, ok)

		callArgs := []goja.Value{vm.ToValue(predicateBody), vm.ToValue(polling), vm.ToValue(timeout)}
		for _, a := range args {
			callArgs = append(callArgs, vm.ToValue(a))
		}
		v, err := fn(goja.Undefined(), callArgs...)
		require.NoError(t, err)
		p, ok = v.Export().(*goja.Promise)
		require.True(t, ok, "waitForPredicate should return a promise")
	})

	return p, rt
}

// fakeDOM stands in for the page globals the raf and mutation modes
// need. mutate() delivers a mutation batch to every connected observer.
const fakeDOM = `
globalThis.document = {};
globalThis.requestAnimationFrame = (cb) => setTimeout(cb, 16);
globalThis.observers = [];
globalThis.MutationObserver = function (cb) {
  this.connected = false;
  this.observe = (target, opts) => {
    this.connected = true;
    this.target = target;
    this.opts = opts;
    observers.push(this);
  };
  this.disconnect = () => {
    this.connected = false;
  };
  this.deliver = () => cb([], this);
};
globalThis.mutate = () => {
  for (const o of observers) {
    if (o.connected) {
      o.deliver();
    }
  }
};
`

func TestWaitForPredicateScript(t *testing.T) {
	t.Parallel()

	t.Run("should poll on an interval until truthy", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t,
			`globalThis.n = (globalThis.n || 0) + 1; return globalThis.n >= 3 && "matched " + globalThis.n`,
			5, 1000)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, "matched 3", p.Result().Export())
	})

	t.Run("should pass the arguments", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t, predicateBody("(a, b) => a * b"), 10, 0, 6, 7)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, int64(42), p.Result().Export())
	})

	t.Run("should await a promise returned by the predicate", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t, `return Promise.resolve(args[0])`, 10, 0, "async")

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, "async", p.Result().Export())
	})

	t.Run("should resolve null after its timeout", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t, `return false`, 10, 50)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.True(t, goja.IsNull(p.Result()))
	})

	t.Run("should ignore a negative timeout", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t,
			`globalThis.n = (globalThis.n || 0) + 1; return globalThis.n >= 3 && "matched " + globalThis.n`,
			5, -1)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, "matched 3", p.Result().Export())
	})

	t.Run("err/unknown polling", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t, `return true`, "sometimes", 0)

		require.Equal(t, goja.PromiseStateRejected, p.State())
		assert.Contains(t, p.Result().String(), "Unknown polling option: sometimes")
	})

	t.Run("err/predicate throws", func(t *testing.T) {
		t.Parallel()

		p := runWaitForPredicate(t, `throw new Error("bad predicate")`, 10, 0)

		require.Equal(t, goja.PromiseStateRejected, p.State())
		assert.Contains(t, p.Result().String(), "bad predicate")
	})
}

func TestWaitForPredicateScriptRaf(t *testing.T) {
	t.Parallel()

	t.Run("should poll on animation frames until truthy", func(t *testing.T) {
		t.Parallel()

		p, _ := runWaitForPredicateIn(t, fakeDOM,
			`globalThis.frames = (globalThis.frames || 0) + 1; return globalThis.frames >= 3 && "frame " + globalThis.frames`,
			"raf", 0)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, "frame 3", p.Result().Export())
	})

	t.Run("should resolve null after its timeout", func(t *testing.T) {
		t.Parallel()

		p, _ := runWaitForPredicateIn(t, fakeDOM, `return false`, "raf", 50)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.True(t, goja.IsNull(p.Result()))
	})
}

func TestWaitForPredicateScriptMutation(t *testing.T) {
	t.Parallel()

	t.Run("should resolve without observing when already truthy", func(t *testing.T) {
		t.Parallel()

		p, rt := runWaitForPredicateIn(t, fakeDOM, `return "now"`, "mutation", 0)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, "now", p.Result().Export())
		n, err := rt.RunString(`observers.length`)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n.Export())
	})

	t.Run("should re-evaluate on every mutation batch", func(t *testing.T) {
		t.Parallel()

		setup := fakeDOM + `
setTimeout(() => mutate(), 10);
setTimeout(() => { globalThis.ready = "ready"; mutate(); }, 20);
`
		p, rt := runWaitForPredicateIn(t, setup,
			`globalThis.calls = (globalThis.calls || 0) + 1; return globalThis.ready`,
			"mutation", 0)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.Equal(t, "ready", p.Result().Export())

		state, err := rt.RunString(`[calls, observers.length, observers[0].connected,
			observers[0].target === document, observers[0].opts.subtree]`)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(3), int64(1), false, true, true}, state.Export())
	})

	t.Run("should resolve null on the first batch after its timeout", func(t *testing.T) {
		t.Parallel()

		setup := fakeDOM + `
setTimeout(() => mutate(), 10);
setTimeout(() => mutate(), 80);
`
		p, rt := runWaitForPredicateIn(t, setup,
			`globalThis.calls = (globalThis.calls || 0) + 1; return false`,
			"mutation", 40)

		require.Equal(t, goja.PromiseStateFulfilled, p.State())
		assert.True(t, goja.IsNull(p.Result()))

		state, err := rt.RunString(`[calls, observers[0].connected]`)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2), false}, state.Export())
	})
}
