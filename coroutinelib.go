package mask

// nativeArgs reads every argument passed to the currently running
// native (CClosure) frame, the Go-side equivalent of iterating
// `lua_gettop()` stack slots from index 1.
func nativeArgs(l *Thread) []Value {
	base := l.ci.Base
	return append([]Value(nil), l.stack[base:l.top]...)
}

// nativeArg reads the i'th (0-based) argument to the running native
// frame, or nil if the caller passed fewer.
func nativeArg(l *Thread, i int) Value {
	base := l.ci.Base
	if base+i >= l.top {
		return valNil
	}
	return l.stack[base+i]
}

// nativeReturn writes vs as the result values of the running native
// frame, the Go-side equivalent of pushing return values before
// `return n;` in a C function (§6).
func nativeReturn(l *Thread, vs ...Value) (int, error) {
	base := l.ci.Base
	l.ensureStack(base + len(vs))
	copy(l.stack[base:], vs)
	return len(vs), nil
}

// installCoroutineLib registers the `coroutine` global table backing
// §4.3's language-level operations (create/resume/yield/status/
// isyieldable). Unlike string/table/io/math/debug/crypto -- explicitly
// out of scope per spec.md's Non-goals, left as "external
// collaborators" reached only through the embedding API -- coroutines
// are core language surface that the end-to-end example scripts call
// directly from Mask source (`coroutine.create(...)`,
// `coroutine.resume(co, ...)`), so they're wired as real globals
// rather than left for an embedder to bind.
func (gs *GlobalState) installCoroutineLib() {
	lib := newTable(gs.gc)
	reg := func(name string, fn func(l *Thread) (int, error)) {
		cc := gs.NewCClosure(fn)
		lib.Set(gs.gc, gs.NewString([]byte(name)), cc)
	}

	reg("create", func(l *Thread) (int, error) {
		fn := nativeArg(l, 0)
		co := gs.CreateCoroutine(fn)
		return nativeReturn(l, co)
	})

	reg("resume", func(l *Thread) (int, error) {
		co, ok := ToThread(nativeArg(l, 0))
		if !ok {
			return 0, &RuntimeError{Kind: ErrRun, Message: "bad argument #1 to 'resume' (coroutine expected)"}
		}
		args := nativeArgs(l)
		if len(args) > 0 {
			args = args[1:]
		}
		ok2, values, err := gs.Resume(l, co, args)
		if err != nil {
			return nativeReturn(l, Bool(false), gs.NewString([]byte(err.Error())))
		}
		return nativeReturn(l, append([]Value{Bool(ok2)}, values...)...)
	})

	reg("yield", func(l *Thread) (int, error) {
		values, err := gs.Yield(l, nativeArgs(l))
		if err != nil {
			return 0, err
		}
		return nativeReturn(l, values...)
	})

	reg("status", func(l *Thread) (int, error) {
		co, ok := ToThread(nativeArg(l, 0))
		if !ok {
			return 0, &RuntimeError{Kind: ErrRun, Message: "bad argument #1 to 'status' (coroutine expected)"}
		}
		return nativeReturn(l, gs.NewString([]byte(coroutineStatusName(co.Status()))))
	})

	reg("isyieldable", func(l *Thread) (int, error) {
		return nativeReturn(l, Bool(gs.IsYieldable(l)))
	})

	reg("running", func(l *Thread) (int, error) {
		return nativeReturn(l, l, Bool(l == gs.mainThread))
	})

	gs.Globals().Set(gs.gc, gs.NewString([]byte("coroutine")), lib)
}

// coroutineStatusName maps a ThreadStatus onto `coroutine.status`'s
// four string results (§4.3): "running" only applies to the coroutine
// reading its own status, so resume's caller always sees "suspended"
// for a fresh or yielded thread.
func coroutineStatusName(s ThreadStatus) string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusNormal:
		return "normal"
	case StatusDead:
		return "dead"
	default:
		return "suspended"
	}
}
