package mask

// PCall implements `pcall`/`lua_pcall` (§6, §7): runs fn protected,
// catching any error raised during the call. On error, the stack is
// shrunk back to its pre-call level, upvalues down to that level are
// closed, and any pending to-be-closed variables run in a nested
// protected run -- an error from __close replaces the original if it
// is more severe, per §7's propagation policy. Go's native error
// return already gives us the "non-local control transfer" described
// in §4.3 without needing an explicit longjmp/setjmp pair, per the
// design note in §9 ("use a typed Result return ... avoid unwinding
// through script frames").
func (gs *GlobalState) PCall(l *Thread, fn Value, args []Value, nResults int, errFunc Value) (ok bool, results []Value, errValue Value) {
	savedTop := l.top
	savedCI := l.ci

	results, err := gs.Call(l, fn, args, nResults)
	if err == nil {
		return true, results, nil
	}

	closeErr := l.runPendingClose(gs, savedTop, err)
	if closeErr != nil {
		err = closeErr
	}
	l.closeUpvalsFrom(savedTop)
	l.ci = savedCI
	l.top = savedTop

	errVal := errorToValue(gs, err)
	if errFunc != nil {
		if handled, herr := gs.call1(l, errFunc, []Value{errVal}); herr == nil {
			errVal = handled
		}
	}
	return false, nil, errVal
}

// protectedLoad compiles src into a closure bound to the globals
// table. A compile error (such as a *SyntaxError) is returned as it
// is; a panic during compilation is recovered and reported as an
// ErrMem-kind *RuntimeError rather than escaping to the host.
func (gs *GlobalState) protectedLoad(src []byte, chunkName string) (c *Closure, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RuntimeError{Kind: ErrMem, Message: NewMemoryError().Message}
		}
	}()
	proto, cerr := Compile(src, chunkName, gs.gc, gs.strings, gs.warnings, gs.sink)
	if cerr != nil {
		return nil, cerr
	}
	cl := &Closure{Proto: proto}
	gs.gc.link(cl)
	envUp := &Upvalue{closed: true, value: gs.Globals()}
	gs.gc.link(envUp)
	cl.Upvals = []*Upvalue{envUp}
	return cl, nil
}

// Load implements the embedding API's `load` (§6): parses and
// compiles src into a fresh script closure ready to Call.
func (gs *GlobalState) Load(src []byte, chunkName string) (*Closure, error) {
	return gs.protectedLoad(src, chunkName)
}
