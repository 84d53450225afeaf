package mask

// installBaseLib registers the handful of free functions that §8's
// own end-to-end examples call directly from Mask source but that
// otherwise exist only as Go-host-facing methods on *Table (§4.4):
// `freeze`/`isfrozen`. Wired the same way `installCoroutineLib` wires
// `coroutine.*` -- a spec end-to-end scenario that calls a name from
// Mask source needs that name bound as a real global, not left for an
// embedder to bind.
func (gs *GlobalState) installBaseLib() {
	reg := func(name string, fn func(l *Thread) (int, error)) {
		cc := gs.NewCClosure(fn)
		gs.Globals().Set(gs.gc, gs.NewString([]byte(name)), cc)
	}

	reg("freeze", func(l *Thread) (int, error) {
		t, ok := nativeArg(l, 0).(*Table)
		if !ok {
			return 0, &RuntimeError{Kind: ErrRun, Message: "bad argument #1 to 'freeze' (table expected)"}
		}
		t.Freeze()
		return nativeReturn(l, t)
	})

	reg("isfrozen", func(l *Thread) (int, error) {
		t, ok := nativeArg(l, 0).(*Table)
		if !ok {
			return 0, &RuntimeError{Kind: ErrRun, Message: "bad argument #1 to 'isfrozen' (table expected)"}
		}
		return nativeReturn(l, Bool(t.IsFrozen()))
	})
}
