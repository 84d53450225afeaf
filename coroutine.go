package mask

import "fmt"

// yieldSignal is the payload passed from the coroutine goroutine back
// to its resumer when Yield is called, and from the resumer back into
// the coroutine goroutine when it is resumed again. Modeled with
// channels rather than a longjmp/setjmp pair, per the design note in
// §9 ("real OS-backed stackful coroutines if the target language
// provides them cheaply") -- a goroutine blocked on a channel receive
// is exactly that.
type yieldSignal struct {
	values []Value
	err    error
	done   bool
}

// CreateCoroutine implements `coroutine.create(f)` (§4.3): a new
// thread sharing gs, with f recorded as its entry point. The
// goroutine backing it isn't started until the first Resume.
func (gs *GlobalState) CreateCoroutine(fn Value) *Thread {
	co := gs.NewThread()
	co.fn = fn
	co.status = StatusOK
	return co
}

// Resume implements `coroutine.resume(co, args...)` (§4.3): transfers
// control to co, starting it on first resume or delivering args as
// the results of its suspended yield on subsequent resumes. Returns
// (true, values...) on yield/completion or (false, error) on failure.
func (gs *GlobalState) Resume(from, co *Thread, args []Value) (bool, []Value, error) {
	switch co.status {
	case StatusDead:
		return false, nil, fmt.Errorf("cannot resume dead coroutine")
	case StatusRunning, StatusNormal:
		return false, nil, fmt.Errorf("cannot resume non-suspended coroutine")
	}

	if from != nil {
		from.status = StatusNormal
	}
	co.status = StatusRunning

	if co.resumeCh == nil {
		co.resumeCh = make(chan struct{})
		co.yieldCh = make(chan struct{})
		co.resumeArgs = args
		go gs.runCoroutine(co)
	} else {
		co.resumeArgs = args
		co.resumeCh <- struct{}{}
	}

	<-co.yieldCh

	if from != nil {
		from.status = StatusRunning
	}

	if co.err != nil {
		co.status = StatusDead
		return false, nil, co.err
	}
	if co.done {
		co.status = StatusDead
	} else {
		co.status = StatusYield
	}
	return true, co.yieldValues, nil
}

// runCoroutine is the goroutine body backing a coroutine thread: it
// runs fn to completion (or until the thread is garbage, which in
// this design simply leaks the blocked goroutine the way a dead
// coroutine's stack would be freed by the GC in the reference
// implementation; Reset only drops the thread's channels and Close
// does not touch coroutines, so neither wakes a blocked goroutine).
func (gs *GlobalState) runCoroutine(co *Thread) {
	results, err := gs.Call(co, co.fn, co.resumeArgs, -1)
	co.yieldValues = results
	co.err = err
	co.done = true
	co.yieldCh <- struct{}{}
}

// Yield implements `coroutine.yield(values...)` (§4.3): only legal
// from a yieldable frame (not across a non-yieldable C boundary, not
// from the main thread). It blocks the coroutine's goroutine until
// the next Resume delivers new arguments, which become yield's return
// values.
func (gs *GlobalState) Yield(co *Thread, values []Value) ([]Value, error) {
	if co == gs.mainThread {
		return nil, fmt.Errorf("attempt to yield from outside a coroutine")
	}
	if co.nonYieldableDepth > 0 {
		return nil, fmt.Errorf("attempt to yield across a C-call boundary")
	}
	co.yieldValues = values
	co.yieldCh <- struct{}{}
	<-co.resumeCh
	return co.resumeArgs, nil
}

// IsYieldable reports whether co may currently call Yield (§6).
func (gs *GlobalState) IsYieldable(co *Thread) bool {
	return co != gs.mainThread && co.nonYieldableDepth == 0
}

// Reset implements `coroutine.reset` / cancellation (§3, §5): clears
// the call stack, closes all upvalues, runs pending to-be-closed
// variables in a protected run, and transitions the thread back to
// StatusOK. Errors from __close are captured and returned rather than
// propagated, per §5's "Cancellation" clause.
func (gs *GlobalState) Reset(co *Thread) error {
	cause := co.runPendingClose(gs, 0, nil)
	co.closeUpvalsFrom(0)
	co.ci = nil
	co.top = 0
	co.status = StatusOK
	co.done = false
	co.err = nil
	co.resumeCh = nil
	co.yieldCh = nil
	return cause
}
