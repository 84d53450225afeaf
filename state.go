package mask

import "time"

// ThreadStatus enumerates a coroutine's lifecycle state (§3, §4.3).
type ThreadStatus int

const (
	StatusOK ThreadStatus = iota
	StatusYield
	StatusErrRun
	StatusErrSyntax
	StatusErrMem
	StatusErrErr
	StatusRunning
	StatusNormal
	StatusDead
)

// CallInfo is one activation record on a thread's call chain (§3,
// §4.3). Script frames use SavedPC/Trap/ExtraArgs; C frames use Cont.
type CallInfo struct {
	Func       int // stack slot of the callee (closure or C function)
	Base       int // first argument/register slot
	Top        int // frame top
	NResults   int // negative encodes "all"
	SavedPC    int
	Trap       bool
	ExtraArgs  int

	IsTail     bool
	IsC        bool
	Hooked     bool
	YPCall     bool
	Fin        bool

	Cont func(l *Thread, status ThreadStatus) ([]Value, error)

	Prev, Next *CallInfo
}

// tbcEntry is one to-be-closed registration: the stack slot holding
// the value and the order it was created in (LIFO close order, §3).
type tbcEntry struct {
	slot int
}

// Thread is a coroutine (§3): its own value stack, call-frame chain,
// open-upvalue list (sorted by descending stack level), to-be-closed
// list, status, and hook configuration.
type Thread struct {
	objectHeader

	global *GlobalState

	stack    []Value
	top      int
	ci       *CallInfo
	baseCI   CallInfo

	openUpvals *Upvalue // head, sorted by descending index

	tbc []tbcEntry

	status ThreadStatus

	hookMask  int
	hookFunc  func(l *Thread, event string, line int)
	hookCount int
	hookLeft  int

	nonYieldableDepth int

	resumeArgs  []Value
	yieldValues []Value
	resumeCh    chan struct{}
	yieldCh     chan struct{}
	fn          Value
	done        bool
	err         error
}

func (*Thread) Tag() Tag         { return TagThread }
func (t *Thread) String() string { return "thread" }

func (t *Thread) Status() ThreadStatus { return t.status }

// ensureStack grows the value stack to hold at least n slots,
// correcting open-upvalue pointers (which in this Go port reference
// the thread+index rather than a raw pointer, so no fixup is actually
// needed beyond growing the slice -- the savestack/restorestack
// pattern from §5/§9 is modeled by always addressing the stack via
// (thread, index) pairs rather than raw pointers).
func (t *Thread) ensureStack(n int) {
	if n <= len(t.stack) {
		return
	}
	ns := make([]Value, n*2)
	copy(ns, t.stack)
	t.stack = ns
}

// closeUpvalsFrom closes every open upvalue at or above stack level
// lvl, per the OP_CLOSE / scope-exit / return rule of §3.
func (t *Thread) closeUpvalsFrom(lvl int) {
	for t.openUpvals != nil && t.openUpvals.index >= lvl {
		u := t.openUpvals
		t.openUpvals = u.openNext
		u.Close()
	}
}

// findOrCreateUpvalue returns the open upvalue for stack slot idx,
// creating and linking it (sorted by descending index) if necessary,
// per the "closure/open-upvalue correspondence" invariant (§8).
func (t *Thread) findOrCreateUpvalue(gc *gc, idx int) *Upvalue {
	var prev *Upvalue
	cur := t.openUpvals
	for cur != nil && cur.index > idx {
		prev = cur
		cur = cur.openNext
	}
	if cur != nil && cur.index == idx {
		return cur
	}
	u := &Upvalue{thread: t, index: idx}
	gc.link(u)
	u.openNext = cur
	if prev == nil {
		t.openUpvals = u
	} else {
		prev.openNext = u
	}
	return u
}

// runPendingClose invokes __close on every to-be-closed registration
// at or above level, in reverse (LIFO) creation order, per §3/§5.
// errs accumulates __close errors; if more than one fires, the most
// severe replaces the original per §7.
func (t *Thread) runPendingClose(gs *GlobalState, level int, cause error) error {
	for len(t.tbc) > 0 && t.tbc[len(t.tbc)-1].slot >= level {
		e := t.tbc[len(t.tbc)-1]
		t.tbc = t.tbc[:len(t.tbc)-1]
		v := t.stack[e.slot]
		if v == nil {
			continue
		}
		if _, isNil := v.(Nil); isNil {
			continue
		}
		h := gs.getMetamethod(v, MetaClose)
		if h == nil {
			continue
		}
		var errArg Value = valNil
		if cause != nil {
			errArg = errorToValue(gs, cause)
		}
		if _, cerr := gs.call1(t, h, []Value{v, errArg}); cerr != nil {
			cause = cerr
		}
	}
	return cause
}

func errorToValue(gs *GlobalState, err error) Value {
	if re, ok := err.(*RuntimeError); ok && re.Value != nil {
		return re.Value
	}
	return NewString(gs.gc, gs.strings, []byte(err.Error()))
}

// GlobalState is shared by every thread created from the same root
// (§3): the string table, GC, registry, pre-interned metamethod
// names, default metatables, panic/warning handlers, allocator
// callback, and GC tunables.
type GlobalState struct {
	gc      *gc
	strings *StringTable

	registry *Table
	mainThread *Thread

	metaNames         *metamethodNames
	defaultMetatables [metaCount + 32]*Table // indexed by Tag; oversized to cover every Tag value cheaply

	panicHandler   func(l *Thread, v Value)
	warningHandler WarningHandler
	warningOn      bool

	seed int64

	ilpEnabled bool
	ilpLimit   int
	etlEnabled bool
	etlLimit   time.Duration

	warnings *warningConfig
	sink     *warningSink
}

// NewGlobalState creates a fresh state with its own GC, string table,
// and registry, and spawns the main thread (registry slot 1) plus the
// globals table (registry slot 2), per §3 and §6's "Registry
// predefined indices".
func NewGlobalState() *GlobalState {
	gc := newGC(defaultGCParams())
	st := newStringTable(gc)
	gc.stringFreed = st.remove

	gs := &GlobalState{
		gc:       gc,
		strings:  st,
		registry: newTable(gc),
		warnings: newWarningConfig(),
		sink:     &warningSink{},
	}
	gs.metaNames = newMetamethodNames(st)

	main := &Thread{global: gs, status: StatusRunning}
	gc.link(main)
	main.ensureStack(64)
	gs.mainThread = main

	globals := newTable(gc)

	gs.registry.Set(gc, Int(1), main)
	gs.registry.Set(gc, Int(2), globals)

	gs.installCoroutineLib()
	gs.installBaseLib()

	return gs
}

// Globals returns the globals table (registry slot 2).
func (gs *GlobalState) Globals() *Table {
	v := gs.registry.Get(Int(2))
	t, _ := v.(*Table)
	return t
}

// MainThread returns the main thread (registry slot 1).
func (gs *GlobalState) MainThread() *Thread { return gs.mainThread }

// NewThread creates a coroutine sharing gs's global state (§4.3's
// `create(f)`, minus binding f -- that happens at Resume time, same
// as the teacher's lazily-initialized worklists).
func (gs *GlobalState) NewThread() *Thread {
	t := &Thread{global: gs, status: StatusOK}
	gs.gc.link(t)
	t.ensureStack(32)
	return t
}

// SetPanicHandler installs the function invoked when an error reaches
// no protected call anywhere (§4.3, §7).
func (gs *GlobalState) SetPanicHandler(f func(l *Thread, v Value)) { gs.panicHandler = f }

// SetWarningHandler installs the out-of-band advisory channel (§6,
// §7's "warning system").
func (gs *GlobalState) SetWarningHandler(f WarningHandler) { gs.warningHandler = f }

func (gs *GlobalState) warn(msg string, cont bool) {
	if gs.warningHandler != nil && gs.warningOn {
		gs.warningHandler(msg, cont)
	}
}
