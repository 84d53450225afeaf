package mask

// gcState is one state in the incremental collector's state machine
// (§4.5): pause, propagate (drain the gray set), enteratomic/atomic
// (stop-the-world rescan), then three sweep phases and finalizer
// invocation.
type gcState uint8

const (
	gcPause gcState = iota
	gcPropagate
	gcEnterAtomic
	gcAtomic
	gcSweepAllGC
	gcSweepFinObj
	gcSweepToBeFnz
	gcCallFin
)

// gcMode selects between the plain incremental collector and the
// generational variant described in §4.5.
type gcMode uint8

const (
	gcModeIncremental gcMode = iota
	gcModeGenerational
)

// gcParams holds the tunables §3 lists under "GC tunables": pause,
// step-multiplier, step-size, generational multipliers. Mirrors the
// teacher's Config's typed-accessor shape (config.go) adapted to a
// plain struct since these are read as fields rather than looked up
// by string path. GC control in api.go overwrites pause and stepMul
// at run time.
type gcParams struct {
	pause        int // percentage of live bytes before a new cycle starts
	stepMul      int // percentage step multiplier
	stepSize     int // log2 bytes per basic increment
	minorMul     int // generational minor-collection multiplier
	majorMul     int // generational major-collection multiplier
}

func defaultGCParams() gcParams {
	return gcParams{pause: 200, stepMul: 100, stepSize: 13, minorMul: 20, majorMul: 100}
}

// gc is the collector. It owns the intrusive linked lists of every
// live object (allgc), objects with a pending __gc (finobj), objects
// ready to be finalized (tobefnz), the gray worklist, and the
// generational age lists. One gc belongs to exactly one GlobalState
// and is shared by every thread spawned from it.
type gc struct {
	allgc     gcObject
	finobj    gcObject
	tobefnz   gcObject
	gray      []gcObject
	grayagain []gcObject
	weak      []*Table
	ephemeron []*Table
	allweak   []*Table

	survival gcObject
	old1     gcObject
	reallyold gcObject

	currentWhite uint8
	state        gcState
	mode         gcMode
	cfg          gcParams

	totalBytes int64
	debt       int64
	running    bool

	// stringFreed is invoked by sweepStep for every short string that
	// didn't survive a sweep, so the owning StringTable can unlink it.
	stringFreed func(*ShortString)
}

func newGC(cfg gcParams) *gc {
	return &gc{
		currentWhite: colorWhite0,
		cfg:          cfg,
		running:      true,
	}
}

// link registers a freshly allocated object with the collector: it
// is marked the current white and pushed onto allgc, per the
// lifecycle rule in §3 ("created ... with marked = currentwhite,
// linked into allgc").
func (g *gc) link(o gcObject) {
	h := o.header()
	h.marked = g.currentWhite
	// objectHeader.next models the intrusive singly-linked list; since
	// Go lacks the "next field lives inside the union" trick, each
	// concrete object type's next pointer is the one stored in its own
	// embedded objectHeader, threaded by the collector here.
	h.next = g.allgc
	g.allgc = o
}

// charge adds n bytes to the debt counter that drives stepping, per
// §2 ("driven by byte-debt accumulated on every allocation").
func (g *gc) charge(n int64) {
	g.totalBytes += n
	g.debt += n
	if g.running && g.debt > 0 {
		g.step()
	}
}

// step advances the state machine by one constant-bounded increment,
// scaled by cfg.stepMul, then charges the work done against the debt
// so stepping is self-limiting (§4.5 "Driving").
func (g *gc) step() {
	work := int64(1) << uint(g.cfg.stepSize) * int64(g.cfg.stepMul) / 100
	switch g.state {
	case gcPause:
		g.state = gcPropagate
	case gcPropagate:
		done := g.propagateStep(work)
		if done {
			g.state = gcEnterAtomic
		}
	case gcEnterAtomic:
		g.atomic()
		g.state = gcAtomic
	case gcAtomic:
		g.state = gcSweepAllGC
	case gcSweepAllGC:
		if g.sweepStep(&g.allgc, work) {
			g.state = gcSweepFinObj
		}
	case gcSweepFinObj:
		if g.sweepStep(&g.finobj, work) {
			g.state = gcSweepToBeFnz
		}
	case gcSweepToBeFnz:
		g.state = gcCallFin
	case gcCallFin:
		if g.tobefnz == nil {
			g.state = gcPause
			g.currentWhite = g.otherWhite()
			g.debt = -g.totalBytes * int64(g.cfg.pause) / 100
		}
	}
	g.debt -= work
}

func (g *gc) otherWhite() uint8 {
	if g.currentWhite == colorWhite0 {
		return colorWhite1
	}
	return colorWhite0
}

// markRoot pushes a root object onto the gray worklist, the entry
// point for every GC cycle's propagate phase (registry, main thread,
// open upvalues).
func (g *gc) markRoot(o gcObject) {
	if o == nil {
		return
	}
	h := o.header()
	if !h.isWhite() {
		return
	}
	h.marked = colorGray
	g.gray = append(g.gray, o)
}

// propagateStep pops up to a work-bounded number of gray objects and
// marks their children black, returning true once the gray set (and
// grayagain set, re-enqueued at atomic) is drained.
func (g *gc) propagateStep(budget int64) bool {
	n := int64(0)
	for len(g.gray) > 0 && n < budget {
		o := g.gray[len(g.gray)-1]
		g.gray = g.gray[:len(g.gray)-1]
		g.markChildren(o)
		o.header().marked = colorBlack
		n++
	}
	return len(g.gray) == 0
}

// markChildren marks every object reachable in one hop from o. For a
// table that is its metatable, its array values and the keys and
// values of its hash part.
func (g *gc) markChildren(o gcObject) {
	switch v := o.(type) {
	case *Table:
		g.markRoot(gcObj(v.Metatable))
		for _, e := range v.array {
			g.markValue(e)
		}
		for i := range v.node {
			if v.node[i].key != nil {
				g.markValue(v.node[i].key)
				g.markValue(v.node[i].val)
			}
		}
	case *Closure:
		g.markRoot(v.Proto)
		for _, uv := range v.Upvals {
			g.markRoot(uv)
		}
	case *Upvalue:
		if val, ok := upvalueValue(v); ok {
			g.markValue(val)
		}
	case *Prototype:
		for _, k := range v.Constants {
			g.markValue(k)
		}
		for _, p := range v.Protos {
			g.markRoot(p)
		}
	case *Thread:
		for _, fr := range v.stack {
			g.markValue(fr)
		}
	}
}

func upvalueValue(u *Upvalue) (Value, bool) {
	if u.closed {
		return u.value, true
	}
	return nil, false
}

func (g *gc) markValue(v Value) {
	if v == nil {
		return
	}
	if o, ok := v.(gcObject); ok {
		g.markRoot(o)
	}
}

// gcObj adapts a possibly-nil *Table to the gcObject interface
// without panicking on a nil metatable pointer.
func gcObj(t *Table) gcObject {
	if t == nil {
		return nil
	}
	return t
}

// barrier is the forward write barrier (§4.5): invoked when writing a
// white value into a black container, it marks the value gray
// immediately so the tri-color invariant never breaks.
func (g *gc) barrier(container gcObject, v Value) {
	ch, ok := v.(gcObject)
	if !ok {
		return
	}
	if container.header().isBlack() && ch.header().isWhite() {
		g.markRoot(ch)
	}
}

// barrierBack is the backward write barrier used for tables (§4.5):
// on the first write to a black table, the whole table reverts to
// gray and is pushed onto grayagain for a full rescan at atomic,
// rather than marking the single new value.
func (g *gc) barrierBack(t *Table) {
	if t.header().isBlack() {
		t.marked = colorGray
		g.grayagain = append(g.grayagain, t)
	}
}

// atomic is the stop-the-world phase: it rescans everything queued on
// grayagain (tables touched by the backward barrier during
// propagate), resolves ephemeron tables to a fixed point, and marks
// finalizable-but-unreachable objects for resurrection.
func (g *gc) atomic() {
	for _, o := range g.grayagain {
		g.markRoot(o)
	}
	g.grayagain = g.grayagain[:0]
	for n := int64(0); n < 10000 && len(g.gray) > 0; n++ {
		g.propagateStep(1 << 30)
	}
	g.resolveEphemerons()
	g.queueFinalizable()
}

// resolveEphemerons implements weak-key tables: a value is marked
// only if its key is independently reachable, iterated to a fixed
// point (§4.5).
func (g *gc) resolveEphemerons() {
	changed := true
	for changed {
		changed = false
		for _, t := range g.ephemeron {
			for i := range t.node {
				k := t.node[i].key
				if k == nil {
					continue
				}
				if ko, ok := k.(gcObject); ok && !ko.header().isWhite() {
					if vo, ok := t.node[i].val.(gcObject); ok && vo.header().isWhite() {
						g.markRoot(vo)
						changed = true
					}
				}
			}
		}
	}
}

// queueFinalizable moves still-white objects on finobj onto tobefnz,
// resurrecting them for one finalization pass (§3's lifecycle rule,
// §4.5's "Finalization").
func (g *gc) queueFinalizable() {
	var kept gcObject
	for o := g.finobj; o != nil; {
		next := o.header().next
		if o.header().isWhite() {
			o.header().marked = colorGray
			g.gray = append(g.gray, o)
			o.header().next = g.tobefnz
			g.tobefnz = o
		} else {
			o.header().next = kept
			kept = o
		}
		o = next
	}
	g.finobj = kept
}

// sweepStep frees a work-bounded number of dead (other-white, non-
// fixed) objects from list, unlinking strings from the intern table
// as it goes, and returns true once the whole list has been walked.
func (g *gc) sweepStep(list *gcObject, budget int64) bool {
	n := int64(0)
	cur := *list
	var kept gcObject
	var tail gcObject
	for cur != nil && n < budget {
		next := cur.header().next
		h := cur.header()
		if h.isFixed() || !((h.marked & g.otherWhite()) != 0) {
			h.marked = g.currentWhite | (h.marked &^ (colorWhite0 | colorWhite1 | colorGray | colorBlack))
			if kept == nil {
				kept = cur
			} else {
				tail.header().next = cur
			}
			tail = cur
		} else {
			if s, ok := cur.(*ShortString); ok {
				g.onStringFreed(s)
			}
		}
		cur = next
		n++
	}
	if tail != nil {
		tail.header().next = cur
	} else {
		kept = cur
	}
	*list = kept
	return cur == nil
}

// onStringFreed lets the owning StringTable unlink a collected short
// string; wired from GlobalState at construction.
func (g *gc) onStringFreed(s *ShortString) {
	if g.stringFreed != nil {
		g.stringFreed(s)
	}
}
