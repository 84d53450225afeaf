package mask

import (
	"fmt"
	"time"
)

// This file is the embedding API of §6: a host-facing surface over
// GlobalState/Thread covering state lifecycle, type queries, value
// readers/writers, table accessors, calls, load/dump, GC control,
// debug introspection, errors and coroutines. Rather than mimic a
// C stack-index API (push/pop/settop over an opaque integer-indexed
// stack), the host manipulates Go `Value`s directly and the Thread's
// register window is reserved for the VM itself -- the idiomatic Go
// shape for the same contract (§6's functional groups, mapped
// one-to-one onto Go methods).

// Close walks the GC's allgc list and calls the __gc metamethod of
// every table whose metatable has one, the embedding API's
// `lua_close` (§6's "State lifecycle"). The allgc list itself is left
// in place.
func (gs *GlobalState) Close() {
	for o := gs.gc.allgc; o != nil; o = o.header().next {
		if fc, ok := o.(*Table); ok {
			if mt := fc.Metatable; mt != nil {
				if fin := gs.getMetamethod(fc, MetaGC); fin != nil {
					_, _ = gs.Call(gs.mainThread, fin, []Value{fc}, 0)
				}
			}
		}
	}
}

// --- type queries ---

// TypeOf returns v's tag, the embedding API's `lua_type` (§6).
func TypeOf(v Value) Tag {
	if v == nil {
		return TagNil
	}
	return v.Tag()
}

// TypeName returns the human-readable name for a tag, `lua_typename`.
func TypeName(t Tag) string { return t.String() }

func IsNil(v Value) bool      { return TypeOf(v) == TagNil }
func IsBoolean(v Value) bool  { return TypeOf(v) == TagBoolean }
func IsNumber(v Value) bool   { return isNumber(v) }
func IsString(v Value) bool   { return isStringValue(v) }
func IsTable(v Value) bool    { return TypeOf(v) == TagTable }
func IsThread(v Value) bool   { return TypeOf(v) == TagThread }
func IsUserData(v Value) bool { return TypeOf(v) == TagFullUserData || TypeOf(v) == TagLightUserData }
func IsFunction(v Value) bool {
	switch TypeOf(v) {
	case TagClosure, TagCClosure, TagLightFunction:
		return true
	default:
		return false
	}
}

// --- value readers ---

// ToBoolean applies the language's truthiness rule (§3: everything
// but nil and false is truthy).
func ToBoolean(v Value) bool { return truthy(v) }

// ToInt reads v as an integer without raising (`lua_tointegerx`),
// accepting integral floats and numeric strings.
func ToInt(v Value) (int64, bool) { return toIntStrict(v) }

// ToFloat reads v as a float (`lua_tonumberx`).
func ToFloat(v Value) (float64, bool) { return asFloat(v) }

// ToString renders v, invoking __tostring when present on a table or
// userdata (`lua_tolstring`, §6).
func (gs *GlobalState) ToString(l *Thread, v Value) (string, error) {
	if h := gs.getMetamethod(v, MetaToString); h != nil {
		res, err := gs.call1(l, h, []Value{v})
		if err != nil {
			return "", err
		}
		if isStringValue(res) {
			return stringBytes(res), nil
		}
		return res.String(), nil
	}
	return v.String(), nil
}

// ToUserData reads a full or light userdata's payload, or false.
func ToUserData(v Value) (any, bool) {
	switch u := v.(type) {
	case *FullUserData:
		return u.Data, true
	case LightUserData:
		return u, true
	default:
		return nil, false
	}
}

// ToThread reads v as a *Thread, or false.
func ToThread(v Value) (*Thread, bool) {
	t, ok := v.(*Thread)
	return t, ok
}

// --- value writers ---

// NewTableWithHint creates a table pre-sized for the given array and
// hash-part capacities, `lua_createtable(narr, nrec)` (§6).
func (gs *GlobalState) NewTableWithHint(narr, nrec int) *Table {
	t := newTable(gs.gc)
	if narr > 0 {
		t.array = make([]Value, 0, narr)
	}
	if nrec > 0 {
		t.resizeHash(gs.gc, nrec)
	}
	return t
}

// NewUserData wraps an arbitrary host value as full userdata with
// nuvalues extra user-value slots, `lua_newuserdatauv` (§6).
func (gs *GlobalState) NewUserData(data any, nuvalues int) *FullUserData {
	u := &FullUserData{Data: data}
	if nuvalues > 0 {
		u.UserValues = make([]Value, nuvalues)
		for i := range u.UserValues {
			u.UserValues[i] = valNil
		}
	}
	gs.gc.link(u)
	return u
}

// NewCClosure wraps a host Go function plus its captured upvalues as
// a callable Value, `lua_pushcclosure` (§6).
func (gs *GlobalState) NewCClosure(fn func(l *Thread) (int, error), upvals ...Value) *CClosure {
	c := &CClosure{Fn: fn, Upvals: upvals}
	gs.gc.link(c)
	return c
}

// NewString interns or allocates a string value, the writer-side
// counterpart of `lua_pushlstring`.
func (gs *GlobalState) NewString(b []byte) Value {
	return NewString(gs.gc, gs.strings, b)
}

// --- table accessors ---

// GetField reads t[name] with full metamethod resolution
// (`lua_getfield`).
func (gs *GlobalState) GetField(l *Thread, t Value, name string) (Value, error) {
	return gs.Index(l, t, gs.NewString([]byte(name)))
}

// SetField writes t[name] = v with full metamethod resolution
// (`lua_setfield`).
func (gs *GlobalState) SetField(l *Thread, t Value, name string, v Value) error {
	return gs.NewIndex(l, t, gs.NewString([]byte(name)), v)
}

// GetIndex reads t[i] (`lua_geti`).
func (gs *GlobalState) GetIndex(l *Thread, t Value, i int64) (Value, error) {
	return gs.Index(l, t, Int(i))
}

// SetIndex writes t[i] = v (`lua_seti`).
func (gs *GlobalState) SetIndex(l *Thread, t Value, i int64, v Value) error {
	return gs.NewIndex(l, t, Int(i), v)
}

// RawGet/RawSet bypass metamethods entirely (`lua_rawget`/`rawset`).
func RawGet(t *Table, k Value) Value          { return t.Get(k) }
func RawSet(gs *GlobalState, t *Table, k, v Value) error { return t.Set(gs.gc, k, v) }

// RawLen is the raw (metamethod-free) length, `lua_rawlen`.
func RawLen(t *Table) int { return t.Len() }

// GetMetatable returns v's metatable, or nil, `lua_getmetatable`.
func (gs *GlobalState) GetMetatable(v Value) *Table { return gs.metatableOf(v) }

// SetMetatable installs mt as v's metatable, `lua_setmetatable`;
// only tables carry a settable per-value metatable in this model (the
// default-metatable-per-tag mechanism covers other types, §3).
func SetMetatable(v Value, mt *Table) error {
	t, ok := v.(*Table)
	if !ok {
		return fmt.Errorf("cannot set a metatable on a %s value", v.Tag())
	}
	if err := t.errIfFrozen(); err != nil {
		return err
	}
	t.Metatable = mt
	t.flags = 0
	return nil
}

// SetDefaultMetatable installs the shared metatable every value of
// tag t gets when it has none of its own, used by the standard
// library host wiring for strings etc. (§3's "default metatables").
func (gs *GlobalState) SetDefaultMetatable(t Tag, mt *Table) {
	gs.defaultMetatables[t] = mt
}

// --- load/dump ---

// LoadAny dispatches to the text parser or the binary undumper based
// on whether data begins with the binary chunk signature, the
// `load(reader, data, chunkname, mode="bt")` contract of §6.
func (gs *GlobalState) LoadAny(data []byte, chunkName string) (*Closure, error) {
	if len(data) >= len(binarySignature) && string(data[:len(binarySignature)]) == string(binarySignature) {
		proto, err := Undump(data, chunkName, gs.gc, gs.strings)
		if err != nil {
			return nil, err
		}
		cl := &Closure{Proto: proto}
		gs.gc.link(cl)
		envUp := &Upvalue{closed: true, value: gs.Globals()}
		gs.gc.link(envUp)
		cl.Upvals = []*Upvalue{envUp}
		return cl, nil
	}
	return gs.Load(data, chunkName)
}

// DumpClosure serializes c's prototype, `lua_dump` (§6).
func DumpClosure(c *Closure, strip bool) ([]byte, error) { return Dump(c, strip) }

// --- GC control ---

type GCOp int

const (
	GCStop GCOp = iota
	GCRestart
	GCCollect
	GCCount
	GCCountBytes
	GCStep
	GCSetPause
	GCSetStepMul
	GCIsRunning
	GCGen
	GCIncremental
)

// GCControl implements `lua_gc`'s dispatch-by-opcode surface (§6).
func (gs *GlobalState) GCControl(op GCOp, arg int) int {
	g := gs.gc
	switch op {
	case GCStop:
		g.running = false
		return 0
	case GCRestart:
		g.running = true
		return 0
	case GCCollect:
		wasRunning := g.running
		g.running = true
		if g.state == gcPause {
			g.step() // gcPause -> gcPropagate, so the loop below sees a real cycle
		}
		for g.state != gcPause {
			g.step()
		}
		g.running = wasRunning
		return 0
	case GCCount:
		return int(g.totalBytes / 1024)
	case GCCountBytes:
		return int(g.totalBytes)
	case GCStep:
		g.charge(int64(arg))
		return 0
	case GCSetPause:
		old := g.cfg.pause
		g.cfg.pause = arg
		return old
	case GCSetStepMul:
		old := g.cfg.stepMul
		g.cfg.stepMul = arg
		return old
	case GCIsRunning:
		if g.running {
			return 1
		}
		return 0
	case GCGen:
		g.mode = gcModeGenerational
		return 0
	case GCIncremental:
		g.mode = gcModeIncremental
		return 0
	}
	return 0
}

// --- debug ---

// DebugInfo holds what GetInfo reports about one call: source and
// line information, parameter and upvalue counts, and the kind of
// function (§6). It has no function-name field.
type DebugInfo struct {
	Source          string
	LineDefined     int
	LastLineDefined int
	CurrentLine     int
	NumParams       int
	IsVararg        bool
	NumUpvalues     int
	What            string // "Lua", "C", "main"
}

// GetInfo fills a DebugInfo for the call at the given level (0 =
// currently running function). It takes no option letters: for a
// script function every field is filled, for a Go function only What
// is set.
func GetInfo(l *Thread, level int) (*DebugInfo, bool) {
	ci := l.ci
	for i := 0; i < level && ci != nil; i++ {
		ci = ci.Prev
	}
	if ci == nil {
		return nil, false
	}
	info := &DebugInfo{}
	if ci.IsC {
		info.What = "C"
		return info, true
	}
	cl, ok := l.stack[ci.Func].(*Closure)
	if !ok {
		return info, true
	}
	p := cl.Proto
	info.Source = p.Source
	info.LineDefined = p.LineDefined
	info.LastLineDefined = p.LastLineDefined
	info.CurrentLine = p.LineAt(ci.SavedPC - 1)
	info.NumParams = p.NumParams
	info.IsVararg = p.IsVararg
	info.NumUpvalues = len(cl.Upvals)
	if p.LineDefined == 0 {
		info.What = "main"
	} else {
		info.What = "Lua"
	}
	return info, true
}

// GetLocal reads the name and value of the n-th active local at the
// given call level, `lua_getlocal` (§6).
func GetLocal(l *Thread, level, n int) (string, Value, bool) {
	ci := l.ci
	for i := 0; i < level && ci != nil; i++ {
		ci = ci.Prev
	}
	if ci == nil || ci.IsC {
		return "", nil, false
	}
	cl, ok := l.stack[ci.Func].(*Closure)
	if !ok {
		return "", nil, false
	}
	lv, ok := cl.Proto.LocalAt(ci.SavedPC-1, n)
	if !ok {
		return "", nil, false
	}
	return lv.Name, l.stack[ci.Base+lv.Reg], true
}

// SetLocal writes the n-th active local at the given call level,
// `lua_setlocal`.
func SetLocal(l *Thread, level, n int, v Value) bool {
	ci := l.ci
	for i := 0; i < level && ci != nil; i++ {
		ci = ci.Prev
	}
	if ci == nil || ci.IsC {
		return false
	}
	cl, ok := l.stack[ci.Func].(*Closure)
	if !ok {
		return false
	}
	lv, ok := cl.Proto.LocalAt(ci.SavedPC-1, n)
	if !ok {
		return false
	}
	l.stack[ci.Base+lv.Reg] = v
	return true
}

// GetUpvalue/SetUpvalue read and write a closure's n-th upvalue by
// index, `lua_getupvalue`/`lua_setupvalue` (§6).
func GetUpvalue(c *Closure, n int) (string, Value, bool) {
	if n < 0 || n >= len(c.Upvals) {
		return "", nil, false
	}
	name := ""
	if n < len(c.Proto.Upvalues) {
		name = c.Proto.Upvalues[n].Name
	}
	return name, c.Upvals[n].Get(), true
}

func SetUpvalue(gs *GlobalState, c *Closure, n int, v Value) bool {
	if n < 0 || n >= len(c.Upvals) {
		return false
	}
	c.Upvals[n].Set(gs.gc, v)
	return true
}

// --- errors ---

// RaiseError implements `lua_error(obj)`: wraps any Value as the
// payload of a *RuntimeError, to be caught by the nearest PCall.
func RaiseError(v Value) error {
	if s, ok := v.(interface{ Bytes() []byte }); ok {
		return &RuntimeError{Kind: ErrRun, Message: string(s.Bytes()), Value: v}
	}
	return &RuntimeError{Kind: ErrRun, Message: v.String(), Value: v}
}

// Warn emits a warning through the registered handler, `lua_warning`.
func (gs *GlobalState) Warn(msg string, toContinue bool) { gs.warn(msg, toContinue) }

// AtPanic installs the unprotected-error handler, `lua_atpanic`.
func (gs *GlobalState) AtPanic(f func(l *Thread, v Value)) { gs.SetPanicHandler(f) }

// SetILP configures the infinite-loop-prevention guard (§4.3, §9):
// once enabled, a backward jump count exceeding limit within a single
// VM entry raises a runtime error instead of looping forever.
func (gs *GlobalState) SetILP(enabled bool, limit int) {
	gs.ilpEnabled = enabled
	gs.ilpLimit = limit
}

// SetETL configures the execution-time-limit guard (§4.3, §5, §9): a
// single VM entry running longer than d raises a runtime error,
// checked at backward jumps to keep the wall-clock read off the hot
// straight-line path.
func (gs *GlobalState) SetETL(enabled bool, d time.Duration) {
	gs.etlEnabled = enabled
	gs.etlLimit = d
}

// CompileWarnings returns every advisory (§4.2 type-hint mismatches,
// plus §7's unreachable-code/shadow/deprecated classes) the compiler
// has collected across every chunk `Load`ed so far on this state.
func (gs *GlobalState) CompileWarnings() []Warning { return gs.sink.All() }

// ResetCompileWarnings discards previously collected warnings, so a
// host can scope CompileWarnings to just the next Load call.
func (gs *GlobalState) ResetCompileWarnings() { gs.sink.items = nil }
