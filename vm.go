package mask

import (
	"fmt"
	"time"
)

// maxCStackDepth bounds the non-yieldable C-call nesting the way
// §4.3's "per-thread non-yieldable calls counter" limits stack
// overflow from native re-entrancy.
const maxCStackDepth = 200

// etlCheckMask gates how often the execution-time limit reads the
// wall clock -- every 64th backward jump -- so ETL (§4.3, §5, §9's
// "wall-clock cap per VM entry") doesn't pay a time.Since call on
// every loop iteration.
const etlCheckMask = 63

// checkLoopGuards applies ILP and ETL (§4.3) to a loop-opcode
// backward jump the same way the OpJmp case does for an explicit
// `goto`/`continue`-compiled jump.
func (gs *GlobalState) checkLoopGuards(backwardJumps *int, startTime time.Time) error {
	if gs.ilpEnabled && *backwardJumps > gs.ilpLimit {
		return &RuntimeError{Kind: ErrRun, Message: "'for' loop did not make progress (ILP tripped)"}
	}
	if gs.etlEnabled && *backwardJumps&etlCheckMask == 0 && time.Since(startTime) > gs.etlLimit {
		return &RuntimeError{Kind: ErrRun, Message: "execution time limit exceeded"}
	}
	return nil
}

// Call invokes fn (a script closure, C closure, or light function)
// with args on thread l, requesting nResults results (-1 for "all"),
// per the CALL/TAILCALL semantics of §4.2/§4.3.
func (gs *GlobalState) Call(l *Thread, fn Value, args []Value, nResults int) ([]Value, error) {
	switch f := fn.(type) {
	case *Closure:
		return gs.callClosure(l, f, args, nResults)
	case *CClosure:
		return gs.callNative(l, f.Fn, args, nResults)
	case LightFunction:
		return gs.callNative(l, func(t *Thread) (int, error) { return f(t) }, args, nResults)
	default:
		h := gs.getMetamethod(fn, MetaCall)
		if h == nil {
			return nil, &RuntimeError{Kind: ErrRun, Message: "attempt to call a " + fn.Tag().String() + " value"}
		}
		return gs.Call(l, h, append([]Value{fn}, args...), nResults)
	}
}

func (gs *GlobalState) callNative(l *Thread, fn func(l *Thread) (int, error), args []Value, nResults int) ([]Value, error) {
	base := l.top
	l.ensureStack(base + len(args) + 8)
	copy(l.stack[base:], args)
	l.top = base + len(args)
	ci := &CallInfo{Func: base - 1, Base: base, Top: l.top, NResults: nResults, IsC: true, Prev: l.ci}
	if l.ci != nil {
		l.ci.Next = ci
	}
	l.ci = ci
	n, err := fn(l)
	results := append([]Value(nil), l.stack[base:base+n]...)
	l.ci = ci.Prev
	l.top = base
	if err != nil {
		return nil, err
	}
	return clampResults(results, nResults), nil
}

func clampResults(results []Value, nResults int) []Value {
	if nResults < 0 {
		return results
	}
	for len(results) < nResults {
		results = append(results, valNil)
	}
	return results[:nResults]
}

// callClosure pushes a fresh CallInfo for a script closure, runs the
// dispatch loop to completion (recursively, for nested calls), and
// returns its results. Tail calls are handled inside execute by
// overwriting the current frame rather than recursing (§4.3).
func (gs *GlobalState) callClosure(l *Thread, c *Closure, args []Value, nResults int) ([]Value, error) {
	p := c.Proto
	base := l.top + 1
	nargs := len(args)
	l.ensureStack(base + p.MaxStackSize + 8)
	l.stack[base-1] = c
	copy(l.stack[base:], args)

	if p.IsVararg && nargs > p.NumParams {
		// VARARGPREP: varargs are accessible via OpVarArg from the
		// registers beyond numparams; shift fixed params down isn't
		// needed in this register model since extras simply occupy
		// registers >= NumParams already.
	}
	for i := nargs; i < p.NumParams; i++ {
		l.stack[base+i] = valNil
	}

	ci := &CallInfo{Func: base - 1, Base: base, Top: base + p.MaxStackSize, NResults: nResults, Prev: l.ci}
	if l.ci != nil {
		l.ci.Next = ci
	}
	l.ci = ci
	l.top = ci.Top

	results, err := gs.execute(l, c, ci)

	l.closeUpvalsFrom(base)
	l.ci = ci.Prev
	l.top = base - 1
	if err != nil {
		return nil, err
	}
	return clampResults(results, nResults), nil
}

// execute is the fetch-decode-dispatch loop of §4.3. Registers are
// addressed relative to ci.Base; the constant pool is c.Proto.K.
func (gs *GlobalState) execute(l *Thread, c *Closure, ci *CallInfo) ([]Value, error) {
	p := c.Proto
	reg := func(i int) Value { return l.stack[ci.Base+i] }
	setReg := func(i int, v Value) { l.stack[ci.Base+i] = v }
	k := func(i int) Value { return p.Constants[i] }
	rk := func(idx int, isK bool) Value {
		if isK {
			return k(idx)
		}
		return reg(idx)
	}

	backwardJumps := 0
	startTime := time.Now()

	for ci.SavedPC < len(p.Code) {
		ins := p.Code[ci.SavedPC]
		pc := ci.SavedPC
		ci.SavedPC++

		switch ins.Op {
		case OpMove:
			setReg(ins.A, reg(ins.B))
		case OpLoadI:
			setReg(ins.A, Int(ins.Bx))
		case OpLoadF:
			setReg(ins.A, Float(ins.Bx))
		case OpLoadK:
			setReg(ins.A, k(ins.Bx))
		case OpLoadKX:
			ea := p.Code[ci.SavedPC]
			ci.SavedPC++
			setReg(ins.A, k(ea.Ax))
		case OpLoadFalse:
			setReg(ins.A, Bool(false))
		case OpLoadTrue:
			setReg(ins.A, Bool(true))
		case OpLFalseSkip:
			setReg(ins.A, Bool(false))
			ci.SavedPC++
		case OpLoadNil:
			for i := 0; i <= ins.B; i++ {
				setReg(ins.A+i, valNil)
			}

		case OpGetUpval:
			setReg(ins.A, c.Upvals[ins.B].Get())
		case OpSetUpval:
			c.Upvals[ins.B].Set(gs.gc, reg(ins.A))

		case OpGetTabUp:
			tbl := c.Upvals[ins.B].Get()
			key := k(ins.C)
			v, err := gs.Index(l, tbl, key)
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpSetTabUp:
			tbl := c.Upvals[ins.A].Get()
			key := k(ins.B)
			if err := gs.NewIndex(l, tbl, key, rk(ins.C, ins.K)); err != nil {
				return nil, gs.wrap(p, pc, err)
			}
		case OpGetTable:
			v, err := gs.Index(l, reg(ins.B), reg(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpGetI:
			v, err := gs.Index(l, reg(ins.B), Int(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpGetField:
			v, err := gs.Index(l, reg(ins.B), k(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpSetTable:
			if err := gs.NewIndex(l, reg(ins.A), reg(ins.B), rk(ins.C, ins.K)); err != nil {
				return nil, gs.wrap(p, pc, err)
			}
		case OpSetI:
			if err := gs.newIndexChecked(l, reg(ins.A), Int(ins.B), rk(ins.C, ins.K)); err != nil {
				return nil, gs.wrap(p, pc, err)
			}
		case OpSetField:
			if err := gs.NewIndex(l, reg(ins.A), k(ins.B), rk(ins.C, ins.K)); err != nil {
				return nil, gs.wrap(p, pc, err)
			}
		case OpNewTable:
			t := newTable(gs.gc)
			setReg(ins.A, t)
		case OpSelf:
			obj := reg(ins.B)
			setReg(ins.A+1, obj)
			v, err := gs.Index(l, obj, rk(ins.C, ins.K))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpSetList:
			t, ok := reg(ins.A).(*Table)
			if !ok {
				return nil, gs.wrap(p, pc, fmt.Errorf("attempt to initialize a non-table"))
			}
			n := ins.B
			if n == 0 {
				n = l.top - (ci.Base + ins.A + 1)
			}
			for i := 1; i <= n; i++ {
				t.Set(gs.gc, Int(ins.C+i), reg(ins.A+i))
			}

		case OpAdd, OpSub, OpMul, OpMod, OpDiv, OpIDiv, OpPow,
			OpBAnd, OpBOr, OpBXor, OpShl, OpShr:
			v, err := gs.binOp(l, ins.Op, reg(ins.B), reg(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpAddK, OpSubK, OpMulK, OpModK, OpDivK, OpIDivK, OpPowK,
			OpBAndK, OpBOrK, OpBXorK:
			v, err := gs.binOp(l, baseOpOf(ins.Op), reg(ins.B), k(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpAddI:
			v, err := gs.binOp(l, OpAdd, reg(ins.B), Int(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpShlI:
			v, err := gs.binOp(l, OpShl, reg(ins.B), Int(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpShrI:
			v, err := gs.binOp(l, OpShr, reg(ins.B), Int(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)
		case OpMMBin, OpMMBinI, OpMMBinK:
			// fallback is handled inline by binOp; these markers are
			// no-ops in this dispatch model.

		case OpUnm:
			v := reg(ins.B)
			switch n := v.(type) {
			case Int:
				setReg(ins.A, Int(-int64(n)))
			case Float:
				setReg(ins.A, Float(-float64(n)))
			default:
				r, err := gs.arithMeta(l, MetaUnm, v, v)
				if err != nil {
					return nil, gs.wrap(p, pc, err)
				}
				setReg(ins.A, r)
			}
		case OpBNot:
			iv, ok := toIntStrict(reg(ins.B))
			if !ok {
				r, err := gs.arithMeta(l, MetaBNot, reg(ins.B), reg(ins.B))
				if err != nil {
					return nil, gs.wrap(p, pc, err)
				}
				setReg(ins.A, r)
			} else {
				setReg(ins.A, Int(^iv))
			}
		case OpNot:
			setReg(ins.A, Bool(!truthy(reg(ins.B))))
		case OpLen:
			v, err := gs.length(l, reg(ins.B))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)

		case OpConcat:
			v, err := gs.concat(l, l.stack[ci.Base+ins.A:ci.Base+ins.A+ins.B])
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, v)

		case OpEq:
			eq, err := gs.equals(l, reg(ins.A), reg(ins.B))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			if eq != ins.K {
				ci.SavedPC++
			}
		case OpEqK:
			eq := rawEquals(reg(ins.A), k(ins.B))
			if eq != ins.K {
				ci.SavedPC++
			}
		case OpEqI:
			eq := rawEquals(reg(ins.A), Int(ins.B))
			if eq != ins.K {
				ci.SavedPC++
			}
		case OpLt:
			lt, err := gs.lessThan(l, reg(ins.A), reg(ins.B))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			if lt != ins.K {
				ci.SavedPC++
			}
		case OpLe:
			le, err := gs.lessEqual(l, reg(ins.A), reg(ins.B))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			if le != ins.K {
				ci.SavedPC++
			}
		case OpLtI, OpLeI, OpGtI, OpGeI:
			res, err := gs.compareImm(l, ins.Op, reg(ins.A), ins.B)
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			if res != ins.K {
				ci.SavedPC++
			}

		case OpJmp:
			ci.SavedPC += ins.SJ
			if ins.SJ < 0 {
				backwardJumps++
				if gs.ilpEnabled && backwardJumps > gs.ilpLimit {
					return nil, &RuntimeError{Kind: ErrRun, Message: "'for' loop did not make progress (ILP tripped)"}
				}
				if gs.etlEnabled && backwardJumps&etlCheckMask == 0 && time.Since(startTime) > gs.etlLimit {
					return nil, &RuntimeError{Kind: ErrRun, Message: "execution time limit exceeded"}
				}
			}
		case OpTest:
			if truthy(reg(ins.A)) != ins.K {
				ci.SavedPC++
			}
		case OpTestSet:
			if truthy(reg(ins.B)) == ins.K {
				setReg(ins.A, reg(ins.B))
			} else {
				ci.SavedPC++
			}

		case OpCall:
			res, err := gs.execCall(l, ci, ins)
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			nres := ins.C - 1
			for i, v := range res {
				if nres >= 0 && i >= nres {
					break
				}
				setReg(ins.A+i, v)
			}
			if nres < 0 {
				l.top = ci.Base + ins.A + len(res)
			} else {
				for i := len(res); i < nres; i++ {
					setReg(ins.A+i, valNil)
				}
			}
		case OpTailCall:
			res, err := gs.execCall(l, ci, ins)
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			return res, nil

		case OpReturn:
			n := ins.B - 1
			if n < 0 {
				n = l.top - (ci.Base + ins.A)
			}
			if ins.K != false {
				l.closeUpvalsFrom(ci.Base + ins.A)
			}
			return append([]Value(nil), l.stack[ci.Base+ins.A:ci.Base+ins.A+n]...), nil
		case OpReturn0:
			return nil, nil
		case OpReturn1:
			return []Value{reg(ins.A)}, nil

		case OpForPrep:
			stop, err := gs.forPrep(l, ci, ins)
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			if stop {
				ci.SavedPC += ins.Bx + 1
			}
		case OpForLoop:
			cont := gs.forLoop(l, ci, ins)
			if cont {
				ci.SavedPC -= ins.Bx
				backwardJumps++
				if err := gs.checkLoopGuards(&backwardJumps, startTime); err != nil {
					return nil, err
				}
			}

		case OpTForPrep:
			ci.SavedPC += ins.Bx
		case OpTForCall:
			if err := gs.tForCall(l, ci, ins); err != nil {
				return nil, gs.wrap(p, pc, err)
			}
		case OpTForLoop:
			if !isNilValue(reg(ins.A + 4)) {
				setReg(ins.A+2, reg(ins.A+4))
				ci.SavedPC -= ins.Bx
				backwardJumps++
				if err := gs.checkLoopGuards(&backwardJumps, startTime); err != nil {
					return nil, err
				}
			}

		case OpClosure:
			nested := p.Protos[ins.B]
			cl := &Closure{Proto: nested}
			gs.gc.link(cl)
			for _, ud := range nested.Upvalues {
				if ud.InStack {
					cl.Upvals = append(cl.Upvals, l.findOrCreateUpvalue(gs.gc, ci.Base+ud.Index))
				} else {
					cl.Upvals = append(cl.Upvals, c.Upvals[ud.Index])
				}
			}
			setReg(ins.A, cl)
		case OpClose:
			cause := l.runPendingClose(gs, ci.Base+ins.A, nil)
			l.closeUpvalsFrom(ci.Base + ins.A)
			if cause != nil {
				return nil, cause
			}
		case OpTBC:
			l.tbc = append(l.tbc, tbcEntry{slot: ci.Base + ins.A})

		case OpVarArgPrep:
			// varargs already live above NumParams in this register
			// model; nothing further to adjust.
		case OpVarArg:
			extra := l.top - (ci.Base + p.NumParams)
			extraStart := ci.Base + p.NumParams
			n := ins.C - 1
			if n < 0 {
				n = extra
			}
			for i := 0; i < n; i++ {
				if i < extra {
					setReg(ins.A+i, l.stack[extraStart+i])
				} else {
					setReg(ins.A+i, valNil)
				}
			}
			if n < 0 {
				l.top = ci.Base + ins.A + extra
			}

		case OpIn:
			v, err := gs.inOperator(l, reg(ins.B), reg(ins.C))
			if err != nil {
				return nil, gs.wrap(p, pc, err)
			}
			setReg(ins.A, Bool(v))
		case OpExtraArg:
			// consumed inline by LOADKX/etc.

		default:
			return nil, gs.wrap(p, pc, fmt.Errorf("unimplemented opcode %s", ins.Op))
		}
	}
	return nil, nil
}

func (gs *GlobalState) wrap(p *Prototype, pc int, err error) error {
	if re, ok := err.(*RuntimeError); ok {
		if re.Source == "" {
			re.WithSource(p.Source, p.LineAt(pc))
		}
		return re
	}
	return (&RuntimeError{Kind: ErrRun, Message: err.Error()}).WithSource(p.Source, p.LineAt(pc))
}

func isNilValue(v Value) bool {
	_, ok := v.(Nil)
	return ok || v == nil
}

func toIntStrict(v Value) (int64, bool) {
	switch v := v.(type) {
	case Int:
		return int64(v), true
	case Float:
		return floatToInt(float64(v), RoundEqualOnly)
	default:
		return 0, false
	}
}

// execCall gathers the CALL/TAILCALL argument window and dispatches
// through GlobalState.Call.
func (gs *GlobalState) execCall(l *Thread, ci *CallInfo, ins Instruction) ([]Value, error) {
	fn := l.stack[ci.Base+ins.A]
	nargs := ins.B - 1
	var args []Value
	if nargs < 0 {
		args = append([]Value(nil), l.stack[ci.Base+ins.A+1:l.top]...)
	} else {
		args = append([]Value(nil), l.stack[ci.Base+ins.A+1:ci.Base+ins.A+1+nargs]...)
	}
	nres := ins.C - 1
	return gs.Call(l, fn, args, nres)
}

func (gs *GlobalState) newIndexChecked(l *Thread, obj, key, val Value) error {
	t, ok := obj.(*Table)
	if ok {
		if err := t.errIfFrozen(); err != nil {
			return err
		}
	}
	return gs.NewIndex(l, obj, key, val)
}

func baseOpOf(op OpCode) OpCode {
	switch op {
	case OpAddK:
		return OpAdd
	case OpSubK:
		return OpSub
	case OpMulK:
		return OpMul
	case OpModK:
		return OpMod
	case OpDivK:
		return OpDiv
	case OpIDivK:
		return OpIDiv
	case OpPowK:
		return OpPow
	case OpBAndK:
		return OpBAnd
	case OpBOrK:
		return OpBOr
	case OpBXorK:
		return OpBXor
	default:
		return op
	}
}
