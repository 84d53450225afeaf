package mask

import (
	"fmt"
	"math"
	"strings"
)

// binOp implements the arithmetic/bitwise opcodes of §4.2/§4.3: both
// operands integer keeps the result integer (except / and ^, which
// always produce float); otherwise both coerce to float; operands
// that aren't numbers (or numeric strings) fall back to the
// corresponding metamethod, mirroring the MMBIN fallback described in
// §4.2.
func (gs *GlobalState) binOp(l *Thread, op OpCode, a, b Value) (Value, error) {
	switch op {
	case OpDiv, OpPow:
		af, aok := asFloat(a)
		bf, bok := asFloat(b)
		if !aok || !bok {
			return gs.arithMetaFor(l, op, a, b)
		}
		if op == OpDiv {
			return Float(af / bf), nil
		}
		return Float(math.Pow(af, bf)), nil
	case OpBAnd, OpBOr, OpBXor, OpShl, OpShr:
		ai, aok := toIntStrict(a)
		bi, bok := toIntStrict(b)
		if !aok || !bok {
			return gs.arithMetaFor(l, op, a, b)
		}
		switch op {
		case OpBAnd:
			return Int(ai & bi), nil
		case OpBOr:
			return Int(ai | bi), nil
		case OpBXor:
			return Int(ai ^ bi), nil
		case OpShl:
			return Int(shiftLeft(ai, bi)), nil
		case OpShr:
			return Int(shiftRight(ai, bi)), nil
		}
	}

	ai, bi, af, bf, bothInt, ok := arithCoerce(a, b)
	if !ok {
		return gs.arithMetaFor(l, op, a, b)
	}
	if bothInt {
		switch op {
		case OpAdd:
			return Int(ai + bi), nil
		case OpSub:
			return Int(ai - bi), nil
		case OpMul:
			return Int(ai * bi), nil
		case OpMod:
			v, err := modInt(ai, bi)
			return Int(v), err
		case OpIDiv:
			v, err := floorDivInt(ai, bi)
			return Int(v), err
		}
	}
	switch op {
	case OpAdd:
		return Float(af + bf), nil
	case OpSub:
		return Float(af - bf), nil
	case OpMul:
		return Float(af * bf), nil
	case OpMod:
		return Float(modFloat(af, bf)), nil
	case OpIDiv:
		return Float(math.Floor(af / bf)), nil
	}
	return nil, fmt.Errorf("unreachable binop %s", op)
}

func (gs *GlobalState) arithMetaFor(l *Thread, op OpCode, a, b Value) (Value, error) {
	m, ok := opMetamethod[op]
	if !ok {
		return nil, &RuntimeError{Kind: ErrRun, Message: "bad operand for " + op.String()}
	}
	return gs.arithMeta(l, m, a, b)
}

var opMetamethod = map[OpCode]Metamethod{
	OpAdd: MetaAdd, OpSub: MetaSub, OpMul: MetaMul, OpMod: MetaMod,
	OpDiv: MetaDiv, OpIDiv: MetaIDiv, OpPow: MetaPow,
	OpBAnd: MetaBAnd, OpBOr: MetaBOr, OpBXor: MetaBXor,
	OpShl: MetaShl, OpShr: MetaShr,
}

// length implements the `#` operator: __len wins if present on a
// table, byte length for strings, array+hash border search otherwise
// (§3, §4.6).
func (gs *GlobalState) length(l *Thread, v Value) (Value, error) {
	switch v := v.(type) {
	case *ShortString:
		return Int(len(v.s)), nil
	case *LongString:
		return Int(len(v.s)), nil
	case *Table:
		if h := gs.getMetamethod(v, MetaLen); h != nil {
			return gs.call1(l, h, []Value{v})
		}
		return Int(v.Len()), nil
	default:
		if h := gs.getMetamethod(v, MetaLen); h != nil {
			return gs.call1(l, h, []Value{v})
		}
		return nil, &RuntimeError{Kind: ErrRun, Message: "attempt to get length of a " + v.Tag().String() + " value"}
	}
}

// concat folds vals into one string, per CONCAT's semantics (§4.2):
// adjacent numbers/strings are joined directly, anything else
// triggers __concat.
func (gs *GlobalState) concat(l *Thread, vals []Value) (Value, error) {
	if len(vals) == 0 {
		return NewString(gs.gc, gs.strings, nil), nil
	}
	acc := vals[len(vals)-1]
	for i := len(vals) - 2; i >= 0; i-- {
		cur := vals[i]
		if concatable(cur) && concatable(acc) {
			acc = NewString(gs.gc, gs.strings, []byte(concatString(cur)+concatString(acc)))
			continue
		}
		h := gs.getMetamethod(cur, MetaConcat)
		if h == nil {
			h = gs.getMetamethod(acc, MetaConcat)
		}
		if h == nil {
			bad := cur
			if concatable(cur) {
				bad = acc
			}
			return nil, &RuntimeError{Kind: ErrRun, Message: "attempt to concatenate a " + bad.Tag().String() + " value"}
		}
		v, err := gs.call1(l, h, []Value{cur, acc})
		if err != nil {
			return nil, err
		}
		acc = v
	}
	return acc, nil
}

func concatable(v Value) bool {
	switch v.(type) {
	case Int, Float, *ShortString, *LongString:
		return true
	default:
		return false
	}
}

func concatString(v Value) string {
	switch v := v.(type) {
	case Int, Float:
		return v.String()
	default:
		return stringBytes(v)
	}
}

// lessEqual implements `<=` with __le fallback (§4.6).
func (gs *GlobalState) lessEqual(l *Thread, a, b Value) (bool, error) {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af <= bf, nil
		}
	}
	if isStringValue(a) && isStringValue(b) {
		return stringBytes(a) <= stringBytes(b), nil
	}
	h := gs.getMetamethod(a, MetaLe)
	if h == nil {
		h = gs.getMetamethod(b, MetaLe)
	}
	if h == nil {
		return false, &RuntimeError{Kind: ErrRun, Message: "attempt to compare two " + a.Tag().String() + " values"}
	}
	v, err := gs.call1(l, h, []Value{a, b})
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// compareImm implements LTI/LEI/GTI/GEI: register-vs-immediate
// comparisons against a constant int in the instruction's B field.
func (gs *GlobalState) compareImm(l *Thread, op OpCode, a Value, imm int) (bool, error) {
	af, ok := asFloat(a)
	if !ok {
		return false, &RuntimeError{Kind: ErrRun, Message: "attempt to compare two " + a.Tag().String() + " values"}
	}
	bf := float64(imm)
	switch op {
	case OpLtI:
		return af < bf, nil
	case OpLeI:
		return af <= bf, nil
	case OpGtI:
		return af > bf, nil
	case OpGeI:
		return af >= bf, nil
	}
	return false, nil
}

// inOperator implements `x in t`: table membership (t[x] ~= nil) or
// substring test for strings, per §4.2.
func (gs *GlobalState) inOperator(l *Thread, x, container Value) (bool, error) {
	switch c := container.(type) {
	case *Table:
		v, err := gs.Index(l, c, x)
		if err != nil {
			return false, err
		}
		_, isNil := v.(Nil)
		return !isNil, nil
	case *ShortString, *LongString:
		if !isStringValue(x) {
			return false, &RuntimeError{Kind: ErrRun, Message: "attempt to search a string with a non-string value"}
		}
		return strings.Contains(stringBytes(c), stringBytes(x)), nil
	default:
		return false, &RuntimeError{Kind: ErrRun, Message: "attempt to use 'in' on a " + container.Tag().String() + " value"}
	}
}

// forPrep implements FORPREP: validates step != 0, computes whether
// the numeric for-loop body should run at all, and primes the
// counter/limit/step registers, using integer arithmetic when every
// operand is an integer, float otherwise (§4.2).
func (gs *GlobalState) forPrep(l *Thread, ci *CallInfo, ins Instruction) (skip bool, err error) {
	base := ci.Base + ins.A
	initV, limitV, stepV := l.stack[base], l.stack[base+1], l.stack[base+2]
	stepF, ok := asFloat(stepV)
	if !ok || stepF == 0 {
		return false, &RuntimeError{Kind: ErrRun, Message: "'for' step is zero or not a number"}
	}
	initF, ok1 := asFloat(initV)
	limitF, ok2 := asFloat(limitV)
	if !ok1 || !ok2 {
		return false, &RuntimeError{Kind: ErrRun, Message: "'for' initial value or limit is not a number"}
	}
	if stepF > 0 && initF > limitF {
		return true, nil
	}
	if stepF < 0 && initF < limitF {
		return true, nil
	}
	l.stack[base+3] = initV
	return false, nil
}

// forLoop implements FORLOOP: advances the control variable by step
// and reports whether the loop should continue, rounding toward -inf
// for integer loops per the language's general floor-division rule.
func (gs *GlobalState) forLoop(l *Thread, ci *CallInfo, ins Instruction) bool {
	base := ci.Base + ins.A
	initV, limitV, stepV := l.stack[base], l.stack[base+1], l.stack[base+2]
	ii, iok := initV.(Int)
	si, sok := stepV.(Int)
	li, lok := limitV.(Int)
	if iok && sok && lok {
		next := ii + si
		cont := (si > 0 && next <= li) || (si < 0 && next >= li)
		if cont {
			l.stack[base] = next
			l.stack[base+3] = next
		}
		return cont
	}
	initF, _ := asFloat(initV)
	stepF, _ := asFloat(stepV)
	limitF, _ := asFloat(limitV)
	next := initF + stepF
	cont := (stepF > 0 && next <= limitF) || (stepF < 0 && next >= limitF)
	if cont {
		l.stack[base] = Float(next)
		l.stack[base+3] = Float(next)
	}
	return cont
}

// tForCall implements TFORCALL: invokes the generic-for iterator
// function with (state, control) and stores its results starting at
// A+4, per §4.2.
func (gs *GlobalState) tForCall(l *Thread, ci *CallInfo, ins Instruction) error {
	base := ci.Base + ins.A
	iter := l.stack[base]
	state := l.stack[base+1]
	control := l.stack[base+2]
	results, err := gs.Call(l, iter, []Value{state, control}, ins.C)
	if err != nil {
		return err
	}
	for i := 0; i < ins.C; i++ {
		if i < len(results) {
			l.stack[base+4+i] = results[i]
		} else {
			l.stack[base+4+i] = valNil
		}
	}
	return nil
}
