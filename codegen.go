package mask

import "fmt"

// localVar is one name bound to a register within the current
// function, tracked so the parser can resolve identifiers and the
// debug info can record live ranges (§4.2).
type localVar struct {
	name     string
	reg      int
	isConst  bool
	isClose  bool
	startPC  int
}

// blockCnt is one entry of the nested-block stack described in §4.2:
// tracks break/continue patch lists, pending gotos, labels, whether
// this block is a loop, and whether any upvalue was captured inside
// it (forcing a CLOSE at exit).
type blockCnt struct {
	prev        *blockCnt
	firstLocal  int
	isLoop      bool
	hasUpval    bool
	hasTBC      bool
	breakList   jumpList
	continueList jumpList
	labels      map[string]int // label name -> pc
	pendingGotos []pendingGoto
}

type pendingGoto struct {
	name    string
	pc      int
	nactive int // number of active locals at the goto site, for the scoping check
	line    int
}

// funcState accumulates one function's compiled Prototype as the
// parser walks its body: the instruction stream, constant pool
// (deduplicated), nested prototypes, upvalue descriptors, active
// locals, and the block stack, plus a link to the enclosing function
// for upvalue resolution (§4.2).
type funcState struct {
	parent *funcState
	p      *Prototype

	code []Instruction

	constMap map[any]int

	actives []localVar
	freereg int

	block *blockCnt

	lastTarget int

	// localHints and signatures carry §4.2's type-hint machinery: a
	// local's own declared hint (keyed by its register), and a local
	// function's declared parameter/return hints (keyed by the
	// register holding its closure), so call sites and assignments
	// within this function can be checked against them.
	localHints map[int]TypeHint
	signatures map[int]funcSignature
	retHint    TypeHint
}

func newFuncState(parent *funcState, source string) *funcState {
	fs := &funcState{
		parent:     parent,
		p:          &Prototype{Source: source},
		constMap:   make(map[any]int),
		localHints: make(map[int]TypeHint),
		signatures: make(map[int]funcSignature),
	}
	return fs
}

func (fs *funcState) emit(ins Instruction, line int) int {
	ins.Line = line
	fs.code = append(fs.code, ins)
	return len(fs.code) - 1
}

func (fs *funcState) pc() int { return len(fs.code) }

// reserveReg allocates n consecutive registers from freereg, growing
// maxstacksize as needed (§4.2's "stack-like within an expression"
// register allocation).
func (fs *funcState) reserveReg(n int) int {
	r := fs.freereg
	fs.freereg += n
	if fs.freereg > fs.p.MaxStackSize {
		fs.p.MaxStackSize = fs.freereg
	}
	return r
}

func (fs *funcState) freeReg(to int) {
	if to < fs.freereg {
		fs.freereg = to
	}
}

// constIndex deduplicates and appends a constant value to the pool,
// per §4.2's "Constant folding ... stored in the constant pool
// deduplicated".
func (fs *funcState) constIndex(v Value) int {
	key := constKey(v)
	if idx, ok := fs.constMap[key]; ok {
		return idx
	}
	idx := len(fs.p.Constants)
	fs.p.Constants = append(fs.p.Constants, v)
	fs.constMap[key] = idx
	return idx
}

// constKey produces a comparable map key for a constant value so
// equal constants (including equal strings) dedupe correctly.
func constKey(v Value) any {
	switch v := v.(type) {
	case Int:
		return [2]any{"i", int64(v)}
	case Float:
		return [2]any{"f", float64(v)}
	case *ShortString:
		return [2]any{"s", v.s}
	case *LongString:
		return [2]any{"s", v.s}
	case Bool:
		return [2]any{"b", bool(v)}
	case Nil:
		return [2]any{"n", nil}
	default:
		return v
	}
}

// addLocal declares a new local at the next free register, per
// block-scoped local binding (§4.2).
func (fs *funcState) addLocal(name string) int {
	reg := fs.reserveReg(1)
	fs.actives = append(fs.actives, localVar{name: name, reg: reg, startPC: fs.pc()})
	return reg
}

// resolveLocal searches active locals innermost-first.
func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.actives) - 1; i >= 0; i-- {
		if fs.actives[i].name == name {
			return fs.actives[i].reg, true
		}
	}
	return 0, false
}

// resolveUpvalue finds or creates an upvalue descriptor for name by
// walking the enclosing function chain, marking the intervening
// block's hasUpval flag so a CLOSE is emitted at scope exit (§4.2).
func (fs *funcState) resolveUpvalue(name string) (int, bool) {
	for i, uv := range fs.p.Upvalues {
		if uv.Name == name {
			return i, true
		}
	}
	if fs.parent == nil {
		return 0, false
	}
	if reg, ok := fs.parent.resolveLocal(name); ok {
		if fs.parent.block != nil {
			fs.parent.block.hasUpval = true
		}
		idx := len(fs.p.Upvalues)
		fs.p.Upvalues = append(fs.p.Upvalues, UpvalDesc{Name: name, InStack: true, Index: reg})
		return idx, true
	}
	if idx, ok := fs.parent.resolveUpvalue(name); ok {
		i := len(fs.p.Upvalues)
		fs.p.Upvalues = append(fs.p.Upvalues, UpvalDesc{Name: name, InStack: false, Index: idx})
		return i, true
	}
	return 0, false
}

func (fs *funcState) enterBlock(isLoop bool) *blockCnt {
	b := &blockCnt{prev: fs.block, firstLocal: len(fs.actives), isLoop: isLoop, labels: map[string]int{}}
	fs.block = b
	return b
}

// leaveBlock pops the block, truncating active locals, patching
// break/continue jump lists to the given targets, and emitting a
// CLOSE if any upvalue was captured inside it (§4.2). Any goto that
// is still unresolved when its block ends is not necessarily an
// error: its label may be declared later in an enclosing block (the
// `if cond then goto skip end ... ::skip:: end` pattern), so
// it is propagated up to the parent block's pendingGotos instead.
// Only once the outermost block of the function body is reached with
// gotos still unresolved is that actually a "no visible label" error.
func (fs *funcState) leaveBlock(line int) error {
	b := fs.block
	if b.hasUpval {
		fs.emit(inst(OpClose, fs.registerOf(b.firstLocal), 0, 0), line)
	}
	if len(b.pendingGotos) > 0 {
		if b.prev == nil {
			g := b.pendingGotos[0]
			return fmt.Errorf("no visible label '%s' for goto at line %d", g.name, g.line)
		}
		b.prev.pendingGotos = append(b.prev.pendingGotos, b.pendingGotos...)
	}
	fs.actives = fs.actives[:b.firstLocal]
	fs.freeReg(fs.registerOf(b.firstLocal))
	fs.block = b.prev
	return nil
}

func (fs *funcState) registerOf(localIdx int) int {
	if localIdx >= len(fs.actives) {
		return fs.freereg
	}
	return fs.actives[localIdx].reg
}

// patchList back-patches every jmp in list to target pc `to`.
func (fs *funcState) patchList(list jumpList, to int) {
	for _, pc := range list {
		fs.code[pc].SJ = to - pc - 1
	}
}

func (fs *funcState) patchToHere(list jumpList) {
	fs.patchList(list, fs.pc())
}

func (fs *funcState) jump(line int) int {
	return fs.emit(Instruction{Op: OpJmp}, line)
}

func (fs *funcState) concatJumps(a, b jumpList) jumpList {
	return append(append(jumpList{}, a...), b...)
}

// finish freezes the accumulated code/constants into fs.p and returns
// it; called once the function body has been fully parsed.
func (fs *funcState) finish(numParams int, isVararg bool) *Prototype {
	fs.p.Code = fs.code
	fs.p.NumParams = numParams
	fs.p.IsVararg = isVararg
	if fs.p.MaxStackSize < 2 {
		fs.p.MaxStackSize = 2
	}
	return fs.p
}

// --- expdesc discharge, the lcode.c-style machinery that turns a
// partial expression result into code that leaves its value in a
// concrete register (§4.2). ---

func (fs *funcState) nilK() int    { return fs.constIndex(valNil) }
func (fs *funcState) kTrue() int   { return fs.constIndex(Bool(true)) }
func (fs *funcState) kFalse() int  { return fs.constIndex(Bool(false)) }

// dischargeToAnyReg ensures e's value sits in *some* register,
// allocating a fresh one only when e doesn't already name one.
func (fs *funcState) dischargeToAnyReg(e *expdesc, line int) {
	if e.kind != ENonReloc {
		fs.dischargeToNextReg(e, line)
	}
}

// dischargeToNextReg forces e's value into the next free register.
func (fs *funcState) dischargeToNextReg(e *expdesc, line int) {
	fs.dischargeVars(e, line)
	fs.freeExp(e)
	r := fs.reserveReg(1)
	fs.exp2reg(e, r, line)
}

// exp2reg materializes e into register r, emitting whatever LOAD*/MOVE
// instruction the expdesc's kind calls for, and patches any pending
// true/false jump lists to converge on r (§4.2's short-circuit
// patching).
func (fs *funcState) exp2reg(e *expdesc, r int, line int) {
	fs.dischargeVars(e, line)
	switch e.kind {
	case ENil:
		fs.emit(inst(OpLoadNil, r, 0, 0), line)
	case ETrue:
		fs.emit(inst(OpLoadTrue, r, 0, 0), line)
	case EFalse:
		fs.emit(inst(OpLoadFalse, r, 0, 0), line)
	case EInt:
		fs.emit(Instruction{Op: OpLoadI, A: r, Bx: int(e.ival)}, line)
	case EFloat:
		fs.emit(Instruction{Op: OpLoadF, A: r, Bx: int(e.fval)}, line)
	case EK:
		fs.emit(Instruction{Op: OpLoadK, A: r, Bx: e.kidx}, line)
	case ENonReloc:
		if e.reg != r {
			fs.emit(inst(OpMove, r, e.reg, 0), line)
		}
	case ERelocatable:
		fs.code[e.info].A = r
	case ECall, EVararg:
		fs.code[e.info].A = r
	case EJump:
		// a bare relational jump used as a value: materialize true/false.
	default:
	}
	if e.hasJumps() {
		end := fs.jump(line)
		p1 := fs.pc()
		fs.patchToHere(e.f)
		fs.emit(inst(OpLoadFalse, r, 0, 0), line)
		skip := fs.jump(line)
		p2 := fs.pc()
		fs.patchToHere(e.t)
		fs.emit(inst(OpLoadTrue, r, 0, 0), line)
		fs.patchToHere(jumpList{end})
		fs.patchList(jumpList{skip}, fs.pc())
		_ = p1
		_ = p2
	}
	e.kind = ENonReloc
	e.reg = r
	e.t, e.f = nil, nil
}

// dischargeVars resolves ELocal/EUpval/EIndexed into the actual
// GETUPVAL/GETTABLE/etc instruction, turning e into ENonReloc or
// ERelocatable as appropriate (§4.2).
func (fs *funcState) dischargeVars(e *expdesc, line int) {
	switch e.kind {
	case ELocal:
		e.kind = ENonReloc
	case EUpval:
		pc := fs.emit(Instruction{Op: OpGetUpval, B: e.info}, line)
		e.kind = ERelocatable
		e.info = pc
	case EIndexed:
		fs.dischargeIndexed(e, line)
	case EIndexUp:
		pc := fs.emit(Instruction{Op: OpGetTabUp, B: e.info, C: e.tIdx}, line)
		e.kind = ERelocatable
		e.info = pc
	case ECall:
		e.kind = ENonReloc
	case EVararg:
		fs.code[e.info].C = 2
		e.kind = ENonReloc
	default:
	}
}

func (fs *funcState) dischargeIndexed(e *expdesc, line int) {
	var op OpCode
	if e.tIsK {
		op = OpGetField
	} else {
		op = OpGetTable
	}
	pc := fs.emit(Instruction{Op: op, B: e.reg, C: e.tIdx, K: e.tIsK}, line)
	e.kind = ERelocatable
	e.info = pc
}

// freeExp releases nothing: its condition asks for e.reg to be both
// at or above freereg and equal to freereg-1, which never holds, so
// dischargeToNextReg always moves e into a fresh register (the concat
// path in emitBinary relies on that). Registers are returned only
// through explicit freeReg calls.
func (fs *funcState) freeExp(e *expdesc) {
	if e.kind == ENonReloc && e.reg >= fs.freereg-0 {
		if e.reg == fs.freereg-1 {
			fs.freeReg(e.reg)
		}
	}
}

// rkOperand materializes e for use as an RK (register-or-constant)
// operand, preferring a constant slot when possible.
func (fs *funcState) rkOperand(e *expdesc, line int) (idx int, isK bool) {
	switch e.kind {
	case EInt:
		return fs.constIndex(Int(e.ival)), true
	case EFloat:
		return fs.constIndex(Float(e.fval)), true
	case EK:
		return e.kidx, true
	case ENil:
		return fs.nilK(), true
	case ETrue:
		return fs.kTrue(), true
	case EFalse:
		return fs.kFalse(), true
	}
	fs.dischargeToAnyReg(e, line)
	return e.reg, false
}

// storeVar emits the assignment of value-register src into the
// variable described by target (local/upvalue/indexed/global), per
// §4.2's SETTABUP/SETTABLE/SETUPVAL/MOVE family.
func (fs *funcState) storeVar(target *expdesc, src *expdesc, line int) error {
	switch target.kind {
	case ELocal:
		fs.dischargeToAnyReg(src, line)
		fs.exp2reg(src, target.reg, line)
		return nil
	case EUpval:
		fs.dischargeToAnyReg(src, line)
		fs.emit(inst(OpSetUpval, src.reg, target.info, 0), line)
		return nil
	case EIndexed:
		ridx, isK := fs.rkOperand(src, line)
		if target.tIsK {
			fs.emit(Instruction{Op: OpSetField, A: target.reg, B: target.tIdx, C: ridx, K: isK}, line)
		} else {
			fs.emit(Instruction{Op: OpSetTable, A: target.reg, B: target.tIdx, C: ridx, K: isK}, line)
		}
		return nil
	case EIndexUp:
		ridx, isK := fs.rkOperand(src, line)
		fs.emit(Instruction{Op: OpSetTabUp, A: target.info, B: target.tIdx, C: ridx, K: isK}, line)
		return nil
	default:
		return fmt.Errorf("cannot assign to this expression")
	}
}
