package mask

import (
	"fmt"
)

// Parser drives a single-pass recursive-descent parse that emits
// bytecode directly into the active funcState as it goes -- no
// separate AST stage, per §4.2's "single-pass parser/codegen".
type Parser struct {
	lex       *Lexer
	cur, next *Token
	fs        *funcState
	warnings  *warningConfig
	sink      *warningSink
	chunkName string
	tokIndex  int

	gc      *gc
	strings *StringTable
}

// Compile parses and compiles src into a top-level Prototype, per the
// embedding API's `load` (§6). warnings/sink may be nil, in which case
// a private pair is used and advisories are simply discarded. String
// constants in the compiled chunk are interned through gcRef/st so
// they participate in the running program's string table and GC from
// the moment the chunk is loaded (§3, §6).
func Compile(src []byte, chunkName string, gcRef *gc, st *StringTable, warnings *warningConfig, sink *warningSink) (*Prototype, error) {
	if warnings == nil {
		warnings = newWarningConfig()
	}
	if sink == nil {
		sink = &warningSink{}
	}
	lex := NewLexer(src, chunkName)
	p := &Parser{lex: lex, warnings: warnings, sink: sink, chunkName: chunkName, gc: gcRef, strings: st}
	if err := p.advance(); err != nil {
		return nil, err
	}

	fs := newFuncState(nil, chunkName)
	fs.p.Upvalues = append(fs.p.Upvalues, UpvalDesc{Name: "_ENV", InStack: false, Index: 0})
	fs.p.IsVararg = true
	fs.p.LineDefined = 0
	p.fs = fs
	fs.enterBlock(false)

	if err := p.block(); err != nil {
		return nil, err
	}
	if p.cur.Kind != TokEOF {
		return nil, p.errf("'%s' unexpected", tokenText(p.cur))
	}
	fs.emit(Instruction{Op: OpReturn0}, p.cur.Line)
	if err := fs.leaveBlock(p.cur.Line); err != nil {
		return nil, err
	}
	warnings.loadDirectives(lex.warnings)
	return fs.finish(0, true), nil
}

func (p *Parser) errf(format string, args ...any) error {
	line := 0
	if p.cur != nil {
		line = p.cur.Line
	}
	return &SyntaxError{Chunk: p.chunkName, Line: line, Message: fmt.Sprintf(format, args...)}
}

func tokenText(t *Token) string {
	if t == nil {
		return "<eof>"
	}
	if t.Kind == TokEOF {
		return "<eof>"
	}
	if t.Str != "" {
		return t.Str
	}
	return "?"
}

func (p *Parser) advance() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	p.tokIndex++
	return nil
}

func (p *Parser) check(k TokenKind) bool { return p.cur.Kind == k }

func (p *Parser) accept(k TokenKind) (bool, error) {
	if p.cur.Kind == k {
		if err := p.advance(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) expect(k TokenKind, what string) error {
	if p.cur.Kind != k {
		return p.errf("'%s' expected near '%s'", what, tokenText(p.cur))
	}
	return p.advance()
}

func (p *Parser) line() int { return p.cur.Line }

// --- blocks and statements ---

func blockFollow(k TokenKind) bool {
	switch k {
	case TokEOF, TokEnd, TokElse, TokElseif, TokUntil, TokCase, TokDefault:
		return true
	default:
		return false
	}
}

func (p *Parser) block() error {
	for !blockFollow(p.cur.Kind) {
		if p.cur.Kind == TokReturn {
			return p.returnStat()
		}
		isLast, err := p.statement()
		if err != nil {
			return err
		}
		if isLast {
			return nil
		}
	}
	return nil
}

// statement parses one statement, returning true if it was a
// block-terminating statement (return was handled by the caller
// directly; this covers the rest).
func (p *Parser) statement() (bool, error) {
	line := p.line()
	switch p.cur.Kind {
	case TokSemi:
		return false, p.advance()
	case TokIf:
		return false, p.ifStat()
	case TokWhile:
		return false, p.whileStat()
	case TokDo:
		if err := p.advance(); err != nil {
			return false, err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return false, err
		}
		if err := p.fs.leaveBlock(p.line()); err != nil {
			return false, err
		}
		return false, p.expect(TokEnd, "end")
	case TokFor:
		return false, p.forStat()
	case TokRepeat:
		return false, p.repeatStat()
	case TokFunction:
		return false, p.funcStat()
	case TokLocal:
		return false, p.localStat()
	case TokDColon:
		return false, p.labelStat()
	case TokBreak:
		if err := p.breakStat(line); err != nil {
			return false, err
		}
		p.markUnreachableAfterJump(line)
		return false, nil
	case TokContinue:
		p.checkDeprecatedKeyword()
		if err := p.continueStat(line); err != nil {
			return false, err
		}
		p.markUnreachableAfterJump(line)
		return false, nil
	case TokGoto:
		if err := p.gotoStat(line); err != nil {
			return false, err
		}
		p.markUnreachableAfterJump(line)
		return false, nil
	case TokSwitch:
		p.checkDeprecatedKeyword()
		return false, p.switchStat()
	case TokEnum:
		p.checkDeprecatedKeyword()
		return false, p.enumStat()
	case TokIncr:
		_, err := p.expr()
		return false, err
	default:
		return false, p.exprOrAssignStat()
	}
}

func (p *Parser) returnStat() error {
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	var nret int
	var args []expdesc
	if !blockFollow(p.cur.Kind) && p.cur.Kind != TokSemi {
		var err error
		args, err = p.exprList()
		if err != nil {
			return err
		}
	}
	p.checkReturnHint(args, line)
	base := p.fs.freereg
	multi := false
	for i := range args {
		isLastCallOrVararg := i == len(args)-1 && (args[i].kind == ECall || args[i].kind == EVararg)
		if isLastCallOrVararg {
			if len(args) == 1 && args[i].kind == ECall {
				base = args[i].reg
			}
			p.fs.dischargeVars(&args[i], line)
			if args[i].kind == ECall {
				p.fs.code[args[i].info].C = 0
			} else {
				p.fs.code[args[i].info].C = 0
			}
			multi = true
		} else {
			p.fs.dischargeToNextReg(&args[i], line)
		}
	}
	nret = len(args)
	if multi {
		p.fs.emit(Instruction{Op: OpReturn, A: base, B: 0}, line)
	} else if nret == 0 {
		p.fs.emit(Instruction{Op: OpReturn0}, line)
	} else if nret == 1 {
		p.fs.emit(Instruction{Op: OpReturn1, A: base}, line)
	} else {
		p.fs.emit(Instruction{Op: OpReturn, A: base, B: nret + 1}, line)
	}
	if _, err := p.accept(TokSemi); err != nil {
		return err
	}
	return nil
}

func (p *Parser) ifStat() error {
	var endJumps jumpList
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	cond, err := p.expr()
	if err != nil {
		return err
	}
	if err := p.expect(TokThen, "then"); err != nil {
		return err
	}
	falseList, err := p.gotoIfFalse(&cond, line)
	if err != nil {
		return err
	}
	p.fs.enterBlock(false)
	if err := p.block(); err != nil {
		return err
	}
	if err := p.fs.leaveBlock(p.line()); err != nil {
		return err
	}
	for p.cur.Kind == TokElseif {
		j := p.fs.jump(p.line())
		endJumps = p.fs.concatJumps(endJumps, jumpList{j})
		p.fs.patchToHere(falseList)
		if err := p.advance(); err != nil {
			return err
		}
		c2, err := p.expr()
		if err != nil {
			return err
		}
		if err := p.expect(TokThen, "then"); err != nil {
			return err
		}
		falseList, err = p.gotoIfFalse(&c2, p.line())
		if err != nil {
			return err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return err
		}
		if err := p.fs.leaveBlock(p.line()); err != nil {
			return err
		}
	}
	if p.cur.Kind == TokElse {
		j := p.fs.jump(p.line())
		endJumps = p.fs.concatJumps(endJumps, jumpList{j})
		p.fs.patchToHere(falseList)
		if err := p.advance(); err != nil {
			return err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return err
		}
		if err := p.fs.leaveBlock(p.line()); err != nil {
			return err
		}
	} else {
		p.fs.patchToHere(falseList)
	}
	p.fs.patchToHere(endJumps)
	return p.expect(TokEnd, "end")
}

// gotoIfFalse discharges cond as a boolean test and returns the jump
// list to patch for the "false" branch, emitting TEST+JMP (§4.2).
func (p *Parser) gotoIfFalse(cond *expdesc, line int) (jumpList, error) {
	p.fs.dischargeToAnyReg(cond, line)
	p.fs.emit(Instruction{Op: OpTest, A: cond.reg, K: false}, line)
	j := p.fs.jump(line)
	falseList := p.fs.concatJumps(cond.f, jumpList{j})
	p.fs.patchToHere(cond.t)
	return falseList, nil
}

func (p *Parser) whileStat() error {
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	top := p.fs.pc()
	cond, err := p.expr()
	if err != nil {
		return err
	}
	if err := p.expect(TokDo, "do"); err != nil {
		return err
	}
	falseList, err := p.gotoIfFalse(&cond, line)
	if err != nil {
		return err
	}
	b := p.fs.enterBlock(true)
	if err := p.block(); err != nil {
		return err
	}
	back := p.fs.jump(p.line())
	p.fs.code[back].SJ = top - back - 1
	p.fs.patchToHere(b.breakList)
	if err := p.fs.leaveBlock(p.line()); err != nil {
		return err
	}
	p.fs.patchToHere(falseList)
	return p.expect(TokEnd, "end")
}

func (p *Parser) repeatStat() error {
	if err := p.advance(); err != nil {
		return err
	}
	top := p.fs.pc()
	b := p.fs.enterBlock(true)
	if err := p.block(); err != nil {
		return err
	}
	if err := p.expect(TokUntil, "until"); err != nil {
		return err
	}
	cond, err := p.expr()
	if err != nil {
		return err
	}
	p.fs.dischargeToAnyReg(&cond, p.line())
	p.fs.emit(Instruction{Op: OpTest, A: cond.reg, K: false}, p.line())
	j := p.fs.jump(p.line())
	p.fs.code[j].SJ = top - j - 1
	p.fs.patchToHere(b.breakList)
	return p.fs.leaveBlock(p.line())
}

func (p *Parser) breakStat(line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	b := p.fs.block
	for b != nil && !b.isLoop {
		b = b.prev
	}
	if b == nil {
		return p.errf("break outside a loop")
	}
	j := p.fs.jump(line)
	b.breakList = p.fs.concatJumps(b.breakList, jumpList{j})
	return nil
}

func (p *Parser) continueStat(line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	b := p.fs.block
	for b != nil && !b.isLoop {
		b = b.prev
	}
	if b == nil {
		return p.errf("continue outside a loop")
	}
	j := p.fs.jump(line)
	b.continueList = p.fs.concatJumps(b.continueList, jumpList{j})
	return nil
}

func (p *Parser) labelStat() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != TokName {
		return p.errf("name expected")
	}
	name := p.cur.Str
	if err := p.advance(); err != nil {
		return err
	}
	pc := p.fs.pc()
	p.fs.block.labels[name] = pc
	if err := p.patchPendingGotos(name, pc); err != nil {
		return err
	}
	return p.expect(TokDColon, "::")
}

// patchPendingGotos resolves every pending forward goto in the
// current block that targets name, now that its label has a known
// pc. A goto may only jump to a point where no new local has come
// into scope since the goto was parsed (§4.2's label-reachability
// invariant); nactive -- the active-local count captured at the goto
// site -- makes that check possible.
func (p *Parser) patchPendingGotos(name string, pc int) error {
	b := p.fs.block
	remaining := b.pendingGotos[:0]
	for _, g := range b.pendingGotos {
		if g.name != name {
			remaining = append(remaining, g)
			continue
		}
		if len(p.fs.actives) > g.nactive {
			return fmt.Errorf("goto '%s' at line %d jumps into the scope of a local variable", g.name, g.line)
		}
		p.fs.code[g.pc].SJ = pc - g.pc - 1
	}
	b.pendingGotos = remaining
	return nil
}

func (p *Parser) gotoStat(line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != TokName {
		return p.errf("name expected")
	}
	name := p.cur.Str
	if err := p.advance(); err != nil {
		return err
	}
	for b := p.fs.block; b != nil; b = b.prev {
		if pc, ok := b.labels[name]; ok {
			j := p.fs.jump(line)
			p.fs.code[j].SJ = pc - j - 1
			return nil
		}
	}
	j := p.fs.jump(line)
	p.fs.block.pendingGotos = append(p.fs.block.pendingGotos, pendingGoto{name: name, pc: j, nactive: len(p.fs.actives), line: line})
	return nil
}

// switchStat desugars `switch e case v1: ... case v2: ... default: ...
// end` into a chain of equality tests against a single evaluation of
// e, since the instruction set has no native switch/jump-table op.
func (p *Parser) switchStat() error {
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	subj, err := p.expr()
	if err != nil {
		return err
	}
	p.fs.dischargeToNextReg(&subj, line)
	var endJumps jumpList
	for p.cur.Kind == TokCase {
		if err := p.advance(); err != nil {
			return err
		}
		caseLine := p.line()
		val, err := p.expr()
		if err != nil {
			return err
		}
		ridx, isK := p.fs.rkOperand(&val, caseLine)
		eqOp := OpEq
		if isK {
			eqOp = OpEqK
		}
		// K=false: the jump to the next case is taken when the values differ.
		p.fs.emit(Instruction{Op: eqOp, A: subj.reg, B: ridx, K: false}, caseLine)
		skip := p.fs.jump(caseLine)
		if err := p.expect(TokColon, ":"); err != nil {
			return err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return err
		}
		if err := p.fs.leaveBlock(p.line()); err != nil {
			return err
		}
		j := p.fs.jump(p.line())
		endJumps = p.fs.concatJumps(endJumps, jumpList{j})
		p.fs.patchToHere(jumpList{skip})
	}
	if p.cur.Kind == TokDefault {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expect(TokColon, ":"); err != nil {
			return err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return err
		}
		if err := p.fs.leaveBlock(p.line()); err != nil {
			return err
		}
	}
	p.fs.patchToHere(endJumps)
	return p.expect(TokEnd, "end")
}

// enumStat desugars `enum Name begin A, B, C end` into successive
// local integer-constant declarations, since there is no dedicated
// enum value kind in §3's value model.
func (p *Parser) enumStat() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != TokName {
		return p.errf("name expected after 'enum'")
	}
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expect(TokBegin, "begin"); err != nil {
		return err
	}
	n := int64(0)
	for p.cur.Kind == TokName {
		memberName := p.cur.Str
		line := p.line()
		if err := p.advance(); err != nil {
			return err
		}
		if p.cur.Kind == TokAssign {
			if err := p.advance(); err != nil {
				return err
			}
			v, err := p.expr()
			if err != nil {
				return err
			}
			if v.kind == EInt {
				n = v.ival
			}
		}
		e := expdesc{kind: EInt, ival: n}
		p.declareLocal(memberName, &e, line)
		n++
		if ok, err := p.accept(TokComma); err != nil {
			return err
		} else if !ok {
			break
		}
	}
	return p.expect(TokEnd, "end")
}

func (p *Parser) declareLocal(name string, init *expdesc, line int) {
	p.fs.dischargeToNextReg(init, line)
	p.fs.actives = append(p.fs.actives, localVar{name: name, reg: init.reg, startPC: p.fs.pc()})
}

func (p *Parser) localStat() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind == TokFunction {
		return p.localFuncStat()
	}
	type pendingLocal struct {
		name    string
		isConst bool
		isClose bool
		hint    TypeHint
	}
	var names []pendingLocal
	for {
		if p.cur.Kind != TokName {
			return p.errf("name expected")
		}
		name := p.cur.Str
		if err := p.advance(); err != nil {
			return err
		}
		hint, err := p.parseTypeHint()
		if err != nil {
			return err
		}
		attrib := pendingLocal{name: name, hint: hint}
		if p.cur.Kind == TokLt {
			if err := p.advance(); err != nil {
				return err
			}
			if p.cur.Kind != TokName {
				return p.errf("attribute name expected")
			}
			switch p.cur.Str {
			case "const":
				attrib.isConst = true
			case "close":
				attrib.isClose = true
			default:
				return p.errf("unknown attribute '%s'", p.cur.Str)
			}
			if err := p.advance(); err != nil {
				return err
			}
			if err := p.expect(TokGt, ">"); err != nil {
				return err
			}
		}
		names = append(names, attrib)
		ok, err := p.accept(TokComma)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	var exprs []expdesc
	if ok, err := p.accept(TokAssign); err != nil {
		return err
	} else if ok {
		exprs, err = p.exprList()
		if err != nil {
			return err
		}
	}
	line := p.line()
	for i, n := range names {
		if i < len(exprs) {
			p.checkAssignHint(n.hint, &exprs[i], line, n.name)
		}
	}
	p.adjustAssignList(len(names), exprs, line)
	base := p.fs.freereg - len(names)
	for i, n := range names {
		reg := base + i
		p.checkShadow(n.name, line)
		p.fs.actives = append(p.fs.actives, localVar{name: n.name, reg: reg, isConst: n.isConst, isClose: n.isClose, startPC: p.fs.pc()})
		if !n.hint.none() {
			p.fs.localHints[reg] = n.hint
		}
		if n.isClose {
			p.fs.emit(inst(OpTBC, reg, 0, 0), line)
			p.fs.block.hasTBC = true
		}
	}
	return nil
}

// adjustAssignList discharges exprs to nwanted consecutive fresh
// registers, expanding the last multi-result expression or padding
// with nil as needed (§4.2's general assignment-arity rule).
func (p *Parser) adjustAssignList(nwanted int, exprs []expdesc, line int) {
	have := len(exprs)
	for i := 0; i < have; i++ {
		isLast := i == have-1
		if isLast && (exprs[i].kind == ECall || exprs[i].kind == EVararg) {
			extra := nwanted - have + 1
			if extra < 0 {
				extra = 0
			}
			isCall := exprs[i].kind == ECall
			p.fs.dischargeVars(&exprs[i], line)
			p.fs.code[exprs[i].info].C = extra + 1
			if !isCall {
				p.fs.reserveReg(extra)
			} else if extra > 1 {
				// the call's own register already holds the first result
				p.fs.reserveReg(extra - 1)
			}
			// the expanded results already fill nwanted registers
			return
		} else {
			p.fs.dischargeToNextReg(&exprs[i], line)
		}
	}
	for i := have; i < nwanted; i++ {
		p.fs.emit(inst(OpLoadNil, p.fs.reserveReg(1), 0, 0), line)
	}
}

func (p *Parser) localFuncStat() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != TokName {
		return p.errf("name expected")
	}
	name := p.cur.Str
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	reg := p.fs.reserveReg(1)
	p.fs.actives = append(p.fs.actives, localVar{name: name, reg: reg, startPC: p.fs.pc()})
	return p.funcBody(false, line, reg, name)
}

// funcStat parses `function Name.field...[:method](...) ... end`,
// assigning the resulting closure back into the (possibly dotted,
// possibly method-colon) target name (§4.2).
func (p *Parser) funcStat() error {
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != TokName {
		return p.errf("name expected")
	}
	target, err := p.singleVar(p.cur.Str)
	if err != nil {
		return err
	}
	fnName := p.cur.Str
	if err := p.advance(); err != nil {
		return err
	}
	isMethod := false
	for p.cur.Kind == TokDot || p.cur.Kind == TokColon {
		isMethodTok := p.cur.Kind == TokColon
		if err := p.advance(); err != nil {
			return err
		}
		if p.cur.Kind != TokName {
			return p.errf("name expected")
		}
		fieldName := p.cur.Str
		if err := p.advance(); err != nil {
			return err
		}
		fnName += "." + fieldName
		p.fs.dischargeToAnyReg(&target, line)
		kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(fieldName)))
		target = expdesc{kind: EIndexed, reg: target.reg, tIdx: kidx, tIsK: true}
		if isMethodTok {
			isMethod = true
			break
		}
	}
	reg := p.fs.freereg
	if err := p.funcBody(isMethod, line, -1, fnName); err != nil {
		return err
	}
	val := expdesc{kind: ENonReloc, reg: reg}
	return p.fs.storeVar(&target, &val, line)
}

// funcBody parses `(params) block end` and either assigns the
// resulting CLOSURE into preReservedReg (a local-function forward
// declaration) or leaves it in a fresh register at the current
// freereg top (anonymous/field-assigned case).
func (p *Parser) funcBody(isMethod bool, line int, preReservedReg int, name string) error {
	child := newFuncState(p.fs, p.chunkName)
	child.p.LineDefined = line
	prevFS := p.fs
	p.fs = child
	child.enterBlock(false)

	if err := p.expect(TokLParen, "("); err != nil {
		return err
	}
	nparams := 0
	var paramHints []TypeHint
	if isMethod {
		child.addLocal("self")
		nparams++
		paramHints = append(paramHints, TypeHint{})
	}
	isVararg := false
	if p.cur.Kind != TokRParen {
		for {
			if p.cur.Kind == TokEllipsis {
				isVararg = true
				if err := p.advance(); err != nil {
					return err
				}
				break
			}
			if p.cur.Kind != TokName {
				return p.errf("parameter name expected")
			}
			pname := p.cur.Str
			if err := p.advance(); err != nil {
				return err
			}
			hint, err := p.parseTypeHint()
			if err != nil {
				return err
			}
			reg := child.addLocal(pname)
			if !hint.none() {
				child.localHints[reg] = hint
			}
			paramHints = append(paramHints, hint)
			nparams++
			ok, err := p.accept(TokComma)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
	}
	if err := p.expect(TokRParen, ")"); err != nil {
		return err
	}
	retHint, err := p.parseTypeHint()
	if err != nil {
		return err
	}
	child.retHint = retHint

	if err := p.block(); err != nil {
		return err
	}
	endLine := p.line()
	child.p.LastLineDefined = endLine
	child.emit(Instruction{Op: OpReturn0}, endLine)
	if err := child.leaveBlock(endLine); err != nil {
		return err
	}
	proto := child.finish(nparams, isVararg)

	p.fs = prevFS
	p.fs.p.Protos = append(p.fs.p.Protos, proto)
	protoIdx := len(p.fs.p.Protos) - 1

	reg := preReservedReg
	if reg < 0 {
		reg = p.fs.reserveReg(1)
	}
	if name != "" && preReservedReg >= 0 {
		// Only a register that backs an actual `local function` binding
		// (preReservedReg >= 0) can ever be re-resolved as an ELocal
		// callee later; registering a signature against a throwaway
		// temp (the `function M.foo` field-assignment case) risks a
		// stale hit if that register is later reused for an unrelated
		// local.
		p.fs.signatures[reg] = funcSignature{
			name:     name,
			params:   paramHints,
			ret:      retHint,
			isVararg: isVararg,
		}
	}
	p.fs.emit(Instruction{Op: OpClosure, A: reg, B: protoIdx}, line)
	return p.expect(TokEnd, "end")
}

func (p *Parser) forStat() error {
	line := p.line()
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != TokName {
		return p.errf("name expected")
	}
	firstName := p.cur.Str
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind == TokAssign {
		return p.numericFor(firstName, line)
	}
	return p.genericFor(firstName, line)
}

func (p *Parser) numericFor(name string, line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	base := p.fs.freereg
	initE, err := p.expr()
	if err != nil {
		return err
	}
	p.fs.dischargeToNextReg(&initE, line)
	if err := p.expect(TokComma, ","); err != nil {
		return err
	}
	limitE, err := p.expr()
	if err != nil {
		return err
	}
	p.fs.dischargeToNextReg(&limitE, line)
	if ok, err := p.accept(TokComma); err != nil {
		return err
	} else if ok {
		stepE, err := p.expr()
		if err != nil {
			return err
		}
		p.fs.dischargeToNextReg(&stepE, line)
	} else {
		one := expdesc{kind: EInt, ival: 1}
		p.fs.dischargeToNextReg(&one, line)
	}
	p.fs.reserveReg(1) // control variable copy
	if err := p.expect(TokDo, "do"); err != nil {
		return err
	}
	prep := p.fs.emit(Instruction{Op: OpForPrep, A: base}, line)
	b := p.fs.enterBlock(true)
	p.fs.actives = append(p.fs.actives, localVar{name: name, reg: base + 3, startPC: p.fs.pc()})
	if err := p.block(); err != nil {
		return err
	}
	loopLine := p.line()
	loop := p.fs.emit(Instruction{Op: OpForLoop, A: base}, loopLine)
	p.fs.code[loop].Bx = loop - prep
	p.fs.code[prep].Bx = loop - prep - 1
	p.fs.patchToHere(b.breakList)
	if err := p.fs.leaveBlock(loopLine); err != nil {
		return err
	}
	p.fs.freeReg(base)
	return p.expect(TokEnd, "end")
}

func (p *Parser) genericFor(firstName string, line int) error {
	names := []string{firstName}
	for {
		ok, err := p.accept(TokComma)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if p.cur.Kind != TokName {
			return p.errf("name expected")
		}
		names = append(names, p.cur.Str)
		if err := p.advance(); err != nil {
			return err
		}
	}
	if err := p.expect(TokIn, "in"); err != nil {
		return err
	}
	base := p.fs.freereg
	exprs, err := p.exprList()
	if err != nil {
		return err
	}
	p.adjustAssignList(4, exprs, line)
	if err := p.expect(TokDo, "do"); err != nil {
		return err
	}
	prepPC := p.fs.emit(Instruction{Op: OpTForPrep}, line)
	b := p.fs.enterBlock(true)
	for i, nm := range names {
		p.fs.actives = append(p.fs.actives, localVar{name: nm, reg: base + 4 + i, startPC: p.fs.pc()})
	}
	p.fs.reserveReg(len(names))
	if err := p.block(); err != nil {
		return err
	}
	loopLine := p.line()
	callPC := p.fs.emit(Instruction{Op: OpTForCall, A: base, C: len(names)}, loopLine)
	loopPC := p.fs.emit(Instruction{Op: OpTForLoop, A: base}, loopLine)
	p.fs.code[prepPC].Bx = callPC - prepPC - 1
	p.fs.code[loopPC].Bx = loopPC - prepPC
	p.fs.patchToHere(b.breakList)
	if err := p.fs.leaveBlock(loopLine); err != nil {
		return err
	}
	p.fs.freeReg(base)
	return p.expect(TokEnd, "end")
}

// exprOrAssignStat parses a statement starting with a primary
// expression: either a bare call, or an assignment (possibly
// multi-target, possibly compound, possibly walrus) (§4.2).
func (p *Parser) exprOrAssignStat() error {
	line := p.line()
	first, err := p.suffixedExpr()
	if err != nil {
		return err
	}
	if p.cur.Kind == TokWalrus {
		if first.kind != EIndexUp && first.kind != ELocal {
			return p.errf("invalid target for ':='")
		}
		return p.walrusAssign(first, line)
	}
	if isCompoundAssign(p.cur.Kind) {
		return p.compoundAssign(first, line)
	}
	if p.cur.Kind == TokAssign || p.cur.Kind == TokComma {
		return p.assignStat(first, line)
	}
	if first.kind != ECall {
		return p.errf("syntax error near '%s'", tokenText(p.cur))
	}
	p.fs.code[first.info].C = 1
	return nil
}

func (p *Parser) walrusAssign(target expdesc, line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	val, err := p.expr()
	if err != nil {
		return err
	}
	var name string
	if target.kind == ELocal {
		for _, lv := range p.fs.actives {
			if lv.reg == target.reg {
				name = lv.name
				break
			}
		}
	}
	if name == "" {
		name = "_"
	}
	p.declareLocal(name, &val, line)
	return nil
}

func isCompoundAssign(k TokenKind) bool {
	switch k {
	case TokPlusEq, TokMinusEq, TokStarEq, TokSlashEq, TokDSlashEq, TokPercentEq,
		TokCaretEq, TokConcatEq, TokAmpEq, TokPipeEq, TokXorEq, TokLtLtEq, TokGtGtEq,
		TokNullCoalesceEq:
		return true
	}
	return false
}

var compoundBinOp = map[TokenKind]OpCode{
	TokPlusEq: OpAdd, TokMinusEq: OpSub, TokStarEq: OpMul, TokSlashEq: OpDiv,
	TokDSlashEq: OpIDiv, TokPercentEq: OpMod, TokCaretEq: OpPow,
	TokAmpEq: OpBAnd, TokPipeEq: OpBOr, TokXorEq: OpBXor,
	TokLtLtEq: OpShl, TokGtGtEq: OpShr,
}

func (p *Parser) compoundAssign(target expdesc, line int) error {
	tokKind := p.cur.Kind
	if err := p.advance(); err != nil {
		return err
	}
	rhs, err := p.expr()
	if err != nil {
		return err
	}
	if tokKind == TokConcatEq {
		cur := target
		p.fs.dischargeToNextReg(&cur, line)
		p.fs.dischargeToNextReg(&rhs, line)
		res := expdesc{kind: ENonReloc, reg: cur.reg}
		p.fs.emit(inst(OpConcat, cur.reg, 2, 0), line)
		return p.fs.storeVar(&target, &res, line)
	}
	if tokKind == TokNullCoalesceEq {
		// target = target ?? rhs  -- only assign when target is nil.
		cur := target
		p.fs.dischargeToAnyReg(&cur, line)
		p.fs.emit(Instruction{Op: OpEqK, A: cur.reg, B: p.fs.nilK(), K: true}, line)
		skip := p.fs.jump(line)
		p.fs.dischargeToAnyReg(&rhs, line)
		valCopy := expdesc{kind: ENonReloc, reg: rhs.reg}
		if err := p.fs.storeVar(&target, &valCopy, line); err != nil {
			return err
		}
		p.fs.patchToHere(jumpList{skip})
		return nil
	}
	op, ok := compoundBinOp[tokKind]
	if !ok {
		return p.errf("unsupported compound assignment")
	}
	left := target
	p.fs.dischargeToAnyReg(&left, line)
	ridx, isK := p.fs.rkOperand(&rhs, line)
	result := p.fs.reserveReg(1)
	p.fs.emit(Instruction{Op: binOpK(op), A: result, B: left.reg, C: ridx, K: isK}, line)
	if !isK {
		p.fs.code[len(p.fs.code)-1].Op = op
	}
	out := expdesc{kind: ENonReloc, reg: result}
	return p.fs.storeVar(&target, &out, line)
}

func binOpK(op OpCode) OpCode {
	switch op {
	case OpAdd:
		return OpAddK
	case OpSub:
		return OpSubK
	case OpMul:
		return OpMulK
	case OpMod:
		return OpModK
	case OpDiv:
		return OpDivK
	case OpIDiv:
		return OpIDivK
	case OpPow:
		return OpPowK
	case OpBAnd:
		return OpBAndK
	case OpBOr:
		return OpBOrK
	case OpBXor:
		return OpBXorK
	default:
		return op
	}
}

// assignStat handles `a, b.c, d[e] = v1, v2, ...` multi-target
// assignment, evaluating all targets' table/key parts before any
// values, per the usual left-to-right-then-assign discipline (§4.2).
func (p *Parser) assignStat(first expdesc, line int) error {
	targets := []expdesc{first}
	for p.cur.Kind == TokComma {
		if err := p.advance(); err != nil {
			return err
		}
		t, err := p.suffixedExpr()
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}
	if err := p.expect(TokAssign, "="); err != nil {
		return err
	}
	exprs, err := p.exprList()
	if err != nil {
		return err
	}
	p.adjustAssignList(len(targets), exprs, line)
	base := p.fs.freereg - len(targets)
	for i := len(targets) - 1; i >= 0; i-- {
		src := expdesc{kind: ENonReloc, reg: base + i}
		if err := p.fs.storeVar(&targets[i], &src, line); err != nil {
			return err
		}
	}
	p.fs.freeReg(base)
	return nil
}

// --- expressions ---

func (p *Parser) exprList() ([]expdesc, error) {
	var out []expdesc
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	out = append(out, e)
	for {
		ok, err := p.accept(TokComma)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// expr parses the full precedence ladder down to `or`, which is the
// lowest-precedence binary operator, then handles the ternary
// `cond ? a : b` and null-coalesce `a ?? b` forms above it.
func (p *Parser) expr() (expdesc, error) {
	e, err := p.orExpr()
	if err != nil {
		return e, err
	}
	if p.cur.Kind == TokQuestion {
		return p.ternary(e)
	}
	if p.cur.Kind == TokNullCoalesce {
		return p.nullCoalesce(e)
	}
	return e, nil
}

func (p *Parser) ternary(cond expdesc) (expdesc, error) {
	line := p.line()
	if err := p.advance(); err != nil {
		return cond, err
	}
	falseList, err := p.gotoIfFalse(&cond, line)
	if err != nil {
		return cond, err
	}
	thenE, err := p.expr()
	if err != nil {
		return thenE, err
	}
	reg := p.fs.freereg
	p.fs.dischargeToNextReg(&thenE, line)
	skip := p.fs.jump(p.line())
	p.fs.patchToHere(falseList)
	if err := p.expect(TokColon, ":"); err != nil {
		return thenE, err
	}
	elseE, err := p.expr()
	if err != nil {
		return elseE, err
	}
	p.fs.freeReg(reg)
	p.fs.dischargeToNextReg(&elseE, p.line())
	p.fs.patchToHere(jumpList{skip})
	return expdesc{kind: ENonReloc, reg: reg}, nil
}

func (p *Parser) nullCoalesce(a expdesc) (expdesc, error) {
	line := p.line()
	if err := p.advance(); err != nil {
		return a, err
	}
	p.fs.dischargeToAnyReg(&a, line)
	reg := a.reg
	p.fs.emit(Instruction{Op: OpEqK, A: reg, B: p.fs.nilK(), K: false}, line)
	skip := p.fs.jump(line)
	b, err := p.expr()
	if err != nil {
		return a, err
	}
	p.fs.exp2reg(&b, reg, p.line())
	p.fs.patchToHere(jumpList{skip})
	return expdesc{kind: ENonReloc, reg: reg}, nil
}

type binLevel struct {
	left, right int
}

var binPriority = map[TokenKind]binLevel{
	TokOr:  {1, 1},
	TokAnd: {2, 2},
	TokLt:  {3, 3}, TokGt: {3, 3}, TokLe: {3, 3}, TokGe: {3, 3}, TokNe: {3, 3}, TokEq: {3, 3},
	TokIn: {3, 3},
	TokPipe: {4, 4}, TokTilde: {5, 5}, TokAmp: {6, 6},
	TokLtLt: {7, 7}, TokGtGt: {7, 7},
	TokConcat: {9, 8}, // right-assoc
	TokPlus:   {10, 10}, TokMinus: {10, 10},
	TokStar: {11, 11}, TokSlash: {11, 11}, TokDSlash: {11, 11}, TokPercent: {11, 11},
	TokCaret: {14, 13}, // right-assoc
}

const unaryPriority = 12

func (p *Parser) orExpr() (expdesc, error) { return p.subExpr(0) }

// subExpr implements precedence climbing over the binary-operator
// table, handling `and`/`or` short-circuit jump patching specially
// and routing everything else through binOp/concat (§4.2).
func (p *Parser) subExpr(limit int) (expdesc, error) {
	var e expdesc
	var err error
	if isUnaryOp(p.cur.Kind) {
		op := p.cur.Kind
		line := p.line()
		if err := p.advance(); err != nil {
			return e, err
		}
		operand, err := p.subExpr(unaryPriority)
		if err != nil {
			return e, err
		}
		e, err = p.emitUnary(op, operand, line)
		if err != nil {
			return e, err
		}
	} else {
		e, err = p.simpleExpr()
		if err != nil {
			return e, err
		}
	}
	for {
		pr, ok := binPriority[p.cur.Kind]
		if !ok || pr.left <= limit {
			break
		}
		op := p.cur.Kind
		line := p.line()
		if err := p.advance(); err != nil {
			return e, err
		}
		if op == TokAnd {
			falseList, ferr := p.gotoIfFalseNoFlip(&e, line)
			if ferr != nil {
				return e, ferr
			}
			rhs, rerr := p.subExpr(pr.right)
			if rerr != nil {
				return e, rerr
			}
			e = expdesc{kind: rhs.kind, ival: rhs.ival, fval: rhs.fval, kidx: rhs.kidx, reg: rhs.reg, info: rhs.info, tIdx: rhs.tIdx, tIsK: rhs.tIsK, t: rhs.t, f: p.fs.concatJumps(rhs.f, falseList)}
			continue
		}
		if op == TokOr {
			trueList, terr := p.gotoIfTrue(&e, line)
			if terr != nil {
				return e, terr
			}
			rhs, rerr := p.subExpr(pr.right)
			if rerr != nil {
				return e, rerr
			}
			e = expdesc{kind: rhs.kind, ival: rhs.ival, fval: rhs.fval, kidx: rhs.kidx, reg: rhs.reg, info: rhs.info, tIdx: rhs.tIdx, tIsK: rhs.tIsK, f: rhs.f, t: p.fs.concatJumps(rhs.t, trueList)}
			continue
		}
		rhs, rerr := p.subExpr(pr.right)
		if rerr != nil {
			return e, rerr
		}
		e, err = p.emitBinary(op, e, rhs, line)
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

func (p *Parser) gotoIfFalseNoFlip(e *expdesc, line int) (jumpList, error) {
	return p.gotoIfFalse(e, line)
}

func (p *Parser) gotoIfTrue(e *expdesc, line int) (jumpList, error) {
	p.fs.dischargeToAnyReg(e, line)
	p.fs.emit(Instruction{Op: OpTest, A: e.reg, K: true}, line)
	j := p.fs.jump(line)
	trueList := p.fs.concatJumps(e.t, jumpList{j})
	p.fs.patchToHere(e.f)
	return trueList, nil
}

func isUnaryOp(k TokenKind) bool {
	switch k {
	case TokNot, TokMinus, TokHash, TokTilde, TokIncr:
		return true
	}
	return false
}

func (p *Parser) emitUnary(op TokenKind, e expdesc, line int) (expdesc, error) {
	switch op {
	case TokMinus:
		if e.kind == EInt {
			e.ival = -e.ival
			return e, nil
		}
		if e.kind == EFloat {
			e.fval = -e.fval
			return e, nil
		}
		p.fs.dischargeToAnyReg(&e, line)
		pc := p.fs.emit(inst(OpUnm, 0, e.reg, 0), line)
		return expdesc{kind: ERelocatable, info: pc}, nil
	case TokNot:
		p.fs.dischargeToAnyReg(&e, line)
		pc := p.fs.emit(inst(OpNot, 0, e.reg, 0), line)
		return expdesc{kind: ERelocatable, info: pc}, nil
	case TokHash:
		p.fs.dischargeToAnyReg(&e, line)
		pc := p.fs.emit(inst(OpLen, 0, e.reg, 0), line)
		return expdesc{kind: ERelocatable, info: pc}, nil
	case TokTilde:
		p.fs.dischargeToAnyReg(&e, line)
		pc := p.fs.emit(inst(OpBNot, 0, e.reg, 0), line)
		return expdesc{kind: ERelocatable, info: pc}, nil
	case TokIncr:
		// prefix ++x: x = x + 1, evaluates to the new value.
		target := e
		p.fs.dischargeToAnyReg(&e, line)
		result := p.fs.reserveReg(1)
		p.fs.emit(Instruction{Op: OpAddI, A: result, B: e.reg, C: 1}, line)
		out := expdesc{kind: ENonReloc, reg: result}
		if err := p.fs.storeVar(&target, &out, line); err != nil {
			return e, err
		}
		return expdesc{kind: ENonReloc, reg: result}, nil
	}
	return e, fmt.Errorf("bad unary operator")
}

var binOpMap = map[TokenKind]OpCode{
	TokPlus: OpAdd, TokMinus: OpSub, TokStar: OpMul, TokSlash: OpDiv,
	TokDSlash: OpIDiv, TokPercent: OpMod, TokCaret: OpPow,
	TokAmp: OpBAnd, TokPipe: OpBOr, TokTilde: OpBXor,
	TokLtLt: OpShl, TokGtGt: OpShr,
}

func (p *Parser) emitBinary(op TokenKind, a, b expdesc, line int) (expdesc, error) {
	switch op {
	case TokConcat:
		reg := p.fs.freereg
		p.fs.dischargeToNextReg(&a, line)
		p.fs.dischargeToNextReg(&b, line)
		p.fs.freeReg(reg)
		p.fs.reserveReg(2)
		pc := p.fs.emit(inst(OpConcat, reg, 2, 0), line)
		p.fs.freeReg(reg + 1)
		_ = pc
		return expdesc{kind: ENonReloc, reg: reg}, nil
	case TokEq, TokNe, TokLt, TokGt, TokLe, TokGe:
		return p.emitCompare(op, a, b, line)
	case TokIn:
		p.fs.dischargeToAnyReg(&a, line)
		p.fs.dischargeToAnyReg(&b, line)
		pc := p.fs.emit(inst(OpIn, 0, a.reg, b.reg), line)
		return expdesc{kind: ERelocatable, info: pc}, nil
	}
	opcode, ok := binOpMap[op]
	if !ok {
		return a, fmt.Errorf("bad binary operator")
	}
	p.fs.dischargeToAnyReg(&a, line)
	ridx, isK := p.fs.rkOperand(&b, line)
	if isK {
		pc := p.fs.emit(Instruction{Op: binOpK(opcode), B: a.reg, C: ridx, K: true}, line)
		return expdesc{kind: ERelocatable, info: pc}, nil
	}
	pc := p.fs.emit(Instruction{Op: opcode, B: a.reg, C: ridx}, line)
	return expdesc{kind: ERelocatable, info: pc}, nil
}

// emitCompare produces a boolean-valued expdesc (via jump lists)
// rather than immediately materializing true/false, so it composes
// with and/or/if without extra instructions, matching §4.2's
// "comparisons set true/false jump lists" design.
func (p *Parser) emitCompare(op TokenKind, a, b expdesc, line int) (expdesc, error) {
	p.fs.dischargeToAnyReg(&a, line)
	ridx, isK := p.fs.rkOperand(&b, line)
	var want bool
	var opcode OpCode
	switch op {
	case TokEq:
		opcode, want = OpEq, true
	case TokNe:
		opcode, want = OpEq, false
	case TokLt:
		opcode, want = OpLt, true
	case TokGt:
		opcode, want = OpLe, false
	case TokLe:
		opcode, want = OpLe, true
	case TokGe:
		opcode, want = OpLt, false
	}
	if isK {
		opcode = OpEqK
		if op == TokLt || op == TokGt || op == TokLe || op == TokGe {
			p.fs.dischargeToAnyReg(&b, line)
			ridx, isK = b.reg, false
			switch op {
			case TokLt:
				opcode, want = OpLt, true
			case TokGt:
				opcode, want = OpLe, false
			case TokLe:
				opcode, want = OpLe, true
			case TokGe:
				opcode, want = OpLt, false
			}
		}
	}
	p.fs.emit(Instruction{Op: opcode, A: a.reg, B: ridx, K: want}, line)
	j := p.fs.jump(line)
	e := expdesc{kind: EJump, info: j}
	e.f = jumpList{j}
	return e, nil
}

// simpleExpr parses a single non-binary expression term: literals,
// table/function constructors, f-strings, prefix expressions.
func (p *Parser) simpleExpr() (expdesc, error) {
	line := p.line()
	switch p.cur.Kind {
	case TokInt:
		v := int64(p.cur.Int)
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: EInt, ival: v}, nil
	case TokFloat:
		v := p.cur.Float
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: EFloat, fval: v}, nil
	case TokString:
		s := p.cur.Str
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(s)))
		return expdesc{kind: EK, kidx: kidx}, nil
	case TokFString:
		return p.fstringExpr(line)
	case TokNil:
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: ENil}, nil
	case TokTrue:
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: ETrue}, nil
	case TokFalse:
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: EFalse}, nil
	case TokEllipsis:
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		pc := p.fs.emit(Instruction{Op: OpVarArg, C: 2}, line)
		return expdesc{kind: EVararg, info: pc}, nil
	case TokLBrace:
		return p.tableConstructor()
	case TokFunction:
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		reg := p.fs.freereg
		if err := p.funcBody(false, line, -1, ""); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: ENonReloc, reg: reg}, nil
	case TokPipe:
		return p.lambdaExpr(line)
	default:
		return p.suffixedExpr()
	}
}

// lambdaExpr parses `|params| expr` or `|params| -> expr`, a compact
// anonymous function whose body is a single return expression.
func (p *Parser) lambdaExpr(line int) (expdesc, error) {
	if err := p.advance(); err != nil {
		return expdesc{}, err
	}
	child := newFuncState(p.fs, p.chunkName)
	child.p.LineDefined = line
	prevFS := p.fs
	p.fs = child
	child.enterBlock(false)
	nparams := 0
	if p.cur.Kind != TokPipe {
		for {
			if p.cur.Kind != TokName {
				return expdesc{}, p.errf("parameter name expected")
			}
			child.addLocal(p.cur.Str)
			nparams++
			if err := p.advance(); err != nil {
				return expdesc{}, err
			}
			ok, err := p.accept(TokComma)
			if err != nil {
				return expdesc{}, err
			}
			if !ok {
				break
			}
		}
	}
	if err := p.expect(TokPipe, "|"); err != nil {
		return expdesc{}, err
	}
	if _, err := p.accept(TokArrow); err != nil {
		return expdesc{}, err
	}
	bodyExpr, err := p.expr()
	if err != nil {
		return expdesc{}, err
	}
	base := child.freereg
	child.dischargeToNextReg(&bodyExpr, p.line())
	child.emit(Instruction{Op: OpReturn1, A: base}, p.line())
	if err := child.leaveBlock(p.line()); err != nil {
		return expdesc{}, err
	}
	proto := child.finish(nparams, false)

	p.fs = prevFS
	p.fs.p.Protos = append(p.fs.p.Protos, proto)
	idx := len(p.fs.p.Protos) - 1
	reg := p.fs.reserveReg(1)
	p.fs.emit(Instruction{Op: OpClosure, A: reg, B: idx}, line)
	return expdesc{kind: ENonReloc, reg: reg}, nil
}

// fstringExpr desugars `$"a {x} b"` into a CONCAT of its literal
// pieces and interpolated names, using the parts the lexer already
// split out (§4.1).
func (p *Parser) fstringExpr(line int) (expdesc, error) {
	parts := p.lex.LastFStringParts()
	if err := p.advance(); err != nil {
		return expdesc{}, err
	}
	if len(parts) == 0 {
		kidx := p.fs.constIndex(NewString(p.gc, p.strings, nil))
		return expdesc{kind: EK, kidx: kidx}, nil
	}
	base := p.fs.freereg
	n := 0
	for _, part := range parts {
		var e expdesc
		if part.IsLiteral {
			kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(part.Text)))
			e = expdesc{kind: EK, kidx: kidx}
		} else {
			var err error
			e, err = p.singleVar(part.Name)
			if err != nil {
				return expdesc{}, err
			}
		}
		p.fs.dischargeToNextReg(&e, line)
		n++
	}
	p.fs.emit(inst(OpConcat, base, n, 0), line)
	p.fs.freeReg(base + 1)
	return expdesc{kind: ENonReloc, reg: base}, nil
}

// tableConstructor parses `{ [k]=v, name=v, v, ... }`, routing
// positional entries through SETLIST and keyed entries through
// SETFIELD/SETTABLE, per §4.2.
func (p *Parser) tableConstructor() (expdesc, error) {
	line := p.line()
	if err := p.advance(); err != nil {
		return expdesc{}, err
	}
	reg := p.fs.reserveReg(1)
	p.fs.emit(inst(OpNewTable, reg, 0, 0), line)
	arrayIdx := 0
	pending := 0
	for p.cur.Kind != TokRBrace {
		switch {
		case p.cur.Kind == TokLBracket:
			if err := p.advance(); err != nil {
				return expdesc{}, err
			}
			key, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			if err := p.expect(TokRBracket, "]"); err != nil {
				return expdesc{}, err
			}
			if err := p.expect(TokAssign, "="); err != nil {
				return expdesc{}, err
			}
			val, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			kidx, kIsK := p.fs.rkOperand(&key, line)
			vidx, vIsK := p.fs.rkOperand(&val, line)
			p.fs.emit(Instruction{Op: OpSetTable, A: reg, B: kidx, C: vidx, K: kIsK || vIsK}, line)
		case p.cur.Kind == TokName && p.peekIsAssign():
			fieldName := p.cur.Str
			if err := p.advance(); err != nil {
				return expdesc{}, err
			}
			if err := p.advance(); err != nil { // consume '='
				return expdesc{}, err
			}
			val, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(fieldName)))
			vidx, isK := p.fs.rkOperand(&val, line)
			p.fs.emit(Instruction{Op: OpSetField, A: reg, B: kidx, C: vidx, K: isK}, line)
		default:
			val, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			p.fs.dischargeToNextReg(&val, line)
			arrayIdx++
			pending++
			if pending >= 50 {
				p.fs.emit(Instruction{Op: OpSetList, A: reg, B: pending, C: arrayIdx - pending}, line)
				p.fs.freeReg(reg + 1)
				pending = 0
			}
		}
		ok1, err := p.accept(TokComma)
		if err != nil {
			return expdesc{}, err
		}
		if !ok1 {
			ok2, err := p.accept(TokSemi)
			if err != nil {
				return expdesc{}, err
			}
			if !ok2 {
				break
			}
		}
	}
	if pending > 0 {
		p.fs.emit(Instruction{Op: OpSetList, A: reg, B: pending, C: arrayIdx - pending}, line)
		p.fs.freeReg(reg + 1)
	}
	if err := p.expect(TokRBrace, "}"); err != nil {
		return expdesc{}, err
	}
	return expdesc{kind: ENonReloc, reg: reg}, nil
}

func (p *Parser) peekIsAssign() bool {
	tok, err := p.lex.Peek()
	if err != nil {
		return false
	}
	return tok.Kind == TokAssign
}

// suffixedExpr parses a primary expression followed by any chain of
// `.field`, `[expr]`, `:method(...)`, `(...)`, `?.field`, `?[expr]`
// suffixes (§4.2).
func (p *Parser) suffixedExpr() (expdesc, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return e, err
	}
	for {
		line := p.line()
		switch p.cur.Kind {
		case TokDot:
			if err := p.advance(); err != nil {
				return e, err
			}
			if p.cur.Kind != TokName {
				return e, p.errf("name expected")
			}
			name := p.cur.Str
			if err := p.advance(); err != nil {
				return e, err
			}
			e = p.indexField(e, name, line)
		case TokSafeDot:
			if err := p.advance(); err != nil {
				return e, err
			}
			if p.cur.Kind != TokName {
				return e, p.errf("name expected")
			}
			name := p.cur.Str
			if err := p.advance(); err != nil {
				return e, err
			}
			e, err = p.safeIndexField(e, name, line)
			if err != nil {
				return e, err
			}
		case TokLBracket:
			if err := p.advance(); err != nil {
				return e, err
			}
			key, err := p.expr()
			if err != nil {
				return e, err
			}
			if err := p.expect(TokRBracket, "]"); err != nil {
				return e, err
			}
			p.fs.dischargeToAnyReg(&e, line)
			kidx, isK := p.fs.rkOperand(&key, line)
			e = expdesc{kind: EIndexed, reg: e.reg, tIdx: kidx, tIsK: isK}
		case TokColon:
			if err := p.advance(); err != nil {
				return e, err
			}
			if p.cur.Kind != TokName {
				return e, p.errf("method name expected")
			}
			name := p.cur.Str
			if err := p.advance(); err != nil {
				return e, err
			}
			e, err = p.methodCall(e, name, line)
			if err != nil {
				return e, err
			}
		case TokLParen, TokString, TokLBrace, TokFString:
			e, err = p.callExpr(e, line)
			if err != nil {
				return e, err
			}
		default:
			return e, nil
		}
	}
}

func (p *Parser) indexField(obj expdesc, name string, line int) expdesc {
	p.fs.dischargeToAnyReg(&obj, line)
	kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(name)))
	return expdesc{kind: EIndexed, reg: obj.reg, tIdx: kidx, tIsK: true}
}

// safeIndexField implements `obj?.field`: if obj is nil, the whole
// chain short-circuits to nil rather than erroring, per the
// null-safe-navigation operator (§4.2).
func (p *Parser) safeIndexField(obj expdesc, name string, line int) (expdesc, error) {
	p.fs.dischargeToAnyReg(&obj, line)
	p.fs.emit(Instruction{Op: OpEqK, A: obj.reg, B: p.fs.nilK(), K: true}, line)
	j := p.fs.jump(line)
	field := p.indexField(obj, name, line)
	p.fs.dischargeToNextReg(&field, line)
	p.fs.patchToHere(jumpList{j})
	return expdesc{kind: ENonReloc, reg: field.reg}, nil
}

func (p *Parser) methodCall(obj expdesc, name string, line int) (expdesc, error) {
	p.fs.dischargeToAnyReg(&obj, line)
	base := p.fs.reserveReg(2)
	kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(name)))
	p.fs.emit(Instruction{Op: OpSelf, A: base, B: obj.reg, C: kidx, K: true}, line)
	nargs, err := p.callArgs(funcSignature{}, false)
	if err != nil {
		return expdesc{}, err
	}
	p.fs.freeReg(base + 2)
	pc := p.fs.emit(Instruction{Op: OpCall, A: base, B: nargs + 2, C: 2}, line)
	return expdesc{kind: ECall, reg: base, info: pc}, nil
}

func (p *Parser) callExpr(fn expdesc, line int) (expdesc, error) {
	sig, hasSig := p.calleeSignature(&fn)
	p.fs.dischargeToNextReg(&fn, line)
	base := fn.reg
	nargs, err := p.callArgs(sig, hasSig)
	if err != nil {
		return expdesc{}, err
	}
	p.fs.freeReg(base + 1)
	pc := p.fs.emit(Instruction{Op: OpCall, A: base, B: nargs + 1, C: 2}, line)
	return expdesc{kind: ECall, reg: base, info: pc}, nil
}

// callArgs parses `(args)`, a single string literal, an f-string, or
// a single table constructor used as sugar for a one-argument call
// (§4.2), pushing each argument into the next free registers. When
// hasSig is set, the parsed argument list is checked against the
// callee's declared parameter hints before discharge.
func (p *Parser) callArgs(sig funcSignature, hasSig bool) (int, error) {
	line := p.line()
	switch p.cur.Kind {
	case TokLParen:
		if err := p.advance(); err != nil {
			return 0, err
		}
		n := 0
		if p.cur.Kind != TokRParen {
			args, err := p.exprList()
			if err != nil {
				return 0, err
			}
			if hasSig {
				p.checkArgHints(sig, args, line)
			}
			for i := range args {
				isLast := i == len(args)-1
				if isLast && (args[i].kind == ECall || args[i].kind == EVararg) {
					p.fs.dischargeVars(&args[i], line)
					p.fs.code[args[i].info].C = 0
					return -1, p.expect(TokRParen, ")")
				}
				p.fs.dischargeToNextReg(&args[i], line)
				n++
			}
		} else if hasSig {
			p.checkArgHints(sig, nil, line)
		}
		return n, p.expect(TokRParen, ")")
	case TokString:
		s := p.cur.Str
		if err := p.advance(); err != nil {
			return 0, err
		}
		e := expdesc{kind: EK, kidx: p.fs.constIndex(NewString(p.gc, p.strings, []byte(s)))}
		if hasSig {
			p.checkArgHints(sig, []expdesc{e}, line)
		}
		p.fs.dischargeToNextReg(&e, line)
		return 1, nil
	case TokFString:
		e, err := p.fstringExpr(line)
		if err != nil {
			return 0, err
		}
		p.fs.dischargeToNextReg(&e, line)
		return 1, nil
	case TokLBrace:
		e, err := p.tableConstructor()
		if err != nil {
			return 0, err
		}
		p.fs.dischargeToNextReg(&e, line)
		return 1, nil
	default:
		return 0, p.errf("function arguments expected")
	}
}

func (p *Parser) primaryExpr() (expdesc, error) {
	switch p.cur.Kind {
	case TokLParen:
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		e, err := p.expr()
		if err != nil {
			return e, err
		}
		if err := p.expect(TokRParen, ")"); err != nil {
			return e, err
		}
		if e.kind == ECall || e.kind == EVararg {
			p.fs.dischargeToAnyReg(&e, p.line())
		}
		return e, nil
	case TokName:
		name := p.cur.Str
		line := p.line()
		if err := p.advance(); err != nil {
			return expdesc{}, err
		}
		e, err := p.singleVar(name)
		if err != nil {
			return e, err
		}
		_ = line
		return e, nil
	default:
		return expdesc{}, p.errf("unexpected symbol near '%s'", tokenText(p.cur))
	}
}

// singleVar resolves name to a local, upvalue, or global (_ENV
// index), per §4.2's variable resolution order.
func (p *Parser) singleVar(name string) (expdesc, error) {
	if reg, ok := p.fs.resolveLocal(name); ok {
		return expdesc{kind: ELocal, reg: reg}, nil
	}
	if idx, ok := p.fs.resolveUpvalue(name); ok {
		return expdesc{kind: EUpval, info: idx}, nil
	}
	envIdx, _ := p.fs.resolveUpvalue("_ENV")
	kidx := p.fs.constIndex(NewString(p.gc, p.strings, []byte(name)))
	return expdesc{kind: EIndexUp, info: envIdx, tIdx: kidx, tIsK: true}, nil
}
