package mask

// TypeHint is the compile-time-only annotation described in §4.2's
// "Type hints": an optional `: type` after a parameter, local, or
// function signature, with an optional `?` nullable prefix. Hints
// never gate runtime behavior -- they only drive the warnings the
// compiler emits when a call argument, assignment, or return
// expression's statically-known type doesn't match.
type TypeHint struct {
	Tag      string
	Nullable bool
}

func (h TypeHint) none() bool { return h.Tag == "" }

// hintTagNames is the recognized set of type-hint tags (§4.2): number,
// int (inferred from number + integer literal), float, string, table,
// bool, function, userdata.
var hintTagNames = map[string]bool{
	"number": true, "int": true, "float": true, "string": true,
	"table": true, "bool": true, "function": true, "userdata": true,
}

// funcSignature records a local function's declared parameter/return
// hints so call sites resolving to that same local register (§8's
// local-variable scoping discipline applies here too) can be checked
// against it, per the end-to-end scenarios in §8 (3 and 4).
type funcSignature struct {
	name     string
	params   []TypeHint
	ret      TypeHint
	isVararg bool
}

// parseTypeHint consumes an optional `: [?]type` suffix and returns
// the zero TypeHint (none()) if no colon is present.
func (p *Parser) parseTypeHint() (TypeHint, error) {
	if p.cur.Kind != TokColon {
		return TypeHint{}, nil
	}
	if err := p.advance(); err != nil {
		return TypeHint{}, err
	}
	nullable := false
	if p.cur.Kind == TokQuestion {
		nullable = true
		if err := p.advance(); err != nil {
			return TypeHint{}, err
		}
	}
	if p.cur.Kind != TokName {
		return TypeHint{}, p.errf("type name expected")
	}
	tag := p.cur.Str
	if !hintTagNames[tag] {
		return TypeHint{}, p.errf("unknown type '%s'", tag)
	}
	if err := p.advance(); err != nil {
		return TypeHint{}, err
	}
	return TypeHint{Tag: tag, Nullable: nullable}, nil
}

// exprStaticTag infers the static type-hint tag an expdesc is known to
// produce without running the program: literal kinds, constant-pool
// entries, and named locals carrying their own declared hint. Returns
// ok=false when the expression's type can't be known at compile time
// (e.g. a table index or a call result).
func (p *Parser) exprStaticTag(e *expdesc) (string, bool) {
	switch e.kind {
	case EInt:
		return "int", true
	case EFloat:
		return "float", true
	case ETrue, EFalse:
		return "bool", true
	case ENil:
		return "nil", true
	case EK:
		switch p.fs.p.Constants[e.kidx].(type) {
		case Int:
			return "int", true
		case Float:
			return "float", true
		case *ShortString, *LongString:
			return "string", true
		case Bool:
			return "bool", true
		default:
			return "", false
		}
	case ELocal:
		if h, ok := p.fs.localHints[e.reg]; ok && !h.none() {
			return h.Tag, true
		}
	}
	return "", false
}

// hintCompatible reports whether a statically-known value tag
// satisfies hint h: "number" accepts int or float, "int"/"float"
// additionally cross-accept each other the way the VM's own numeric
// coercion does (§4.3), and a nil tag satisfies only a nullable hint.
func hintCompatible(h TypeHint, tag string) bool {
	if h.none() {
		return true
	}
	if tag == "nil" {
		return h.Nullable
	}
	switch h.Tag {
	case "number":
		return tag == "number" || tag == "int" || tag == "float"
	case "int":
		return tag == "int"
	case "float":
		return tag == "float" || tag == "int"
	default:
		return h.Tag == tag
	}
}

// emitWarning gates a type-hint advisory through the directive-aware
// warningConfig (§4.1's `@mask_warnings: enable-X/disable-X`) before
// handing it to the sink, the same gate every other warning class is
// expected to pass through.
func (p *Parser) emitWarning(class WarningClass, line int, format string, args ...any) {
	// directives the lexer has scanned so far already apply here;
	// Compile folds them into p.warnings only once the chunk is parsed
	cfg := *p.warnings
	cfg.overrides = append(cfg.overrides[:len(cfg.overrides):len(cfg.overrides)], p.lex.warnings...)
	if !cfg.enabledAt(class, p.tokIndex) {
		return
	}
	p.sink.emit(class, line, format, args...)
}

// calleeSignature looks up a recorded signature for fn when fn
// resolves to a local variable's register holding a `local function`
// closure (§4.2's type-hint propagation "through expression
// evaluation to detect ... excessive/mismatched arguments at call
// sites").
func (p *Parser) calleeSignature(fn *expdesc) (funcSignature, bool) {
	if fn.kind != ELocal {
		return funcSignature{}, false
	}
	sig, ok := p.fs.signatures[fn.reg]
	return sig, ok
}

// checkArgHints emits WarnExcessiveArgs/WarnTypeMismatch advisories
// (never a hard error, per §4.2: "Hints drive warnings only") for a
// call against a known signature.
func (p *Parser) checkArgHints(sig funcSignature, args []expdesc, line int) {
	if !sig.isVararg && len(args) > len(sig.params) {
		p.emitWarning(WarnExcessiveArgs, line,
			"too many arguments in call to '%s' (expected %d, got %d)",
			sig.name, len(sig.params), len(args))
	}
	for i := range args {
		if i >= len(sig.params) {
			break
		}
		h := sig.params[i]
		if h.none() {
			continue
		}
		tag, known := p.exprStaticTag(&args[i])
		if !known {
			continue
		}
		if !hintCompatible(h, tag) {
			p.emitWarning(WarnTypeMismatch, line,
				"argument %d to '%s': expected %s, got %s",
				i+1, sig.name, h.Tag, tag)
		}
	}
}

// checkReturnHint checks a single return expression against the
// enclosing function's declared return hint (§4.2: "incompatible
// function returns versus declared return hint").
func (p *Parser) checkReturnHint(args []expdesc, line int) {
	if p.fs.retHint.none() || len(args) != 1 {
		return
	}
	tag, known := p.exprStaticTag(&args[0])
	if !known {
		return
	}
	if !hintCompatible(p.fs.retHint, tag) {
		p.emitWarning(WarnTypeMismatch, line,
			"return value: expected %s, got %s", p.fs.retHint.Tag, tag)
	}
}

// checkAssignHint checks a local variable declaration's initializer
// against its own declared hint (§4.2: "mismatched assignments").
func (p *Parser) checkAssignHint(h TypeHint, init *expdesc, line int, name string) {
	if h.none() {
		return
	}
	tag, known := p.exprStaticTag(init)
	if !known {
		return
	}
	if !hintCompatible(h, tag) {
		p.emitWarning(WarnTypeMismatch, line,
			"local '%s': expected %s, got %s", name, h.Tag, tag)
	}
}
