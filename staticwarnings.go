package mask

// checkShadow emits §7's variable-shadow advisory when a new local
// declaration reuses a name already bound by an active local earlier
// in the same function (resolveLocal's function-scoped, innermost-
// first search is exactly the visibility rule a shadow check needs --
// it never crosses a function boundary, so a parameter or local in an
// enclosing function never counts as shadowed by this).
func (p *Parser) checkShadow(name string, line int) {
	if name == "_" {
		return
	}
	if _, ok := p.fs.resolveLocal(name); ok {
		p.emitWarning(WarnShadow, line, "local '%s' shadows a previous declaration", name)
	}
}

// markUnreachableAfterJump emits §7's unreachable-code advisory once for
// the statement(s) following a block-terminating break/continue/goto,
// mirroring the way `return` is already handled directly by block()
// (a `return` simply stops the block loop; break/continue/goto don't
// end the grammatical block, so an unreachable follower has to be
// checked explicitly).
func (p *Parser) markUnreachableAfterJump(line int) {
	if blockFollow(p.cur.Kind) || p.cur.Kind == TokReturn || p.cur.Kind == TokSemi {
		return
	}
	p.emitWarning(WarnUnreachable, p.line(), "unreachable code after line %d", line)
}

// deprecatedSpellings maps each `hello_`-prefixed legacy keyword
// spelling (kept lexing to the same TokenKind as its modern spelling,
// per DESIGN.md's Open Question #3) to the spelling that should be
// used instead.
var deprecatedSpellings = map[string]string{
	"hello_switch":   "switch",
	"hello_case":     "case",
	"hello_default":  "default",
	"hello_continue": "continue",
	"hello_when":     "when",
	"hello_enum":     "enum",
}

// checkDeprecatedKeyword emits §7's deprecated advisory when the
// current token's original source spelling is one of the legacy
// `hello_`-prefixed aliases rather than its modern form.
func (p *Parser) checkDeprecatedKeyword() {
	if replacement, ok := deprecatedSpellings[p.cur.Str]; ok {
		p.emitWarning(WarnDeprecated, p.line(), "'%s' is deprecated, use '%s' instead", p.cur.Str, replacement)
	}
}
