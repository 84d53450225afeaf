package mask

// TokenKind enumerates everything the lexer can produce (§4.1).
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokName
	TokInt
	TokFloat
	TokString
	TokFString

	// keywords
	TokAnd
	TokBreak
	TokDo
	TokElse
	TokElseif
	TokEnd
	TokFalse
	TokFor
	TokFunction
	TokGoto
	TokIf
	TokIn
	TokLocal
	TokNil
	TokNot
	TokOr
	TokRepeat
	TokReturn
	TokThen
	TokTrue
	TokUntil
	TokWhile
	TokSwitch
	TokCase
	TokDefault
	TokContinue
	TokWhen
	TokEnum
	TokBegin
	TokAs

	// punctuation / operators
	TokPlus
	TokMinus
	TokStar
	TokSlash
	TokDSlash // //
	TokPercent
	TokCaret
	TokHash
	TokAmp
	TokTilde
	TokPipe
	TokLtLt
	TokGtGt
	TokEq       // ==
	TokNe       // ~=
	TokLe       // <=
	TokGe       // >=
	TokLt       // <
	TokGt       // >
	TokAssign   // =
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokDColon // ::
	TokSemi
	TokColon
	TokComma
	TokDot
	TokConcat  // ..
	TokEllipsis // ...
	TokPow     // **
	TokQuestion
	TokNullCoalesce // ??
	TokSafeDot      // ?.
	TokSafeIndex    // ?[
	TokWalrus       // :=
	TokPipeBar      // | (lambda delimiter, reuses TokPipe in practice)
	TokArrow        // ->

	// compound assignment
	TokPlusEq
	TokMinusEq
	TokStarEq
	TokSlashEq
	TokDSlashEq
	TokPercentEq
	TokCaretEq
	TokConcatEq
	TokAmpEq
	TokPipeEq
	TokXorEq // ^^= (bitwise-xor-assign spelled distinctly from TokCaretEq which is power-assign)
	TokLtLtEq
	TokGtGtEq
	TokNullCoalesceEq

	TokIncr // ++
)

var keywords = map[string]TokenKind{
	"and": TokAnd, "break": TokBreak, "do": TokDo, "else": TokElse,
	"elseif": TokElseif, "end": TokEnd, "false": TokFalse, "for": TokFor,
	"function": TokFunction, "goto": TokGoto, "if": TokIf, "in": TokIn,
	"local": TokLocal, "nil": TokNil, "not": TokNot, "or": TokOr,
	"repeat": TokRepeat, "return": TokReturn, "then": TokThen,
	"true": TokTrue, "until": TokUntil, "while": TokWhile,
	"switch": TokSwitch, "case": TokCase, "default": TokDefault,
	"continue": TokContinue, "when": TokWhen, "enum": TokEnum,
	"begin": TokBegin, "as": TokAs,

	// hello_-prefixed compatibility aliases, kept enabled per the
	// Open Question resolved in DESIGN.md / SPEC_FULL.md.
	"hello_switch": TokSwitch, "hello_case": TokCase,
	"hello_default": TokDefault, "hello_continue": TokContinue,
	"hello_when": TokWhen, "hello_enum": TokEnum,
}

// Token is one lexical unit with its source position.
type Token struct {
	Kind   TokenKind
	Str    string
	Int    int64
	Float  float64
	Line   int
	Col    int
}
