package mask

// ExpKind enumerates the partial-result kinds an expression can be in
// before it is discharged into a register (§4.2).
type ExpKind int

const (
	EVoid ExpKind = iota
	ENil
	ETrue
	EFalse
	EInt
	EFloat
	EK
	ELocal
	EUpval
	EIndexed
	ERelocatable
	ENonReloc
	EJump
	ECall
	EVararg
	EIndexUp // global access: _ENV upvalue (info) indexed by tIdx/tIsK
)

// jumpList is a linked chain of pending JMP instructions (by pc) used
// to patch short-circuit boolean control flow, per §4.2.
type jumpList []int

// expdesc describes where an expression's value currently lives and
// how to materialize it into a register, plus the true/false jump
// lists used by short-circuiting `and`/`or`/relational operators
// (§4.2's "Expression results are described by expdesc records").
type expdesc struct {
	kind ExpKind

	ival int64
	fval float64
	kidx int // constant pool index, for EK

	reg int // register, for ELocal/ENonReloc/ERelocatable/ECall/EVararg/EIndexed result
	info int // secondary slot: upvalue index (EUpval), table reg (EIndexed), instruction pc (ERelocatable/EJump)
	tIdx int // index operand for EIndexed (register or constant)
	tIsK bool

	t, f jumpList
}

func voidExp() expdesc { return expdesc{kind: EVoid} }

func (e *expdesc) hasJumps() bool { return len(e.t) > 0 || len(e.f) > 0 }
