package mask

// Metamethod enumerates the fast-access and general metamethod names
// of §4.6. The first six (through MetaEq) are the ones a table's
// flags byte can cache as "definitely absent".
type Metamethod int

const (
	MetaIndex Metamethod = iota
	MetaNewIndex
	MetaGC
	MetaMode
	MetaLen
	MetaEq

	MetaAdd
	MetaSub
	MetaMul
	MetaMod
	MetaDiv
	MetaIDiv
	MetaPow
	MetaUnm
	MetaBAnd
	MetaBOr
	MetaBXor
	MetaBNot
	MetaShl
	MetaShr
	MetaConcat
	MetaLt
	MetaLe
	MetaCall
	MetaToString
	MetaClose

	metaCount
)

var metaNames = [...]string{
	MetaIndex: "__index", MetaNewIndex: "__newindex", MetaGC: "__gc",
	MetaMode: "__mode", MetaLen: "__len", MetaEq: "__eq",
	MetaAdd: "__add", MetaSub: "__sub", MetaMul: "__mul", MetaMod: "__mod",
	MetaDiv: "__div", MetaIDiv: "__idiv", MetaPow: "__pow", MetaUnm: "__unm",
	MetaBAnd: "__band", MetaBOr: "__bor", MetaBXor: "__bxor", MetaBNot: "__bnot",
	MetaShl: "__shl", MetaShr: "__shr", MetaConcat: "__concat",
	MetaLt: "__lt", MetaLe: "__le", MetaCall: "__call",
	MetaToString: "__tostring", MetaClose: "__close",
}

func (m Metamethod) String() string { return metaNames[m] }

// fastAccessCount is how many leading Metamethod values can be cached
// absent in a table's flags byte (§3, §4.6): __index, __newindex,
// __gc, __mode, __len, __eq.
const fastAccessCount = 6

// metamethodNames holds the pre-interned *ShortString for every
// metamethod, built once per GlobalState so lookups compare pointers
// instead of bytes (§3's "pre-interned metamethod name strings").
type metamethodNames struct {
	names [metaCount]*ShortString
}

func newMetamethodNames(st *StringTable) *metamethodNames {
	m := &metamethodNames{}
	for i := Metamethod(0); i < metaCount; i++ {
		m.names[i] = st.Intern([]byte(metaNames[i]))
	}
	return m
}

// getMetamethod looks up metamethod m on v's metatable (or, for a
// primitive type, the per-type default metatable held by GlobalState),
// using the table's flags byte to skip the lookup in O(1) once it is
// known absent, per §4.6.
func (gs *GlobalState) getMetamethod(v Value, m Metamethod) Value {
	mt := gs.metatableOf(v)
	if mt == nil {
		return nil
	}
	if m < fastAccessCount && mt.flags&(1<<uint(m)) != 0 {
		return nil
	}
	val := mt.Get(gs.metaNames.names[m])
	if _, absent := val.(Nil); absent {
		if m < fastAccessCount {
			mt.flags |= 1 << uint(m)
		}
		return nil
	}
	return val
}

// metatableOf returns the metatable governing v: its own, for a
// table or full userdata, or the type-indexed default metatable
// vector otherwise (§3).
func (gs *GlobalState) metatableOf(v Value) *Table {
	switch v := v.(type) {
	case *Table:
		return v.Metatable
	case *FullUserData:
		return v.Metatable
	default:
		return gs.defaultMetatables[v.Tag()]
	}
}

// metaIndexChainLimit caps __index/__newindex chain length (§4.4:
// "longer chain ⇒ error").
const metaIndexChainLimit = 2000

// Index implements `t[k]` with full metamethod resolution: a table's
// own slot is tried first, then __index (table or function) up to
// metaIndexChainLimit hops.
func (gs *GlobalState) Index(l *Thread, obj Value, key Value) (Value, error) {
	cur := obj
	for hop := 0; hop < metaIndexChainLimit; hop++ {
		if t, ok := cur.(*Table); ok {
			v := t.Get(key)
			if _, absent := v.(Nil); !absent {
				return v, nil
			}
			h := gs.getMetamethod(t, MetaIndex)
			if h == nil {
				return valNil, nil
			}
			if ht, ok := h.(*Table); ok {
				cur = ht
				continue
			}
			return gs.call1(l, h, []Value{obj, key})
		}
		h := gs.getMetamethod(cur, MetaIndex)
		if h == nil {
			return nil, &RuntimeError{Kind: ErrRun, Message: "attempt to index a " + cur.Tag().String() + " value"}
		}
		if ht, ok := h.(*Table); ok {
			cur = ht
			continue
		}
		return gs.call1(l, h, []Value{obj, key})
	}
	return nil, &RuntimeError{Kind: ErrRun, Message: "'__index' chain too long; possible loop"}
}

// NewIndex implements `t[k] = v` with full metamethod resolution.
func (gs *GlobalState) NewIndex(l *Thread, obj, key, val Value) error {
	cur := obj
	for hop := 0; hop < metaIndexChainLimit; hop++ {
		if t, ok := cur.(*Table); ok {
			existing := t.Get(key)
			if _, absent := existing.(Nil); !absent {
				return t.Set(gs.gc, key, val)
			}
			h := gs.getMetamethod(t, MetaNewIndex)
			if h == nil {
				return t.Set(gs.gc, key, val)
			}
			if ht, ok := h.(*Table); ok {
				cur = ht
				continue
			}
			_, err := gs.call1(l, h, []Value{obj, key, val})
			return err
		}
		h := gs.getMetamethod(cur, MetaNewIndex)
		if h == nil {
			return &RuntimeError{Kind: ErrRun, Message: "attempt to index a " + cur.Tag().String() + " value"}
		}
		if ht, ok := h.(*Table); ok {
			cur = ht
			continue
		}
		_, err := gs.call1(l, h, []Value{obj, key, val})
		return err
	}
	return &RuntimeError{Kind: ErrRun, Message: "'__newindex' chain too long; possible loop"}
}

// call1 invokes a callable value with args and returns its first
// result, used internally for metamethod dispatch.
func (gs *GlobalState) call1(l *Thread, fn Value, args []Value) (Value, error) {
	results, err := gs.Call(l, fn, args, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return valNil, nil
	}
	return results[0], nil
}

// arithMeta resolves a binary arithmetic/bitwise metamethod: operand
// 1 is tried first, then operand 2, per §4.6.
func (gs *GlobalState) arithMeta(l *Thread, m Metamethod, a, b Value) (Value, error) {
	if h := gs.getMetamethod(a, m); h != nil {
		return gs.call1(l, h, []Value{a, b})
	}
	if h := gs.getMetamethod(b, m); h != nil {
		return gs.call1(l, h, []Value{a, b})
	}
	return nil, &RuntimeError{Kind: ErrRun, Message: "attempt to perform arithmetic on a " + badOperandTag(a, b).String() + " value"}
}

func badOperandTag(a, b Value) Tag {
	if !isNumber(a) {
		return a.Tag()
	}
	return b.Tag()
}

// equals implements `==` with metamethod fallback: __eq fires only
// when both operands share a type and are not already rawequal
// (§4.6).
func (gs *GlobalState) equals(l *Thread, a, b Value) (bool, error) {
	if rawEquals(a, b) {
		return true, nil
	}
	if a.Tag() != b.Tag() {
		return false, nil
	}
	if a.Tag() != TagTable && a.Tag() != TagFullUserData {
		return false, nil
	}
	h := gs.getMetamethod(a, MetaEq)
	if h == nil {
		h = gs.getMetamethod(b, MetaEq)
	}
	if h == nil {
		return false, nil
	}
	v, err := gs.call1(l, h, []Value{a, b})
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// rawEquals implements `rawequal(a, b)`: no metamethods, always true
// for two references to the same table (property in §8's Laws).
func rawEquals(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch a := a.(type) {
	case Int:
		if bf, ok := b.(Float); ok {
			return float64(a) == float64(bf)
		}
		bi, ok := b.(Int)
		return ok && a == bi
	case Float:
		if bi, ok := b.(Int); ok {
			return float64(a) == float64(bi)
		}
		bf, ok := b.(Float)
		return ok && a == bf
	case Bool:
		bb, ok := b.(Bool)
		return ok && a == bb
	case Nil:
		_, ok := b.(Nil)
		return ok
	case *ShortString, *LongString:
		if !isStringValue(b) {
			return false
		}
		return stringEquals(a, b)
	default:
		return a == b
	}
}

func isStringValue(v Value) bool {
	switch v.(type) {
	case *ShortString, *LongString:
		return true
	default:
		return false
	}
}

// lessThan implements `<` with __lt fallback, used when operands
// aren't both numbers or both strings (§4.6).
func (gs *GlobalState) lessThan(l *Thread, a, b Value) (bool, error) {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af < bf, nil
		}
	}
	if isStringValue(a) && isStringValue(b) {
		return stringBytes(a) < stringBytes(b), nil
	}
	h := gs.getMetamethod(a, MetaLt)
	if h == nil {
		h = gs.getMetamethod(b, MetaLt)
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
