package mask

import (
	"hash/maphash"
)

// shortStringLimit is the boundary (§3) below which strings are
// interned in the global string table; longer ones are allocated
// individually as *LongString.
const shortStringLimit = 40

// ShortString is an interned string. Equality between two ShortString
// values is pointer equality (property 3, §8): the intern table never
// creates two distinct objects for the same byte sequence.
type ShortString struct {
	objectHeader
	s      string
	hash   uint64
	extra  uint8 // non-zero for reserved words, used by the lexer's keyword fast path
}

func (*ShortString) Tag() Tag         { return TagShortString }
func (s *ShortString) String() string { return s.s }
func (s *ShortString) Bytes() []byte  { return []byte(s.s) }

// LongString is allocated individually; its hash is computed lazily
// on first use and cached. Equality (stringEquals) compares the bytes
// and does not consult the cached hash.
type LongString struct {
	objectHeader
	s        string
	hash     uint64
	hashed   bool
}

func (*LongString) Tag() Tag         { return TagLongString }
func (s *LongString) String() string { return s.s }
func (s *LongString) Bytes() []byte  { return []byte(s.s) }

func (s *LongString) Hash(seed maphash.Seed) uint64 {
	if !s.hashed {
		var h maphash.Hash
		h.SetSeed(seed)
		h.WriteString(s.s)
		s.hash = h.Sum64()
		s.hashed = true
	}
	return s.hash
}

// stringEquals implements the language-level string equality used by
// the EQ/EQK opcodes and by table-key comparisons: pointer identity
// for two short strings (guaranteed by interning), length+hash+memcmp
// for anything touching a long string.
func stringEquals(a, b Value) bool {
	as, aok := a.(*ShortString)
	bs, bok := b.(*ShortString)
	if aok && bok {
		return as == bs
	}
	return stringBytes(a) == stringBytes(b)
}

func stringBytes(v Value) string {
	switch v := v.(type) {
	case *ShortString:
		return v.s
	case *LongString:
		return v.s
	default:
		return ""
	}
}

// stringNode is one link in the string table's open-hash collision
// chain (§3: "open-hash with linked chains").
type stringNode struct {
	str  *ShortString
	next *stringNode
}

// StringTable interns short strings. It is owned by GlobalState and
// shared by every thread created from that state.
type StringTable struct {
	seed    maphash.Seed
	buckets []*stringNode
	count   int
	gc      *gc
}

func newStringTable(gc *gc) *StringTable {
	return &StringTable{
		seed:    maphash.MakeSeed(),
		buckets: make([]*stringNode, 128),
		gc:      gc,
	}
}

func (t *StringTable) hashBytes(b []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(t.seed)
	h.Write(b)
	return h.Sum64()
}

// Intern returns the canonical *ShortString for b, allocating and
// linking a new one into the table on first sight. Strings longer
// than shortStringLimit are never interned; callers should construct
// a *LongString directly instead (see NewString).
func (t *StringTable) Intern(b []byte) *ShortString {
	h := t.hashBytes(b)
	idx := h % uint64(len(t.buckets))
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.str.s == string(b) {
			return n.str
		}
	}
	if t.count >= len(t.buckets)*2 {
		t.grow()
		idx = h % uint64(len(t.buckets))
	}
	s := &ShortString{s: string(b), hash: h}
	t.gc.link(s)
	t.buckets[idx] = &stringNode{str: s, next: t.buckets[idx]}
	t.count++
	return s
}

func (t *StringTable) grow() {
	old := t.buckets
	t.buckets = make([]*stringNode, len(old)*2)
	for _, head := range old {
		for n := head; n != nil; {
			next := n.next
			idx := n.str.hash % uint64(len(t.buckets))
			n.next = t.buckets[idx]
			t.buckets[idx] = n
			n = next
		}
	}
}

// remove drops an interned string whose only remaining reference was
// the intern table itself (a weak root, per the boundary-behavior
// clause in §8: "interning is preserved across GC of strings that are
// live roots only through the intern table"). Called by the sweep
// phase for white short strings.
func (t *StringTable) remove(s *ShortString) {
	idx := s.hash % uint64(len(t.buckets))
	var prev *stringNode
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.str == s {
			if prev == nil {
				t.buckets[idx] = n.next
			} else {
				prev.next = n.next
			}
			t.count--
			return
		}
		prev = n
	}
}

// NewString builds the right string value for b: an interned
// ShortString below the length limit, or a freshly allocated
// LongString above it.
func NewString(gc *gc, table *StringTable, b []byte) Value {
	if len(b) <= shortStringLimit {
		return table.Intern(b)
	}
	ls := &LongString{s: string(b)}
	gc.link(ls)
	return ls
}
