package mask

import (
	"fmt"
	"reflect"
)

// tableNode is one hash-part slot: a key/value pair plus the index
// (within the same node array) of the next node in its collision
// chain, or -1 if this is the chain's tail (§3, §4.4).
type tableNode struct {
	key   Value
	val   Value
	next  int
}

// Table is the hybrid array+hash associative container described in
// §3/§4.4. Integer keys 1..alimit live in the array part; everything
// else (plus integer keys beyond alimit) lives in the open-addressed
// hash part.
type Table struct {
	objectHeader
	array      []Value
	node       []tableNode
	lastfree   int
	Metatable  *Table
	flags      uint8 // bit i set => metamethod i is known absent (§4.6)
	frozen     bool
	length     int  // 0 = unknown, recomputed lazily
	lengthSet  bool
}

func newTable(gc *gc) *Table {
	t := &Table{lastfree: -1}
	gc.link(t)
	return t
}

func (*Table) Tag() Tag         { return TagTable }
func (t *Table) String() string { return fmt.Sprintf("table: %p", t) }

// ErrFrozen is raised by any mutation of a frozen table (§4.4).
type ErrFrozen struct{}

func (ErrFrozen) Error() string { return "attempt to modify frozen table" }

// Freeze makes t immutable; freezing is one-way (§4.4).
func (t *Table) Freeze() { t.frozen = true }

// IsFrozen reports whether t has been frozen. Reading the metatable
// of a frozen table is always allowed, per §4.4.
func (t *Table) IsFrozen() bool { return t.frozen }

func (t *Table) errIfFrozen() error {
	if t.frozen {
		return ErrFrozen{}
	}
	return nil
}

// mainPositionHash computes the main-position hash for non-integer
// keys. Integer keys use their value directly (§4.4: "mainposition(key)
// = hash(key) mod 2^lsizenode").
func mainPositionHash(k Value) uint64 {
	switch k := k.(type) {
	case Int:
		return uint64(k)
	case Float:
		return uint64(int64(k)) * 2654435761
	case Bool:
		if k {
			return 1
		}
		return 0
	case *ShortString:
		return k.hash
	case *LongString:
		h := k.hash
		if !k.hashed {
			var tmp uint64
			for _, b := range []byte(k.s) {
				tmp = tmp*31 + uint64(b)
			}
			h = tmp
		}
		return h
	default:
		// tables, closures, userdata and threads hash by identity: two
		// distinct objects are always distinct keys.
		rv := reflect.ValueOf(k)
		if rv.Kind() == reflect.Ptr {
			return uint64(rv.Pointer())
		}
		return 0
	}
}

func (t *Table) mainPosition(k Value) int {
	if len(t.node) == 0 {
		return -1
	}
	return int(mainPositionHash(k) % uint64(len(t.node)))
}

// arrayIndex returns (index, ok) for a key that addresses the array
// part: an Int or an integral Float in 1..len(array).
func (t *Table) arrayIndex(k Value) (int, bool) {
	switch k := k.(type) {
	case Int:
		if k >= 1 && int(k) <= len(t.array) {
			return int(k) - 1, true
		}
	case Float:
		if iv := int64(k); Float(iv) == k && iv >= 1 && int(iv) <= len(t.array) {
			return int(iv) - 1, true
		}
	}
	return -1, false
}

// Get performs a raw lookup (no metamethods): array fast path first,
// then hash chain walk, per §3's invariant.
func (t *Table) Get(k Value) Value {
	if idx, ok := t.arrayIndex(k); ok {
		if t.array[idx] == nil {
			return valAbsentKey
		}
		return t.array[idx]
	}
	k = normalizeKey(k)
	if len(t.node) == 0 {
		return valAbsentKey
	}
	for i := t.mainPosition(k); i != -1; {
		n := &t.node[i]
		if n.key != nil && keyEquals(n.key, k) {
			if n.val == nil {
				return valAbsentKey
			}
			return n.val
		}
		if n.next == -1 {
			break
		}
		i = n.next
	}
	return valAbsentKey
}

// normalizeKey folds integral floats to Int, matching the language
// rule that t[2] and t[2.0] address the same slot.
func normalizeKey(k Value) Value {
	if f, ok := k.(Float); ok {
		if iv := int64(f); Float(iv) == f {
			return Int(iv)
		}
	}
	return k
}

func keyEquals(a, b Value) bool {
	switch a := a.(type) {
	case Int:
		bi, ok := b.(Int)
		return ok && a == bi
	case Float:
		bf, ok := b.(Float)
		return ok && a == bf
	case Bool:
		bb, ok := b.(Bool)
		return ok && a == bb
	case *ShortString, *LongString:
		return stringEquals(a, b)
	default:
		return a == b
	}
}

// Set performs a raw write (no metamethods), returning ErrFrozen if t
// is frozen. Per the Open Question resolved in DESIGN.md, the frozen
// check always happens before the length cache is touched.
//
// v is normalized through isNilValue first: every nil the VM produces
// is the typed `Nil{}` value, never the untyped Go nil that array
// slots and hash nodes use internally to mark "empty" -- comparing an
// unnormalized v against `nil` would never match, silently breaking
// the "assign nil to delete a key" contract (§3/§4.4).
func (t *Table) Set(gc *gc, k, v Value) error {
	if err := t.errIfFrozen(); err != nil {
		return err
	}
	if isNilValue(v) {
		v = nil
	}
	if idx, ok := t.arrayIndex(k); ok {
		t.array[idx] = v
		t.lengthSet = false
		return nil
	}
	if ik, ok := k.(Int); ok && int(ik) == len(t.array)+1 && v != nil {
		t.array = append(t.array, v)
		t.migrateFromHash(gc)
		t.lengthSet = false
		return nil
	}
	k = normalizeKey(k)
	t.rawset(gc, k, v)
	t.lengthSet = false
	return nil
}

// migrateFromHash pulls any hash-part integer keys that now fall
// immediately after the array part into the array, repeatedly, the
// way the resize step described in §4.4 folds contiguous integer runs
// into the array.
func (t *Table) migrateFromHash(gc *gc) {
	for {
		next := Int(len(t.array) + 1)
		v := t.rawGetHash(next)
		if v == nil {
			return
		}
		t.array = append(t.array, v)
		t.rawset(gc, next, nil)
	}
}

func (t *Table) rawGetHash(k Value) Value {
	if len(t.node) == 0 {
		return nil
	}
	for i := t.mainPosition(k); i != -1; {
		n := &t.node[i]
		if n.key != nil && keyEquals(n.key, k) {
			return n.val
		}
		if n.next == -1 {
			break
		}
		i = n.next
	}
	return nil
}

func (t *Table) rawset(gc *gc, k, v Value) {
	if len(t.node) == 0 {
		t.resizeHash(gc, 1)
	}
	mp := t.mainPosition(k)
	for i := mp; i != -1; {
		n := &t.node[i]
		if n.key != nil && keyEquals(n.key, k) {
			n.val = v
			return
		}
		if n.next == -1 {
			break
		}
		i = n.next
	}
	if v == nil {
		return
	}
	if t.node[mp].key == nil {
		t.node[mp].key, t.node[mp].val, t.node[mp].next = k, v, -1
		return
	}
	// collision: if the colliding entry doesn't actually live at its
	// own main position, relocate it and take its slot; otherwise
	// chain the new entry through a free slot (§4.4).
	free := t.getFreePos()
	if free == -1 {
		t.resizeHash(gc, len(t.node)*2)
		t.rawset(gc, k, v)
		return
	}
	otherMain := t.mainPosition(t.node[mp].key)
	if otherMain != mp {
		// relocate the colliding entry that is not at its main position
		prev := otherMain
		for t.node[prev].next != mp {
			prev = t.node[prev].next
		}
		t.node[prev].next = free
		t.node[free] = t.node[mp]
		t.node[mp] = tableNode{key: k, val: v, next: -1}
		return
	}
	t.node[free] = tableNode{key: k, val: v, next: t.node[mp].next}
	t.node[mp].next = free
}

func (t *Table) getFreePos() int {
	for t.lastfree >= 0 {
		t.lastfree--
		if t.lastfree >= 0 && t.node[t.lastfree].key == nil {
			return t.lastfree
		}
	}
	return -1
}

func (t *Table) resizeHash(gc *gc, n int) {
	size := 1
	for size < n {
		size *= 2
	}
	old := t.node
	t.node = make([]tableNode, size)
	for i := range t.node {
		t.node[i].next = -1
		t.node[i].key = nil
	}
	t.lastfree = size
	for i := range old {
		if old[i].key != nil && old[i].val != nil {
			t.rawset(gc, old[i].key, old[i].val)
		}
	}
}

// Len implements the `#t` operator (§3): cached if known, else a
// border search on the array part, falling back into the hash part
// when the array is entirely occupied.
func (t *Table) Len() int {
	if t.lengthSet {
		return t.length
	}
	n := len(t.array)
	for n > 0 && t.array[n-1] == nil {
		n--
	}
	if n == len(t.array) {
		// array part fully occupied; probe the hash part for a
		// continuing border via binary search doubling, per §4.4.
		j := n + 1
		for t.rawGetHash(Int(j)) != nil {
			n = j
			j *= 2
			if j > 1<<30 {
				break
			}
		}
		lo, hi := n, j
		for hi-lo > 1 {
			mid := (lo + hi) / 2
			if t.rawGetHash(Int(mid)) != nil {
				lo = mid
			} else {
				hi = mid
			}
		}
		n = lo
	}
	t.length = n
	t.lengthSet = true
	return n
}

// Next implements the `next(t, k)` iteration primitive: array-part
// entries in index order first, then hash-part entries in table
// order, per §4.4. k == nil starts iteration; returning (nil, nil)
// ends it.
func (t *Table) Next(k Value) (Value, Value, error) {
	startHash := 0
	if k == nil {
		for i, v := range t.array {
			if v != nil {
				return Int(i + 1), v, nil
			}
		}
	} else if idx, ok := t.arrayIndex(k); ok {
		for i := idx + 1; i < len(t.array); i++ {
			if t.array[i] != nil {
				return Int(i + 1), t.array[i], nil
			}
		}
	} else {
		k = normalizeKey(k)
		found := false
		for i := range t.node {
			if t.node[i].key != nil && keyEquals(t.node[i].key, k) {
				startHash = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("invalid key to 'next'")
		}
	}
	for i := startHash; i < len(t.node); i++ {
		if t.node[i].key != nil && t.node[i].val != nil {
			return t.node[i].key, t.node[i].val, nil
		}
	}
	return nil, nil, nil
}
