package mask

import (
	"fmt"
	"math"
)

// Tag identifies the dynamic type carried by a Value. The collectable
// tags (string, table, function, userdata, thread, plus the
// internal-only upvalue/prototype tags) are distinguished from the
// non-collectable ones by isCollectable, so the GC can skip scalars in
// O(1) without a type switch.
type Tag uint8

const (
	TagNil Tag = iota
	TagBoolean
	TagLightUserData
	TagInt
	TagFloat
	TagShortString
	TagLongString
	TagTable
	TagLightFunction
	TagCClosure
	TagClosure
	TagFullUserData
	TagThread

	// internal-only tags, never observed by embedding-API callers.
	tagUpvalue
	tagPrototype
	tagDeadKey
	tagIter
	tagIterInt
)

// nilKind distinguishes the three sub-variants of nil described in
// §3: a value genuinely assigned nil, an empty-but-present table
// slot, and the sentinel returned for an absent key lookup.
type nilKind uint8

const (
	NilStandard nilKind = iota
	NilEmptySlot
	NilAbsentKey
)

func (t Tag) isCollectable() bool {
	switch t {
	case TagShortString, TagLongString, TagTable, TagClosure, TagCClosure,
		TagFullUserData, TagThread, tagUpvalue, tagPrototype:
		return true
	default:
		return false
	}
}

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "nil"
	case TagBoolean:
		return "boolean"
	case TagLightUserData:
		return "userdata"
	case TagInt, TagFloat:
		return "number"
	case TagShortString, TagLongString:
		return "string"
	case TagTable:
		return "table"
	case TagLightFunction, TagCClosure, TagClosure:
		return "function"
	case TagFullUserData:
		return "userdata"
	case TagThread:
		return "thread"
	default:
		return "no value"
	}
}

// objectHeader is embedded in every collectable object. next links it
// into the owning GlobalState's intrusive allgc/finobj/tobefnz lists;
// marked carries the GC's tri-color bits plus the fixed/finalizer/old
// flags described in §3.
type objectHeader struct {
	next   gcObject
	tag    Tag
	marked uint8
}

const (
	colorWhite0 uint8 = 1 << iota
	colorWhite1
	colorGray
	colorBlack
	flagFixed
	flagFinalizer
	flagOld
)

func (h *objectHeader) isWhite() bool  { return h.marked&(colorWhite0|colorWhite1) != 0 }
func (h *objectHeader) isBlack() bool  { return h.marked&colorBlack != 0 }
func (h *objectHeader) isGray() bool   { return h.marked&(colorWhite0|colorWhite1|colorBlack) == 0 }
func (h *objectHeader) isFixed() bool  { return h.marked&flagFixed != 0 }
func (h *objectHeader) header() *objectHeader { return h }

// gcObject is implemented by every heap-allocated value the collector
// walks: strings, tables, closures, userdata, threads, prototypes,
// upvalues.
type gcObject interface {
	header() *objectHeader
}

// Value is a tagged value: every TValue the VM ever touches implements
// this. Scalars (nil, bool, int, float, light userdata) are values;
// everything collectable also implements gcObject.
type Value interface {
	Tag() Tag
	fmt.Stringer
}

// --- scalars ---

type Nil struct{ kind nilKind }

var (
	valNil       = Nil{kind: NilStandard}
	valEmptySlot = Nil{kind: NilEmptySlot}
	valAbsentKey = Nil{kind: NilAbsentKey}
)

func (Nil) Tag() Tag        { return TagNil }
func (n Nil) String() string { return "nil" }

type Bool bool

func (Bool) Tag() Tag         { return TagBoolean }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// truthy implements the language rule that everything except nil and
// false is true, including 0 and the empty string.
func truthy(v Value) bool {
	switch v := v.(type) {
	case Nil:
		return false
	case Bool:
		return bool(v)
	default:
		return true
	}
}

type Int int64

func (Int) Tag() Tag         { return TagInt }
func (i Int) String() string { return fmt.Sprintf("%d", int64(i)) }

type Float float64

func (Float) Tag() Tag { return TagFloat }
func (f Float) String() string {
	v := float64(f)
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if math.IsNaN(v) {
		return "nan"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.1f", v)
	}
	return fmt.Sprintf("%.14g", v)
}

type LightUserData struct{ Ptr uintptr }

func (LightUserData) Tag() Tag         { return TagLightUserData }
func (l LightUserData) String() string { return fmt.Sprintf("userdata: %#x", l.Ptr) }

// FullUserData wraps an opaque host value plus an optional metatable
// and a small array of extra uservalues, per §6's new-full-userdata
// writer.
type FullUserData struct {
	objectHeader
	Data       any
	Metatable  *Table
	UserValues []Value
}

func (*FullUserData) Tag() Tag         { return TagFullUserData }
func (u *FullUserData) String() string { return fmt.Sprintf("userdata: %p", u) }

func isNumber(v Value) bool {
	switch v.(type) {
	case Int, Float:
		return true
	default:
		return false
	}
}

func asFloat(v Value) (float64, bool) {
	switch v := v.(type) {
	case Int:
		return float64(v), true
	case Float:
		return float64(v), true
	default:
		return 0, false
	}
}
