package mask

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// binarySignature, binaryVersion and dataSentinel are the fixed
// header fields a dumped chunk carries so undump can reject a
// corrupt, foreign, or version-mismatched binary before trusting any
// of its content, per §6's binary chunk format.
var binarySignature = []byte("\x1bMask")

const (
	binaryVersion = 1
	binaryFormat  = 0
)

var dataSentinel = []byte("\x19\x93\r\n\x1a\n")

const (
	dumpTagNil    = 0
	dumpTagBool   = 1
	dumpTagInt    = 2
	dumpTagFloat  = 3
	dumpTagString = 4
)

// Dump serializes closure's prototype into the binary chunk format
// described in §6. If strip is true, debug information (line map,
// local-variable ranges, upvalue names) is omitted.
func Dump(c *Closure, strip bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(binarySignature)
	buf.WriteByte(binaryVersion)
	buf.WriteByte(binaryFormat)
	if strip {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(dataSentinel)
	buf.WriteByte(8) // sizeof(Instruction) placeholder for format sanity
	buf.WriteByte(8) // sizeof(int64)
	buf.WriteByte(8) // sizeof(float64)
	writeVarInt(&buf, 0x5678)
	writeFloat(&buf, 370.5)

	if err := dumpPrototype(&buf, c.Proto, strip); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeVarInt(buf *bytes.Buffer, n uint64) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			buf.WriteByte(b | 0x80)
			return
		}
		buf.WriteByte(b)
	}
}

func writeFloat(buf *bytes.Buffer, f float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string, isSet bool) {
	if !isSet {
		writeVarInt(buf, 0)
		return
	}
	writeVarInt(buf, uint64(len(s))+1)
	buf.WriteString(s)
}

func dumpPrototype(buf *bytes.Buffer, p *Prototype, strip bool) error {
	if strip {
		writeString(buf, "", false)
	} else {
		writeString(buf, p.Source, true)
	}
	writeVarInt(buf, uint64(p.LineDefined))
	writeVarInt(buf, uint64(p.LastLineDefined))
	buf.WriteByte(byte(p.NumParams))
	if p.IsVararg {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(byte(p.MaxStackSize))

	writeVarInt(buf, uint64(len(p.Code)))
	for _, ins := range p.Code {
		var b [8]byte
		binary.LittleEndian.PutUint16(b[0:], uint16(ins.Op))
		binary.LittleEndian.PutUint32(b[2:6], uint32(int32(encodeJ(ins))))
		buf.Write(b[:])
		writeVarInt(buf, uint64(uint32(ins.A)))
		writeVarInt(buf, uint64(uint32(ins.B)))
		writeVarInt(buf, uint64(uint32(ins.C)))
		writeVarInt(buf, uint64(uint32(ins.Bx)))
	}

	writeVarInt(buf, uint64(len(p.Constants)))
	for _, k := range p.Constants {
		if err := dumpConstant(buf, k); err != nil {
			return err
		}
	}

	writeVarInt(buf, uint64(len(p.Protos)))
	for _, sub := range p.Protos {
		if err := dumpPrototype(buf, sub, strip); err != nil {
			return err
		}
	}

	writeVarInt(buf, uint64(len(p.Upvalues)))
	for _, uv := range p.Upvalues {
		if uv.InStack {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeVarInt(buf, uint64(uv.Index))
		buf.WriteByte(byte(uv.Kind))
		if !strip {
			writeString(buf, uv.Name, true)
		}
	}

	if !strip {
		writeVarInt(buf, uint64(len(p.lines)))
		for _, le := range p.lines {
			writeVarInt(buf, uint64(le.pc))
			writeVarInt(buf, uint64(le.line))
		}
		writeVarInt(buf, uint64(len(p.locals)))
		for _, lv := range p.locals {
			writeString(buf, lv.Name, true)
			writeVarInt(buf, uint64(lv.StartPC))
			writeVarInt(buf, uint64(lv.EndPC))
			writeVarInt(buf, uint64(lv.Reg))
		}
	}
	return nil
}

func encodeJ(ins Instruction) int32 {
	return int32(ins.SJ)
}

func dumpConstant(buf *bytes.Buffer, v Value) error {
	switch k := v.(type) {
	case Nil:
		buf.WriteByte(dumpTagNil)
	case Bool:
		buf.WriteByte(dumpTagBool)
		if bool(k) {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case Int:
		buf.WriteByte(dumpTagInt)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(int64(k)))
		buf.Write(b[:])
	case Float:
		buf.WriteByte(dumpTagFloat)
		writeFloat(buf, float64(k))
	case *ShortString:
		buf.WriteByte(dumpTagString)
		writeString(buf, k.s, true)
	case *LongString:
		buf.WriteByte(dumpTagString)
		writeString(buf, k.s, true)
	default:
		return fmt.Errorf("cannot dump constant of type %s", v.Tag())
	}
	return nil
}

// undumpReader walks a byte slice left to right, the mirror image of
// the bytes.Buffer writes in Dump, returning *SyntaxError-shaped
// failures (reusing the lexer's error type) on any corruption.
type undumpReader struct {
	b        []byte
	pos      int
	chunk    string
}

func (r *undumpReader) errf(format string, args ...any) error {
	return &SyntaxError{Chunk: r.chunk, Message: fmt.Sprintf(format, args...)}
}

func (r *undumpReader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, r.errf("truncated binary chunk")
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *undumpReader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, r.errf("truncated binary chunk")
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *undumpReader) readVarInt() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 != 0 {
			return result, nil
		}
		shift += 7
		if shift > 63 {
			return 0, r.errf("malformed variable-length integer")
		}
	}
}

func (r *undumpReader) readFloat() (float64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *undumpReader) readString() (string, bool, error) {
	n, err := r.readVarInt()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	b, err := r.readN(int(n - 1))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// Undump parses a binary chunk produced by Dump back into a
// Prototype, rejecting anything whose signature, version, sentinel,
// or size/endian test values don't match (§6).
func Undump(data []byte, chunkName string, gcRef *gc, st *StringTable) (*Prototype, error) {
	r := &undumpReader{b: data, chunk: chunkName}
	sig, err := r.readN(len(binarySignature))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, binarySignature) {
		return nil, r.errf("not a precompiled chunk (bad signature)")
	}
	version, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if version != binaryVersion {
		return nil, r.errf("version mismatch in precompiled chunk")
	}
	if _, err := r.readByte(); err != nil { // format byte, reserved
		return nil, err
	}
	strippedByte, err := r.readByte()
	if err != nil {
		return nil, err
	}
	strip := strippedByte != 0
	sentinel, err := r.readN(len(dataSentinel))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sentinel, dataSentinel) {
		return nil, r.errf("corrupted precompiled chunk (bad sentinel)")
	}
	if _, err := r.readN(3); err != nil { // sizeof checks
		return nil, err
	}
	testInt, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	if testInt != 0x5678 {
		return nil, r.errf("precompiled chunk has incompatible integer format")
	}
	testFloat, err := r.readFloat()
	if err != nil {
		return nil, err
	}
	if testFloat != 370.5 {
		return nil, r.errf("precompiled chunk has incompatible float format")
	}
	return undumpPrototype(r, gcRef, st, strip)
}

func undumpPrototype(r *undumpReader, gcRef *gc, st *StringTable, strip bool) (*Prototype, error) {
	p := &Prototype{}
	src, has, err := r.readString()
	if err != nil {
		return nil, err
	}
	if has {
		p.Source = src
	}
	ld, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	p.LineDefined = int(ld)
	lld, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	p.LastLineDefined = int(lld)
	np, err := r.readByte()
	if err != nil {
		return nil, err
	}
	p.NumParams = int(np)
	va, err := r.readByte()
	if err != nil {
		return nil, err
	}
	p.IsVararg = va != 0
	mss, err := r.readByte()
	if err != nil {
		return nil, err
	}
	p.MaxStackSize = int(mss)

	ncode, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	p.Code = make([]Instruction, ncode)
	for i := range p.Code {
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		op := OpCode(binary.LittleEndian.Uint16(b[0:2]))
		sj := int32(binary.LittleEndian.Uint32(b[2:6]))
		a, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		bb, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		c, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		bx, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		p.Code[i] = Instruction{Op: op, A: int(int32(a)), B: int(int32(bb)), C: int(int32(c)), Bx: int(int32(bx)), SJ: int(sj)}
	}

	nk, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	p.Constants = make([]Value, nk)
	for i := range p.Constants {
		v, err := undumpConstant(r, gcRef, st)
		if err != nil {
			return nil, err
		}
		p.Constants[i] = v
	}

	nprotos, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	p.Protos = make([]*Prototype, nprotos)
	for i := range p.Protos {
		sub, err := undumpPrototype(r, gcRef, st, strip)
		if err != nil {
			return nil, err
		}
		p.Protos[i] = sub
	}

	nup, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	p.Upvalues = make([]UpvalDesc, nup)
	for i := range p.Upvalues {
		inStack, err := r.readByte()
		if err != nil {
			return nil, err
		}
		idx, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		kind, err := r.readByte()
		if err != nil {
			return nil, err
		}
		p.Upvalues[i] = UpvalDesc{InStack: inStack != 0, Index: int(idx), Kind: UpvalDescKind(kind)}
		if !strip {
			name, has, err := r.readString()
			if err != nil {
				return nil, err
			}
			if has {
				p.Upvalues[i].Name = name
			}
		}
	}

	if !strip {
		nlines, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		p.lines = make([]lineEntry, nlines)
		for i := range p.lines {
			pc, err := r.readVarInt()
			if err != nil {
				return nil, err
			}
			line, err := r.readVarInt()
			if err != nil {
				return nil, err
			}
			p.lines[i] = lineEntry{pc: int(pc), line: int(line)}
		}
		nlocals, err := r.readVarInt()
		if err != nil {
			return nil, err
		}
		p.locals = make([]LocVar, nlocals)
		for i := range p.locals {
			name, _, err := r.readString()
			if err != nil {
				return nil, err
			}
			start, err := r.readVarInt()
			if err != nil {
				return nil, err
			}
			end, err := r.readVarInt()
			if err != nil {
				return nil, err
			}
			reg, err := r.readVarInt()
			if err != nil {
				return nil, err
			}
			p.locals[i] = LocVar{Name: name, StartPC: int(start), EndPC: int(end), Reg: int(reg)}
		}
	}

	return p, nil
}

func undumpConstant(r *undumpReader, gcRef *gc, st *StringTable) (Value, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case dumpTagNil:
		return valNil, nil
	case dumpTagBool:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return Bool(b != 0), nil
	case dumpTagInt:
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		return Int(int64(binary.LittleEndian.Uint64(b))), nil
	case dumpTagFloat:
		f, err := r.readFloat()
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case dumpTagString:
		s, has, err := r.readString()
		if err != nil {
			return nil, err
		}
		if !has {
			return NewString(gcRef, st, nil), nil
		}
		return NewString(gcRef, st, []byte(s)), nil
	default:
		return nil, r.errf("unknown constant tag %d in precompiled chunk", tag)
	}
}
