package mask

import (
	"math"
	"strconv"
	"strings"
)

const intBits = 64

// floorDivInt implements integer floor-division: the result rounds
// toward -infinity rather than toward zero for negative operands
// (§4.3, and the law in §8: "(i // j) * j + (i % j) == i").
func floorDivInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, &RuntimeError{Kind: ErrRun, Message: "attempt to perform 'n//0'"}
	}
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q, nil
}

// modInt implements integer modulo with the sign of the divisor,
// consistent with floorDivInt (§4.3, §8).
func modInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, &RuntimeError{Kind: ErrRun, Message: "attempt to perform 'n%%0'"}
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, nil
}

// modFloat mirrors modInt's sign convention for floats: the result
// has the sign of the divisor, or NaN if it is a division by zero.
func modFloat(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// shiftLeft implements the `<<` opcode semantics of §4.3: a shift of
// |y| >= N_BITS yields 0, and a negative shift is a right shift by
// -y (since right shift is defined as a left shift by -y).
func shiftLeft(a int64, y int64) int64 {
	if y <= -intBits || y >= intBits {
		return 0
	}
	if y >= 0 {
		return int64(uint64(a) << uint(y))
	}
	return int64(uint64(a) >> uint(-y))
}

func shiftRight(a int64, y int64) int64 { return shiftLeft(a, -y) }

// RoundMode selects how float-to-integer conversion rounds, per §4.3
// ("three rounding modes ... selectable per use site").
type RoundMode int

const (
	RoundEqualOnly RoundMode = iota
	RoundFloor
	RoundCeil
)

// floatToInt converts f to an int64 using mode, failing if
// RoundEqualOnly is requested and f isn't already integral.
func floatToInt(f float64, mode RoundMode) (int64, bool) {
	switch mode {
	case RoundFloor:
		return int64(math.Floor(f)), true
	case RoundCeil:
		return int64(math.Ceil(f)), true
	default:
		iv := int64(f)
		if float64(iv) != f {
			return 0, false
		}
		return iv, true
	}
}

// tonumber implements the string-to-number coercion rule of §4.3:
// decimal, hex (0x..[.p..]), binary (0b..), optional sign, optional
// surrounding whitespace.
func tonumber(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	neg := false
	body := s
	if strings.HasPrefix(body, "+") {
		body = body[1:]
	} else if strings.HasPrefix(body, "-") {
		neg = true
		body = body[1:]
	}
	lower := strings.ToLower(body)
	switch {
	case strings.HasPrefix(lower, "0x"):
		if strings.ContainsAny(lower, ".p") {
			f, err := strconv.ParseFloat(body, 64)
			if err != nil {
				return nil, false
			}
			if neg {
				f = -f
			}
			return Float(f), true
		}
		v, err := strconv.ParseUint(lower[2:], 16, 64)
		if err != nil {
			return nil, false
		}
		iv := int64(v)
		if neg {
			iv = -iv
		}
		return Int(iv), true
	case strings.HasPrefix(lower, "0b"):
		v, err := strconv.ParseUint(lower[2:], 2, 64)
		if err != nil {
			return nil, false
		}
		iv := int64(v)
		if neg {
			iv = -iv
		}
		return Int(iv), true
	}
	if iv, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(iv), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f), true
	}
	return nil, false
}

// arithCoerce resolves the operand types for a binary arithmetic op:
// if both are numbers it returns them coerced to a common
// representation (int if both int, else float per §4.3's "integer
// becomes float" rule); otherwise it tries numeric-string coercion
// before reporting failure so the caller can fall back to a
// metamethod.
func arithCoerce(a, b Value) (ai, bi int64, af, bf float64, bothInt, ok bool) {
	av, aok := coerceOperand(a)
	bv, bok := coerceOperand(b)
	if !aok || !bok {
		return 0, 0, 0, 0, false, false
	}
	ia, aIsInt := av.(Int)
	ib, bIsInt := bv.(Int)
	if aIsInt && bIsInt {
		return int64(ia), int64(ib), 0, 0, true, true
	}
	fa, _ := asFloat(av)
	fb, _ := asFloat(bv)
	return 0, 0, fa, fb, false, true
}

func coerceOperand(v Value) (Value, bool) {
	switch v := v.(type) {
	case Int, Float:
		return v, true
	case *ShortString:
		return tonumber(v.s)
	case *LongString:
		return tonumber(v.s)
	default:
		return nil, false
	}
}
