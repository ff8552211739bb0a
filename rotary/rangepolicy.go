package rotary

import (
	"fmt"
	"math"
	"strings"
)

// RangeMode selects how the tracked value responds to its bounds.
type RangeMode uint8

const (
	RangeUnbounded RangeMode = iota
	RangeWrap
	RangeClamp
)

func (m RangeMode) String() string {
	switch m {
	case RangeUnbounded:
		return "unbounded"
	case RangeWrap:
		return "wrap"
	case RangeClamp:
		return "clamp"
	default:
		return fmt.Sprintf("RangeMode(%d)", uint8(m))
	}
}

// ParseRangeMode accepts the canonical names plus a few aliases
// ("wrapping", "clamped", "bounded").
func ParseRangeMode(s string) (RangeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unbounded":
		return RangeUnbounded, nil
	case "wrap", "wrapping":
		return RangeWrap, nil
	case "clamp", "clamped", "bounded":
		return RangeClamp, nil
	default:
		return RangeUnbounded, fmt.Errorf("invalid range mode %q (must be unbounded, wrap, or clamp)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m RangeMode) MarshalText() ([]byte, error) {
	if m > RangeClamp {
		return nil, fmt.Errorf("invalid range mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *RangeMode) UnmarshalText(b []byte) error {
	v, err := ParseRangeMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Wrap adds incr to value and folds the result into [lo, hi]. lo must not
// exceed hi. Span and offsets are computed in uint and cannot overflow.
func Wrap(value, incr, lo, hi int) int {
	span := uint(hi) - uint(lo) + 1
	if span == 0 {
		// [lo, hi] covers every int.
		return int(uint(value) + uint(incr))
	}
	off := offsetMod(value, lo, span)
	step := offsetMod(incr, 0, span)
	if off >= span-step {
		off -= span - step
	} else {
		off += step
	}
	return int(uint(lo) + off)
}

// offsetMod returns (v - base) mod span in [0, span).
func offsetMod(v, base int, span uint) uint {
	if v >= base {
		return (uint(v) - uint(base)) % span
	}
	m := (uint(base) - uint(v)) % span
	if m == 0 {
		return 0
	}
	return span - m
}

// Clamp adds incr to value and limits the result to [lo, hi].
func Clamp(value, incr, lo, hi int) int {
	return min(hi, max(lo, addSat(value, incr)))
}

// addSat adds a and b, saturating at the int limits.
func addSat(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	if b < 0 && a < math.MinInt-b {
		return math.MinInt
	}
	return a + b
}

// Apply computes the next value under mode. Unbounded addition saturates at
// the int limits.
func Apply(mode RangeMode, value, incr, lo, hi int) int {
	switch mode {
	case RangeWrap:
		return Wrap(value, incr, lo, hi)
	case RangeClamp:
		return Clamp(value, incr, lo, hi)
	default:
		return addSat(value, incr)
	}
}
