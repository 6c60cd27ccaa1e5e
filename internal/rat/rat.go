// Package rat implements exact rational arithmetic for plan time points.
//
// Plan times, tick quanta and execution bounds are all rationals: a plan may
// place an activity at 7/2 plan units and the executor must compare and add
// such values without drift. Values are kept normalized (gcd 1, positive
// denominator) so Rational is directly usable as a map key.
//
// A zero denominator encodes an infinity with the sign of the numerator.
// This is what the pulse index and the horizon check need: a freshly created
// activity has an upper start bound of +inf until execution narrows it.
package rat

import (
	"encoding/json"
	"fmt"
	"math"
)

// Rational is an exact num/den pair. The zero value is 0/1.
//
// INVARIANTS:
//   - den >= 0
//   - den == 0 encodes infinity; num is then -1 or +1
//   - gcd(num, den) == 1 for finite values
type Rational struct {
	num, den int64
}

// Common constants.
var (
	Zero             = Rational{0, 1}
	One              = Rational{1, 1}
	PositiveInfinity = Rational{1, 0}
	NegativeInfinity = Rational{-1, 0}
)

// New creates a normalized rational num/den.
// Panics on den == 0; use PositiveInfinity/NegativeInfinity for infinities.
func New(num, den int64) Rational {
	if den == 0 {
		panic("rat: zero denominator")
	}
	return normalize(num, den)
}

// FromInt creates the rational n/1.
func FromInt(n int64) Rational {
	return Rational{n, 1}
}

func normalize(num, den int64) Rational {
	if den < 0 {
		num, den = -num, -den
	}
	if num == 0 {
		return Rational{0, 1}
	}
	g := gcd(abs(num), den)
	return Rational{num / g, den / g}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Num returns the numerator.
func (r Rational) Num() int64 { return r.normZero().num }

// Den returns the denominator; 0 for infinities.
func (r Rational) Den() int64 { return r.normZero().den }

// normZero maps the uninitialized zero value {0,0} to 0/1.
func (r Rational) normZero() Rational {
	if r.num == 0 && r.den == 0 {
		return Zero
	}
	return r
}

// IsInfinite reports whether r is +inf or -inf.
func (r Rational) IsInfinite() bool {
	r = r.normZero()
	return r.den == 0
}

// IsFinite reports whether r is a finite value.
func (r Rational) IsFinite() bool { return !r.IsInfinite() }

// Sign returns -1, 0 or +1.
func (r Rational) Sign() int {
	r = r.normZero()
	switch {
	case r.num < 0:
		return -1
	case r.num > 0:
		return 1
	default:
		return 0
	}
}

// Add returns r + o. Adding opposite infinities panics.
func (r Rational) Add(o Rational) Rational {
	r, o = r.normZero(), o.normZero()
	switch {
	case r.IsInfinite() && o.IsInfinite():
		if r.num != o.num {
			panic("rat: inf + -inf")
		}
		return r
	case r.IsInfinite():
		return r
	case o.IsInfinite():
		return o
	}
	return normalize(r.num*o.den+o.num*r.den, r.den*o.den)
}

// Sub returns r - o.
func (r Rational) Sub(o Rational) Rational {
	return r.Add(o.Neg())
}

// Neg returns -r.
func (r Rational) Neg() Rational {
	r = r.normZero()
	return Rational{-r.num, r.den}
}

// Mul returns r * o for finite operands; multiplying an infinity by a
// non-zero finite keeps the (signed) infinity.
func (r Rational) Mul(o Rational) Rational {
	r, o = r.normZero(), o.normZero()
	if r.IsInfinite() || o.IsInfinite() {
		if r.Sign() == 0 || o.Sign() == 0 {
			panic("rat: 0 * inf")
		}
		return Rational{int64(r.Sign() * o.Sign()), 0}
	}
	return normalize(r.num*o.num, r.den*o.den)
}

// Cmp compares r and o: -1 if r < o, 0 if equal, +1 if r > o.
func (r Rational) Cmp(o Rational) int {
	r, o = r.normZero(), o.normZero()
	if r == o {
		return 0
	}
	switch {
	case r.IsInfinite() && o.IsInfinite():
		return int(r.num) // opposite infinities: r's sign decides
	case r.IsInfinite():
		return int(r.num)
	case o.IsInfinite():
		return int(-o.num)
	}
	lhs := r.num * o.den
	rhs := o.num * r.den
	switch {
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	default:
		return 0
	}
}

// Less reports r < o.
func (r Rational) Less(o Rational) bool { return r.Cmp(o) < 0 }

// LessEq reports r <= o.
func (r Rational) LessEq(o Rational) bool { return r.Cmp(o) <= 0 }

// Greater reports r > o.
func (r Rational) Greater(o Rational) bool { return r.Cmp(o) > 0 }

// GreaterEq reports r >= o.
func (r Rational) GreaterEq(o Rational) bool { return r.Cmp(o) >= 0 }

// Equal reports r == o.
func (r Rational) Equal(o Rational) bool { return r.Cmp(o) == 0 }

// Max returns the larger of r and o.
func Max(r, o Rational) Rational {
	if r.Cmp(o) >= 0 {
		return r
	}
	return o
}

// Min returns the smaller of r and o.
func Min(r, o Rational) Rational {
	if r.Cmp(o) <= 0 {
		return r
	}
	return o
}

// Float64 renders r as a float, with infinities mapping to ±Inf.
// Lossy; for display and metrics only.
func (r Rational) Float64() float64 {
	r = r.normZero()
	if r.IsInfinite() {
		if r.num > 0 {
			return math.Inf(1)
		}
		return math.Inf(-1)
	}
	return float64(r.num) / float64(r.den)
}

// String renders "n", "n/d", "+inf" or "-inf".
func (r Rational) String() string {
	r = r.normZero()
	if r.IsInfinite() {
		if r.num > 0 {
			return "+inf"
		}
		return "-inf"
	}
	if r.den == 1 {
		return fmt.Sprintf("%d", r.num)
	}
	return fmt.Sprintf("%d/%d", r.num, r.den)
}

// jsonRational is the wire shape: rationals travel as a (num, den) pair.
type jsonRational struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// MarshalJSON encodes r as {"num": n, "den": d}. Infinities keep den == 0.
func (r Rational) MarshalJSON() ([]byte, error) {
	r = r.normZero()
	return json.Marshal(jsonRational{Num: r.num, Den: r.den})
}

// UnmarshalJSON decodes the (num, den) pair form.
func (r *Rational) UnmarshalJSON(data []byte) error {
	var jr jsonRational
	if err := json.Unmarshal(data, &jr); err != nil {
		return err
	}
	if jr.Den == 0 {
		switch {
		case jr.Num > 0:
			*r = PositiveInfinity
		case jr.Num < 0:
			*r = NegativeInfinity
		default:
			return fmt.Errorf("invalid rational 0/0")
		}
		return nil
	}
	*r = normalize(jr.Num, jr.Den)
	return nil
}
