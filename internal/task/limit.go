package task

import "strconv"

// Limit caps a counter such as tries or resets.
//
// The zero value is unbounded. Bounded(0) is a valid limit that is reached
// immediately.
type Limit struct {
	n       int
	bounded bool
}

// Unbounded never reaches its cap.
var Unbounded = Limit{}

// Bounded returns a limit of n. Negative values clamp to 0.
func Bounded(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n, bounded: true}
}

// Value returns the cap and whether the limit is bounded at all.
func (l Limit) Value() (int, bool) { return l.n, l.bounded }

// Reached reports whether count has hit the cap.
func (l Limit) Reached(count int) bool { return l.bounded && count >= l.n }

func (l Limit) String() string {
	if !l.bounded {
		return "unbounded"
	}
	return strconv.Itoa(l.n)
}
