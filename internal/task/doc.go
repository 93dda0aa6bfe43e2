// Package task implements condition-driven task units.
//
// A unit bundles a goal, a rule and an action over a shared domain value D:
//   - Goal reports whether the domain already satisfies the unit.
//   - Rule computes a remedial value R when it does not.
//   - Action applies that value back to the domain.
//
// Units are advanced by Tick with an elapsed-time delta. They never run
// goroutines of their own; the caller (usually internal/twin) owns the loop.
package task
