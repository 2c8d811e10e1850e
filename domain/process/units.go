// Package process holds the core data model of the process engine: resource
// units, the resource ledger, the process entity, its state machine, the
// duration calculator, and the event shapes the engine emits.
package process

import "math"

// Units is a non-negative quantity of an abstract resource (CPU or RAM
// ticks). All arithmetic is checked or saturating; it never wraps.
type Units uint64

// TryAdd returns a+b and true, or (0, false) if the sum would overflow.
func (a Units) TryAdd(b Units) (Units, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// TrySub returns a-b and true, or (0, false) if b > a.
func (a Units) TrySub(b Units) (Units, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// SaturatingAdd returns a+b, clamped at the Units maximum instead of
// wrapping.
func (a Units) SaturatingAdd(b Units) Units {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// SaturatingSub returns a-b, clamped at zero instead of wrapping.
func (a Units) SaturatingSub(b Units) Units {
	if b > a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func (a Units) Min(b Units) Units {
	if a < b {
		return a
	}
	return b
}
