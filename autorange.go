package main

import (
	"fmt"
	"math"
)

// Bounds are the normalization bounds handed to the renderer.
//
// An auto side starts at its sentinel (MaxInt for Min, MinInt for Max) so the
// first observed sample sets it. After that Min can only go down and Max can
// only go up. Fixed sides are never touched; out-of-range samples are clamped
// by the renderer.
type Bounds struct {
	Min     int
	Max     int
	AutoMin bool
	AutoMax bool
}

func NewBounds(min, max int, autoMin, autoMax bool) Bounds {
	b := Bounds{Min: min, Max: max, AutoMin: autoMin, AutoMax: autoMax}
	if autoMin {
		b.Min = math.MaxInt
	}
	if autoMax {
		b.Max = math.MinInt
	}
	return b
}

// Observe widens the auto sides to include v.
func (b *Bounds) Observe(v int) {
	if b.AutoMin && v < b.Min {
		b.Min = v
	}
	if b.AutoMax && v > b.Max {
		b.Max = v
	}
}

// Seen reports whether both sides hold real values (not sentinels).
func (b Bounds) Seen() bool {
	return !(b.AutoMin && b.Min == math.MaxInt) && !(b.AutoMax && b.Max == math.MinInt)
}

func (b Bounds) String() string {
	lo, hi := "auto", "auto"
	if !b.AutoMin || b.Min != math.MaxInt {
		lo = fmt.Sprint(b.Min)
	}
	if !b.AutoMax || b.Max != math.MinInt {
		hi = fmt.Sprint(b.Max)
	}
	return lo + ".." + hi
}
