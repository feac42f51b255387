package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Between reports lo <= v && v <= hi (order-insensitive).
func Between[T constraints.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// OrDefault returns def when v is the zero value, else v clamped to [lo, hi].
// Config fields use it so an omitted timeout picks the built-in default.
func OrDefault[T constraints.Integer](v, def, lo, hi T) T {
	if v == 0 {
		return def
	}
	return Clamp(v, lo, hi)
}
