package safeconv

import (
	"math"
	"time"
)

// IntToInt32 converts int to int32 with clamping into [MinInt32, MaxInt32].
func IntToInt32(v int) int32 {
	if v < math.MinInt32 {
		return math.MinInt32
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// Int64ToInt32 converts int64 to int32 with clamping into [MinInt32, MaxInt32].
func Int64ToInt32(v int64) int32 {
	if v < math.MinInt32 {
		return math.MinInt32
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// IntSliceToInt32Slice converts a shape given as []int to the []int32 the C API expects, clamping each element.
func IntSliceToInt32Slice(input []int) []int32 {
	out := make([]int32, len(input))
	for i, v := range input {
		out[i] = IntToInt32(v)
	}
	return out
}

// Uint64ToInt converts uint64 to int with clamping to MaxInt.
func Uint64ToInt(v uint64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	return int(v) // #nosec G115 clamped above
}

// IntToUint64 converts int to uint64, mapping negatives to 0.
func IntToUint64(v int) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v) // #nosec G115 non-negative
}

// Numel returns the element count of a shape. Negative dimensions count as 0.
// The product saturates at MaxInt.
func Numel(shape []int32) int {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		if n > math.MaxInt/int(d) {
			return math.MaxInt
		}
		n *= int(d)
	}
	return n
}

// DurationToU64 converts a duration to an unsigned nanoseconds counter safely.
// Negative durations are mapped to 0.
func DurationToU64(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	// Conversion from time.Duration (int64) to uint64 is safe here because negatives are handled above.
	return uint64(d) // #nosec G115
}
