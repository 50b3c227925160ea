package safeconv

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntToInt32(t *testing.T) {
	assert.Equal(t, int32(7), IntToInt32(7))
	assert.Equal(t, int32(math.MaxInt32), IntToInt32(math.MaxInt32+1))
	assert.Equal(t, int32(math.MinInt32), IntToInt32(math.MinInt32-1))
	assert.Equal(t, int32(math.MaxInt32), Int64ToInt32(math.MaxInt64))
	assert.Equal(t, []int32{1, 3, math.MaxInt32}, IntSliceToInt32Slice([]int{1, 3, math.MaxInt32 + 5}))
}

func TestUnsigned(t *testing.T) {
	assert.Equal(t, math.MaxInt, Uint64ToInt(math.MaxUint64))
	assert.Equal(t, 5, Uint64ToInt(5))
	assert.Equal(t, uint64(0), IntToUint64(-3))
	assert.Equal(t, uint64(3), IntToUint64(3))
	assert.Equal(t, uint64(0), DurationToU64(-time.Second))
	assert.Equal(t, uint64(time.Second), DurationToU64(time.Second))
}

func TestNumel(t *testing.T) {
	assert.Equal(t, 1, Numel(nil))
	assert.Equal(t, 24, Numel([]int32{2, 3, 4}))
	assert.Equal(t, 0, Numel([]int32{2, 0, 4}))
	assert.Equal(t, 0, Numel([]int32{-1, 3}))
	assert.Equal(t, math.MaxInt, Numel([]int32{math.MaxInt32, math.MaxInt32, math.MaxInt32}))
}
