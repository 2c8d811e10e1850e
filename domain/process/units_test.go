package process

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryAdd(t *testing.T) {
	v, ok := Units(3).TryAdd(4)
	assert.True(t, ok)
	assert.Equal(t, Units(7), v)

	_, ok = Units(math.MaxUint64).TryAdd(1)
	assert.False(t, ok)
}

func TestTrySub(t *testing.T) {
	v, ok := Units(10).TrySub(4)
	assert.True(t, ok)
	assert.Equal(t, Units(6), v)

	_, ok = Units(3).TrySub(4)
	assert.False(t, ok)
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, Units(math.MaxUint64), Units(math.MaxUint64).SaturatingAdd(10))
	assert.Equal(t, Units(15), Units(10).SaturatingAdd(5))
}

func TestSaturatingSub(t *testing.T) {
	assert.Equal(t, Units(0), Units(2).SaturatingSub(5))
	assert.Equal(t, Units(3), Units(8).SaturatingSub(5))
}

func TestMin(t *testing.T) {
	assert.Equal(t, Units(3), Units(3).Min(7))
	assert.Equal(t, Units(7), Units(9).Min(7))
}
