package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_Deterministic(t *testing.T) {
	table := DefaultBalanceTable()
	hw := Hardware{CPU: 1000, Net: 500}
	tg := Target{Difficulty: 10}

	d1, s1, ok1 := Duration(KindScan, hw, tg, table)
	d2, s2, ok2 := Duration(KindScan, hw, tg, table)

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, d1, d2)
	assert.Equal(t, s1, s2)
}

func TestDuration_UnknownKind(t *testing.T) {
	table := BalanceTable{}
	_, _, ok := Duration(KindScan, Hardware{}, Target{}, table)
	assert.False(t, ok)
}

func TestDuration_MonotonicInHardware(t *testing.T) {
	table := DefaultBalanceTable()
	tg := Target{Difficulty: 5}

	dLow, _, _ := Duration(KindHack, Hardware{CPU: 10}, tg, table)
	dHigh, _, _ := Duration(KindHack, Hardware{CPU: 10000}, tg, table)

	assert.GreaterOrEqual(t, dLow, dHigh)
}

func TestDuration_MonotonicInDifficulty(t *testing.T) {
	table := DefaultBalanceTable()
	hw := Hardware{CPU: 100}

	dEasy, _, _ := Duration(KindHack, hw, Target{Difficulty: 1}, table)
	dHard, _, _ := Duration(KindHack, hw, Target{Difficulty: 1000}, table)

	assert.LessOrEqual(t, dEasy, dHard)
}

func TestDuration_FloorAtMinimum(t *testing.T) {
	table := BalanceTable{
		KindScan: {BaseSeconds: 1, MinSeconds: 5, CPUDivisor: 1},
	}
	d, _, ok := Duration(KindScan, Hardware{CPU: 1_000_000}, Target{}, table)
	require.True(t, ok)
	assert.Equal(t, int64(5), d)
}
