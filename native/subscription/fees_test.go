package subscription

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitFeesScenario(t *testing.T) {
	split, err := SplitFees(10_000_000, 50, 150)
	require.NoError(t, err)
	require.Equal(t, FeeSplit{Amount: 10_000_000, Keeper: 50_000, Platform: 150_000, Payee: 9_800_000}, split)
}

func TestSplitFeesConservesAmount(t *testing.T) {
	amounts := []uint64{1, 3, 7, 99, 10_001, 123_456_789, math.MaxUint64 / 3, math.MaxUint64}
	rates := [][2]uint32{{0, 0}, {1, 1}, {33, 67}, {50, 150}, {9_999, 1}, {5_000, 5_000}, {0, 10_000}}
	for _, amount := range amounts {
		for _, rate := range rates {
			split, err := SplitFees(amount, rate[0], rate[1])
			require.NoError(t, err, "amount %d rates %v", amount, rate)
			require.Equal(t, amount, split.Keeper+split.Platform+split.Payee, "amount %d rates %v", amount, rate)
			require.LessOrEqual(t, split.Keeper, amount)
		}
	}
}

func TestSplitFeesTruncatesTowardPayee(t *testing.T) {
	split, err := SplitFees(999, 50, 150)
	require.NoError(t, err)
	require.Equal(t, uint64(4), split.Keeper)
	require.Equal(t, uint64(14), split.Platform)
	require.Equal(t, uint64(981), split.Payee)
}

func TestSplitFeesArithmeticFaults(t *testing.T) {
	_, err := SplitFees(100, 10_001, 0)
	require.ErrorIs(t, err, ErrArithmeticFault)

	_, err = SplitFees(100, 6_000, 6_000)
	require.ErrorIs(t, err, ErrArithmeticFault)
	require.Equal(t, CategoryArithmetic, Classify(err))
}

func TestAllowanceCapOverflow(t *testing.T) {
	got, err := allowanceCap(10, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(30), got)

	_, err = allowanceCap(math.MaxUint64, 2)
	require.ErrorIs(t, err, ErrArithmeticFault)

	_, err = checkedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrArithmeticFault)
}
