package subscription

import (
	"fmt"

	"github.com/holiman/uint256"
)

// FeeSplit is the three-way division of a gross charge.
type FeeSplit struct {
	Amount   uint64
	Keeper   uint64
	Platform uint64
	Payee    uint64
}

// SplitFees divides amount between keeper, platform and payee. Shares are
// truncated toward zero and the payee receives the remainder. Any overflow
// or negative remainder yields ErrArithmeticFault.
func SplitFees(amount uint64, keeperBps, platformBps uint32) (FeeSplit, error) {
	keeper, err := bpsShare(amount, keeperBps)
	if err != nil {
		return FeeSplit{}, err
	}
	platform, err := bpsShare(amount, platformBps)
	if err != nil {
		return FeeSplit{}, err
	}
	total := uint256.NewInt(amount)
	remainder, underflow := new(uint256.Int).SubOverflow(total, uint256.NewInt(keeper))
	if underflow {
		return FeeSplit{}, fmt.Errorf("%w: keeper share %d exceeds amount %d", ErrArithmeticFault, keeper, amount)
	}
	remainder, underflow = new(uint256.Int).SubOverflow(remainder, uint256.NewInt(platform))
	if underflow {
		return FeeSplit{}, fmt.Errorf("%w: fees %d+%d exceed amount %d", ErrArithmeticFault, keeper, platform, amount)
	}
	return FeeSplit{Amount: amount, Keeper: keeper, Platform: platform, Payee: remainder.Uint64()}, nil
}

func bpsShare(amount uint64, bps uint32) (uint64, error) {
	if bps > BasisPointsDenominator {
		return 0, fmt.Errorf("%w: rate %d bps above %d", ErrArithmeticFault, bps, BasisPointsDenominator)
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	if overflow {
		return 0, fmt.Errorf("%w: %d * %d bps", ErrArithmeticFault, amount, bps)
	}
	share := new(uint256.Int).Div(product, uint256.NewInt(BasisPointsDenominator))
	if !share.IsUint64() {
		return 0, fmt.Errorf("%w: share of %d does not fit", ErrArithmeticFault, amount)
	}
	return share.Uint64(), nil
}

// allowanceCap multiplies amount by periods, failing on overflow.
func allowanceCap(amount, periods uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(periods))
	if overflow || !product.IsUint64() {
		return 0, fmt.Errorf("%w: allowance %d x %d periods", ErrArithmeticFault, amount, periods)
	}
	return product.Uint64(), nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticFault, a, b)
	}
	return sum.Uint64(), nil
}
