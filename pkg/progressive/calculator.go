package progressive

import (
	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/shopspring/decimal"
)

const (
	// Divisor is the Residual base: one millicent is Divisor residual units.
	Divisor int64 = 100_000_000

	// claimUnit truncates claims to whole cents.
	claimUnit int64 = 1000
)

var (
	hundred    = decimal.NewFromInt(100)
	divisorDec = decimal.NewFromInt(Divisor)
)

// ProgressiveLevelUpdate is one contribution: whole millicents, a residual fraction and the hidden share.
type ProgressiveLevelUpdate struct {
	Amount   int64
	Fraction int64
	Hidden   int64
}

// Calculator is a funding strategy.
type Calculator interface {
	ApplyContribution(p Pool, u ProgressiveLevelUpdate)
	Increment(p Pool, wager, ante int64) error
	Reset(p Pool, resetValue int64)
	Claim(p Pool, resetValue int64) int64
	MysteryClaim(p Pool, resetValue, magicNumber int64) int64
}

var calculators = map[FundingType]Calculator{
	FundingStandard: StandardCalculator{},
	FundingBulkOnly: BulkCalculator{},
}

// CalculatorFor resolves the strategy for a funding type.
func CalculatorFor(ft FundingType) (Calculator, error) {
	c, ok := calculators[ft]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotSupported, "no calculator for funding type %s", ft)
	}
	return c, nil
}

// ContributionFor splits wager+ante times the level rates into an update.
// The sub-millicent part is scaled to Divisor units with banker's rounding.
func ContributionFor(v *PoolValue, wager, ante int64) ProgressiveLevelUpdate {
	basis := decimal.NewFromInt(wager + ante)

	raw := basis.Mul(v.IncrementRate).Div(hundred)
	whole := raw.Truncate(0)
	fraction := raw.Sub(whole).Mul(divisorDec).RoundBank(0)

	hidden := basis.Mul(v.HiddenIncrementRate).Div(hundred).RoundBank(0)

	return ProgressiveLevelUpdate{
		Amount:   whole.IntPart(),
		Fraction: fraction.IntPart(),
		Hidden:   hidden.IntPart(),
	}
}

type baseCalculator struct{}

// ApplyContribution adds u to the pool, carrying residual overflow into the value, then clamps.
func (baseCalculator) ApplyContribution(p Pool, u ProgressiveLevelUpdate) {
	v := p.Value()

	v.Residual += u.Fraction
	if v.Residual >= Divisor {
		v.CurrentValue += v.Residual / Divisor
		v.Residual %= Divisor
	}
	v.CurrentValue += u.Amount
	v.HiddenValue += u.Hidden
	v.HiddenTotal += u.Hidden

	clamp(v, 0)
}

// Reset restarts the pool at resetValue plus carried overflow and hidden value.
func (baseCalculator) Reset(p Pool, resetValue int64) {
	v := p.Value()

	carried := v.Overflow
	v.CurrentValue = resetValue + v.Overflow + v.HiddenValue
	v.Overflow = 0
	v.HiddenValue = 0

	clamp(v, carried)
}

// Claim pays the current value truncated to whole cents and resets; the truncated
// remainder is folded into the reset base.
func (c baseCalculator) Claim(p Pool, resetValue int64) int64 {
	v := p.Value()

	amount := v.CurrentValue - v.CurrentValue%claimUnit
	remainder := v.CurrentValue - amount
	c.Reset(p, resetValue+remainder)
	return amount
}

// MysteryClaim pays the magic number (never more than the current value) and
// folds whatever the pool held above the payout into the reset base.
func (c baseCalculator) MysteryClaim(p Pool, resetValue, magicNumber int64) int64 {
	v := p.Value()

	basis := magicNumber
	if basis > v.CurrentValue {
		basis = v.CurrentValue
	}
	amount := basis - basis%claimUnit
	remainder := v.CurrentValue - amount
	c.Reset(p, resetValue+remainder)
	return amount
}

// StandardCalculator funds levels from each wager.
type StandardCalculator struct {
	baseCalculator
}

// Increment contributes IncrementRate percent of wager+ante.
func (c StandardCalculator) Increment(p Pool, wager, ante int64) error {
	c.ApplyContribution(p, ContributionFor(p.Value(), wager, ante))
	p.LockEdit()
	return nil
}

// BulkCalculator funds levels only through pre-aggregated ApplyContribution calls.
type BulkCalculator struct {
	baseCalculator
}

// Increment is not supported for bulk funded levels.
func (BulkCalculator) Increment(Pool, int64, int64) error {
	return apperrors.New(apperrors.ErrNotSupported, "bulk funded levels cannot be incremented per wager")
}

// clamp moves anything above MaximumValue into Overflow. alreadyCounted is overflow
// that was counted in OverflowTotal before and is spilling again.
func clamp(v *PoolValue, alreadyCounted int64) {
	if v.MaximumValue <= 0 || v.CurrentValue <= v.MaximumValue {
		return
	}
	excess := v.CurrentValue - v.MaximumValue
	v.CurrentValue = v.MaximumValue
	v.Overflow += excess
	if excess > alreadyCounted {
		v.OverflowTotal += excess - alreadyCounted
	}
}
