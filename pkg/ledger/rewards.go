package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RewardTable maps tiers to reward rates.
type RewardTable struct {
	rates map[Tier]decimal.Decimal
}

// DefaultRewardTable returns bronze 1%, silver 2%, gold 3% and platinum 5%.
func DefaultRewardTable() RewardTable {
	return RewardTable{rates: map[Tier]decimal.Decimal{
		TierBronze:   decimal.RequireFromString("0.01"),
		TierSilver:   decimal.RequireFromString("0.02"),
		TierGold:     decimal.RequireFromString("0.03"),
		TierPlatinum: decimal.RequireFromString("0.05"),
	}}
}

// NewRewardTable validates a rate table. Rates must lie in [0, 1].
func NewRewardTable(rates map[Tier]decimal.Decimal) (RewardTable, error) {
	if len(rates) == 0 {
		return RewardTable{}, fmt.Errorf("%w: reward table is empty", ErrInvalidServiceConfig)
	}
	copied := make(map[Tier]decimal.Decimal, len(rates))
	for tier, rate := range rates {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return RewardTable{}, fmt.Errorf("%w: rate %s for tier %s", ErrInvalidServiceConfig, rate, tier)
		}
		copied[tier] = rate
	}
	return RewardTable{rates: copied}, nil
}

// ParseRewardTable reads "bronze=0.01,silver=0.02" style overrides on top of the defaults.
func ParseRewardTable(raw string) (RewardTable, error) {
	table := DefaultRewardTable()
	rates := make(map[Tier]decimal.Decimal, len(table.rates))
	for tier, rate := range table.rates {
		rates[tier] = rate
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found {
			return RewardTable{}, fmt.Errorf("%w: reward rate %q must be tier=rate", ErrInvalidServiceConfig, pair)
		}
		tier, err := ParseTier(name)
		if err != nil {
			return RewardTable{}, err
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return RewardTable{}, fmt.Errorf("%w: reward rate %q: %v", ErrInvalidServiceConfig, pair, err)
		}
		rates[tier] = rate
	}
	return NewRewardTable(rates)
}

// Rate returns the rate for tier, falling back to the lowest configured rate for unknown tiers.
func (table RewardTable) Rate(tier Tier) decimal.Decimal {
	if rate, ok := table.rates[tier]; ok {
		return rate
	}
	lowest := decimal.Zero
	first := true
	for _, rate := range table.rates {
		if first || rate.LessThan(lowest) {
			lowest = rate
			first = false
		}
	}
	return lowest
}

// ComputeReward returns amount times the tier rate, rounded to cents. Non-positive amounts earn nothing.
func (table RewardTable) ComputeReward(amount decimal.Decimal, tier Tier) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(table.Rate(tier)).Round(rewardAmountPrecision)
}
