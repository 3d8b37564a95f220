package ledger

import (
	"errors"
	"testing"
)

func TestComputeReward(test *testing.T) {
	test.Parallel()
	table := DefaultRewardTable()
	cases := []struct {
		name   string
		amount string
		tier   Tier
		want   string
	}{
		{name: "silver two percent", amount: "100", tier: TierSilver, want: "2"},
		{name: "bronze one percent", amount: "250", tier: TierBronze, want: "2.5"},
		{name: "gold three percent", amount: "10", tier: TierGold, want: "0.3"},
		{name: "platinum five percent", amount: "19.99", tier: TierPlatinum, want: "1"},
		{name: "rounds to cents", amount: "33.33", tier: TierSilver, want: "0.67"},
		{name: "unknown tier falls back to lowest", amount: "100", tier: Tier("diamond"), want: "1"},
		{name: "zero amount", amount: "0", tier: TierGold, want: "0"},
		{name: "negative amount", amount: "-10", tier: TierGold, want: "0"},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			reward := table.ComputeReward(mustDecimal(test, testCase.amount), testCase.tier)
			if !reward.Equal(mustDecimal(test, testCase.want)) {
				test.Fatalf("expected %s, got %s", testCase.want, reward)
			}
		})
	}
}

func TestParseRewardTable(test *testing.T) {
	test.Parallel()
	table, err := ParseRewardTable("silver=0.04, gold = 0.06")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if !table.Rate(TierSilver).Equal(mustDecimal(test, "0.04")) {
		test.Fatalf("expected silver override, got %s", table.Rate(TierSilver))
	}
	if !table.Rate(TierBronze).Equal(mustDecimal(test, "0.01")) {
		test.Fatalf("expected bronze default, got %s", table.Rate(TierBronze))
	}

	for _, raw := range []string{"silver", "silver=abc", "silver=1.5", "silver=-0.1"} {
		if _, err := ParseRewardTable(raw); !errors.Is(err, ErrInvalidServiceConfig) {
			test.Fatalf("expected ErrInvalidServiceConfig for %q, got %v", raw, err)
		}
	}
	if _, err := ParseRewardTable("diamond=0.1"); !errors.Is(err, ErrInvalidTier) {
		test.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}
