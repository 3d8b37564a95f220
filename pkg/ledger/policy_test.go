package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

const fixedNowUnixUTC int64 = 1773835200 // 2026-03-18T12:00:00Z, a Wednesday

func TestEvaluateDailyLimit(test *testing.T) {
	test.Parallel()
	account := Account{
		Active: true,
		Limits: SpendLimits{Daily: mustDecimalPointer(test, "100")},
	}
	spend := WindowSpend{LimitWindowDaily: mustDecimal(test, "80")}

	decision, err := Evaluate(account, mustDecimal(test, "30"), "", spend)
	if err != nil {
		test.Fatalf("evaluate: %v", err)
	}
	if decision.Allowed || decision.Reason != DeclineLimitExceeded || decision.Window != LimitWindowDaily {
		test.Fatalf("expected daily limit_exceeded, got %+v", decision)
	}
	if !decision.Limit.Equal(mustDecimal(test, "100")) || !decision.WindowSpend.Equal(mustDecimal(test, "80")) {
		test.Fatalf("expected violated constraint details, got %+v", decision)
	}

	decision, err = Evaluate(account, mustDecimal(test, "20"), "", spend)
	if err != nil {
		test.Fatalf("evaluate: %v", err)
	}
	if !decision.Allowed {
		test.Fatalf("expected 80+20 to fit a limit of 100, got %+v", decision)
	}
}

func TestEvaluateDenials(test *testing.T) {
	test.Parallel()
	base := Account{
		Active:            true,
		BlockedCategories: []MerchantCategory{"gambling"},
		Limits: SpendLimits{
			Weekly:  mustDecimalPointer(test, "300"),
			Monthly: mustDecimalPointer(test, "500"),
		},
	}
	frozen := base
	frozen.Active = false

	cases := []struct {
		name     string
		account  Account
		amount   string
		category MerchantCategory
		spend    WindowSpend
		reason   DeclineReason
		window   LimitWindow
	}{
		{name: "inactive wins over everything", account: frozen, amount: "10", category: "gambling", reason: DeclineCardNotActive},
		{name: "blocked category", account: base, amount: "10", category: "gambling", reason: DeclineCategoryBlocked},
		{name: "weekly ceiling", account: base, amount: "60", category: "food", spend: WindowSpend{LimitWindowWeekly: decimal.NewFromInt(250), LimitWindowMonthly: decimal.NewFromInt(250)}, reason: DeclineLimitExceeded, window: LimitWindowWeekly},
		{name: "monthly ceiling", account: base, amount: "60", category: "food", spend: WindowSpend{LimitWindowWeekly: decimal.NewFromInt(0), LimitWindowMonthly: decimal.NewFromInt(450)}, reason: DeclineLimitExceeded, window: LimitWindowMonthly},
		{name: "exactly at ceiling", account: base, amount: "50", category: "food", spend: WindowSpend{LimitWindowMonthly: decimal.NewFromInt(450)}},
		{name: "no spend recorded", account: base, amount: "300", category: "food"},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			decision, err := Evaluate(testCase.account, mustDecimal(test, testCase.amount), testCase.category, testCase.spend)
			if err != nil {
				test.Fatalf("evaluate: %v", err)
			}
			if testCase.reason == "" {
				if !decision.Allowed {
					test.Fatalf("expected allow, got %+v", decision)
				}
				return
			}
			if decision.Allowed || decision.Reason != testCase.reason || decision.Window != testCase.window {
				test.Fatalf("expected %s/%s, got %+v", testCase.reason, testCase.window, decision)
			}
		})
	}
}

func TestEvaluateRejectsMalformedInput(test *testing.T) {
	test.Parallel()
	account := Account{Active: true, Limits: SpendLimits{Daily: mustDecimalPointer(test, "10")}}
	if _, err := Evaluate(account, mustDecimal(test, "-1"), "", nil); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
	if _, err := Evaluate(account, mustDecimal(test, "1"), "", WindowSpend{LimitWindowDaily: mustDecimal(test, "-3")}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for negative window spend, got %v", err)
	}
}

func TestWindowStartsUseCalendarWindows(test *testing.T) {
	test.Parallel()
	starts := WindowStarts(fixedNowUnixUTC)
	if starts[LimitWindowDaily] != 1773792000 {
		test.Fatalf("unexpected day start %d", starts[LimitWindowDaily])
	}
	if starts[LimitWindowWeekly] != 1773619200 {
		test.Fatalf("expected week to start on Monday 2026-03-16, got %d", starts[LimitWindowWeekly])
	}
	if starts[LimitWindowMonthly] != 1772323200 {
		test.Fatalf("unexpected month start %d", starts[LimitWindowMonthly])
	}
}

func TestDeclineReasonMessages(test *testing.T) {
	test.Parallel()
	if DeclineCategoryBlocked.Message() != "blocked category" || DeclineLimitExceeded.Message() != "limit exceeded" {
		test.Fatalf("unexpected decline messages")
	}
	if !errors.Is(DeclineInsufficientFunds.Err(), ErrInsufficientFunds) {
		test.Fatalf("expected insufficient funds sentinel")
	}
}
