package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DeclineReason names the business rule that refused a payment.
type DeclineReason string

const (
	DeclineInsufficientFunds DeclineReason = "insufficient_funds"
	DeclineLimitExceeded     DeclineReason = "limit_exceeded"
	DeclineCategoryBlocked   DeclineReason = "category_blocked"
	DeclineCardNotActive     DeclineReason = "card_not_active"
)

// Message returns the text shown to cardholders.
func (reason DeclineReason) Message() string {
	switch reason {
	case DeclineInsufficientFunds:
		return "insufficient funds"
	case DeclineLimitExceeded:
		return "limit exceeded"
	case DeclineCategoryBlocked:
		return "blocked category"
	case DeclineCardNotActive:
		return "card not active"
	default:
		return string(reason)
	}
}

// Err maps the reason onto its sentinel error.
func (reason DeclineReason) Err() error {
	switch reason {
	case DeclineInsufficientFunds:
		return ErrInsufficientFunds
	case DeclineLimitExceeded:
		return ErrLimitExceeded
	case DeclineCategoryBlocked:
		return ErrCategoryBlocked
	case DeclineCardNotActive:
		return ErrCardNotActive
	default:
		return nil
	}
}

// WindowSpend is the amount already spent per limit window.
type WindowSpend map[LimitWindow]decimal.Decimal

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed     bool
	Reason      DeclineReason
	Window      LimitWindow
	Limit       decimal.Decimal
	WindowSpend decimal.Decimal
}

// Allow is the approving decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny refuses with reason.
func Deny(reason DeclineReason) Decision {
	return Decision{Reason: reason}
}

// Evaluate decides whether account may spend proposedAmount in category.
// Business rule violations come back as a denying Decision; malformed input returns an error.
func Evaluate(account Account, proposedAmount decimal.Decimal, category MerchantCategory, windowSpend WindowSpend) (Decision, error) {
	if !proposedAmount.IsPositive() {
		return Decision{}, fmt.Errorf("%w: proposed amount %s must be greater than zero", ErrInvalidAmount, proposedAmount)
	}
	if !account.Active {
		return Deny(DeclineCardNotActive), nil
	}
	for _, blocked := range account.BlockedCategories {
		if category != "" && blocked == category {
			return Deny(DeclineCategoryBlocked), nil
		}
	}
	for _, window := range limitWindows {
		limit, configured := account.Limits.Limit(window)
		if !configured {
			continue
		}
		spent := windowSpend[window]
		if spent.IsNegative() {
			return Decision{}, fmt.Errorf("%w: %s window spend %s is negative", ErrInvalidAmount, window, spent)
		}
		if spent.Add(proposedAmount).GreaterThan(limit) {
			return Decision{
				Reason:      DeclineLimitExceeded,
				Window:      window,
				Limit:       limit,
				WindowSpend: spent,
			}, nil
		}
	}
	return Allow(), nil
}

// WindowStarts returns the UTC start of each calendar window containing nowUnixUTC.
// Days start at midnight, weeks on Monday, months on the first.
func WindowStarts(nowUnixUTC int64) map[LimitWindow]int64 {
	now := time.Unix(nowUnixUTC, 0).UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	daysSinceMonday := (int(dayStart.Weekday()) + 6) % 7
	weekStart := dayStart.AddDate(0, 0, -daysSinceMonday)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return map[LimitWindow]int64{
		LimitWindowDaily:   dayStart.Unix(),
		LimitWindowWeekly:  weekStart.Unix(),
		LimitWindowMonthly: monthStart.Unix(),
	}
}
