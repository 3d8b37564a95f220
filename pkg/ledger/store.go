package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract used by CardManager and PaymentProcessor.
// gormstore and pgstore implement it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// WithAccountLock runs fn in a transaction while holding the exclusive lock of cardID.
	WithAccountLock(ctx context.Context, cardID CardID, fn func(ctx context.Context, txStore Store) error) error

	CreateCard(ctx context.Context, card Card) error
	CreateLoyaltyCard(ctx context.Context, card LoyaltyCard) error
	GetCard(ctx context.Context, cardID CardID) (Card, error)
	GetCardByExternalID(ctx context.Context, token string) (Card, error)
	GetLoyaltyCard(ctx context.Context, cardID CardID) (LoyaltyCard, error)
	GetLoyaltyCardByExternalID(ctx context.Context, cardNumber string) (LoyaltyCard, error)
	// UpdateCardStatus moves a card from one status to another and fails with ErrConflict when the card left from.
	UpdateCardStatus(ctx context.Context, cardID CardID, from, to CardStatus) error
	UpdateCardLimits(ctx context.Context, cardID CardID, limits SpendLimits) error
	UpdateCardBlockedCategories(ctx context.Context, cardID CardID, categories []MerchantCategory) error
	UpdateLoyaltyVerification(ctx context.Context, cardID CardID, kyc KYCStatus, aml AMLStatus, status LoyaltyStatus) error

	GetAccount(ctx context.Context, cardID CardID) (Account, error)
	SpendSince(ctx context.Context, cardID CardID, sinceUnixUTC int64) (decimal.Decimal, error)
	// ApplyLedgerMutation is the only writer of balances. It fills the new balances into
	// mutation.Idempotency, stores it with the rows, and returns the account after the mutation.
	ApplyLedgerMutation(ctx context.Context, mutation LedgerMutation) (Account, error)
	GetIdempotencyRecord(ctx context.Context, cardID CardID, key IdempotencyKey) (IdempotencyRecord, error)
	ListTransactions(ctx context.Context, cardID CardID, beforeUnixUTC int64, limit int) ([]Transaction, error)
}

// Validate checks that the deltas equal the rows that record them.
func (mutation LedgerMutation) Validate() error {
	if mutation.CardID.String() == "" {
		return fmt.Errorf("%w: mutation without card", ErrConstraintViolation)
	}
	if len(mutation.Transactions) == 0 {
		return fmt.Errorf("%w: mutation without transactions", ErrConstraintViolation)
	}
	if mutation.Kind == AccountKindCard && !mutation.RewardsDelta.IsZero() {
		return fmt.Errorf("%w: spend cards carry no rewards balance", ErrConstraintViolation)
	}
	balanceTotal := decimal.Zero
	rewardsTotal := decimal.Zero
	for _, transaction := range mutation.Transactions {
		if transaction.CardID != mutation.CardID {
			return fmt.Errorf("%w: transaction %s belongs to another card", ErrConstraintViolation, transaction.ID)
		}
		if transaction.Amount.IsZero() {
			return fmt.Errorf("%w: transaction %s has zero amount", ErrConstraintViolation, transaction.ID)
		}
		if (transaction.Type == TransactionPurchase) != transaction.Amount.IsNegative() {
			return fmt.Errorf("%w: transaction %s sign does not match type %s", ErrConstraintViolation, transaction.ID, transaction.Type)
		}
		if transaction.Type.AffectsRewards() {
			rewardsTotal = rewardsTotal.Add(transaction.Amount)
			continue
		}
		balanceTotal = balanceTotal.Add(transaction.Amount)
	}
	if !balanceTotal.Equal(mutation.BalanceDelta) || !rewardsTotal.Equal(mutation.RewardsDelta) {
		return fmt.Errorf("%w: deltas do not match transactions", ErrConstraintViolation)
	}
	return nil
}

// ApplyTo returns the balances after the mutation or ErrConstraintViolation when one would turn negative.
func (mutation LedgerMutation) ApplyTo(account Account) (decimal.Decimal, decimal.Decimal, error) {
	newBalance := account.Balance.Add(mutation.BalanceDelta)
	newRewardsBalance := account.RewardsBalance.Add(mutation.RewardsDelta)
	if newBalance.IsNegative() {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: balance would become %s", ErrConstraintViolation, newBalance)
	}
	if newRewardsBalance.IsNegative() {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: rewards balance would become %s", ErrConstraintViolation, newRewardsBalance)
	}
	return newBalance, newRewardsBalance, nil
}
