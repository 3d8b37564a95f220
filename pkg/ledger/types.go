package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CardID identifies a spend card or a loyalty wallet.
type CardID struct {
	value string
}

// UserID identifies a cardholder or a wallet owner.
type UserID struct {
	value string
}

// OperatorID identifies the business that issued a card.
type OperatorID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for payments.
type IdempotencyKey struct {
	value string
}

// MerchantCategory is a normalized merchant category code such as "gambling".
type MerchantCategory string

// NewCardID validates and normalizes a card id.
func NewCardID(raw string) (CardID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CardID{}, fmt.Errorf("%w: empty value", ErrInvalidCardID)
	}
	return CardID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CardID) String() string {
	return id.value
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewOperatorID validates and normalizes an operator id.
func NewOperatorID(raw string) (OperatorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OperatorID{}, fmt.Errorf("%w: empty value", ErrInvalidOperatorID)
	}
	return OperatorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OperatorID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether no key was supplied.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// NewMerchantCategory lowercases and trims a merchant category.
func NewMerchantCategory(raw string) (MerchantCategory, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidCategory)
	}
	return MerchantCategory(normalized), nil
}

// NewMerchantCategories normalizes, deduplicates and sorts a category set.
func NewMerchantCategories(raw []string) ([]MerchantCategory, error) {
	seen := make(map[MerchantCategory]struct{}, len(raw))
	categories := make([]MerchantCategory, 0, len(raw))
	for _, value := range raw {
		category, err := NewMerchantCategory(value)
		if err != nil {
			return nil, err
		}
		if _, exists := seen[category]; exists {
			continue
		}
		seen[category] = struct{}{}
		categories = append(categories, category)
	}
	sort.Slice(categories, func(left, right int) bool { return categories[left] < categories[right] })
	return categories, nil
}

// NewPositiveAmount validates a strictly positive monetary amount with at most four decimal places.
func NewPositiveAmount(value decimal.Decimal) (decimal.Decimal, error) {
	if !value.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !value.Equal(value.Round(transactionAmountPrecision)) {
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, transactionAmountPrecision)
	}
	return value, nil
}

// ParseAmount parses a decimal string into a positive amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewPositiveAmount(value)
}

// CardType distinguishes virtual and physical cards.
type CardType string

const (
	CardTypeVirtual  CardType = "virtual"
	CardTypePhysical CardType = "physical"
)

// ParseCardType validates a card type string.
func ParseCardType(raw string) (CardType, error) {
	switch CardType(strings.ToLower(strings.TrimSpace(raw))) {
	case CardTypeVirtual:
		return CardTypeVirtual, nil
	case CardTypePhysical:
		return CardTypePhysical, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCardType, raw)
	}
}

// String returns the stored representation.
func (cardType CardType) String() string {
	return string(cardType)
}

// CardStatus defines the card lifecycle.
type CardStatus string

const (
	CardStatusShipped   CardStatus = "shipped"
	CardStatusActive    CardStatus = "active"
	CardStatusFrozen    CardStatus = "frozen"
	CardStatusCancelled CardStatus = "cancelled"
)

// ParseCardStatus validates a card status string.
func ParseCardStatus(raw string) (CardStatus, error) {
	switch CardStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case CardStatusShipped:
		return CardStatusShipped, nil
	case CardStatusActive:
		return CardStatusActive, nil
	case CardStatusFrozen:
		return CardStatusFrozen, nil
	case CardStatusCancelled:
		return CardStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCardStatus, raw)
	}
}

// String returns the stored representation.
func (status CardStatus) String() string {
	return string(status)
}

// LimitWindow names a spend window.
type LimitWindow string

const (
	LimitWindowDaily   LimitWindow = "daily"
	LimitWindowWeekly  LimitWindow = "weekly"
	LimitWindowMonthly LimitWindow = "monthly"
)

var limitWindows = []LimitWindow{LimitWindowDaily, LimitWindowWeekly, LimitWindowMonthly}

// SpendLimits holds optional ceilings per window. A nil ceiling is unconstrained.
type SpendLimits struct {
	Daily   *decimal.Decimal
	Weekly  *decimal.Decimal
	Monthly *decimal.Decimal
}

// NewSpendLimits validates that every configured ceiling is positive.
func NewSpendLimits(daily, weekly, monthly *decimal.Decimal) (SpendLimits, error) {
	limits := SpendLimits{Daily: daily, Weekly: weekly, Monthly: monthly}
	for _, window := range limitWindows {
		limit, configured := limits.Limit(window)
		if configured && !limit.IsPositive() {
			return SpendLimits{}, fmt.Errorf("%w: %s limit must be greater than zero", ErrInvalidLimit, window)
		}
	}
	return limits, nil
}

// Limit returns the ceiling configured for window.
func (limits SpendLimits) Limit(window LimitWindow) (decimal.Decimal, bool) {
	var limit *decimal.Decimal
	switch window {
	case LimitWindowDaily:
		limit = limits.Daily
	case LimitWindowWeekly:
		limit = limits.Weekly
	case LimitWindowMonthly:
		limit = limits.Monthly
	}
	if limit == nil {
		return decimal.Decimal{}, false
	}
	return *limit, true
}

// Tier selects the reward rate of a loyalty wallet.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// ParseTier validates a tier string. Empty input defaults to bronze.
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TierBronze:
		return TierBronze, nil
	case TierSilver:
		return TierSilver, nil
	case TierGold:
		return TierGold, nil
	case TierPlatinum:
		return TierPlatinum, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
	}
}

// LoyaltyStatus defines the wallet lifecycle.
type LoyaltyStatus string

const (
	LoyaltyStatusPending  LoyaltyStatus = "pending"
	LoyaltyStatusActive   LoyaltyStatus = "active"
	LoyaltyStatusRejected LoyaltyStatus = "rejected"
)

// KYCStatus is supplied by the identity service.
type KYCStatus string

const (
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusVerified KYCStatus = "verified"
	KYCStatusRejected KYCStatus = "rejected"
)

// AMLStatus is supplied by the identity service.
type AMLStatus string

const (
	AMLStatusPending AMLStatus = "pending"
	AMLStatusClear   AMLStatus = "clear"
	AMLStatusFlagged AMLStatus = "flagged"
)

// ParseKYCStatus validates a kyc status string.
func ParseKYCStatus(raw string) (KYCStatus, error) {
	switch KYCStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case KYCStatusPending:
		return KYCStatusPending, nil
	case KYCStatusVerified:
		return KYCStatusVerified, nil
	case KYCStatusRejected:
		return KYCStatusRejected, nil
	default:
		return "", fmt.Errorf("%w: kyc %q", ErrInvalidVerification, raw)
	}
}

// ParseAMLStatus validates an aml status string.
func ParseAMLStatus(raw string) (AMLStatus, error) {
	switch AMLStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case AMLStatusPending:
		return AMLStatusPending, nil
	case AMLStatusClear:
		return AMLStatusClear, nil
	case AMLStatusFlagged:
		return AMLStatusFlagged, nil
	default:
		return "", fmt.Errorf("%w: aml %q", ErrInvalidVerification, raw)
	}
}

// ParseLoyaltyStatus validates a stored wallet status.
func ParseLoyaltyStatus(raw string) (LoyaltyStatus, error) {
	switch LoyaltyStatus(raw) {
	case LoyaltyStatusPending, LoyaltyStatusActive, LoyaltyStatusRejected:
		return LoyaltyStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: loyalty status %q", ErrInvalidVerification, raw)
	}
}

// Card is a spend instrument bound to one cardholder and one operator.
type Card struct {
	ID                CardID
	Token             string
	OperatorID        OperatorID
	CardholderID      UserID
	Type              CardType
	Status            CardStatus
	Limits            SpendLimits
	Balance           decimal.Decimal
	BlockedCategories []MerchantCategory
	FundingSource     string
	Version           int64
	CreatedUnixUTC    int64
	UpdatedUnixUTC    int64
}

// LoyaltyCard is a stored-value wallet with a separate rewards bucket.
type LoyaltyCard struct {
	ID             CardID
	CardNumber     string
	UserID         UserID
	Tier           Tier
	Balance        decimal.Decimal
	RewardsBalance decimal.Decimal
	Status         LoyaltyStatus
	KYCStatus      KYCStatus
	AMLStatus      AMLStatus
	Version        int64
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// AccountKind tells which table owns a balance.
type AccountKind string

const (
	AccountKindCard    AccountKind = "card"
	AccountKindLoyalty AccountKind = "loyalty"
)

// Account is the balance-bearing view of a Card or LoyaltyCard used by payments.
type Account struct {
	CardID            CardID
	Kind              AccountKind
	Status            string
	Active            bool
	Closed            bool
	Tier              Tier
	Limits            SpendLimits
	BlockedCategories []MerchantCategory
	Balance           decimal.Decimal
	RewardsBalance    decimal.Decimal
	Version           int64
}

// Account returns the payment view of a card.
func (card Card) Account() Account {
	return Account{
		CardID:            card.ID,
		Kind:              AccountKindCard,
		Status:            card.Status.String(),
		Active:            card.Status == CardStatusActive,
		Closed:            card.Status == CardStatusCancelled,
		Limits:            card.Limits,
		BlockedCategories: card.BlockedCategories,
		Balance:           card.Balance,
		RewardsBalance:    decimal.Zero,
		Version:           card.Version,
	}
}

// Account returns the payment view of a loyalty wallet.
func (card LoyaltyCard) Account() Account {
	return Account{
		CardID:         card.ID,
		Kind:           AccountKindLoyalty,
		Status:         string(card.Status),
		Active:         card.Status == LoyaltyStatusActive,
		Closed:         card.Status == LoyaltyStatusRejected,
		Tier:           card.Tier,
		Balance:        card.Balance,
		RewardsBalance: card.RewardsBalance,
		Version:        card.Version,
	}
}

// TransactionType enumerates ledger row kinds.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionReward   TransactionType = "reward"
	TransactionRefund   TransactionType = "refund"
	TransactionTopUp    TransactionType = "top_up"
)

// ParseTransactionType validates a transaction type string.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(raw))) {
	case TransactionPurchase:
		return TransactionPurchase, nil
	case TransactionReward:
		return TransactionReward, nil
	case TransactionRefund:
		return TransactionRefund, nil
	case TransactionTopUp:
		return TransactionTopUp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentType, raw)
	}
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// AffectsRewards reports whether rows of this type move the rewards balance instead of the balance.
func (transactionType TransactionType) AffectsRewards() bool {
	return transactionType == TransactionReward
}

// Transaction is an immutable ledger row recording one signed balance change.
type Transaction struct {
	ID                  string
	CardID              CardID
	AccountKind         AccountKind
	Type                TransactionType
	Amount              decimal.Decimal
	Category            MerchantCategory
	BookingReference    string
	SettlementReference string
	IdempotencyKey      string
	CreatedUnixUTC      int64
}

// LedgerMutation is the unit applied atomically by Store.ApplyLedgerMutation.
type LedgerMutation struct {
	CardID          CardID
	Kind            AccountKind
	ExpectedVersion int64
	BalanceDelta    decimal.Decimal
	RewardsDelta    decimal.Decimal
	Transactions    []Transaction
	Idempotency     *IdempotencyRecord
}

// IdempotencyRecord stores the outcome of an approved payment for replay.
type IdempotencyRecord struct {
	Key                 IdempotencyKey
	CardID              CardID
	Fingerprint         string
	NewBalance          decimal.Decimal
	NewRewardsBalance   decimal.Decimal
	RewardsEarned       decimal.Decimal
	TransactionIDs      []string
	SettlementReference string
	CreatedUnixUTC      int64
}
