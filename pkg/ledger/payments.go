package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the outcome of ProcessPayment.
type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "approved"
	PaymentDeclined PaymentStatus = "declined"
)

// PaymentRequest is one spend, reward or credit instruction.
type PaymentRequest struct {
	CardID           CardID
	Amount           decimal.Decimal
	Type             TransactionType
	Category         MerchantCategory
	BookingReference string
	IdempotencyKey   IdempotencyKey
}

// PaymentResult reports balances after an approved payment or the reason for a decline.
type PaymentResult struct {
	Status              PaymentStatus
	Decline             DeclineReason
	DeclineWindow       LimitWindow
	NewBalance          decimal.Decimal
	NewRewardsBalance   decimal.Decimal
	RewardsEarned       decimal.Decimal
	TransactionIDs      []string
	SettlementReference string
	// Replayed is set when the result was read back from an earlier request with the same key.
	Replayed bool
}

// Approved reports whether the payment was applied.
func (result PaymentResult) Approved() bool {
	return result.Status == PaymentApproved
}

// PaymentProcessor applies payments to card and wallet balances.
type PaymentProcessor struct {
	store   Store
	nowFn   func() int64
	options serviceOptions
}

// NewPaymentProcessor wires a PaymentProcessor.
func NewPaymentProcessor(store Store, now func() int64, options ...ServiceOption) (*PaymentProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &PaymentProcessor{store: store, nowFn: now, options: newServiceOptions(options)}, nil
}

// ProcessPayment validates, prices and applies one payment atomically.
// Business declines are returned in the result with a nil error. A payment that keeps losing
// concurrency races fails with ErrTemporarilyUnavailable. Repeating a request with the same
// idempotency key returns the first result without applying it again.
func (processor *PaymentProcessor) ProcessPayment(ctx context.Context, request PaymentRequest) (PaymentResult, error) {
	result, replayed, err := processor.processPayment(ctx, request)
	logOperation(ctx, processor.options.logger, OperationLog{
		Operation:      operationProcessPayment,
		CardID:         request.CardID,
		PaymentType:    request.Type,
		Amount:         request.Amount,
		IdempotencyKey: request.IdempotencyKey,
		DeclineReason:  result.Decline,
		Replayed:       replayed,
		Error:          err,
	})
	return result, err
}

func (processor *PaymentProcessor) processPayment(ctx context.Context, request PaymentRequest) (PaymentResult, bool, error) {
	normalized, err := normalizePaymentRequest(request)
	if err != nil {
		return PaymentResult{}, false, err
	}
	fingerprint := paymentFingerprint(normalized)
	var lastErr error
	for attempt := 1; attempt <= processor.options.maxAttempts; attempt++ {
		result, replayed, err := processor.attemptPayment(ctx, normalized, fingerprint)
		if err == nil || !retryablePayment(err) {
			return result, replayed, err
		}
		lastErr = err
		if attempt == processor.options.maxAttempts {
			break
		}
		if sleepErr := processor.options.sleep(ctx, retryDelay(processor.options.retryBackoff, attempt)); sleepErr != nil {
			return PaymentResult{}, false, sleepErr
		}
	}
	return PaymentResult{}, false, WrapError(errorOperationPayments, errorSubjectPayment, errorCodeRetries, fmt.Errorf("%w: %w", ErrTemporarilyUnavailable, lastErr))
}

func (processor *PaymentProcessor) attemptPayment(ctx context.Context, request PaymentRequest, fingerprint string) (PaymentResult, bool, error) {
	var result PaymentResult
	err := processor.store.WithAccountLock(ctx, request.CardID, func(ctx context.Context, transactionStore Store) error {
		if !request.IdempotencyKey.IsZero() {
			record, err := transactionStore.GetIdempotencyRecord(ctx, request.CardID, request.IdempotencyKey)
			switch {
			case err == nil:
				if record.Fingerprint != fingerprint {
					return fmt.Errorf("%w: %s", ErrIdempotencyKeyReuse, request.IdempotencyKey)
				}
				result = replayResult(record)
				return nil
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}
		account, err := transactionStore.GetAccount(ctx, request.CardID)
		if err != nil {
			return err
		}
		decision, err := processor.authorize(ctx, transactionStore, account, request)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			result = PaymentResult{
				Status:            PaymentDeclined,
				Decline:           decision.Reason,
				DeclineWindow:     decision.Window,
				NewBalance:        account.Balance,
				NewRewardsBalance: account.RewardsBalance,
				RewardsEarned:     decimal.Zero,
			}
			return nil
		}
		mutation, rewardsEarned := processor.buildMutation(account, request, fingerprint)
		if len(mutation.Transactions) == 0 {
			result = PaymentResult{
				Status:            PaymentApproved,
				NewBalance:        account.Balance,
				NewRewardsBalance: account.RewardsBalance,
				RewardsEarned:     decimal.Zero,
			}
			return nil
		}
		updated, err := transactionStore.ApplyLedgerMutation(ctx, mutation)
		if err != nil {
			return err
		}
		result = PaymentResult{
			Status:              PaymentApproved,
			NewBalance:          updated.Balance,
			NewRewardsBalance:   updated.RewardsBalance,
			RewardsEarned:       rewardsEarned,
			TransactionIDs:      transactionIDs(mutation.Transactions),
			SettlementReference: mutation.Transactions[0].SettlementReference,
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, false, err
	}
	return result, result.Replayed, nil
}

// authorize applies the status, category, limit and funds rules for request.
func (processor *PaymentProcessor) authorize(ctx context.Context, transactionStore Store, account Account, request PaymentRequest) (Decision, error) {
	switch request.Type {
	case TransactionPurchase:
		windowSpend, err := processor.windowSpend(ctx, transactionStore, account)
		if err != nil {
			return Decision{}, err
		}
		decision, err := Evaluate(account, request.Amount, request.Category, windowSpend)
		if err != nil || !decision.Allowed {
			return decision, err
		}
		if account.Balance.LessThan(request.Amount) {
			return Deny(DeclineInsufficientFunds), nil
		}
		return decision, nil
	case TransactionReward:
		if account.Kind != AccountKindLoyalty {
			return Decision{}, ErrRewardsNotSupported
		}
		if !account.Active {
			return Deny(DeclineCardNotActive), nil
		}
		return Allow(), nil
	case TransactionTopUp:
		if !account.Active {
			return Deny(DeclineCardNotActive), nil
		}
		return Allow(), nil
	case TransactionRefund:
		if account.Closed {
			return Deny(DeclineCardNotActive), nil
		}
		return Allow(), nil
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidPaymentType, request.Type)
	}
}

func (processor *PaymentProcessor) windowSpend(ctx context.Context, transactionStore Store, account Account) (WindowSpend, error) {
	starts := WindowStarts(processor.nowFn())
	spend := make(WindowSpend, len(limitWindows))
	for _, window := range limitWindows {
		if _, configured := account.Limits.Limit(window); !configured {
			continue
		}
		spent, err := transactionStore.SpendSince(ctx, account.CardID, starts[window])
		if err != nil {
			return nil, err
		}
		spend[window] = spent
	}
	return spend, nil
}

func (processor *PaymentProcessor) buildMutation(account Account, request PaymentRequest, fingerprint string) (LedgerMutation, decimal.Decimal) {
	nowUnixUTC := processor.nowFn()
	settlementReference := processor.options.identifiers.NewSettlementReference()
	baseKey := request.IdempotencyKey.String()
	newTransaction := func(transactionType TransactionType, amount decimal.Decimal, suffix string) Transaction {
		transactionID := processor.options.identifiers.NewTransactionID()
		rowKey := transactionID
		if baseKey != "" {
			rowKey = baseKey
			if suffix != "" {
				rowKey = deriveIdempotencyKey(baseKey, suffix)
			}
		}
		return Transaction{
			ID:                  transactionID,
			CardID:              account.CardID,
			AccountKind:         account.Kind,
			Type:                transactionType,
			Amount:              amount,
			Category:            request.Category,
			BookingReference:    request.BookingReference,
			SettlementReference: settlementReference,
			IdempotencyKey:      rowKey,
			CreatedUnixUTC:      nowUnixUTC,
		}
	}

	mutation := LedgerMutation{
		CardID:          account.CardID,
		Kind:            account.Kind,
		ExpectedVersion: account.Version,
		BalanceDelta:    decimal.Zero,
		RewardsDelta:    decimal.Zero,
	}
	rewardsEarned := decimal.Zero
	switch request.Type {
	case TransactionPurchase:
		mutation.BalanceDelta = request.Amount.Neg()
		mutation.Transactions = append(mutation.Transactions, newTransaction(TransactionPurchase, request.Amount.Neg(), ""))
		if account.Kind == AccountKindLoyalty {
			rewardsEarned = processor.options.rewards.ComputeReward(request.Amount, account.Tier)
			if rewardsEarned.IsPositive() {
				mutation.RewardsDelta = rewardsEarned
				mutation.Transactions = append(mutation.Transactions, newTransaction(TransactionReward, rewardsEarned, idempotencySuffixReward))
			}
		}
	case TransactionReward:
		rewardsEarned = processor.options.rewards.ComputeReward(request.Amount, account.Tier)
		if rewardsEarned.IsPositive() {
			mutation.RewardsDelta = rewardsEarned
			mutation.Transactions = append(mutation.Transactions, newTransaction(TransactionReward, rewardsEarned, ""))
		}
	case TransactionRefund, TransactionTopUp:
		mutation.BalanceDelta = request.Amount
		mutation.Transactions = append(mutation.Transactions, newTransaction(request.Type, request.Amount, ""))
	}
	if !request.IdempotencyKey.IsZero() && len(mutation.Transactions) > 0 {
		mutation.Idempotency = &IdempotencyRecord{
			Key:                 request.IdempotencyKey,
			CardID:              account.CardID,
			Fingerprint:         fingerprint,
			RewardsEarned:       rewardsEarned,
			TransactionIDs:      transactionIDs(mutation.Transactions),
			SettlementReference: settlementReference,
			CreatedUnixUTC:      nowUnixUTC,
		}
	}
	return mutation, rewardsEarned
}

// ListTransactions returns the newest rows of a card created before beforeUnixUTC (0 means now).
func (processor *PaymentProcessor) ListTransactions(ctx context.Context, cardID CardID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if cardID.String() == "" {
		return nil, fmt.Errorf("%w: card is required", ErrInvalidCardID)
	}
	return processor.store.ListTransactions(ctx, cardID, beforeUnixUTC, NormalizeListLimit(limit))
}

// GetAccount returns the balance view of a card or wallet.
func (processor *PaymentProcessor) GetAccount(ctx context.Context, cardID CardID) (Account, error) {
	return processor.store.GetAccount(ctx, cardID)
}

// NormalizeListLimit applies the default and maximum page size.
func NormalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultTransactionListLimit
	}
	if limit > maximumTransactionListLimit {
		return maximumTransactionListLimit
	}
	return limit
}

func normalizePaymentRequest(request PaymentRequest) (PaymentRequest, error) {
	if request.CardID.String() == "" {
		return PaymentRequest{}, fmt.Errorf("%w: card is required", ErrInvalidCardID)
	}
	amount, err := NewPositiveAmount(request.Amount)
	if err != nil {
		return PaymentRequest{}, err
	}
	paymentType, err := ParseTransactionType(request.Type.String())
	if err != nil {
		return PaymentRequest{}, err
	}
	normalized := request
	normalized.Amount = amount
	normalized.Type = paymentType
	normalized.BookingReference = strings.TrimSpace(request.BookingReference)
	if request.Category != "" {
		category, err := NewMerchantCategory(string(request.Category))
		if err != nil {
			return PaymentRequest{}, err
		}
		normalized.Category = category
	}
	if normalized.IdempotencyKey.IsZero() && normalized.BookingReference != "" {
		normalized.IdempotencyKey = IdempotencyKey{value: deriveIdempotencyKey(
			idempotencyPrefixBooking,
			normalized.BookingReference,
			normalized.Type.String(),
			normalized.Amount.String(),
		)}
	}
	return normalized, nil
}

func paymentFingerprint(request PaymentRequest) string {
	return strings.Join([]string{
		request.CardID.String(),
		request.Type.String(),
		request.Amount.String(),
		string(request.Category),
		request.BookingReference,
	}, "|")
}

func replayResult(record IdempotencyRecord) PaymentResult {
	return PaymentResult{
		Status:              PaymentApproved,
		NewBalance:          record.NewBalance,
		NewRewardsBalance:   record.NewRewardsBalance,
		RewardsEarned:       record.RewardsEarned,
		TransactionIDs:      append([]string(nil), record.TransactionIDs...),
		SettlementReference: record.SettlementReference,
		Replayed:            true,
	}
}

func transactionIDs(transactions []Transaction) []string {
	ids := make([]string, 0, len(transactions))
	for _, transaction := range transactions {
		ids = append(ids, transaction.ID)
	}
	return ids
}

// retryablePayment also retries a lost idempotency race: another writer committed the same key
// first, and the next attempt replays its result.
func retryablePayment(err error) bool {
	return IsRetryable(err) || errors.Is(err, ErrDuplicateIdempotencyKey)
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for step := 1; step < attempt; step++ {
		delay *= 2
		if delay >= maximumPaymentRetryBackoff {
			return maximumPaymentRetryBackoff
		}
	}
	return delay
}
