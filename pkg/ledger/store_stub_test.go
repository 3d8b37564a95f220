package ledger

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubStore struct {
	mu                 sync.Mutex
	accountLock        sync.Mutex
	cards              map[CardID]Card
	loyaltyCards       map[CardID]LoyaltyCard
	transactions       []Transaction
	idempotency        map[string]IdempotencyRecord
	conflictsRemaining int
	mutationCalls      int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		cards:        make(map[CardID]Card),
		loyaltyCards: make(map[CardID]LoyaltyCard),
		idempotency:  make(map[string]IdempotencyRecord),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) WithAccountLock(ctx context.Context, _ CardID, fn func(ctx context.Context, txStore Store) error) error {
	store.accountLock.Lock()
	defer store.accountLock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, store)
}

func (store *stubStore) CreateCard(_ context.Context, card Card) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.cards[card.ID]; exists {
		return ErrConflict
	}
	card.Version = 1
	store.cards[card.ID] = card
	return nil
}

func (store *stubStore) CreateLoyaltyCard(_ context.Context, card LoyaltyCard) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.loyaltyCards[card.ID]; exists {
		return ErrConflict
	}
	card.Version = 1
	store.loyaltyCards[card.ID] = card
	return nil
}

func (store *stubStore) GetCard(_ context.Context, cardID CardID) (Card, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	card, ok := store.cards[cardID]
	if !ok {
		return Card{}, ErrNotFound
	}
	return card, nil
}

func (store *stubStore) GetCardByExternalID(_ context.Context, token string) (Card, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, card := range store.cards {
		if card.Token == token {
			return card, nil
		}
	}
	return Card{}, ErrNotFound
}

func (store *stubStore) GetLoyaltyCard(_ context.Context, cardID CardID) (LoyaltyCard, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	card, ok := store.loyaltyCards[cardID]
	if !ok {
		return LoyaltyCard{}, ErrNotFound
	}
	return card, nil
}

func (store *stubStore) GetLoyaltyCardByExternalID(_ context.Context, cardNumber string) (LoyaltyCard, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, card := range store.loyaltyCards {
		if card.CardNumber == cardNumber {
			return card, nil
		}
	}
	return LoyaltyCard{}, ErrNotFound
}

func (store *stubStore) UpdateCardStatus(_ context.Context, cardID CardID, from, to CardStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	card, ok := store.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	if card.Status != from {
		return ErrConflict
	}
	card.Status = to
	card.Version++
	store.cards[cardID] = card
	return nil
}

func (store *stubStore) UpdateCardLimits(_ context.Context, cardID CardID, limits SpendLimits) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	card, ok := store.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	card.Limits = limits
	card.Version++
	store.cards[cardID] = card
	return nil
}

func (store *stubStore) UpdateCardBlockedCategories(_ context.Context, cardID CardID, categories []MerchantCategory) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	card, ok := store.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	card.BlockedCategories = categories
	card.Version++
	store.cards[cardID] = card
	return nil
}

func (store *stubStore) UpdateLoyaltyVerification(_ context.Context, cardID CardID, kyc KYCStatus, aml AMLStatus, status LoyaltyStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	card, ok := store.loyaltyCards[cardID]
	if !ok {
		return ErrNotFound
	}
	card.KYCStatus = kyc
	card.AMLStatus = aml
	card.Status = status
	card.Version++
	store.loyaltyCards[cardID] = card
	return nil
}

func (store *stubStore) GetAccount(_ context.Context, cardID CardID) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.accountLocked(cardID)
}

func (store *stubStore) accountLocked(cardID CardID) (Account, error) {
	if card, ok := store.cards[cardID]; ok {
		return card.Account(), nil
	}
	if card, ok := store.loyaltyCards[cardID]; ok {
		return card.Account(), nil
	}
	return Account{}, ErrNotFound
}

func (store *stubStore) SpendSince(_ context.Context, cardID CardID, sinceUnixUTC int64) (decimal.Decimal, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	total := decimal.Zero
	for _, transaction := range store.transactions {
		if transaction.CardID == cardID && transaction.Type == TransactionPurchase && transaction.CreatedUnixUTC >= sinceUnixUTC {
			total = total.Add(transaction.Amount.Neg())
		}
	}
	return total, nil
}

func (store *stubStore) ApplyLedgerMutation(_ context.Context, mutation LedgerMutation) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.mutationCalls++
	if store.conflictsRemaining > 0 {
		store.conflictsRemaining--
		return Account{}, ErrConflict
	}
	if err := mutation.Validate(); err != nil {
		return Account{}, err
	}
	account, err := store.accountLocked(mutation.CardID)
	if err != nil {
		return Account{}, err
	}
	if account.Version != mutation.ExpectedVersion {
		return Account{}, ErrConflict
	}
	newBalance, newRewardsBalance, err := mutation.ApplyTo(account)
	if err != nil {
		return Account{}, err
	}
	if mutation.Idempotency != nil {
		key := idempotencyStubKey(mutation.CardID, mutation.Idempotency.Key)
		if _, exists := store.idempotency[key]; exists {
			return Account{}, ErrDuplicateIdempotencyKey
		}
		record := *mutation.Idempotency
		record.NewBalance = newBalance
		record.NewRewardsBalance = newRewardsBalance
		store.idempotency[key] = record
	}
	switch mutation.Kind {
	case AccountKindCard:
		card := store.cards[mutation.CardID]
		card.Balance = newBalance
		card.Version++
		store.cards[mutation.CardID] = card
	case AccountKindLoyalty:
		card := store.loyaltyCards[mutation.CardID]
		card.Balance = newBalance
		card.RewardsBalance = newRewardsBalance
		card.Version++
		store.loyaltyCards[mutation.CardID] = card
	}
	store.transactions = append(store.transactions, mutation.Transactions...)
	return store.accountLocked(mutation.CardID)
}

func (store *stubStore) GetIdempotencyRecord(_ context.Context, cardID CardID, key IdempotencyKey) (IdempotencyRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.idempotency[idempotencyStubKey(cardID, key)]
	if !ok {
		return IdempotencyRecord{}, ErrNotFound
	}
	return record, nil
}

func (store *stubStore) ListTransactions(_ context.Context, cardID CardID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var rows []Transaction
	for index := len(store.transactions) - 1; index >= 0 && len(rows) < limit; index-- {
		transaction := store.transactions[index]
		if transaction.CardID != cardID {
			continue
		}
		if beforeUnixUTC != 0 && transaction.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		rows = append(rows, transaction)
	}
	return rows, nil
}

func (store *stubStore) transactionsFor(cardID CardID) []Transaction {
	store.mu.Lock()
	defer store.mu.Unlock()
	var rows []Transaction
	for _, transaction := range store.transactions {
		if transaction.CardID == cardID {
			rows = append(rows, transaction)
		}
	}
	return rows
}

func idempotencyStubKey(cardID CardID, key IdempotencyKey) string {
	return cardID.String() + "|" + key.String()
}

// failingStore fails every call with err.
type failingStore struct {
	*stubStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{stubStore: newStubStore(test), err: err}
}

func (store *failingStore) WithTx(context.Context, func(context.Context, Store) error) error {
	return store.err
}

func (store *failingStore) WithAccountLock(context.Context, CardID, func(context.Context, Store) error) error {
	return store.err
}

func (store *failingStore) CreateCard(context.Context, Card) error {
	return store.err
}

func (store *failingStore) CreateLoyaltyCard(context.Context, LoyaltyCard) error {
	return store.err
}

func (store *failingStore) GetCard(context.Context, CardID) (Card, error) {
	return Card{}, store.err
}

// sequenceIdentifiers returns predictable ids.
type sequenceIdentifiers struct {
	mu      sync.Mutex
	counter int
}

func (generator *sequenceIdentifiers) next(prefix string) string {
	generator.mu.Lock()
	defer generator.mu.Unlock()
	generator.counter++
	return prefix + "-" + strconv.Itoa(generator.counter)
}

func (generator *sequenceIdentifiers) NewCardID() CardID {
	return CardID{value: generator.next("card")}
}

func (generator *sequenceIdentifiers) NewTransactionID() string {
	return generator.next("txn")
}

func (generator *sequenceIdentifiers) NewCardToken() string {
	return generator.next("tok")
}

func (generator *sequenceIdentifiers) NewLoyaltyCardNumber() string {
	return generator.next("loyalty")
}

func (generator *sequenceIdentifiers) NewSettlementReference() string {
	return generator.next("settle")
}

type recordingPartner struct {
	mu            sync.Mutex
	registrations []CardRegistration
	changes       []CardStatusChange
	err           error
}

func (partner *recordingPartner) RegisterCard(_ context.Context, registration CardRegistration) error {
	partner.mu.Lock()
	defer partner.mu.Unlock()
	if partner.err != nil {
		return partner.err
	}
	partner.registrations = append(partner.registrations, registration)
	return nil
}

func (partner *recordingPartner) UpdateCardStatus(_ context.Context, change CardStatusChange) error {
	partner.mu.Lock()
	defer partner.mu.Unlock()
	if partner.err != nil {
		return partner.err
	}
	partner.changes = append(partner.changes, change)
	return nil
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func mustDecimalPointer(test *testing.T, raw string) *decimal.Decimal {
	test.Helper()
	value := mustDecimal(test, raw)
	return &value
}

func mustCardID(test *testing.T, raw string) CardID {
	test.Helper()
	cardID, err := NewCardID(raw)
	if err != nil {
		test.Fatalf("card id: %v", err)
	}
	return cardID
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustOperatorID(test *testing.T, raw string) OperatorID {
	test.Helper()
	operatorID, err := NewOperatorID(raw)
	if err != nil {
		test.Fatalf("operator id: %v", err)
	}
	return operatorID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustCardManager(test *testing.T, store Store, options ...ServiceOption) *CardManager {
	test.Helper()
	options = append([]ServiceOption{WithIdentifierGenerator(&sequenceIdentifiers{})}, options...)
	manager, err := NewCardManager(store, func() int64 { return fixedNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("card manager: %v", err)
	}
	return manager
}

func mustPaymentProcessor(test *testing.T, store Store, options ...ServiceOption) *PaymentProcessor {
	test.Helper()
	options = append([]ServiceOption{
		WithIdentifierGenerator(&sequenceIdentifiers{}),
		func(resolved *serviceOptions) {
			resolved.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
		},
	}, options...)
	processor, err := NewPaymentProcessor(store, func() int64 { return fixedNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("payment processor: %v", err)
	}
	return processor
}

// seedCard stores an active virtual card with the given balance and monthly limit.
func (store *stubStore) seedCard(test *testing.T, id string, balance string, monthlyLimit string) CardID {
	test.Helper()
	cardID := mustCardID(test, id)
	card := Card{
		ID:           cardID,
		Token:        "tok-" + id,
		OperatorID:   mustOperatorID(test, "operator-1"),
		CardholderID: mustUserID(test, "holder-1"),
		Type:         CardTypeVirtual,
		Status:       CardStatusActive,
		Limits:       SpendLimits{Monthly: mustDecimalPointer(test, monthlyLimit)},
		Balance:      mustDecimal(test, balance),
	}
	if err := store.CreateCard(context.Background(), card); err != nil {
		test.Fatalf("seed card: %v", err)
	}
	if !card.Balance.IsZero() {
		store.mu.Lock()
		store.transactions = append(store.transactions, Transaction{
			ID:             "seed-" + id,
			CardID:         cardID,
			AccountKind:    AccountKindCard,
			Type:           TransactionTopUp,
			Amount:         card.Balance,
			IdempotencyKey: "seed-" + id,
			CreatedUnixUTC: fixedNowUnixUTC - 1,
		})
		store.mu.Unlock()
	}
	return cardID
}

// seedLoyaltyCard stores an active wallet with the given tier and balance.
func (store *stubStore) seedLoyaltyCard(test *testing.T, id string, tier Tier, balance string) CardID {
	test.Helper()
	cardID := mustCardID(test, id)
	card := LoyaltyCard{
		ID:             cardID,
		CardNumber:     "number-" + id,
		UserID:         mustUserID(test, "wallet-owner"),
		Tier:           tier,
		Balance:        mustDecimal(test, balance),
		RewardsBalance: decimal.Zero,
		Status:         LoyaltyStatusActive,
		KYCStatus:      KYCStatusVerified,
		AMLStatus:      AMLStatusClear,
	}
	if err := store.CreateLoyaltyCard(context.Background(), card); err != nil {
		test.Fatalf("seed loyalty card: %v", err)
	}
	if !card.Balance.IsZero() {
		store.mu.Lock()
		store.transactions = append(store.transactions, Transaction{
			ID:             "seed-" + id,
			CardID:         cardID,
			AccountKind:    AccountKindLoyalty,
			Type:           TransactionTopUp,
			Amount:         card.Balance,
			IdempotencyKey: "seed-" + id,
			CreatedUnixUTC: fixedNowUnixUTC - 1,
		})
		store.mu.Unlock()
	}
	return cardID
}

// assertReplayInvariant checks that stored balances equal the sum of their rows.
func assertReplayInvariant(test *testing.T, store *stubStore, cardID CardID) {
	test.Helper()
	account, err := store.GetAccount(context.Background(), cardID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	balance := decimal.Zero
	rewards := decimal.Zero
	for _, transaction := range store.transactionsFor(cardID) {
		if transaction.Type.AffectsRewards() {
			rewards = rewards.Add(transaction.Amount)
			continue
		}
		balance = balance.Add(transaction.Amount)
	}
	if !balance.Equal(account.Balance) || !rewards.Equal(account.RewardsBalance) {
		test.Fatalf("replay mismatch: rows give %s/%s, account has %s/%s", balance, rewards, account.Balance, account.RewardsBalance)
	}
	if account.Balance.IsNegative() || account.RewardsBalance.IsNegative() {
		test.Fatalf("negative balance: %s/%s", account.Balance, account.RewardsBalance)
	}
}
