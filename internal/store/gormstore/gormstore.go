package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode     = "23505"
	pgSerializationFailure    = "40001"
	pgDeadlockDetected        = "40P01"
	sqliteConstraintCode      = 19
	sqliteBusyCode            = 5
	sqliteLockedCode          = 6
	emptyJSONArray            = "[]"
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectCard          = "card"
	errorSubjectLoyaltyCard   = "loyalty_card"
	errorSubjectTransaction   = "transaction"
	errorSubjectIdempotency   = "idempotency"
	errorSubjectMutation      = "mutation"
	errorCodeCreate           = "create"
	errorCodeDuplicate        = "duplicate"
	errorCodeGet              = "get"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLock             = "lock"
	errorCodeSumSpend         = "sum_spend"
	errorCodeUpdateStatus     = "update_status"
	errorCodeUpdateLimits     = "update_limits"
	errorCodeUpdateCategories = "update_categories"
	errorCodeUpdateBalance    = "update_balance"
	errorCodeVerification     = "update_verification"
	errorCodeVersion          = "version"

	dialectPostgres = "postgres"
	sqlLockAccount  = "select pg_advisory_xact_lock(hashtext(?))"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db    *gorm.DB
	locks *accountLocks
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, locks: newAccountLocks()}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, locks: store.locks})
	})
}

// WithAccountLock holds the in-process lock for cardID and runs fn in a transaction.
// On Postgres the transaction also takes an advisory lock so processes sharing the database
// see each other's idempotency records before deciding to apply a payment.
func (store *Store) WithAccountLock(ctx context.Context, cardID ledger.CardID, fn func(ctx context.Context, txStore ledger.Store) error) error {
	unlock, err := store.locks.acquire(ctx, cardID.String())
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	defer unlock()
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		transactionStore := txStore.(*Store)
		if transactionStore.db.Dialector.Name() == dialectPostgres {
			if err := transactionStore.db.WithContext(ctx).Exec(sqlLockAccount, cardID.String()).Error; err != nil {
				return wrapStoreError(errorSubjectAccount, errorCodeLock, classifyError(err))
			}
		}
		return fn(ctx, transactionStore)
	})
}

func (store *Store) CreateCard(ctx context.Context, card ledger.Card) error {
	categories, err := categoriesJSON(card.BlockedCategories)
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	model := Card{
		CardID:            card.ID.String(),
		Token:             card.Token,
		OperatorID:        card.OperatorID.String(),
		CardholderID:      card.CardholderID.String(),
		Type:              card.Type.String(),
		Status:            card.Status.String(),
		DailyLimit:        card.Limits.Daily,
		WeeklyLimit:       card.Limits.Weekly,
		MonthlyLimit:      card.Limits.Monthly,
		Balance:           card.Balance,
		BlockedCategories: categories,
		FundingSource:     card.FundingSource,
		Version:           1,
		CreatedAt:         unixOrNow(card.CreatedUnixUTC),
		UpdatedAt:         unixOrNow(card.UpdatedUnixUTC),
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectCard, errorCodeDuplicate, fmt.Errorf("%w: card %s", ledger.ErrConflict, card.ID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CreateLoyaltyCard(ctx context.Context, card ledger.LoyaltyCard) error {
	model := LoyaltyCard{
		LoyaltyCardID:  card.ID.String(),
		CardNumber:     card.CardNumber,
		UserID:         card.UserID.String(),
		Tier:           string(card.Tier),
		Balance:        card.Balance,
		RewardsBalance: card.RewardsBalance,
		Status:         string(card.Status),
		KYCStatus:      string(card.KYCStatus),
		AMLStatus:      string(card.AMLStatus),
		Version:        1,
		CreatedAt:      unixOrNow(card.CreatedUnixUTC),
		UpdatedAt:      unixOrNow(card.UpdatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectLoyaltyCard, errorCodeDuplicate, fmt.Errorf("%w: loyalty card %s", ledger.ErrConflict, card.ID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectLoyaltyCard, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCard(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	return store.findCard(ctx, "card_id = ?", cardID.String())
}

func (store *Store) GetCardByExternalID(ctx context.Context, token string) (ledger.Card, error) {
	return store.findCard(ctx, "token = ?", token)
}

func (store *Store) findCard(ctx context.Context, condition string, value string) (ledger.Card, error) {
	var model Card
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(condition, value).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, fmt.Errorf("%w: card %s", ledger.ErrNotFound, value))
		}
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, err)
	}
	card, err := mapCard(model)
	if err != nil {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	return card, nil
}

func (store *Store) GetLoyaltyCard(ctx context.Context, cardID ledger.CardID) (ledger.LoyaltyCard, error) {
	return store.findLoyaltyCard(ctx, "loyalty_card_id = ?", cardID.String())
}

func (store *Store) GetLoyaltyCardByExternalID(ctx context.Context, cardNumber string) (ledger.LoyaltyCard, error) {
	return store.findLoyaltyCard(ctx, "card_number = ?", cardNumber)
}

func (store *Store) findLoyaltyCard(ctx context.Context, condition string, value string) (ledger.LoyaltyCard, error) {
	var model LoyaltyCard
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(condition, value).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.LoyaltyCard{}, wrapStoreError(errorSubjectLoyaltyCard, errorCodeGet, fmt.Errorf("%w: loyalty card %s", ledger.ErrNotFound, value))
		}
		return ledger.LoyaltyCard{}, wrapStoreError(errorSubjectLoyaltyCard, errorCodeGet, err)
	}
	card, err := mapLoyaltyCard(model)
	if err != nil {
		return ledger.LoyaltyCard{}, wrapStoreError(errorSubjectLoyaltyCard, errorCodeInvalid, err)
	}
	return card, nil
}

func (store *Store) UpdateCardStatus(ctx context.Context, cardID ledger.CardID, from, to ledger.CardStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Card{}).
		Where("card_id = ? AND status = ?", cardID.String(), from.String()).
		Updates(map[string]any{
			"status":     to.String(),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdateStatus, classifyError(result.Error))
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetCard(ctx, cardID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectCard, errorCodeUpdateStatus, fmt.Errorf("%w: card %s left status %s", ledger.ErrConflict, cardID, from))
	}
	return nil
}

func (store *Store) UpdateCardLimits(ctx context.Context, cardID ledger.CardID, limits ledger.SpendLimits) error {
	return store.updateCard(ctx, cardID, errorCodeUpdateLimits, map[string]any{
		"daily_limit":   limits.Daily,
		"weekly_limit":  limits.Weekly,
		"monthly_limit": limits.Monthly,
	})
}

func (store *Store) UpdateCardBlockedCategories(ctx context.Context, cardID ledger.CardID, categories []ledger.MerchantCategory) error {
	encoded, err := categoriesJSON(categories)
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	return store.updateCard(ctx, cardID, errorCodeUpdateCategories, map[string]any{
		"blocked_categories": encoded,
	})
}

func (store *Store) updateCard(ctx context.Context, cardID ledger.CardID, code string, columns map[string]any) error {
	columns["version"] = gorm.Expr("version + 1")
	columns["updated_at"] = time.Now().UTC()
	result := store.db.WithContext(ctx).
		Model(&Card{}).
		Where("card_id = ?", cardID.String()).
		Updates(columns)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCard, code, classifyError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCard, code, fmt.Errorf("%w: card %s", ledger.ErrNotFound, cardID))
	}
	return nil
}

func (store *Store) UpdateLoyaltyVerification(ctx context.Context, cardID ledger.CardID, kyc ledger.KYCStatus, aml ledger.AMLStatus, status ledger.LoyaltyStatus) error {
	result := store.db.WithContext(ctx).
		Model(&LoyaltyCard{}).
		Where("loyalty_card_id = ?", cardID.String()).
		Updates(map[string]any{
			"kyc_status": string(kyc),
			"aml_status": string(aml),
			"status":     string(status),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectLoyaltyCard, errorCodeVerification, classifyError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectLoyaltyCard, errorCodeVerification, fmt.Errorf("%w: loyalty card %s", ledger.ErrNotFound, cardID))
	}
	return nil
}

// GetAccount reads a card or wallet with a row lock.
func (store *Store) GetAccount(ctx context.Context, cardID ledger.CardID) (ledger.Account, error) {
	card, err := store.GetCard(ctx, cardID)
	if err == nil {
		return card.Account(), nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Account{}, err
	}
	wallet, err := store.GetLoyaltyCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: account %s", ledger.ErrNotFound, cardID))
		}
		return ledger.Account{}, err
	}
	return wallet.Account(), nil
}

func (store *Store) SpendSince(ctx context.Context, cardID ledger.CardID, sinceUnixUTC int64) (decimal.Decimal, error) {
	var rows []struct {
		Amount decimal.Decimal
	}
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Select("amount").
		Where("card_id = ? AND type = ? AND created_at >= ?", cardID.String(), ledger.TransactionPurchase.String(), time.Unix(sinceUnixUTC, 0).UTC()).
		Scan(&rows).Error
	if err != nil {
		return decimal.Decimal{}, wrapStoreError(errorSubjectTransaction, errorCodeSumSpend, err)
	}
	// Purchases are stored negative.
	total := decimal.Zero
	for _, row := range rows {
		total = total.Sub(row.Amount)
	}
	return total.Round(4), nil
}

// ApplyLedgerMutation checks the version, writes the new balances, and appends the rows and the
// idempotency record in one transaction.
func (store *Store) ApplyLedgerMutation(ctx context.Context, mutation ledger.LedgerMutation) (ledger.Account, error) {
	if err := mutation.Validate(); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectMutation, errorCodeInvalid, err)
	}
	var updated ledger.Account
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		transactionStore := &Store{db: transaction, locks: store.locks}
		account, err := transactionStore.GetAccount(ctx, mutation.CardID)
		if err != nil {
			return err
		}
		if account.Kind != mutation.Kind {
			return wrapStoreError(errorSubjectMutation, errorCodeInvalid, fmt.Errorf("%w: account %s is a %s", ledger.ErrConstraintViolation, mutation.CardID, account.Kind))
		}
		if account.Version != mutation.ExpectedVersion {
			return wrapStoreError(errorSubjectMutation, errorCodeVersion, fmt.Errorf("%w: expected version %d, found %d", ledger.ErrConflict, mutation.ExpectedVersion, account.Version))
		}
		newBalance, newRewardsBalance, err := mutation.ApplyTo(account)
		if err != nil {
			return wrapStoreError(errorSubjectMutation, errorCodeInvalid, err)
		}
		if err := transactionStore.writeBalances(mutation, newBalance, newRewardsBalance); err != nil {
			return err
		}
		newVersion := mutation.ExpectedVersion + 1
		if err := transactionStore.insertTransactions(mutation.Transactions, newVersion); err != nil {
			return err
		}
		if mutation.Idempotency != nil {
			if err := transactionStore.insertIdempotencyRecord(*mutation.Idempotency, newBalance, newRewardsBalance); err != nil {
				return err
			}
		}
		updated = account
		updated.Balance = newBalance
		updated.RewardsBalance = newRewardsBalance
		updated.Version = newVersion
		return nil
	})
	if err != nil {
		return ledger.Account{}, err
	}
	return updated, nil
}

func (store *Store) writeBalances(mutation ledger.LedgerMutation, newBalance decimal.Decimal, newRewardsBalance decimal.Decimal) error {
	columns := map[string]any{
		"balance":    newBalance,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	var result *gorm.DB
	switch mutation.Kind {
	case ledger.AccountKindLoyalty:
		columns["rewards_balance"] = newRewardsBalance
		result = store.db.Model(&LoyaltyCard{}).
			Where("loyalty_card_id = ? AND version = ?", mutation.CardID.String(), mutation.ExpectedVersion).
			Updates(columns)
	default:
		result = store.db.Model(&Card{}).
			Where("card_id = ? AND version = ?", mutation.CardID.String(), mutation.ExpectedVersion).
			Updates(columns)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectMutation, errorCodeUpdateBalance, classifyError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMutation, errorCodeVersion, fmt.Errorf("%w: version %d moved", ledger.ErrConflict, mutation.ExpectedVersion))
	}
	return nil
}

func (store *Store) insertTransactions(transactions []ledger.Transaction, accountVersion int64) error {
	rows := make([]Transaction, 0, len(transactions))
	for position, transaction := range transactions {
		rows = append(rows, Transaction{
			TransactionID:       transaction.ID,
			CardID:              transaction.CardID.String(),
			AccountKind:         string(transaction.AccountKind),
			Type:                transaction.Type.String(),
			Amount:              transaction.Amount,
			Category:            string(transaction.Category),
			BookingReference:    transaction.BookingReference,
			SettlementReference: transaction.SettlementReference,
			IdempotencyKey:      transaction.IdempotencyKey,
			AccountVersion:      accountVersion,
			Position:            position,
			CreatedAt:           unixOrNow(transaction.CreatedUnixUTC),
		})
	}
	err := store.db.Create(&rows).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, classifyError(err))
	}
	return nil
}

func (store *Store) insertIdempotencyRecord(record ledger.IdempotencyRecord, newBalance decimal.Decimal, newRewardsBalance decimal.Decimal) error {
	transactionIDs, err := json.Marshal(record.TransactionIDs)
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeInvalid, err)
	}
	model := IdempotencyRecord{
		CardID:              record.CardID.String(),
		IdempotencyKey:      record.Key.String(),
		Fingerprint:         record.Fingerprint,
		NewBalance:          newBalance,
		NewRewardsBalance:   newRewardsBalance,
		RewardsEarned:       record.RewardsEarned,
		TransactionIDs:      datatypes.JSON(transactionIDs),
		SettlementReference: record.SettlementReference,
		CreatedAt:           unixOrNow(record.CreatedUnixUTC),
	}
	err = store.db.Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeInsert, classifyError(err))
	}
	return nil
}

func (store *Store) GetIdempotencyRecord(ctx context.Context, cardID ledger.CardID, key ledger.IdempotencyKey) (ledger.IdempotencyRecord, error) {
	var model IdempotencyRecord
	err := store.db.WithContext(ctx).
		Where("card_id = ? AND idempotency_key = ?", cardID.String(), key.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeGet, ledger.ErrNotFound)
		}
		return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeGet, err)
	}
	var transactionIDs []string
	if err := json.Unmarshal(model.TransactionIDs, &transactionIDs); err != nil {
		return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeInvalid, err)
	}
	return ledger.IdempotencyRecord{
		Key:                 key,
		CardID:              cardID,
		Fingerprint:         model.Fingerprint,
		NewBalance:          model.NewBalance,
		NewRewardsBalance:   model.NewRewardsBalance,
		RewardsEarned:       model.RewardsEarned,
		TransactionIDs:      transactionIDs,
		SettlementReference: model.SettlementReference,
		CreatedUnixUTC:      model.CreatedAt.Unix(),
	}, nil
}

func (store *Store) ListTransactions(ctx context.Context, cardID ledger.CardID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("card_id = ? AND created_at < ?", cardID.String(), before).
		Order("account_version DESC").
		Order("position DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapCard(model Card) (ledger.Card, error) {
	cardID, err := ledger.NewCardID(model.CardID)
	if err != nil {
		return ledger.Card{}, err
	}
	operatorID, err := ledger.NewOperatorID(model.OperatorID)
	if err != nil {
		return ledger.Card{}, err
	}
	cardholderID, err := ledger.NewUserID(model.CardholderID)
	if err != nil {
		return ledger.Card{}, err
	}
	cardType, err := ledger.ParseCardType(model.Type)
	if err != nil {
		return ledger.Card{}, err
	}
	status, err := ledger.ParseCardStatus(model.Status)
	if err != nil {
		return ledger.Card{}, err
	}
	var rawCategories []string
	if len(model.BlockedCategories) > 0 {
		if err := json.Unmarshal(model.BlockedCategories, &rawCategories); err != nil {
			return ledger.Card{}, err
		}
	}
	categories, err := ledger.NewMerchantCategories(rawCategories)
	if err != nil {
		return ledger.Card{}, err
	}
	return ledger.Card{
		ID:           cardID,
		Token:        model.Token,
		OperatorID:   operatorID,
		CardholderID: cardholderID,
		Type:         cardType,
		Status:       status,
		Limits: ledger.SpendLimits{
			Daily:   model.DailyLimit,
			Weekly:  model.WeeklyLimit,
			Monthly: model.MonthlyLimit,
		},
		Balance:           model.Balance,
		BlockedCategories: categories,
		FundingSource:     model.FundingSource,
		Version:           model.Version,
		CreatedUnixUTC:    model.CreatedAt.Unix(),
		UpdatedUnixUTC:    model.UpdatedAt.Unix(),
	}, nil
}

func mapLoyaltyCard(model LoyaltyCard) (ledger.LoyaltyCard, error) {
	cardID, err := ledger.NewCardID(model.LoyaltyCardID)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	tier, err := ledger.ParseTier(model.Tier)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	status, err := ledger.ParseLoyaltyStatus(model.Status)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	kyc, err := ledger.ParseKYCStatus(model.KYCStatus)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	aml, err := ledger.ParseAMLStatus(model.AMLStatus)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	return ledger.LoyaltyCard{
		ID:             cardID,
		CardNumber:     model.CardNumber,
		UserID:         userID,
		Tier:           tier,
		Balance:        model.Balance,
		RewardsBalance: model.RewardsBalance,
		Status:         status,
		KYCStatus:      kyc,
		AMLStatus:      aml,
		Version:        model.Version,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}, nil
}

func mapTransaction(row Transaction) (ledger.Transaction, error) {
	cardID, err := ledger.NewCardID(row.CardID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transactionType, err := ledger.ParseTransactionType(row.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:                  row.TransactionID,
		CardID:              cardID,
		AccountKind:         ledger.AccountKind(row.AccountKind),
		Type:                transactionType,
		Amount:              row.Amount,
		Category:            ledger.MerchantCategory(row.Category),
		BookingReference:    row.BookingReference,
		SettlementReference: row.SettlementReference,
		IdempotencyKey:      row.IdempotencyKey,
		CreatedUnixUTC:      row.CreatedAt.Unix(),
	}, nil
}

func categoriesJSON(categories []ledger.MerchantCategory) (datatypes.JSON, error) {
	if len(categories) == 0 {
		return datatypes.JSON(emptyJSONArray), nil
	}
	encoded, err := json.Marshal(categories)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func unixOrNow(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

// classifyError marks lock contention as ErrConflict so that callers retry.
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		if code == sqliteBusyCode || code == sqliteLockedCode {
			return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		}
	}
	return err
}
