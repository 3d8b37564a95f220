package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintTransactionIdempotencyKey = "uniq_transactions_card_idem"
	constraintIdempotencyPrimary        = "idempotency_records_pkey"
	pgUniqueViolationCode               = "23505"
	pgSerializationFailure              = "40001"
	pgDeadlockDetected                  = "40P01"
	errorOperationStore                 = "store"
	errorSubjectAccount                 = "account"
	errorSubjectCard                    = "card"
	errorSubjectLoyaltyCard             = "loyalty_card"
	errorSubjectIdempotency             = "idempotency"
	errorSubjectMutation                = "mutation"
	errorSubjectSchema                  = "schema"
	errorSubjectTransaction             = "transaction"
	errorCodeBegin                      = "begin"
	errorCodeCommit                     = "commit"
	errorCodeCreate                     = "create"
	errorCodeDuplicate                  = "duplicate"
	errorCodeGet                        = "get"
	errorCodeInsert                     = "insert"
	errorCodeInvalid                    = "invalid"
	errorCodeList                       = "list"
	errorCodeLock                       = "lock"
	errorCodeMigrate                    = "migrate"
	errorCodeSumSpend                   = "sum_spend"
	errorCodeUpdateBalance              = "update_balance"
	errorCodeUpdateCategories           = "update_categories"
	errorCodeUpdateLimits               = "update_limits"
	errorCodeUpdateStatus               = "update_status"
	errorCodeVerification               = "update_verification"
	errorCodeVersion                    = "version"

	sqlInsertCard = `
		insert into cards(
			card_id, token, operator_id, cardholder_id, type, status,
			daily_limit, weekly_limit, monthly_limit, balance, blocked_categories, funding_source,
			version, created_at, updated_at
		)
		values(
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::jsonb, $12,
			1, to_timestamp($13), to_timestamp($13)
		)
	`

	sqlSelectCardColumns = `
		select
			card_id, token, operator_id, cardholder_id, type, status,
			coalesce(daily_limit::text, ''), coalesce(weekly_limit::text, ''), coalesce(monthly_limit::text, ''),
			balance::text, blocked_categories::text, funding_source, version,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
		from cards
	`

	sqlInsertLoyaltyCard = `
		insert into loyalty_cards(
			loyalty_card_id, card_number, user_id, tier, balance, rewards_balance,
			status, kyc_status, aml_status, version, created_at, updated_at
		)
		values($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, 1, to_timestamp($10), to_timestamp($10))
	`

	sqlSelectLoyaltyCardColumns = `
		select
			loyalty_card_id, card_number, user_id, tier, balance::text, rewards_balance::text,
			status, kyc_status, aml_status, version,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
		from loyalty_cards
	`

	sqlUpdateCardStatus = `
		update cards set status = $3, version = version + 1, updated_at = now()
		where card_id = $1 and status = $2
	`

	sqlUpdateCardLimits = `
		update cards set daily_limit = $2::numeric, weekly_limit = $3::numeric, monthly_limit = $4::numeric,
			version = version + 1, updated_at = now()
		where card_id = $1
	`

	sqlUpdateCardCategories = `
		update cards set blocked_categories = $2::jsonb, version = version + 1, updated_at = now()
		where card_id = $1
	`

	sqlUpdateLoyaltyVerification = `
		update loyalty_cards set kyc_status = $2, aml_status = $3, status = $4, version = version + 1, updated_at = now()
		where loyalty_card_id = $1
	`

	sqlLockAccount = `select pg_advisory_xact_lock(hashtext($1))`

	sqlSumSpend = `
		select coalesce(sum(-amount), 0)::text from transactions
		where card_id = $1 and type = 'purchase' and created_at >= to_timestamp($2)
	`

	sqlUpdateCardBalance = `
		update cards set balance = $3::numeric, version = version + 1, updated_at = now()
		where card_id = $1 and version = $2
	`

	sqlUpdateLoyaltyBalance = `
		update loyalty_cards set balance = $3::numeric, rewards_balance = $4::numeric, version = version + 1, updated_at = now()
		where loyalty_card_id = $1 and version = $2
	`

	sqlInsertTransaction = `
		insert into transactions(
			transaction_id, card_id, account_kind, type, amount, category, booking_reference,
			settlement_reference, idempotency_key, account_version, position, created_at
		)
		values($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, to_timestamp($12))
	`

	sqlInsertIdempotencyRecord = `
		insert into idempotency_records(
			card_id, idempotency_key, fingerprint, new_balance, new_rewards_balance, rewards_earned,
			transaction_ids, settlement_reference, created_at
		)
		values($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::jsonb, $8, to_timestamp($9))
	`

	sqlSelectIdempotencyRecord = `
		select fingerprint, new_balance::text, new_rewards_balance::text, rewards_earned::text,
			transaction_ids::text, settlement_reference, extract(epoch from created_at)::bigint
		from idempotency_records
		where card_id = $1 and idempotency_key = $2
	`

	sqlListTransactionsBefore = `
		select
			transaction_id, card_id, account_kind, type, amount::text, category, booking_reference,
			settlement_reference, idempotency_key, extract(epoch from created_at)::bigint
		from transactions
		where card_id = $1 and ($2::bigint = 0 or created_at < to_timestamp($2::bigint))
		order by account_version desc, position desc
		limit $3
	`
)

// database is satisfied by both *pgxpool.Pool and pgx.Tx.
type database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool. Inside WithTx the same type runs on the
// transaction, and nested WithTx calls become savepoints.
type Store struct {
	db database
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.db.Begin(ctx)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, classifyError(err))
	}
	return nil
}

// WithAccountLock takes a transaction-scoped advisory lock on cardID so that payments for one card
// are serialized across every process sharing the database.
func (store *Store) WithAccountLock(ctx context.Context, cardID ledger.CardID, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		transactionStore := txStore.(*Store)
		if _, err := transactionStore.db.Exec(ctx, sqlLockAccount, cardID.String()); err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeLock, classifyError(err))
		}
		return fn(ctx, transactionStore)
	})
}

func (store *Store) CreateCard(ctx context.Context, card ledger.Card) error {
	categories, err := categoriesJSON(card.BlockedCategories)
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertCard,
		card.ID.String(),
		card.Token,
		card.OperatorID.String(),
		card.CardholderID.String(),
		card.Type.String(),
		card.Status.String(),
		optionalDecimal(card.Limits.Daily),
		optionalDecimal(card.Limits.Weekly),
		optionalDecimal(card.Limits.Monthly),
		card.Balance.String(),
		categories,
		card.FundingSource,
		card.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectCard, errorCodeDuplicate, fmt.Errorf("%w: card %s", ledger.ErrConflict, card.ID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CreateLoyaltyCard(ctx context.Context, card ledger.LoyaltyCard) error {
	_, err := store.db.Exec(ctx, sqlInsertLoyaltyCard,
		card.ID.String(),
		card.CardNumber,
		card.UserID.String(),
		string(card.Tier),
		card.Balance.String(),
		card.RewardsBalance.String(),
		string(card.Status),
		string(card.KYCStatus),
		string(card.AMLStatus),
		card.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectLoyaltyCard, errorCodeDuplicate, fmt.Errorf("%w: loyalty card %s", ledger.ErrConflict, card.ID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectLoyaltyCard, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCard(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	return store.selectCard(ctx, "card_id", cardID.String())
}

func (store *Store) GetCardByExternalID(ctx context.Context, token string) (ledger.Card, error) {
	return store.selectCard(ctx, "token", token)
}

func (store *Store) selectCard(ctx context.Context, column string, value string) (ledger.Card, error) {
	row := store.db.QueryRow(ctx, sqlSelectCardColumns+" where "+column+" = $1 for update", value)
	card, err := scanCard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, fmt.Errorf("%w: card %s", ledger.ErrNotFound, value))
	}
	if err != nil {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, err)
	}
	return card, nil
}

func (store *Store) GetLoyaltyCard(ctx context.Context, cardID ledger.CardID) (ledger.LoyaltyCard, error) {
	return store.selectLoyaltyCard(ctx, "loyalty_card_id", cardID.String())
}

func (store *Store) GetLoyaltyCardByExternalID(ctx context.Context, cardNumber string) (ledger.LoyaltyCard, error) {
	return store.selectLoyaltyCard(ctx, "card_number", cardNumber)
}

func (store *Store) selectLoyaltyCard(ctx context.Context, column string, value string) (ledger.LoyaltyCard, error) {
	row := store.db.QueryRow(ctx, sqlSelectLoyaltyCardColumns+" where "+column+" = $1 for update", value)
	card, err := scanLoyaltyCard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.LoyaltyCard{}, wrapStoreError(errorSubjectLoyaltyCard, errorCodeGet, fmt.Errorf("%w: loyalty card %s", ledger.ErrNotFound, value))
	}
	if err != nil {
		return ledger.LoyaltyCard{}, wrapStoreError(errorSubjectLoyaltyCard, errorCodeGet, err)
	}
	return card, nil
}

func (store *Store) UpdateCardStatus(ctx context.Context, cardID ledger.CardID, from, to ledger.CardStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateCardStatus, cardID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdateStatus, classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := store.GetCard(ctx, cardID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectCard, errorCodeUpdateStatus, fmt.Errorf("%w: card %s left status %s", ledger.ErrConflict, cardID, from))
	}
	return nil
}

func (store *Store) UpdateCardLimits(ctx context.Context, cardID ledger.CardID, limits ledger.SpendLimits) error {
	tag, err := store.db.Exec(ctx, sqlUpdateCardLimits,
		cardID.String(),
		optionalDecimal(limits.Daily),
		optionalDecimal(limits.Weekly),
		optionalDecimal(limits.Monthly),
	)
	return checkSingleRow(tag, err, errorSubjectCard, errorCodeUpdateLimits, cardID)
}

func (store *Store) UpdateCardBlockedCategories(ctx context.Context, cardID ledger.CardID, categories []ledger.MerchantCategory) error {
	encoded, err := categoriesJSON(categories)
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	tag, err := store.db.Exec(ctx, sqlUpdateCardCategories, cardID.String(), encoded)
	return checkSingleRow(tag, err, errorSubjectCard, errorCodeUpdateCategories, cardID)
}

func (store *Store) UpdateLoyaltyVerification(ctx context.Context, cardID ledger.CardID, kyc ledger.KYCStatus, aml ledger.AMLStatus, status ledger.LoyaltyStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateLoyaltyVerification, cardID.String(), string(kyc), string(aml), string(status))
	return checkSingleRow(tag, err, errorSubjectLoyaltyCard, errorCodeVerification, cardID)
}

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
	var totalValue string
	if err := store.db.QueryRow(ctx, sqlSumSpend, cardID.String(), sinceUnixUTC).Scan(&totalValue); err != nil {
		return decimal.Decimal{}, wrapStoreError(errorSubjectTransaction, errorCodeSumSpend, err)
	}
	total, err := decimal.NewFromString(totalValue)
	if err != nil {
		return decimal.Decimal{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return total, nil
}

// ApplyLedgerMutation runs in a savepoint when called inside WithTx or WithAccountLock.
func (store *Store) ApplyLedgerMutation(ctx context.Context, mutation ledger.LedgerMutation) (ledger.Account, error) {
	if err := mutation.Validate(); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectMutation, errorCodeInvalid, err)
	}
	var updated ledger.Account
	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		transactionStore := txStore.(*Store)
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
		if err := transactionStore.writeBalances(ctx, mutation, newBalance, newRewardsBalance); err != nil {
			return err
		}
		newVersion := mutation.ExpectedVersion + 1
		for position, transaction := range mutation.Transactions {
			if err := transactionStore.insertTransaction(ctx, transaction, newVersion, position); err != nil {
				return err
			}
		}
		if mutation.Idempotency != nil {
			if err := transactionStore.insertIdempotencyRecord(ctx, *mutation.Idempotency, newBalance, newRewardsBalance); err != nil {
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

func (store *Store) writeBalances(ctx context.Context, mutation ledger.LedgerMutation, newBalance decimal.Decimal, newRewardsBalance decimal.Decimal) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch mutation.Kind {
	case ledger.AccountKindLoyalty:
		tag, err = store.db.Exec(ctx, sqlUpdateLoyaltyBalance, mutation.CardID.String(), mutation.ExpectedVersion, newBalance.String(), newRewardsBalance.String())
	default:
		tag, err = store.db.Exec(ctx, sqlUpdateCardBalance, mutation.CardID.String(), mutation.ExpectedVersion, newBalance.String())
	}
	if err != nil {
		return wrapStoreError(errorSubjectMutation, errorCodeUpdateBalance, classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectMutation, errorCodeVersion, fmt.Errorf("%w: version %d moved", ledger.ErrConflict, mutation.ExpectedVersion))
	}
	return nil
}

func (store *Store) insertTransaction(ctx context.Context, transaction ledger.Transaction, accountVersion int64, position int) error {
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.ID,
		transaction.CardID.String(),
		string(transaction.AccountKind),
		transaction.Type.String(),
		transaction.Amount.String(),
		string(transaction.Category),
		transaction.BookingReference,
		transaction.SettlementReference,
		transaction.IdempotencyKey,
		accountVersion,
		position,
		transaction.CreatedUnixUTC,
	)
	if isConstraintViolation(err, constraintTransactionIdempotencyKey) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, classifyError(err))
	}
	return nil
}

func (store *Store) insertIdempotencyRecord(ctx context.Context, record ledger.IdempotencyRecord, newBalance decimal.Decimal, newRewardsBalance decimal.Decimal) error {
	transactionIDs, err := json.Marshal(record.TransactionIDs)
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeInvalid, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertIdempotencyRecord,
		record.CardID.String(),
		record.Key.String(),
		record.Fingerprint,
		newBalance.String(),
		newRewardsBalance.String(),
		record.RewardsEarned.String(),
		string(transactionIDs),
		record.SettlementReference,
		record.CreatedUnixUTC,
	)
	if isConstraintViolation(err, constraintIdempotencyPrimary) {
		return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeInsert, classifyError(err))
	}
	return nil
}

func (store *Store) GetIdempotencyRecord(ctx context.Context, cardID ledger.CardID, key ledger.IdempotencyKey) (ledger.IdempotencyRecord, error) {
	var (
		fingerprint         string
		newBalanceValue     string
		newRewardsValue     string
		rewardsEarnedValue  string
		transactionIDsValue string
		settlementReference string
		createdAtUnixUTC    int64
	)
	err := store.db.QueryRow(ctx, sqlSelectIdempotencyRecord, cardID.String(), key.String()).Scan(
		&fingerprint,
		&newBalanceValue,
		&newRewardsValue,
		&rewardsEarnedValue,
		&transactionIDsValue,
		&settlementReference,
		&createdAtUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeGet, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeGet, err)
	}
	amounts, err := parseDecimals(newBalanceValue, newRewardsValue, rewardsEarnedValue)
	if err != nil {
		return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeInvalid, err)
	}
	var transactionIDs []string
	if err := json.Unmarshal([]byte(transactionIDsValue), &transactionIDs); err != nil {
		return ledger.IdempotencyRecord{}, wrapStoreError(errorSubjectIdempotency, errorCodeInvalid, err)
	}
	return ledger.IdempotencyRecord{
		Key:                 key,
		CardID:              cardID,
		Fingerprint:         fingerprint,
		NewBalance:          amounts[0],
		NewRewardsBalance:   amounts[1],
		RewardsEarned:       amounts[2],
		TransactionIDs:      transactionIDs,
		SettlementReference: settlementReference,
		CreatedUnixUTC:      createdAtUnixUTC,
	}, nil
}

func (store *Store) ListTransactions(ctx context.Context, cardID ledger.CardID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactionsBefore, cardID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactions, nil
}

func checkSingleRow(tag pgconn.CommandTag, err error, subject string, code string, cardID ledger.CardID) error {
	if err != nil {
		return wrapStoreError(subject, code, classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(subject, code, fmt.Errorf("%w: %s %s", ledger.ErrNotFound, subject, cardID))
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

// classifyError marks serialization failures and deadlocks as ErrConflict so that callers retry.
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	}
	return err
}
