package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const sqlSchema = `
	create table if not exists cards (
		card_id text primary key,
		token text not null unique,
		operator_id text not null,
		cardholder_id text not null,
		type text not null,
		status text not null,
		daily_limit numeric(20,4),
		weekly_limit numeric(20,4),
		monthly_limit numeric(20,4),
		balance numeric(20,4) not null default 0 check (balance >= 0),
		blocked_categories jsonb not null default '[]',
		funding_source text not null,
		version bigint not null default 1,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);
	create index if not exists idx_cards_operator on cards(operator_id);
	create index if not exists idx_cards_cardholder on cards(cardholder_id);

	create table if not exists loyalty_cards (
		loyalty_card_id text primary key,
		card_number text not null unique,
		user_id text not null,
		tier text not null,
		balance numeric(20,4) not null default 0 check (balance >= 0),
		rewards_balance numeric(20,4) not null default 0 check (rewards_balance >= 0),
		status text not null,
		kyc_status text not null,
		aml_status text not null,
		version bigint not null default 1,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);
	create index if not exists idx_loyalty_cards_user on loyalty_cards(user_id);

	create table if not exists transactions (
		transaction_id text primary key,
		card_id text not null,
		account_kind text not null,
		type text not null,
		amount numeric(20,4) not null,
		category text not null default '',
		booking_reference text not null default '',
		settlement_reference text not null,
		idempotency_key text not null,
		account_version bigint not null,
		position integer not null,
		created_at timestamptz not null default now(),
		constraint uniq_transactions_card_idem unique (card_id, idempotency_key)
	);
	create index if not exists idx_transactions_card_created on transactions(card_id, created_at);

	create table if not exists idempotency_records (
		card_id text not null,
		idempotency_key text not null,
		fingerprint text not null,
		new_balance numeric(20,4) not null,
		new_rewards_balance numeric(20,4) not null,
		rewards_earned numeric(20,4) not null,
		transaction_ids jsonb not null,
		settlement_reference text not null,
		created_at timestamptz not null default now(),
		primary key (card_id, idempotency_key)
	);
`

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sqlSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}
