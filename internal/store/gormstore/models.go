package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Card mirrors the cards table.
type Card struct {
	CardID            string           `gorm:"primaryKey"`
	Token             string           `gorm:"not null;uniqueIndex:idx_cards_token"`
	OperatorID        string           `gorm:"not null;index:idx_cards_operator"`
	CardholderID      string           `gorm:"not null;index:idx_cards_cardholder"`
	Type              string           `gorm:"not null"`
	Status            string           `gorm:"not null"`
	DailyLimit        *decimal.Decimal `gorm:"type:numeric(20,4)"`
	WeeklyLimit       *decimal.Decimal `gorm:"type:numeric(20,4)"`
	MonthlyLimit      *decimal.Decimal `gorm:"type:numeric(20,4)"`
	Balance           decimal.Decimal  `gorm:"type:numeric(20,4);not null"`
	BlockedCategories datatypes.JSON   `gorm:"type:jsonb;not null"`
	FundingSource     string           `gorm:"not null"`
	Version           int64            `gorm:"not null"`
	CreatedAt         time.Time        `gorm:"not null"`
	UpdatedAt         time.Time        `gorm:"not null"`
}

func (Card) TableName() string { return "cards" }

func (card *Card) BeforeCreate(tx *gorm.DB) error {
	if card.CardID == "" {
		card.CardID = uuid.NewString()
	}
	return nil
}

// LoyaltyCard mirrors the loyalty_cards table.
type LoyaltyCard struct {
	LoyaltyCardID  string          `gorm:"primaryKey"`
	CardNumber     string          `gorm:"not null;uniqueIndex:idx_loyalty_cards_number"`
	UserID         string          `gorm:"not null;index:idx_loyalty_cards_user"`
	Tier           string          `gorm:"not null"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	RewardsBalance decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Status         string          `gorm:"not null"`
	KYCStatus      string          `gorm:"column:kyc_status;not null"`
	AMLStatus      string          `gorm:"column:aml_status;not null"`
	Version        int64           `gorm:"not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

func (LoyaltyCard) TableName() string { return "loyalty_cards" }

func (card *LoyaltyCard) BeforeCreate(tx *gorm.DB) error {
	if card.LoyaltyCardID == "" {
		card.LoyaltyCardID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the transactions table. AccountVersion and Position order rows in commit order.
type Transaction struct {
	TransactionID       string          `gorm:"primaryKey"`
	CardID              string          `gorm:"not null;index:idx_transactions_card_created,priority:1;uniqueIndex:uniq_transactions_card_idem,priority:1"`
	AccountKind         string          `gorm:"not null"`
	Type                string          `gorm:"not null"`
	Amount              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Category            string          `gorm:"not null;default:''"`
	BookingReference    string          `gorm:"not null;default:''"`
	SettlementReference string          `gorm:"not null"`
	IdempotencyKey      string          `gorm:"not null;uniqueIndex:uniq_transactions_card_idem,priority:2"`
	AccountVersion      int64           `gorm:"not null"`
	Position            int             `gorm:"not null"`
	CreatedAt           time.Time       `gorm:"not null;index:idx_transactions_card_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// IdempotencyRecord mirrors the idempotency_records table.
type IdempotencyRecord struct {
	CardID              string          `gorm:"primaryKey"`
	IdempotencyKey      string          `gorm:"primaryKey"`
	Fingerprint         string          `gorm:"not null"`
	NewBalance          decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	NewRewardsBalance   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	RewardsEarned       decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TransactionIDs      datatypes.JSON  `gorm:"column:transaction_ids;type:jsonb;not null"`
	SettlementReference string          `gorm:"not null"`
	CreatedAt           time.Time       `gorm:"not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Card{}, &LoyaltyCard{}, &Transaction{}, &IdempotencyRecord{}}
}
