package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// IssuingPartner is the external card processor. Calls must succeed before local state changes commit.
// Implementations receive a stable IdempotencyKey so that retried calls are safe.
type IssuingPartner interface {
	RegisterCard(ctx context.Context, registration CardRegistration) error
	UpdateCardStatus(ctx context.Context, change CardStatusChange) error
}

// CardRegistration announces a new card to the partner.
type CardRegistration struct {
	IdempotencyKey string
	CardID         CardID
	Token          string
	OperatorID     OperatorID
	CardholderID   UserID
	Type           CardType
	Status         CardStatus
	MonthlyLimit   decimal.Decimal
}

// CardStatusChange announces a status transition to the partner.
type CardStatusChange struct {
	IdempotencyKey string
	CardID         CardID
	Token          string
	From           CardStatus
	To             CardStatus
}

// NoopIssuingPartner accepts every call. It is used when no partner endpoint is configured.
type NoopIssuingPartner struct{}

// RegisterCard accepts the registration.
func (NoopIssuingPartner) RegisterCard(context.Context, CardRegistration) error {
	return nil
}

// UpdateCardStatus accepts the change.
func (NoopIssuingPartner) UpdateCardStatus(context.Context, CardStatusChange) error {
	return nil
}
