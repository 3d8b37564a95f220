package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreateLoyaltyCard opens a pending wallet for userID awaiting identity checks.
func (manager *CardManager) CreateLoyaltyCard(ctx context.Context, userID UserID, tier Tier) (LoyaltyCard, error) {
	card, err := manager.createLoyaltyCard(ctx, userID, tier)
	logOperation(ctx, manager.options.logger, OperationLog{
		Operation: operationCreateLoyaltyCard,
		CardID:    card.ID,
		UserID:    userID,
		Error:     err,
	})
	return card, err
}

func (manager *CardManager) createLoyaltyCard(ctx context.Context, userID UserID, tier Tier) (LoyaltyCard, error) {
	if userID.String() == "" {
		return LoyaltyCard{}, fmt.Errorf("%w: user is required", ErrInvalidUserID)
	}
	parsedTier, err := ParseTier(string(tier))
	if err != nil {
		return LoyaltyCard{}, err
	}
	nowUnixUTC := manager.nowFn()
	card := LoyaltyCard{
		ID:             manager.options.identifiers.NewCardID(),
		CardNumber:     manager.options.identifiers.NewLoyaltyCardNumber(),
		UserID:         userID,
		Tier:           parsedTier,
		Balance:        decimal.Zero,
		RewardsBalance: decimal.Zero,
		Status:         LoyaltyStatusPending,
		KYCStatus:      KYCStatusPending,
		AMLStatus:      AMLStatusPending,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	if err := manager.store.CreateLoyaltyCard(ctx, card); err != nil {
		return LoyaltyCard{}, err
	}
	return card, nil
}

// GetLoyaltyCard returns a wallet by id.
func (manager *CardManager) GetLoyaltyCard(ctx context.Context, cardID CardID) (LoyaltyCard, error) {
	return manager.store.GetLoyaltyCard(ctx, cardID)
}

// GetLoyaltyCardByExternalID returns a wallet by its display number.
func (manager *CardManager) GetLoyaltyCardByExternalID(ctx context.Context, cardNumber string) (LoyaltyCard, error) {
	return manager.store.GetLoyaltyCardByExternalID(ctx, cardNumber)
}

// RecordVerification stores identity-service results and derives the wallet status.
// A rejected wallet stays rejected.
func (manager *CardManager) RecordVerification(ctx context.Context, cardID CardID, kyc KYCStatus, aml AMLStatus) (LoyaltyCard, error) {
	var updated LoyaltyCard
	err := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		parsedKYC, err := ParseKYCStatus(string(kyc))
		if err != nil {
			return err
		}
		parsedAML, err := ParseAMLStatus(string(aml))
		if err != nil {
			return err
		}
		card, err := transactionStore.GetLoyaltyCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Status == LoyaltyStatusRejected {
			return fmt.Errorf("%w: wallet %s was rejected", ErrInvalidTransition, cardID)
		}
		status := VerificationOutcome(parsedKYC, parsedAML)
		if err := transactionStore.UpdateLoyaltyVerification(ctx, cardID, parsedKYC, parsedAML, status); err != nil {
			return err
		}
		updated, err = transactionStore.GetLoyaltyCard(ctx, cardID)
		return err
	})
	logOperation(ctx, manager.options.logger, OperationLog{
		Operation: operationRecordVerification,
		CardID:    cardID,
		UserID:    updated.UserID,
		Action:    string(kyc) + "/" + string(aml),
		Error:     err,
	})
	if err != nil {
		return LoyaltyCard{}, err
	}
	return updated, nil
}

// VerificationOutcome activates a wallet once kyc is verified and aml is clear,
// and rejects it when either check fails.
func VerificationOutcome(kyc KYCStatus, aml AMLStatus) LoyaltyStatus {
	switch {
	case kyc == KYCStatusRejected || aml == AMLStatusFlagged:
		return LoyaltyStatusRejected
	case kyc == KYCStatusVerified && aml == AMLStatusClear:
		return LoyaltyStatusActive
	default:
		return LoyaltyStatusPending
	}
}
