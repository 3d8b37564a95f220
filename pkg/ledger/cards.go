package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultFundingSource = "prepaid_wallet"

	actionFreeze           = "freeze"
	actionUnfreeze         = "unfreeze"
	actionCancel           = "cancel"
	actionActivate         = "activate"
	actionUpdateLimits     = "update_limits"
	actionUpdateCategories = "update_categories"

	partnerKeyRegister = "register"
	partnerKeyStatus   = "status"
)

// CardAction is the closed set of changes UpdateCard accepts.
type CardAction interface {
	Name() string
	cardAction()
}

// FreezeCard moves an active card to frozen.
type FreezeCard struct{}

// UnfreezeCard moves a frozen card back to active.
type UnfreezeCard struct{}

// CancelCard closes an active or frozen card for good.
type CancelCard struct{}

// ActivateCard marks a delivered physical card as active.
type ActivateCard struct{}

// UpdateLimits replaces the spend ceilings.
type UpdateLimits struct {
	Limits SpendLimits
}

// UpdateCategories replaces the blocked merchant categories.
type UpdateCategories struct {
	BlockedCategories []MerchantCategory
}

func (FreezeCard) Name() string       { return actionFreeze }
func (UnfreezeCard) Name() string     { return actionUnfreeze }
func (CancelCard) Name() string       { return actionCancel }
func (ActivateCard) Name() string     { return actionActivate }
func (UpdateLimits) Name() string     { return actionUpdateLimits }
func (UpdateCategories) Name() string { return actionUpdateCategories }

func (FreezeCard) cardAction()       {}
func (UnfreezeCard) cardAction()     {}
func (CancelCard) cardAction()       {}
func (ActivateCard) cardAction()     {}
func (UpdateLimits) cardAction()     {}
func (UpdateCategories) cardAction() {}

// CardActionPayload carries the optional fields of wire-level card actions.
type CardActionPayload struct {
	DailyLimit        *decimal.Decimal
	WeeklyLimit       *decimal.Decimal
	MonthlyLimit      *decimal.Decimal
	BlockedCategories []string
}

// ParseCardAction maps an action name and payload onto a CardAction.
func ParseCardAction(name string, payload CardActionPayload) (CardAction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case actionFreeze:
		return FreezeCard{}, nil
	case actionUnfreeze:
		return UnfreezeCard{}, nil
	case actionCancel:
		return CancelCard{}, nil
	case actionActivate:
		return ActivateCard{}, nil
	case actionUpdateLimits:
		if payload.MonthlyLimit == nil {
			return nil, ErrMissingMonthlyLimit
		}
		limits, err := NewSpendLimits(payload.DailyLimit, payload.WeeklyLimit, payload.MonthlyLimit)
		if err != nil {
			return nil, err
		}
		return UpdateLimits{Limits: limits}, nil
	case actionUpdateCategories:
		categories, err := NewMerchantCategories(payload.BlockedCategories)
		if err != nil {
			return nil, err
		}
		return UpdateCategories{BlockedCategories: categories}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, name)
	}
}

// NextCardStatus applies a status action to current.
// shipped moves to active, active and frozen toggle, and both may be cancelled. cancelled is terminal.
func NextCardStatus(current CardStatus, action CardAction) (CardStatus, error) {
	var from []CardStatus
	var to CardStatus
	switch action.(type) {
	case ActivateCard:
		from, to = []CardStatus{CardStatusShipped}, CardStatusActive
	case FreezeCard:
		from, to = []CardStatus{CardStatusActive}, CardStatusFrozen
	case UnfreezeCard:
		from, to = []CardStatus{CardStatusFrozen}, CardStatusActive
	case CancelCard:
		from, to = []CardStatus{CardStatusActive, CardStatusFrozen}, CardStatusCancelled
	default:
		return "", fmt.Errorf("%w: %s does not change status", ErrInvalidAction, action.Name())
	}
	for _, allowed := range from {
		if current == allowed {
			return to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action.Name(), current)
}

// IssueCardRequest describes a card to issue.
type IssueCardRequest struct {
	Type              CardType
	CardholderID      UserID
	OperatorID        OperatorID
	Limits            SpendLimits
	BlockedCategories []MerchantCategory
	FundingSource     string
}

// CardManager orchestrates issuance and non-monetary card changes.
type CardManager struct {
	store   Store
	nowFn   func() int64
	options serviceOptions
}

// NewCardManager wires a CardManager.
func NewCardManager(store Store, now func() int64, options ...ServiceOption) (*CardManager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &CardManager{store: store, nowFn: now, options: newServiceOptions(options)}, nil
}

// IssueCard registers a card with the issuing partner and then stores it with a zero balance.
// Virtual cards start active; physical cards start shipped.
func (manager *CardManager) IssueCard(ctx context.Context, request IssueCardRequest) (Card, error) {
	card, err := manager.issueCard(ctx, request)
	manager.logCardOperation(ctx, operationIssueCard, "", card, request, err)
	return card, err
}

func (manager *CardManager) issueCard(ctx context.Context, request IssueCardRequest) (Card, error) {
	cardType, err := ParseCardType(request.Type.String())
	if err != nil {
		return Card{}, err
	}
	if request.CardholderID.String() == "" {
		return Card{}, fmt.Errorf("%w: cardholder is required", ErrInvalidUserID)
	}
	if request.OperatorID.String() == "" {
		return Card{}, fmt.Errorf("%w: operator is required", ErrInvalidOperatorID)
	}
	if request.Limits.Monthly == nil {
		return Card{}, ErrMissingMonthlyLimit
	}
	limits, err := NewSpendLimits(request.Limits.Daily, request.Limits.Weekly, request.Limits.Monthly)
	if err != nil {
		return Card{}, err
	}
	status := CardStatusActive
	if cardType == CardTypePhysical {
		status = CardStatusShipped
	}
	fundingSource := strings.TrimSpace(request.FundingSource)
	if fundingSource == "" {
		fundingSource = defaultFundingSource
	}
	nowUnixUTC := manager.nowFn()
	card := Card{
		ID:                manager.options.identifiers.NewCardID(),
		Token:             manager.options.identifiers.NewCardToken(),
		OperatorID:        request.OperatorID,
		CardholderID:      request.CardholderID,
		Type:              cardType,
		Status:            status,
		Limits:            limits,
		Balance:           decimal.Zero,
		BlockedCategories: request.BlockedCategories,
		FundingSource:     fundingSource,
		CreatedUnixUTC:    nowUnixUTC,
		UpdatedUnixUTC:    nowUnixUTC,
	}
	registration := CardRegistration{
		IdempotencyKey: deriveIdempotencyKey(partnerKeyRegister, card.ID.String()),
		CardID:         card.ID,
		Token:          card.Token,
		OperatorID:     card.OperatorID,
		CardholderID:   card.CardholderID,
		Type:           card.Type,
		Status:         card.Status,
		MonthlyLimit:   *limits.Monthly,
	}
	if err := manager.options.partner.RegisterCard(ctx, registration); err != nil {
		return Card{}, WrapError(errorOperationCards, errorSubjectPartner, errorCodeRegister, partnerFailure(err))
	}
	if err := manager.store.CreateCard(ctx, card); err != nil {
		return Card{}, err
	}
	return card, nil
}

// GetCard returns a card by id.
func (manager *CardManager) GetCard(ctx context.Context, cardID CardID) (Card, error) {
	return manager.store.GetCard(ctx, cardID)
}

// GetCardByExternalID returns a card by its partner token.
func (manager *CardManager) GetCardByExternalID(ctx context.Context, token string) (Card, error) {
	return manager.store.GetCardByExternalID(ctx, token)
}

// UpdateCard applies action to the card and returns its new state.
// Status changes reach the issuing partner before they are committed locally.
func (manager *CardManager) UpdateCard(ctx context.Context, cardID CardID, action CardAction) (Card, error) {
	card, err := manager.updateCard(ctx, cardID, action)
	actionName := ""
	if action != nil {
		actionName = action.Name()
	}
	if card.ID.String() == "" {
		card.ID = cardID
	}
	manager.logCardOperation(ctx, operationUpdateCard, actionName, card, IssueCardRequest{}, err)
	return card, err
}

func (manager *CardManager) updateCard(ctx context.Context, cardID CardID, action CardAction) (Card, error) {
	if action == nil {
		return Card{}, fmt.Errorf("%w: missing action", ErrInvalidAction)
	}
	card, err := manager.store.GetCard(ctx, cardID)
	if err != nil {
		return Card{}, err
	}
	switch typed := action.(type) {
	case FreezeCard, UnfreezeCard, CancelCard, ActivateCard:
		next, err := NextCardStatus(card.Status, typed)
		if err != nil {
			return Card{}, err
		}
		change := CardStatusChange{
			IdempotencyKey: deriveIdempotencyKey(partnerKeyStatus, card.ID.String(), strconv.FormatInt(card.Version, 10), next.String()),
			CardID:         card.ID,
			Token:          card.Token,
			From:           card.Status,
			To:             next,
		}
		if err := manager.options.partner.UpdateCardStatus(ctx, change); err != nil {
			return Card{}, WrapError(errorOperationCards, errorSubjectPartner, errorCodeStatus, partnerFailure(err))
		}
		if err := manager.store.UpdateCardStatus(ctx, card.ID, card.Status, next); err != nil {
			return Card{}, err
		}
	case UpdateLimits:
		if card.Status == CardStatusCancelled {
			return Card{}, fmt.Errorf("%w: %s on cancelled card", ErrInvalidTransition, typed.Name())
		}
		if typed.Limits.Monthly == nil {
			return Card{}, ErrMissingMonthlyLimit
		}
		if err := manager.store.UpdateCardLimits(ctx, card.ID, typed.Limits); err != nil {
			return Card{}, err
		}
	case UpdateCategories:
		if card.Status == CardStatusCancelled {
			return Card{}, fmt.Errorf("%w: %s on cancelled card", ErrInvalidTransition, typed.Name())
		}
		if err := manager.store.UpdateCardBlockedCategories(ctx, card.ID, typed.BlockedCategories); err != nil {
			return Card{}, err
		}
	default:
		return Card{}, fmt.Errorf("%w: %s", ErrInvalidAction, action.Name())
	}
	return manager.store.GetCard(ctx, card.ID)
}

func (manager *CardManager) logCardOperation(ctx context.Context, operation string, action string, card Card, request IssueCardRequest, err error) {
	entry := OperationLog{
		Operation:  operation,
		CardID:     card.ID,
		UserID:     card.CardholderID,
		OperatorID: card.OperatorID,
		Action:     action,
		Error:      err,
	}
	if entry.UserID.String() == "" {
		entry.UserID = request.CardholderID
	}
	if entry.OperatorID.String() == "" {
		entry.OperatorID = request.OperatorID
	}
	logOperation(ctx, manager.options.logger, entry)
}

func deriveIdempotencyKey(parts ...string) string {
	return strings.Join(parts, idempotencyKeyDelimiter)
}

// partnerFailure keeps permanent partner rejections apart from outages callers may retry.
func partnerFailure(err error) error {
	if errors.Is(err, ErrPartnerRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPartnerUnavailable, err)
}
