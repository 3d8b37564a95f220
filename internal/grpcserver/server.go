package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cardledgerv1 "github.com/MarkoPoloResearchLab/cardledger/api/cardledger/v1"
	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidTransition       = "invalid_transition"
	errorRewardsNotSupported     = "rewards_not_supported"
	errorIdempotencyKeyReuse     = "idempotency_key_reuse"
	errorDuplicateIdempotencyKey = "duplicate_idempotency_key"
	errorNotFound                = "not_found"
	errorConcurrentModification  = "concurrent_modification"
	errorConstraintViolation     = "constraint_violation"
	errorTemporarilyUnavailable  = "temporarily_unavailable"
	errorPartnerUnavailable      = "issuing_partner_unavailable"
	errorPartnerRejected         = "issuing_partner_rejected"
	errorInvalidListLimit        = "invalid_list_limit"
	errorMissingSelector         = "card_id or external id is required"

	maxListTransactionsLimit = 200
)

// CardLedgerServer exposes card issuance, wallets and payments over gRPC.
type CardLedgerServer struct {
	cardledgerv1.UnimplementedCardLedgerServiceServer
	cards    *ledger.CardManager
	payments *ledger.PaymentProcessor
}

// NewCardLedgerServer constructs a gRPC server for the ledger services.
func NewCardLedgerServer(cards *ledger.CardManager, payments *ledger.PaymentProcessor) *CardLedgerServer {
	return &CardLedgerServer{cards: cards, payments: payments}
}

func (server *CardLedgerServer) IssueCard(ctx context.Context, request *cardledgerv1.IssueCardRequest) (*cardledgerv1.Card, error) {
	cardType, err := ledger.ParseCardType(request.GetType())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	cardholderID, err := ledger.NewUserID(request.GetCardholderId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	operatorID, err := ledger.NewOperatorID(request.GetOperatorId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limits, err := parseLimits(request.DailyLimit, request.WeeklyLimit, request.MonthlyLimit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	categories, err := ledger.NewMerchantCategories(request.BlockedCategories)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	card, operationError := server.cards.IssueCard(ctx, ledger.IssueCardRequest{
		Type:              cardType,
		CardholderID:      cardholderID,
		OperatorID:        operatorID,
		Limits:            limits,
		BlockedCategories: categories,
		FundingSource:     request.FundingSource,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toCardMessage(card), nil
}

func (server *CardLedgerServer) GetCard(ctx context.Context, request *cardledgerv1.GetCardRequest) (*cardledgerv1.Card, error) {
	var (
		card           ledger.Card
		operationError error
	)
	switch {
	case strings.TrimSpace(request.GetCardId()) != "":
		cardID, err := ledger.NewCardID(request.GetCardId())
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		card, operationError = server.cards.GetCard(ctx, cardID)
	case strings.TrimSpace(request.GetToken()) != "":
		card, operationError = server.cards.GetCardByExternalID(ctx, strings.TrimSpace(request.GetToken()))
	default:
		return nil, status.Error(codes.InvalidArgument, errorMissingSelector)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toCardMessage(card), nil
}

func (server *CardLedgerServer) UpdateCard(ctx context.Context, request *cardledgerv1.UpdateCardRequest) (*cardledgerv1.Card, error) {
	cardID, err := ledger.NewCardID(request.GetCardId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limits, err := parseLimitValues(request.DailyLimit, request.WeeklyLimit, request.MonthlyLimit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	action, err := ledger.ParseCardAction(request.GetAction(), ledger.CardActionPayload{
		DailyLimit:        limits[0],
		WeeklyLimit:       limits[1],
		MonthlyLimit:      limits[2],
		BlockedCategories: request.BlockedCategories,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	card, operationError := server.cards.UpdateCard(ctx, cardID, action)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toCardMessage(card), nil
}

func (server *CardLedgerServer) CreateLoyaltyCard(ctx context.Context, request *cardledgerv1.CreateLoyaltyCardRequest) (*cardledgerv1.LoyaltyCard, error) {
	userID, err := ledger.NewUserID(request.GetUserId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	tier, err := ledger.ParseTier(request.GetTier())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	wallet, operationError := server.cards.CreateLoyaltyCard(ctx, userID, tier)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toLoyaltyCardMessage(wallet), nil
}

func (server *CardLedgerServer) GetLoyaltyCard(ctx context.Context, request *cardledgerv1.GetLoyaltyCardRequest) (*cardledgerv1.LoyaltyCard, error) {
	var (
		wallet         ledger.LoyaltyCard
		operationError error
	)
	switch {
	case strings.TrimSpace(request.GetCardId()) != "":
		cardID, err := ledger.NewCardID(request.GetCardId())
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		wallet, operationError = server.cards.GetLoyaltyCard(ctx, cardID)
	case strings.TrimSpace(request.GetCardNumber()) != "":
		wallet, operationError = server.cards.GetLoyaltyCardByExternalID(ctx, strings.TrimSpace(request.GetCardNumber()))
	default:
		return nil, status.Error(codes.InvalidArgument, errorMissingSelector)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toLoyaltyCardMessage(wallet), nil
}

func (server *CardLedgerServer) RecordVerification(ctx context.Context, request *cardledgerv1.RecordVerificationRequest) (*cardledgerv1.LoyaltyCard, error) {
	cardID, err := ledger.NewCardID(request.GetCardId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	kyc, err := ledger.ParseKYCStatus(request.GetKycStatus())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	aml, err := ledger.ParseAMLStatus(request.GetAmlStatus())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	wallet, operationError := server.cards.RecordVerification(ctx, cardID, kyc, aml)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toLoyaltyCardMessage(wallet), nil
}

func (server *CardLedgerServer) ProcessPayment(ctx context.Context, request *cardledgerv1.ProcessPaymentRequest) (*cardledgerv1.ProcessPaymentResponse, error) {
	cardID, err := ledger.NewCardID(request.GetCardId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.ParseAmount(request.GetAmount())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	paymentType, err := ledger.ParseTransactionType(request.GetType())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var category ledger.MerchantCategory
	if strings.TrimSpace(request.Category) != "" {
		category, err = ledger.NewMerchantCategory(request.Category)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	var idempotencyKey ledger.IdempotencyKey
	if strings.TrimSpace(request.GetIdempotencyKey()) != "" {
		idempotencyKey, err = ledger.NewIdempotencyKey(request.GetIdempotencyKey())
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	result, operationError := server.payments.ProcessPayment(ctx, ledger.PaymentRequest{
		CardID:           cardID,
		Amount:           amount,
		Type:             paymentType,
		Category:         category,
		BookingReference: request.BookingReference,
		IdempotencyKey:   idempotencyKey,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toPaymentMessage(result), nil
}

func (server *CardLedgerServer) ListTransactions(ctx context.Context, request *cardledgerv1.ListTransactionsRequest) (*cardledgerv1.ListTransactionsResponse, error) {
	cardID, err := ledger.NewCardID(request.GetCardId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := normalizeListLimit(request.GetLimit())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	transactions, operationError := server.payments.ListTransactions(ctx, cardID, request.GetBeforeUnixUtc(), int(limit))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &cardledgerv1.ListTransactionsResponse{Transactions: make([]*cardledgerv1.Transaction, 0, len(transactions))}
	for _, transaction := range transactions {
		response.Transactions = append(response.Transactions, &cardledgerv1.Transaction{
			TransactionId:       transaction.ID,
			CardId:              transaction.CardID.String(),
			AccountKind:         string(transaction.AccountKind),
			Type:                transaction.Type.String(),
			Amount:              transaction.Amount.String(),
			Category:            string(transaction.Category),
			BookingReference:    transaction.BookingReference,
			SettlementReference: transaction.SettlementReference,
			IdempotencyKey:      transaction.IdempotencyKey,
			CreatedUnixUtc:      transaction.CreatedUnixUTC,
		})
	}
	return response, nil
}

func normalizeListLimit(limit int32) (int32, error) {
	if limit < 0 || limit > maxListTransactionsLimit {
		return 0, fmt.Errorf("limit out of range: %d", limit)
	}
	return int32(ledger.NormalizeListLimit(int(limit))), nil
}

func parseLimits(daily, weekly, monthly string) (ledger.SpendLimits, error) {
	values, err := parseLimitValues(daily, weekly, monthly)
	if err != nil {
		return ledger.SpendLimits{}, err
	}
	return ledger.SpendLimits{Daily: values[0], Weekly: values[1], Monthly: values[2]}, nil
}

func parseLimitValues(raw ...string) ([]*decimal.Decimal, error) {
	values := make([]*decimal.Decimal, 0, len(raw))
	for _, value := range raw {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			values = append(values, nil)
			continue
		}
		parsed, err := decimal.NewFromString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidLimit, err)
		}
		values = append(values, &parsed)
	}
	return values, nil
}

func toCardMessage(card ledger.Card) *cardledgerv1.Card {
	categories := make([]string, 0, len(card.BlockedCategories))
	for _, category := range card.BlockedCategories {
		categories = append(categories, string(category))
	}
	return &cardledgerv1.Card{
		CardId:            card.ID.String(),
		Token:             card.Token,
		OperatorId:        card.OperatorID.String(),
		CardholderId:      card.CardholderID.String(),
		Type:              card.Type.String(),
		Status:            card.Status.String(),
		DailyLimit:        formatOptional(card.Limits.Daily),
		WeeklyLimit:       formatOptional(card.Limits.Weekly),
		MonthlyLimit:      formatOptional(card.Limits.Monthly),
		Balance:           card.Balance.String(),
		BlockedCategories: categories,
		FundingSource:     card.FundingSource,
		Version:           card.Version,
		CreatedUnixUtc:    card.CreatedUnixUTC,
		UpdatedUnixUtc:    card.UpdatedUnixUTC,
	}
}

func toLoyaltyCardMessage(wallet ledger.LoyaltyCard) *cardledgerv1.LoyaltyCard {
	return &cardledgerv1.LoyaltyCard{
		CardId:         wallet.ID.String(),
		CardNumber:     wallet.CardNumber,
		UserId:         wallet.UserID.String(),
		Tier:           string(wallet.Tier),
		Balance:        wallet.Balance.String(),
		RewardsBalance: wallet.RewardsBalance.String(),
		Status:         string(wallet.Status),
		KycStatus:      string(wallet.KYCStatus),
		AmlStatus:      string(wallet.AMLStatus),
		Version:        wallet.Version,
		CreatedUnixUtc: wallet.CreatedUnixUTC,
		UpdatedUnixUtc: wallet.UpdatedUnixUTC,
	}
}

func toPaymentMessage(result ledger.PaymentResult) *cardledgerv1.ProcessPaymentResponse {
	response := &cardledgerv1.ProcessPaymentResponse{
		Status:              string(result.Status),
		DeclineReason:       string(result.Decline),
		DeclineWindow:       string(result.DeclineWindow),
		NewBalance:          result.NewBalance.String(),
		NewRewardsBalance:   result.NewRewardsBalance.String(),
		RewardsEarned:       result.RewardsEarned.String(),
		TransactionIds:      result.TransactionIDs,
		SettlementReference: result.SettlementReference,
		Replayed:            result.Replayed,
	}
	if result.Decline != "" {
		response.DeclineMessage = result.Decline.Message()
	}
	return response
}

func formatOptional(value *decimal.Decimal) string {
	if value == nil {
		return ""
	}
	return value.String()
}

func mapToGRPCError(source error) error {
	switch {
	case errors.Is(source, context.Canceled):
		return status.Error(codes.Canceled, source.Error())
	case errors.Is(source, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, source.Error())
	case errors.Is(source, ledger.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, errorInvalidTransition)
	case errors.Is(source, ledger.ErrRewardsNotSupported):
		return status.Error(codes.FailedPrecondition, errorRewardsNotSupported)
	case errors.Is(source, ledger.ErrIdempotencyKeyReuse):
		return status.Error(codes.AlreadyExists, errorIdempotencyKeyReuse)
	case errors.Is(source, ledger.ErrValidation):
		return status.Error(codes.InvalidArgument, source.Error())
	case errors.Is(source, ledger.ErrNotFound):
		return status.Error(codes.NotFound, errorNotFound)
	case errors.Is(source, ledger.ErrTemporarilyUnavailable):
		return status.Error(codes.Unavailable, errorTemporarilyUnavailable)
	case errors.Is(source, ledger.ErrPartnerRejected):
		return status.Error(codes.FailedPrecondition, errorPartnerRejected)
	case errors.Is(source, ledger.ErrPartnerUnavailable):
		return status.Error(codes.Unavailable, errorPartnerUnavailable)
	case errors.Is(source, ledger.ErrDuplicateIdempotencyKey):
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotencyKey)
	case errors.Is(source, ledger.ErrConflict):
		return status.Error(codes.Aborted, errorConcurrentModification)
	case errors.Is(source, ledger.ErrConstraintViolation):
		return status.Error(codes.FailedPrecondition, errorConstraintViolation)
	}
	return status.Error(codes.Internal, source.Error())
}
