package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	cardledgerv1 "github.com/MarkoPoloResearchLab/cardledger/api/cardledger/v1"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	paymentStatusDeclined = "declined"
	dashboardKeyPrefix    = "dashboard:"
)

type httpHandler struct {
	logger       *zap.Logger
	ledgerClient cardledgerv1.CardLedgerServiceClient
	cfg          Config
}

func newHTTPHandler(cfg Config, logger *zap.Logger, client cardledgerv1.CardLedgerServiceClient) *httpHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpHandler{logger: logger, ledgerClient: client, cfg: cfg}
}

type issueCardRequest struct {
	CardholderID      string   `json:"cardholder_id"`
	Type              string   `json:"type"`
	DailyLimit        string   `json:"daily_limit"`
	WeeklyLimit       string   `json:"weekly_limit"`
	MonthlyLimit      string   `json:"monthly_limit"`
	BlockedCategories []string `json:"blocked_categories"`
	FundingSource     string   `json:"funding_source"`
}

type cardActionRequest struct {
	Action            string   `json:"action"`
	DailyLimit        string   `json:"daily_limit"`
	WeeklyLimit       string   `json:"weekly_limit"`
	MonthlyLimit      string   `json:"monthly_limit"`
	BlockedCategories []string `json:"blocked_categories"`
}

type paymentRequest struct {
	Amount           string `json:"amount"`
	Type             string `json:"type"`
	Category         string `json:"category"`
	BookingReference string `json:"booking_reference"`
	IdempotencyKey   string `json:"idempotency_key"`
}

type paymentResponse struct {
	Status              string   `json:"status"`
	Reason              string   `json:"reason,omitempty"`
	Message             string   `json:"message,omitempty"`
	Window              string   `json:"window,omitempty"`
	NewBalance          string   `json:"new_balance,omitempty"`
	NewRewardsBalance   string   `json:"new_rewards_balance,omitempty"`
	RewardsEarned       string   `json:"rewards_earned,omitempty"`
	TransactionIDs      []string `json:"transaction_ids,omitempty"`
	SettlementReference string   `json:"settlement_reference,omitempty"`
	Replayed            bool     `json:"replayed,omitempty"`
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims, ok := handler.requireClaims(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleIssueCard(ctx *gin.Context) {
	claims, ok := handler.requireClaims(ctx)
	if !ok {
		return
	}
	var request issueCardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	card, err := handler.ledgerClient.IssueCard(requestCtx, &cardledgerv1.IssueCardRequest{
		OperatorId:        claims.GetUserID(),
		CardholderId:      request.CardholderID,
		Type:              request.Type,
		DailyLimit:        request.DailyLimit,
		WeeklyLimit:       request.WeeklyLimit,
		MonthlyLimit:      request.MonthlyLimit,
		BlockedCategories: request.BlockedCategories,
		FundingSource:     request.FundingSource,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "issue card", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"card": card})
}

func (handler *httpHandler) handleGetCard(ctx *gin.Context) {
	card, ok := handler.loadOwnedCard(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"card": card})
}

func (handler *httpHandler) handleCardAction(ctx *gin.Context) {
	card, ok := handler.loadOwnedCard(ctx)
	if !ok {
		return
	}
	var request cardActionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	updated, err := handler.ledgerClient.UpdateCard(requestCtx, &cardledgerv1.UpdateCardRequest{
		CardId:            card.GetCardId(),
		Action:            request.Action,
		DailyLimit:        request.DailyLimit,
		WeeklyLimit:       request.WeeklyLimit,
		MonthlyLimit:      request.MonthlyLimit,
		BlockedCategories: request.BlockedCategories,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "update card", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"card": updated})
}

func (handler *httpHandler) handleCardPayment(ctx *gin.Context) {
	card, ok := handler.loadOwnedCard(ctx)
	if !ok {
		return
	}
	handler.processPayment(ctx, card.GetCardId())
}

func (handler *httpHandler) handleCardTransactions(ctx *gin.Context) {
	card, ok := handler.loadOwnedCard(ctx)
	if !ok {
		return
	}
	handler.listTransactions(ctx, card.GetCardId())
}

func (handler *httpHandler) handleCreateLoyaltyCard(ctx *gin.Context) {
	claims, ok := handler.requireClaims(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	wallet, err := handler.ledgerClient.CreateLoyaltyCard(requestCtx, &cardledgerv1.CreateLoyaltyCardRequest{UserId: claims.GetUserID()})
	if err != nil {
		handler.respondLedgerError(ctx, "create loyalty card", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"wallet": wallet})
}

func (handler *httpHandler) handleGetLoyaltyCard(ctx *gin.Context) {
	wallet, ok := handler.loadOwnedWallet(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

func (handler *httpHandler) handleLoyaltyPayment(ctx *gin.Context) {
	wallet, ok := handler.loadOwnedWallet(ctx)
	if !ok {
		return
	}
	handler.processPayment(ctx, wallet.GetCardId())
}

func (handler *httpHandler) handleLoyaltyTransactions(ctx *gin.Context) {
	wallet, ok := handler.loadOwnedWallet(ctx)
	if !ok {
		return
	}
	handler.listTransactions(ctx, wallet.GetCardId())
}

// processPayment renders declines verbatim with a 200; only system failures become errors.
func (handler *httpHandler) processPayment(ctx *gin.Context, cardID string) {
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	idempotencyKey := strings.TrimSpace(request.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(ctx.GetHeader(idempotencyKeyHeader))
	}
	// With a booking reference the ledger derives the key itself, so retries of one booking collapse.
	if idempotencyKey == "" && strings.TrimSpace(request.BookingReference) == "" {
		idempotencyKey = dashboardKeyPrefix + uuid.NewString()
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	result, err := handler.ledgerClient.ProcessPayment(requestCtx, &cardledgerv1.ProcessPaymentRequest{
		CardId:           cardID,
		Amount:           request.Amount,
		Type:             request.Type,
		Category:         request.Category,
		BookingReference: request.BookingReference,
		IdempotencyKey:   idempotencyKey,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "process payment", err)
		return
	}
	if result.GetStatus() == paymentStatusDeclined {
		handler.logger.Info("payment declined",
			zap.String("card_id", cardID),
			zap.String("reason", result.DeclineReason),
			zap.String("idempotency_key", idempotencyKey),
		)
		ctx.JSON(http.StatusOK, paymentResponse{
			Status:  result.GetStatus(),
			Reason:  result.DeclineReason,
			Message: result.GetDeclineMessage(),
			Window:  result.DeclineWindow,
		})
		return
	}
	ctx.JSON(http.StatusOK, paymentResponse{
		Status:              result.GetStatus(),
		NewBalance:          result.NewBalance,
		NewRewardsBalance:   result.NewRewardsBalance,
		RewardsEarned:       result.RewardsEarned,
		TransactionIDs:      result.TransactionIds,
		SettlementReference: result.SettlementReference,
		Replayed:            result.Replayed,
	})
}

func (handler *httpHandler) listTransactions(ctx *gin.Context, cardID string) {
	limit := handler.cfg.HistoryLimit
	if raw := strings.TrimSpace(ctx.Query("limit")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be between 1 and 200"))
			return
		}
		limit = int32(parsed)
	}
	var before int64
	if raw := strings.TrimSpace(ctx.Query("before")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be a unix timestamp"))
			return
		}
		before = parsed
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	response, err := handler.ledgerClient.ListTransactions(requestCtx, &cardledgerv1.ListTransactionsRequest{
		CardId:        cardID,
		BeforeUnixUtc: before,
		Limit:         limit,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "list transactions", err)
		return
	}
	transactions := response.GetTransactions()
	if transactions == nil {
		transactions = []*cardledgerv1.Transaction{}
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

// loadOwnedCard answers 404 for cards the session operator does not manage.
func (handler *httpHandler) loadOwnedCard(ctx *gin.Context) (*cardledgerv1.Card, bool) {
	claims, ok := handler.requireClaims(ctx)
	if !ok {
		return nil, false
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	card, err := handler.ledgerClient.GetCard(requestCtx, &cardledgerv1.GetCardRequest{CardId: ctx.Param("cardID")})
	if err != nil {
		handler.respondLedgerError(ctx, "get card", err)
		return nil, false
	}
	if card.OperatorId != claims.GetUserID() {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "card not found"))
		return nil, false
	}
	return card, true
}

// loadOwnedWallet answers 404 for wallets that belong to another user.
func (handler *httpHandler) loadOwnedWallet(ctx *gin.Context) (*cardledgerv1.LoyaltyCard, bool) {
	claims, ok := handler.requireClaims(ctx)
	if !ok {
		return nil, false
	}
	requestCtx, cancel := handler.ledgerContext(ctx)
	defer cancel()
	wallet, err := handler.ledgerClient.GetLoyaltyCard(requestCtx, &cardledgerv1.GetLoyaltyCardRequest{CardId: ctx.Param("cardID")})
	if err != nil {
		handler.respondLedgerError(ctx, "get loyalty card", err)
		return nil, false
	}
	if wallet.GetUserId() != claims.GetUserID() {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "wallet not found"))
		return nil, false
	}
	return wallet, true
}

func (handler *httpHandler) requireClaims(ctx *gin.Context) (*sessionvalidator.Claims, bool) {
	claims := getClaims(ctx)
	if claims == nil || claims.GetUserID() == "" {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return nil, false
	}
	return claims, true
}

func (handler *httpHandler) ledgerContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
}

// respondLedgerError shows caller mistakes as-is and hides system failures behind a retry hint.
func (handler *httpHandler) respondLedgerError(ctx *gin.Context, operation string, err error) {
	statusInfo, _ := status.FromError(err)
	switch statusInfo.Code() {
	case codes.InvalidArgument:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", statusInfo.Message()))
	case codes.NotFound:
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "card not found"))
	case codes.FailedPrecondition, codes.AlreadyExists:
		ctx.JSON(http.StatusConflict, errorResponse(statusInfo.Message(), statusInfo.Message()))
	default:
		handler.logger.Error(operation+" failed", zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("unavailable", retryLaterMessage))
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
