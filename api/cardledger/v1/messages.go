// Package cardledgerv1 defines the CardLedgerService wire contract. Messages travel as JSON through
// the codec registered in codec.go.
package cardledgerv1

// Card is a stored-value card. Limits and amounts are decimal strings; an empty limit is unset.
type Card struct {
	CardId            string   `json:"card_id"`
	Token             string   `json:"token"`
	OperatorId        string   `json:"operator_id"`
	CardholderId      string   `json:"cardholder_id"`
	Type              string   `json:"type"`
	Status            string   `json:"status"`
	DailyLimit        string   `json:"daily_limit,omitempty"`
	WeeklyLimit       string   `json:"weekly_limit,omitempty"`
	MonthlyLimit      string   `json:"monthly_limit,omitempty"`
	Balance           string   `json:"balance"`
	BlockedCategories []string `json:"blocked_categories,omitempty"`
	FundingSource     string   `json:"funding_source"`
	Version           int64    `json:"version"`
	CreatedUnixUtc    int64    `json:"created_unix_utc"`
	UpdatedUnixUtc    int64    `json:"updated_unix_utc"`
}

func (message *Card) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *Card) GetBalance() string {
	if message == nil {
		return ""
	}
	return message.Balance
}

func (message *Card) GetStatus() string {
	if message == nil {
		return ""
	}
	return message.Status
}

// LoyaltyCard is a loyalty wallet.
type LoyaltyCard struct {
	CardId         string `json:"card_id"`
	CardNumber     string `json:"card_number"`
	UserId         string `json:"user_id"`
	Tier           string `json:"tier"`
	Balance        string `json:"balance"`
	RewardsBalance string `json:"rewards_balance"`
	Status         string `json:"status"`
	KycStatus      string `json:"kyc_status"`
	AmlStatus      string `json:"aml_status"`
	Version        int64  `json:"version"`
	CreatedUnixUtc int64  `json:"created_unix_utc"`
	UpdatedUnixUtc int64  `json:"updated_unix_utc"`
}

func (message *LoyaltyCard) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *LoyaltyCard) GetUserId() string {
	if message == nil {
		return ""
	}
	return message.UserId
}

func (message *LoyaltyCard) GetStatus() string {
	if message == nil {
		return ""
	}
	return message.Status
}

type IssueCardRequest struct {
	OperatorId        string   `json:"operator_id"`
	CardholderId      string   `json:"cardholder_id"`
	Type              string   `json:"type"`
	DailyLimit        string   `json:"daily_limit,omitempty"`
	WeeklyLimit       string   `json:"weekly_limit,omitempty"`
	MonthlyLimit      string   `json:"monthly_limit"`
	BlockedCategories []string `json:"blocked_categories,omitempty"`
	FundingSource     string   `json:"funding_source,omitempty"`
}

func (message *IssueCardRequest) GetOperatorId() string {
	if message == nil {
		return ""
	}
	return message.OperatorId
}

func (message *IssueCardRequest) GetCardholderId() string {
	if message == nil {
		return ""
	}
	return message.CardholderId
}

func (message *IssueCardRequest) GetType() string {
	if message == nil {
		return ""
	}
	return message.Type
}

// GetCardRequest selects a card by CardId or, when CardId is empty, by Token.
type GetCardRequest struct {
	CardId string `json:"card_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

func (message *GetCardRequest) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *GetCardRequest) GetToken() string {
	if message == nil {
		return ""
	}
	return message.Token
}

// UpdateCardRequest carries one action: freeze, unfreeze, cancel, activate, update_limits or update_categories.
type UpdateCardRequest struct {
	CardId            string   `json:"card_id"`
	Action            string   `json:"action"`
	DailyLimit        string   `json:"daily_limit,omitempty"`
	WeeklyLimit       string   `json:"weekly_limit,omitempty"`
	MonthlyLimit      string   `json:"monthly_limit,omitempty"`
	BlockedCategories []string `json:"blocked_categories,omitempty"`
}

func (message *UpdateCardRequest) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *UpdateCardRequest) GetAction() string {
	if message == nil {
		return ""
	}
	return message.Action
}

type CreateLoyaltyCardRequest struct {
	UserId string `json:"user_id"`
	Tier   string `json:"tier,omitempty"`
}

func (message *CreateLoyaltyCardRequest) GetUserId() string {
	if message == nil {
		return ""
	}
	return message.UserId
}

func (message *CreateLoyaltyCardRequest) GetTier() string {
	if message == nil {
		return ""
	}
	return message.Tier
}

// GetLoyaltyCardRequest selects a wallet by CardId or, when CardId is empty, by CardNumber.
type GetLoyaltyCardRequest struct {
	CardId     string `json:"card_id,omitempty"`
	CardNumber string `json:"card_number,omitempty"`
}

func (message *GetLoyaltyCardRequest) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *GetLoyaltyCardRequest) GetCardNumber() string {
	if message == nil {
		return ""
	}
	return message.CardNumber
}

type RecordVerificationRequest struct {
	CardId    string `json:"card_id"`
	KycStatus string `json:"kyc_status"`
	AmlStatus string `json:"aml_status"`
}

func (message *RecordVerificationRequest) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *RecordVerificationRequest) GetKycStatus() string {
	if message == nil {
		return ""
	}
	return message.KycStatus
}

func (message *RecordVerificationRequest) GetAmlStatus() string {
	if message == nil {
		return ""
	}
	return message.AmlStatus
}

type ProcessPaymentRequest struct {
	CardId           string `json:"card_id"`
	Amount           string `json:"amount"`
	Type             string `json:"type"`
	Category         string `json:"category,omitempty"`
	BookingReference string `json:"booking_reference,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

func (message *ProcessPaymentRequest) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *ProcessPaymentRequest) GetAmount() string {
	if message == nil {
		return ""
	}
	return message.Amount
}

func (message *ProcessPaymentRequest) GetType() string {
	if message == nil {
		return ""
	}
	return message.Type
}

func (message *ProcessPaymentRequest) GetIdempotencyKey() string {
	if message == nil {
		return ""
	}
	return message.IdempotencyKey
}

// ProcessPaymentResponse reports an approved payment or a decline. DeclineMessage is the
// cardholder-facing text.
type ProcessPaymentResponse struct {
	Status              string   `json:"status"`
	DeclineReason       string   `json:"decline_reason,omitempty"`
	DeclineMessage      string   `json:"decline_message,omitempty"`
	DeclineWindow       string   `json:"decline_window,omitempty"`
	NewBalance          string   `json:"new_balance"`
	NewRewardsBalance   string   `json:"new_rewards_balance"`
	RewardsEarned       string   `json:"rewards_earned"`
	TransactionIds      []string `json:"transaction_ids,omitempty"`
	SettlementReference string   `json:"settlement_reference,omitempty"`
	Replayed            bool     `json:"replayed,omitempty"`
}

func (message *ProcessPaymentResponse) GetStatus() string {
	if message == nil {
		return ""
	}
	return message.Status
}

func (message *ProcessPaymentResponse) GetDeclineMessage() string {
	if message == nil {
		return ""
	}
	return message.DeclineMessage
}

type ListTransactionsRequest struct {
	CardId        string `json:"card_id"`
	BeforeUnixUtc int64  `json:"before_unix_utc,omitempty"`
	Limit         int32  `json:"limit,omitempty"`
}

func (message *ListTransactionsRequest) GetCardId() string {
	if message == nil {
		return ""
	}
	return message.CardId
}

func (message *ListTransactionsRequest) GetBeforeUnixUtc() int64 {
	if message == nil {
		return 0
	}
	return message.BeforeUnixUtc
}

func (message *ListTransactionsRequest) GetLimit() int32 {
	if message == nil {
		return 0
	}
	return message.Limit
}

type Transaction struct {
	TransactionId       string `json:"transaction_id"`
	CardId              string `json:"card_id"`
	AccountKind         string `json:"account_kind"`
	Type                string `json:"type"`
	Amount              string `json:"amount"`
	Category            string `json:"category,omitempty"`
	BookingReference    string `json:"booking_reference,omitempty"`
	SettlementReference string `json:"settlement_reference"`
	IdempotencyKey      string `json:"idempotency_key"`
	CreatedUnixUtc      int64  `json:"created_unix_utc"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

func (message *ListTransactionsResponse) GetTransactions() []*Transaction {
	if message == nil {
		return nil
	}
	return message.Transactions
}
