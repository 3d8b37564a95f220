package ledger

import "time"

const (
	operationIssueCard          = "issue_card"
	operationUpdateCard         = "update_card"
	operationCreateLoyaltyCard  = "create_loyalty_card"
	operationRecordVerification = "record_verification"
	operationProcessPayment     = "process_payment"

	operationStatusOK       = "ok"
	operationStatusDeclined = "declined"
	operationStatusError    = "error"

	errorOperationCards    = "cards"
	errorOperationPayments = "payments"
	errorSubjectPartner    = "partner"
	errorSubjectCard       = "card"
	errorSubjectPayment    = "payment"
	errorCodeRegister      = "register"
	errorCodeStatus        = "status"
	errorCodeRetries       = "retries_exhausted"

	idempotencyKeyDelimiter     = ":"
	idempotencyPrefixBooking    = "booking"
	idempotencySuffixReward     = "reward"
	transactionAmountPrecision  = 4
	rewardAmountPrecision       = 2
	defaultPaymentMaxAttempts   = 5
	defaultPaymentRetryBackoff  = 5 * time.Millisecond
	maximumPaymentRetryBackoff  = 200 * time.Millisecond
	defaultTransactionListLimit = 50
	maximumTransactionListLimit = 200
)
