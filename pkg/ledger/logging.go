package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceOption configures CardManager and PaymentProcessor instances.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger       OperationLogger
	partner      IssuingPartner
	identifiers  IdentifierGenerator
	rewards      RewardTable
	maxAttempts  int
	retryBackoff time.Duration
	sleep        func(ctx context.Context, delay time.Duration) error
}

func newServiceOptions(options []ServiceOption) serviceOptions {
	resolved := serviceOptions{
		partner:      NoopIssuingPartner{},
		identifiers:  RandomIdentifierGenerator{},
		rewards:      DefaultRewardTable(),
		maxAttempts:  defaultPaymentMaxAttempts,
		retryBackoff: defaultPaymentRetryBackoff,
		sleep:        sleepContext,
	}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}
	return resolved
}

// OperationLogger records domain-level events emitted by ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a ledger operation and its outcome.
type OperationLog struct {
	Operation      string
	CardID         CardID
	UserID         UserID
	OperatorID     OperatorID
	Action         string
	PaymentType    TransactionType
	Amount         decimal.Decimal
	IdempotencyKey IdempotencyKey
	DeclineReason  DeclineReason
	Replayed       bool
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(options *serviceOptions) {
		options.logger = logger
	}
}

// WithIssuingPartner replaces the no-op issuing partner.
func WithIssuingPartner(partner IssuingPartner) ServiceOption {
	return func(options *serviceOptions) {
		if partner != nil {
			options.partner = partner
		}
	}
}

// WithIdentifierGenerator replaces the random identifier generator.
func WithIdentifierGenerator(generator IdentifierGenerator) ServiceOption {
	return func(options *serviceOptions) {
		if generator != nil {
			options.identifiers = generator
		}
	}
}

// WithRewardTable replaces the default reward rates.
func WithRewardTable(table RewardTable) ServiceOption {
	return func(options *serviceOptions) {
		options.rewards = table
	}
}

// WithPaymentRetry bounds how often a payment that lost a concurrency race is retried.
func WithPaymentRetry(maxAttempts int, backoff time.Duration) ServiceOption {
	return func(options *serviceOptions) {
		if maxAttempts > 0 {
			options.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			options.retryBackoff = backoff
		}
	}
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	switch {
	case entry.Error != nil:
		entry.Status = operationStatusError
	case entry.DeclineReason != "":
		entry.Status = operationStatusDeclined
	default:
		entry.Status = operationStatusOK
	}
	logger.LogOperation(ctx, entry)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
