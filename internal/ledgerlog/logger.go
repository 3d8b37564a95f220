// Package ledgerlog adapts ledger operation logs to zap.
package ledgerlog

import (
	"context"

	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logMessage = "ledger operation"

// ZapOperationLogger writes one structured entry per ledger operation.
// Successes go to Info, declines to Warn and failures to Error.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger returns a logger writing to base. A nil base discards everything.
func NewZapOperationLogger(base *zap.Logger) *ZapOperationLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &ZapOperationLogger{logger: base.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	fields = appendIfSet(fields, "card_id", entry.CardID.String())
	fields = appendIfSet(fields, "user_id", entry.UserID.String())
	fields = appendIfSet(fields, "operator_id", entry.OperatorID.String())
	fields = appendIfSet(fields, "action", entry.Action)
	fields = appendIfSet(fields, "payment_type", entry.PaymentType.String())
	fields = appendIfSet(fields, "idempotency_key", entry.IdempotencyKey.String())
	fields = appendIfSet(fields, "decline_reason", string(entry.DeclineReason))
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.Stringer("amount", entry.Amount))
	}
	if entry.Replayed {
		fields = append(fields, zap.Bool("replayed", true))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry), logMessage, fields...)
}

func levelFor(entry ledger.OperationLog) zapcore.Level {
	switch {
	case entry.Error != nil:
		return zapcore.ErrorLevel
	case entry.DeclineReason != "":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func appendIfSet(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}
