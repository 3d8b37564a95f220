package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// IdentifierGenerator supplies ids, card tokens and settlement references.
type IdentifierGenerator interface {
	NewCardID() CardID
	NewTransactionID() string
	NewCardToken() string
	NewLoyaltyCardNumber() string
	NewSettlementReference() string
}

const (
	cardTokenPrefix           = "tok_"
	settlementReferencePrefix = "0x"
	loyaltyCardBIN            = "627384"
	loyaltyCardNumberLength   = 16
	unbiasedDigitThreshold    = 250
)

// RandomIdentifierGenerator is the production IdentifierGenerator.
type RandomIdentifierGenerator struct{}

// NewCardID returns a random UUID card id.
func (RandomIdentifierGenerator) NewCardID() CardID {
	return CardID{value: uuid.NewString()}
}

// NewTransactionID returns a random UUID.
func (RandomIdentifierGenerator) NewTransactionID() string {
	return uuid.NewString()
}

// NewCardToken returns an opaque token shared with the issuing partner.
func (RandomIdentifierGenerator) NewCardToken() string {
	return cardTokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewLoyaltyCardNumber returns a 16 digit number with a Luhn check digit.
func (RandomIdentifierGenerator) NewLoyaltyCardNumber() string {
	body := loyaltyCardBIN + randomDigits(loyaltyCardNumberLength-1-len(loyaltyCardBIN))
	return body + luhnCheckDigit(body)
}

// NewSettlementReference returns a placeholder hash standing in for an on-chain settlement id.
func (RandomIdentifierGenerator) NewSettlementReference() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return settlementReferencePrefix + hex.EncodeToString(sum[:])
}

// randomDigits draws uniform digits by rejecting bytes >= 250.
func randomDigits(count int) string {
	var builder strings.Builder
	builder.Grow(count)
	buffer := make([]byte, 32)
	for builder.Len() < count {
		if _, err := rand.Read(buffer); err != nil {
			panic(err)
		}
		for _, value := range buffer {
			if builder.Len() == count {
				break
			}
			if value < unbiasedDigitThreshold {
				builder.WriteByte('0' + value%10)
			}
		}
	}
	return builder.String()
}

func luhnCheckDigit(body string) string {
	sum := 0
	double := true
	for index := len(body) - 1; index >= 0; index-- {
		digit := int(body[index] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return string(rune('0' + (10-sum%10)%10))
}

// ValidLuhn reports whether number passes the Luhn check.
func ValidLuhn(number string) bool {
	if len(number) < 2 {
		return false
	}
	for index := 0; index < len(number); index++ {
		if number[index] < '0' || number[index] > '9' {
			return false
		}
	}
	return luhnCheckDigit(number[:len(number)-1]) == number[len(number)-1:]
}
