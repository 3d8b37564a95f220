package pgstore

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const emptyJSONArray = "[]"

func scanCard(row pgx.Row) (ledger.Card, error) {
	var (
		cardIDValue       string
		token             string
		operatorIDValue   string
		cardholderIDValue string
		typeValue         string
		statusValue       string
		dailyValue        string
		weeklyValue       string
		monthlyValue      string
		balanceValue      string
		categoriesValue   string
		fundingSource     string
		version           int64
		createdAtUnixUTC  int64
		updatedAtUnixUTC  int64
	)
	if err := row.Scan(
		&cardIDValue,
		&token,
		&operatorIDValue,
		&cardholderIDValue,
		&typeValue,
		&statusValue,
		&dailyValue,
		&weeklyValue,
		&monthlyValue,
		&balanceValue,
		&categoriesValue,
		&fundingSource,
		&version,
		&createdAtUnixUTC,
		&updatedAtUnixUTC,
	); err != nil {
		return ledger.Card{}, err
	}
	cardID, err := ledger.NewCardID(cardIDValue)
	if err != nil {
		return ledger.Card{}, err
	}
	operatorID, err := ledger.NewOperatorID(operatorIDValue)
	if err != nil {
		return ledger.Card{}, err
	}
	cardholderID, err := ledger.NewUserID(cardholderIDValue)
	if err != nil {
		return ledger.Card{}, err
	}
	cardType, err := ledger.ParseCardType(typeValue)
	if err != nil {
		return ledger.Card{}, err
	}
	status, err := ledger.ParseCardStatus(statusValue)
	if err != nil {
		return ledger.Card{}, err
	}
	daily, err := parseOptionalDecimal(dailyValue)
	if err != nil {
		return ledger.Card{}, err
	}
	weekly, err := parseOptionalDecimal(weeklyValue)
	if err != nil {
		return ledger.Card{}, err
	}
	monthly, err := parseOptionalDecimal(monthlyValue)
	if err != nil {
		return ledger.Card{}, err
	}
	balance, err := decimal.NewFromString(balanceValue)
	if err != nil {
		return ledger.Card{}, err
	}
	var rawCategories []string
	if err := json.Unmarshal([]byte(categoriesValue), &rawCategories); err != nil {
		return ledger.Card{}, err
	}
	categories, err := ledger.NewMerchantCategories(rawCategories)
	if err != nil {
		return ledger.Card{}, err
	}
	return ledger.Card{
		ID:                cardID,
		Token:             token,
		OperatorID:        operatorID,
		CardholderID:      cardholderID,
		Type:              cardType,
		Status:            status,
		Limits:            ledger.SpendLimits{Daily: daily, Weekly: weekly, Monthly: monthly},
		Balance:           balance,
		BlockedCategories: categories,
		FundingSource:     fundingSource,
		Version:           version,
		CreatedUnixUTC:    createdAtUnixUTC,
		UpdatedUnixUTC:    updatedAtUnixUTC,
	}, nil
}

func scanLoyaltyCard(row pgx.Row) (ledger.LoyaltyCard, error) {
	var (
		cardIDValue      string
		cardNumber       string
		userIDValue      string
		tierValue        string
		balanceValue     string
		rewardsValue     string
		statusValue      string
		kycValue         string
		amlValue         string
		version          int64
		createdAtUnixUTC int64
		updatedAtUnixUTC int64
	)
	if err := row.Scan(
		&cardIDValue,
		&cardNumber,
		&userIDValue,
		&tierValue,
		&balanceValue,
		&rewardsValue,
		&statusValue,
		&kycValue,
		&amlValue,
		&version,
		&createdAtUnixUTC,
		&updatedAtUnixUTC,
	); err != nil {
		return ledger.LoyaltyCard{}, err
	}
	cardID, err := ledger.NewCardID(cardIDValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	tier, err := ledger.ParseTier(tierValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	status, err := ledger.ParseLoyaltyStatus(statusValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	kyc, err := ledger.ParseKYCStatus(kycValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	aml, err := ledger.ParseAMLStatus(amlValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	amounts, err := parseDecimals(balanceValue, rewardsValue)
	if err != nil {
		return ledger.LoyaltyCard{}, err
	}
	return ledger.LoyaltyCard{
		ID:             cardID,
		CardNumber:     cardNumber,
		UserID:         userID,
		Tier:           tier,
		Balance:        amounts[0],
		RewardsBalance: amounts[1],
		Status:         status,
		KYCStatus:      kyc,
		AMLStatus:      aml,
		Version:        version,
		CreatedUnixUTC: createdAtUnixUTC,
		UpdatedUnixUTC: updatedAtUnixUTC,
	}, nil
}

func scanTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			transactionID       string
			cardIDValue         string
			accountKindValue    string
			typeValue           string
			amountValue         string
			categoryValue       string
			bookingReference    string
			settlementReference string
			idempotencyKey      string
			createdAtUnixUTC    int64
		)
		if err := rows.Scan(
			&transactionID,
			&cardIDValue,
			&accountKindValue,
			&typeValue,
			&amountValue,
			&categoryValue,
			&bookingReference,
			&settlementReference,
			&idempotencyKey,
			&createdAtUnixUTC,
		); err != nil {
			return nil, err
		}
		cardID, err := ledger.NewCardID(cardIDValue)
		if err != nil {
			return nil, err
		}
		transactionType, err := ledger.ParseTransactionType(typeValue)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountValue)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, ledger.Transaction{
			ID:                  transactionID,
			CardID:              cardID,
			AccountKind:         ledger.AccountKind(accountKindValue),
			Type:                transactionType,
			Amount:              amount,
			Category:            ledger.MerchantCategory(categoryValue),
			BookingReference:    bookingReference,
			SettlementReference: settlementReference,
			IdempotencyKey:      idempotencyKey,
			CreatedUnixUTC:      createdAtUnixUTC,
		})
	}
	return transactions, rows.Err()
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	parsed := make([]decimal.Decimal, 0, len(values))
	for _, value := range values {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, amount)
	}
	return parsed, nil
}

func parseOptionalDecimal(value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// optionalDecimal renders an unset limit as SQL NULL.
func optionalDecimal(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	rendered := value.String()
	return &rendered
}

func categoriesJSON(categories []ledger.MerchantCategory) (string, error) {
	if len(categories) == 0 {
		return emptyJSONArray, nil
	}
	encoded, err := json.Marshal(categories)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
