package domain

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// maxAmountPlaces is the precision accepted for origin amounts
	maxAmountPlaces = 2

	// MaxDescriptionLength bounds the free-form note, in characters
	MaxDescriptionLength = 500
)

var (
	// Regex pattern for validating decimal amounts with up to 2 decimal places
	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
)

// ParseAmount parses an amount string as sent by clients.
// Returns an error wrapping ErrInvalidAmount if the amount is invalid.
func ParseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: amount value cannot be empty", ErrInvalidAmount)
	}

	if !amountPattern.MatchString(value) {
		return decimal.Zero, fmt.Errorf("%w: must be a positive decimal with up to 2 decimal places", ErrInvalidAmount)
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount checks that amount is positive and not more precise than a cent.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(maxAmountPlaces)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, maxAmountPlaces)
	}
	return nil
}

// ValidateCurrencyCode validates that a currency code follows ISO 4217 format.
func ValidateCurrencyCode(code string) error {
	if code == "" {
		return fmt.Errorf("%w: currency code cannot be empty", ErrInvalidCurrency)
	}

	if len(code) != 3 {
		return fmt.Errorf("%w: currency code must be 3 characters (ISO 4217)", ErrInvalidCurrency)
	}

	// Check if all characters are uppercase letters
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("%w: currency code must contain only uppercase letters", ErrInvalidCurrency)
		}
	}

	return nil
}

// ParseTransactionType accepts "credit" or "debit".
func ParseTransactionType(value string) (TransactionType, error) {
	switch t := TransactionType(value); t {
	case TransactionTypeCredit, TransactionTypeDebit:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, value)
	}
}

// ValidateDescription bounds the length of a transaction note.
func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return fmt.Errorf("%w: at most %d characters", ErrInvalidDescription, MaxDescriptionLength)
	}
	return nil
}

// ValidateCreateRequest checks every field of a creation request.
func ValidateCreateRequest(req CreateTransactionRequest) error {
	if req.StoreID == uuid.Nil {
		return ErrInvalidStore
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return err
	}
	if err := ValidateCurrencyCode(req.Currency); err != nil {
		return err
	}
	if _, err := ParseTransactionType(string(req.Type)); err != nil {
		return err
	}
	return ValidateDescription(req.Description)
}

// ParseReportDuration accepts "week" or "month".
func ParseReportDuration(value string) (ReportDuration, error) {
	switch d := ReportDuration(value); d {
	case ReportDurationWeek, ReportDurationMonth:
		return d, nil
	default:
		return "", fmt.Errorf("%w: durationType must be week or month, got %q", ErrInvalidReportRequest, value)
	}
}

// ParseGroupBy accepts "dayOfWeek", "month" or "year".
func ParseGroupBy(value string) (GroupBy, error) {
	switch g := GroupBy(value); g {
	case GroupByDayOfWeek, GroupByMonth, GroupByYear:
		return g, nil
	default:
		return "", fmt.Errorf("%w: groupBy must be dayOfWeek, month or year, got %q", ErrInvalidReportRequest, value)
	}
}

// ParseStartDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp
// and returns it in UTC.
func ParseStartDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: startDate is required", ErrInvalidReportRequest)
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: startDate must be YYYY-MM-DD or RFC 3339, got %q", ErrInvalidReportRequest, value)
	}
	return t.UTC(), nil
}

// ValidateReportRequest checks every field of a report request.
func ValidateReportRequest(req ReportRequest) error {
	if req.StoreID == uuid.Nil {
		return ErrInvalidStore
	}
	if _, err := ParseReportDuration(string(req.Duration)); err != nil {
		return err
	}
	if _, err := ParseGroupBy(string(req.GroupBy)); err != nil {
		return err
	}
	if req.StartDate.IsZero() {
		return fmt.Errorf("%w: startDate is required", ErrInvalidReportRequest)
	}
	return nil
}
