package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/payout-service/internal/domain"
)

const maxPayoutIDLength = 64

// Classification is the business outcome for a new submission.
type Classification struct {
	Status domain.PayoutStatus
	Reason *domain.RejectionReason
}

// Validator evaluates submissions against the correspondent directory.
type Validator struct {
	directory    CorrespondentDirectory
	maxAmount    decimal.Decimal
	strictPrefix bool
}

// NewValidator builds a validator. A zero maxAmount disables the upper bound.
func NewValidator(directory CorrespondentDirectory, maxAmount decimal.Decimal, strictPrefix bool) *Validator {
	return &Validator{
		directory:    directory,
		maxAmount:    maxAmount,
		strictPrefix: strictPrefix,
	}
}

// Classify returns ACCEPTED or REJECTED with a reason. A non-nil error is an internal fault.
func (v *Validator) Classify(ctx context.Context, p domain.Payout) (Classification, error) {
	payoutID := strings.TrimSpace(p.PayoutID)
	if payoutID == "" || len(payoutID) > maxPayoutIDLength {
		return rejected(domain.ReasonInvalidPayoutID, "payoutId must be between 1 and 64 characters"), nil
	}

	if msg := v.checkAmount(p.Amount); msg != "" {
		return rejected(domain.ReasonInvalidAmount, msg), nil
	}

	corr, ok, err := v.directory.Lookup(ctx, p.Correspondent)
	if err != nil {
		return Classification{}, fmt.Errorf("lookup correspondent %q: %w", p.Correspondent, err)
	}
	if !ok {
		return rejected(domain.ReasonInvalidCorrespondent, fmt.Sprintf("correspondent %q is not supported", p.Correspondent)), nil
	}

	if corr.PayoutsDisabled || !strings.EqualFold(strings.TrimSpace(p.Country), corr.Country) {
		return rejected(domain.ReasonPayoutsNotAllowed, fmt.Sprintf("payouts are not allowed for %s in %s", corr.Code, p.Country)), nil
	}

	if !strings.EqualFold(strings.TrimSpace(p.Currency), corr.Currency) {
		return rejected(domain.ReasonInvalidCurrency, fmt.Sprintf("%s only supports %s", corr.Code, corr.Currency)), nil
	}

	if msg := v.checkRecipient(p.Recipient, corr); msg != "" {
		return rejected(domain.ReasonInvalidRecipient, msg), nil
	}

	return Classification{Status: domain.StatusAccepted}, nil
}

func (v *Validator) checkAmount(raw string) string {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "amount must be a decimal number"
	}
	if !amount.IsPositive() {
		return "amount must be greater than zero"
	}
	if !amount.Equal(amount.Truncate(2)) {
		return "amount supports at most two decimal places"
	}
	if v.maxAmount.IsPositive() && amount.GreaterThan(v.maxAmount) {
		return fmt.Sprintf("amount exceeds the maximum of %s", v.maxAmount.String())
	}
	return ""
}

func (v *Validator) checkRecipient(addr domain.FinancialAddress, corr Correspondent) string {
	if !strings.EqualFold(strings.TrimSpace(addr.Type), "MSISDN") {
		return "recipient type must be MSISDN"
	}
	value := strings.TrimSpace(addr.Address.Value)
	if value == "" {
		return "recipient address is required"
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return "recipient MSISDN must contain digits only"
		}
	}
	if corr.MSISDNLength > 0 && len(value) != corr.MSISDNLength {
		return fmt.Sprintf("recipient MSISDN must be %d digits", corr.MSISDNLength)
	}
	if v.strictPrefix && corr.MSISDNPrefix != "" && !strings.HasPrefix(value, corr.MSISDNPrefix) {
		return fmt.Sprintf("recipient MSISDN must start with %s", corr.MSISDNPrefix)
	}
	return ""
}

func rejected(code, message string) Classification {
	return Classification{
		Status: domain.StatusRejected,
		Reason: &domain.RejectionReason{RejectionReason: code, RejectionMessage: message},
	}
}
