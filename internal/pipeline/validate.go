package pipeline

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// validatePixKey accepts the four registered key formats: CPF/CNPJ (11 or 14
// digits), email, +55 phone, or a random key (UUID).
func validatePixKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return validationErrorf("pix key is required")
	}

	if isDigits(key) && (len(key) == 11 || len(key) == 14) {
		return nil
	}
	if strings.Contains(key, "@") && strings.Contains(key, ".") {
		return nil
	}
	if strings.HasPrefix(key, "+55") && len(key) >= 13 && isDigits(key[1:]) {
		return nil
	}
	if _, err := uuid.Parse(key); err == nil {
		return nil
	}
	return validationErrorf("invalid pix key %q: not a CPF/CNPJ, email, +55 phone, or UUID", key)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationErrorf("amount must be positive, got %s", amount)
	}
	if amount.Exponent() < -2 {
		return validationErrorf("amount %s has more than two decimal places", amount)
	}
	return nil
}

func validateExternalID(externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return validationErrorf("external_id is required")
	}
	return nil
}
