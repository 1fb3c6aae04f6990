package types

import (
	"strings"
	"unicode"
)

// Validation constraint constants.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt input limit
	MaxHandleLength   = 50
	OTPCodeLength     = 6
	MaxOutTradeNoLen  = 32
	OutTradeNoPrefix  = "GAIYA"
)

// IsStrongPassword checks the minimum credential policy: at least
// MinPasswordLength characters with at least one letter and one digit.
func IsStrongPassword(password string) bool {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// IsOTPCode checks that a code is exactly six ASCII digits.
func IsOTPCode(code string) bool {
	if len(code) != OTPCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// AmountCents parses a decimal money string into integer cents.
// Accepts only ASCII digits with at most two fraction digits.
func AmountCents(s string) (int64, bool) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || len(whole) > 12 || len(frac) > 2 || (hasFrac && frac == "") {
		return 0, false
	}
	var cents int64
	for i := 0; i < len(whole); i++ {
		c := whole[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		cents = cents*10 + int64(c-'0')
	}
	cents *= 100
	for i := 0; i < len(frac); i++ {
		c := frac[i]
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	switch len(frac) {
	case 1:
		cents += int64(frac[0]-'0') * 10
	case 2:
		cents += int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	}
	return cents, true
}

// IsAmount checks a gateway-reported amount against a catalog price:
// positive, at most two decimals, and no more than the price plus a 5%
// tolerance for gateway-side rounding and fees.
func IsAmount(value, price string) bool {
	cents, ok := AmountCents(value)
	if !ok || cents <= 0 {
		return false
	}
	priceCents, ok := AmountCents(price)
	if !ok {
		return false
	}
	return cents*20 <= priceCents*21
}

// IsOutTradeNo checks the generated order id shape: the fixed prefix
// followed by digits and lowercase hex, ASCII, bounded length.
func IsOutTradeNo(id string) bool {
	if !strings.HasPrefix(id, OutTradeNoPrefix) {
		return false
	}
	if len(id) <= len(OutTradeNoPrefix) || len(id) > MaxOutTradeNoLen {
		return false
	}
	for i := len(OutTradeNoPrefix); i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
