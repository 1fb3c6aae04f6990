// Package payment owns order lifecycle, gateway callbacks, and the
// webhook idempotency ledger that makes fulfillment exactly-once.
package payment

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"gaiya/internal/types"
)

// GenerateOutTradeNo builds a fresh order id: the "GAIYA" prefix, the
// creation time in Unix milliseconds, and 8 random hex characters.
// The result is 26 ASCII characters, inside every gateway's 32-char cap.
func GenerateOutTradeNo(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return fmt.Sprintf("%s%d%s", types.OutTradeNoPrefix, now.UnixMilli(), hex.EncodeToString(b)), nil
}
