// Package dedup tracks processed webhook deliveries so verbatim redeliveries
// can be dropped before they reach the payment state machine.
package dedup

import (
	"context"
	"strings"
	"time"
)

// DefaultTTL covers the gateway's redelivery window with margin.
const DefaultTTL = 72 * time.Hour

type Store interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// Key builds the idempotency key for a webhook delivery.
func Key(paymentID, transactionStatus string) string {
	return paymentID + ":" + strings.ToLower(strings.TrimSpace(transactionStatus))
}
