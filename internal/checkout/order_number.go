package checkout

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NewOrderNumber formats MS-YYYYMMDD-NNNN with NNNN drawn from [1000, 9999].
// Uniqueness is enforced by the ledger, not here.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("MS-%s-%d", now.Format("20060102"), 1000+rand.IntN(9000))
}

func rollbackReference(orderNumber string, now time.Time) string {
	return fmt.Sprintf("rollback-%s-%d", orderNumber, now.UnixMilli())
}

func cancelReference(orderNumber string) string {
	return "cancel-" + orderNumber
}
