package ledger

import (
	"fmt"

	"github.com/himpar21/medisync/internal/apperr"
)

const listLimit = 100

var (
	ErrOrderNotFound           = apperr.New(apperr.ErrNotFound, "Order not found")
	ErrDuplicateOrderNumber    = apperr.New(apperr.ErrConflict, "Order number already exists")
	ErrDuplicateIdempotencyKey = apperr.New(apperr.ErrConflict, "Order already created for this idempotency key")
	ErrStatusChanged           = apperr.New(apperr.ErrConflict, "Order status changed concurrently, retry")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}
