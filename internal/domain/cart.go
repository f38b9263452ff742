package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxItemQuantity is the per-line quantity ceiling.
	MaxItemQuantity = 20
	DefaultCurrency = "INR"
	DefaultCategory = "General"

	// CheckoutLockTTL bounds how long a crashed checkout can block a cart.
	CheckoutLockTTL = 2 * time.Minute
)

type Cart struct {
	ID            string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID        string     `bson:"user_id" json:"userId"`
	Items         []CartItem `bson:"items" json:"items"`
	TotalItems    int        `bson:"total_items" json:"totalItems"`
	Subtotal      float64    `bson:"subtotal" json:"subtotal"`
	Currency      string     `bson:"currency" json:"currency"`
	Version       int64      `bson:"version" json:"version"`
	IsLocked      bool       `bson:"is_locked" json:"isLocked"`
	LockExpiresAt time.Time  `bson:"lock_expires_at" json:"lockExpiresAt"`
	CreatedAt     time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updatedAt"`
}

type CartItem struct {
	MedicineID   string  `bson:"medicine_id" json:"medicineId"`
	MedicineName string  `bson:"medicine_name" json:"medicineName"`
	Category     string  `bson:"category" json:"category"`
	UnitPrice    float64 `bson:"unit_price" json:"unitPrice"`
	Quantity     int     `bson:"quantity" json:"quantity"`
	LineTotal    float64 `bson:"line_total" json:"lineTotal"`
}

// NewCart returns an empty, unlocked cart for userID.
func NewCart(userID string) *Cart {
	now := time.Now()
	return &Cart{
		UserID:        userID,
		Items:         []CartItem{},
		Currency:      DefaultCurrency,
		LockExpiresAt: time.Unix(0, 0).UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Recalculate drops non-positive lines and rebuilds every derived total from the
// remaining lines. Line totals are rounded before they are summed.
func (c *Cart) Recalculate() {
	live := make([]CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		if item.Quantity > 0 {
			live = append(live, item)
		}
	}

	totalItems := 0
	subtotal := decimal.Zero
	for i := range live {
		line := lineTotal(live[i].UnitPrice, live[i].Quantity)
		live[i].LineTotal = line.InexactFloat64()
		totalItems += live[i].Quantity
		subtotal = subtotal.Add(line)
	}

	c.Items = live
	c.TotalItems = totalItems
	c.Subtotal = subtotal.Round(2).InexactFloat64()
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
}

// FindItem returns the index of the line for medicineID, or -1.
func (c *Cart) FindItem(medicineID string) int {
	for i, item := range c.Items {
		if item.MedicineID == medicineID {
			return i
		}
	}
	return -1
}

// LockHeld reports whether a checkout lock is active at now.
func (c *Cart) LockHeld(now time.Time) bool {
	return c.IsLocked && c.LockExpiresAt.After(now)
}

// StockLines projects the cart onto the quantities the inventory cares about.
func (c *Cart) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, StockLine{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			Quantity:     item.Quantity,
		})
	}
	return lines
}

func lineTotal(unitPrice float64, quantity int) decimal.Decimal {
	return decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
