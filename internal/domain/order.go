package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPlaced         OrderStatus = "placed"
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	OrderStatusPickedUp       OrderStatus = "picked_up"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// OrderStatuses lists every valid status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusPaymentPending,
	OrderStatusConfirmed,
	OrderStatusReadyForPickup,
	OrderStatusPickedUp,
	OrderStatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPickedUp || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type InventoryStatus string

const (
	InventoryStatusReserved InventoryStatus = "reserved"
	InventoryStatusReleased InventoryStatus = "released"
	InventoryStatusDeducted InventoryStatus = "deducted"
	InventoryStatusFailed   InventoryStatus = "failed"
)

type OrderItem struct {
	MedicineID   string  `json:"medicineId"`
	MedicineName string  `json:"medicineName"`
	Category     string  `json:"category"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	LineTotal    float64 `json:"lineTotal"`
}

type PickupSlot struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	UpdatedBy string      `json:"updatedBy"`
	At        time.Time   `json:"at"`
	Note      string      `json:"note"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          string          `json:"userId"`
	Items           []OrderItem     `json:"items"`
	TotalItems      int             `json:"totalItems"`
	Subtotal        float64         `json:"subtotal"`
	Tax             float64         `json:"tax"`
	DeliveryFee     float64         `json:"deliveryFee"`
	TotalAmount     float64         `json:"totalAmount"`
	Currency        string          `json:"currency"`
	PickupSlot      PickupSlot      `json:"pickupSlot"`
	Address         string          `json:"address"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	InventoryStatus InventoryStatus `json:"inventoryStatus"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	Note            string          `json:"note"`
	StatusHistory   []StatusEntry   `json:"statusHistory"`
	PlacedAt        time.Time       `json:"placedAt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StockLines projects the order snapshot onto inventory quantities.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			Quantity:     item.Quantity,
		})
	}
	return lines
}

// StatusUpdate is the only mutation applied to an order after creation. From
// guards against a concurrent update that already moved the order.
type StatusUpdate struct {
	From            OrderStatus
	Status          OrderStatus
	InventoryStatus InventoryStatus
	Entry           StatusEntry
}

type Role string

const (
	RolePatient    Role = "patient"
	RoleAdmin      Role = "admin"
	RolePharmacist Role = "pharmacist"
)

// Privileged roles see every order and may change order status.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RolePharmacist
}

// Actor is the authenticated caller as carried by the identity token.
type Actor struct {
	UserID string
	Role   Role
}
