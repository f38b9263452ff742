package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/himpar21/medisync/internal/domain"
)

const (
	OrderCreated       = "order.created"
	OrderStatusUpdated = "order.status_updated"
)

// Envelope is the body every sink receives.
type Envelope struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emittedAt"`
}

type OrderCreatedPayload struct {
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	UserID      string             `json:"userId"`
	TotalAmount float64            `json:"totalAmount"`
	Status      domain.OrderStatus `json:"status"`
	Address     string             `json:"address"`
	Items       []CreatedItem      `json:"items"`
	PickupSlot  domain.PickupSlot  `json:"pickupSlot"`
	PlacedAt    time.Time          `json:"placedAt"`
}

type CreatedItem struct {
	MedicineID string  `json:"medicineId"`
	Quantity   int     `json:"quantity"`
	LineTotal  float64 `json:"lineTotal"`
}

type StatusUpdatedPayload struct {
	OrderID        string               `json:"orderId"`
	OrderNumber    string               `json:"orderNumber"`
	UserID         string               `json:"userId"`
	PreviousStatus domain.OrderStatus   `json:"previousStatus"`
	CurrentStatus  domain.OrderStatus   `json:"currentStatus"`
	PaymentStatus  domain.PaymentStatus `json:"paymentStatus"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

func newEnvelope(eventType string, payload any) Envelope {
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}
}

func NewOrderCreated(order *domain.Order) Envelope {
	items := make([]CreatedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, CreatedItem{
			MedicineID: item.MedicineID,
			Quantity:   item.Quantity,
			LineTotal:  item.LineTotal,
		})
	}

	return newEnvelope(OrderCreated, OrderCreatedPayload{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		Address:     order.Address,
		Items:       items,
		PickupSlot:  order.PickupSlot,
		PlacedAt:    order.PlacedAt,
	})
}

func NewOrderStatusUpdated(order *domain.Order, previous domain.OrderStatus) Envelope {
	return newEnvelope(OrderStatusUpdated, StatusUpdatedPayload{
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		PaymentStatus:  order.PaymentStatus,
		UpdatedAt:      time.Now().UTC(),
	})
}

// key orders messages per order on partitioned sinks.
func (e Envelope) key() string {
	switch p := e.Payload.(type) {
	case OrderCreatedPayload:
		return p.OrderNumber
	case StatusUpdatedPayload:
		return p.OrderNumber
	default:
		return e.EventID
	}
}
