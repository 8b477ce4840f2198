package events

import "time"

// EventType 이벤트 타입 정의 (토픽 이름과 동일)
type EventType string

const (
	// Order Events (발행)
	EventOrderCreated   EventType = "order-created"
	EventOrderCancelled EventType = "order-cancelled"

	// Payment Events (수신)
	EventPaymentCompleted EventType = "payment-completed"
	EventPaymentFailed    EventType = "payment-failed"

	// Inventory Events (수신)
	EventInventoryReserved EventType = "inventory-reserved"
	EventInventoryFailed   EventType = "inventory-failed"

	// Shipping Events (수신)
	EventShipmentCreated EventType = "shipment-created"
)

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"` // SAGA ID로 사용
}

// OrderCreatedEvent 주문 확정 이벤트 (saga 완료 후 발행)
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	CustomerID  string `json:"customerId"`
	TotalAmount int64  `json:"totalAmount"`
	Status      string `json:"status"`
	ItemCount   int    `json:"itemCount"`
}

// OrderCancelledEvent 주문 취소 이벤트
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	CustomerID  string `json:"customerId"`
	Reason      string `json:"reason"`
}

// PaymentCompletedEvent 결제 완료 이벤트
type PaymentCompletedEvent struct {
	BaseEvent
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// PaymentFailedEvent 결제 실패 이벤트
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

// InventoryReservedEvent 재고 예약 완료 이벤트
type InventoryReservedEvent struct {
	BaseEvent
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// InventoryFailedEvent 재고 예약 실패 이벤트
type InventoryFailedEvent struct {
	BaseEvent
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

// ShipmentCreatedEvent 배송 생성 이벤트
type ShipmentCreatedEvent struct {
	BaseEvent
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

// NewBase 기본 이벤트 envelope 생성
func NewBase(eventID string, eventType EventType, correlationID string, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		EventID:       eventID,
		EventType:     eventType,
		SchemaVersion: 1,
		OccurredAt:    occurredAt,
		CorrelationID: correlationID,
	}
}
