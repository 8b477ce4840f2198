package domain

import (
	"fmt"
	"time"
)

// SagaStatus Saga 상태
type SagaStatus string

const (
	SagaStatusStarted    SagaStatus = "STARTED"
	SagaStatusInProgress SagaStatus = "IN_PROGRESS"
	SagaStatusCompleted  SagaStatus = "COMPLETED"
	SagaStatusFailed     SagaStatus = "FAILED"
	SagaStatusCancelling SagaStatus = "CANCELLING"
	SagaStatusCancelled  SagaStatus = "CANCELLED"
)

// Saga 단계 이름 (failedStep 기록에 사용)
const (
	StepCreateOrder      = "CREATE_ORDER"
	StepReserveInventory = "RESERVE_INVENTORY"
	StepProcessPayment   = "PROCESS_PAYMENT"
	StepConfirmOrder     = "CONFIRM_ORDER"
)

// SagaEvent Saga 감사 로그 항목 (append-only)
type SagaEvent struct {
	Seq         int       `json:"seq"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderSaga 주문 Saga 기록 (주문과 함께 생성, Postgres에 영속화)
type OrderSaga struct {
	OrderID   string     `json:"orderId"`
	Status    SagaStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// 순방향 단계 플래그 (set-once, 되돌리지 않음)
	OrderCreated      bool `json:"orderCreated"`
	InventoryReserved bool `json:"inventoryReserved"`
	PaymentCompleted  bool `json:"paymentCompleted"`
	OrderConfirmed    bool `json:"orderConfirmed"`

	// 보상 플래그 (대응되는 순방향 플래그 이후에만 설정 가능)
	InventoryReleased bool `json:"inventoryReleased"`
	PaymentRefunded   bool `json:"paymentRefunded"`
	OrderCancelled    bool `json:"orderCancelled"`

	// 실패 추적 (최초 실패 시 1회만 기록)
	FailedStep    string `json:"failedStep,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	// 감사 로그 (추가만 가능, 수정 불가)
	Events []SagaEvent `json:"events"`
}

// NewOrderSaga 주문 Saga 생성
func NewOrderSaga(orderID string) *OrderSaga {
	saga := &OrderSaga{
		OrderID:   orderID,
		Status:    SagaStatusStarted,
		StartedAt: time.Now(),
	}
	saga.addEvent("SAGA_STARTED", "Order saga initiated")
	return saga
}

// MarkOrderCreated 주문 생성 단계 완료
func (s *OrderSaga) MarkOrderCreated() {
	if s.OrderCreated {
		return
	}
	s.OrderCreated = true
	s.Status = SagaStatusInProgress
	s.addEvent("ORDER_CREATED", "Order created successfully")
}

// MarkInventoryReserved 재고 예약 단계 완료
func (s *OrderSaga) MarkInventoryReserved() {
	if s.InventoryReserved {
		return
	}
	s.InventoryReserved = true
	s.addEvent("INVENTORY_RESERVED", "Inventory reserved successfully")
}

// MarkPaymentCompleted 결제 단계 완료
func (s *OrderSaga) MarkPaymentCompleted() {
	if s.PaymentCompleted {
		return
	}
	s.PaymentCompleted = true
	s.addEvent("PAYMENT_COMPLETED", "Payment processed successfully")
}

// MarkOrderConfirmed 주문 확정, Saga 완료
func (s *OrderSaga) MarkOrderConfirmed() {
	if s.OrderConfirmed {
		return
	}
	now := time.Now()
	s.OrderConfirmed = true
	s.Status = SagaStatusCompleted
	s.EndedAt = &now
	s.addEvent("ORDER_CONFIRMED", "Order confirmed and saga completed")
}

// MarkInventoryReleased 재고 해제 (보상)
func (s *OrderSaga) MarkInventoryReleased() {
	if !s.InventoryReserved || s.InventoryReleased {
		return
	}
	s.InventoryReleased = true
	s.addEvent("INVENTORY_RELEASED", "Inventory released due to rollback")
}

// MarkPaymentRefunded 결제 환불 (보상)
func (s *OrderSaga) MarkPaymentRefunded() {
	if !s.PaymentCompleted || s.PaymentRefunded {
		return
	}
	s.PaymentRefunded = true
	s.addEvent("PAYMENT_REFUNDED", "Payment refunded due to rollback")
}

// MarkOrderCancelled 주문 취소, Saga 롤백 완료
func (s *OrderSaga) MarkOrderCancelled() {
	if !s.OrderCreated || s.OrderCancelled {
		return
	}
	now := time.Now()
	s.OrderCancelled = true
	s.Status = SagaStatusCancelled
	s.EndedAt = &now
	s.addEvent("ORDER_CANCELLED", "Order cancelled and saga rolled back")
}

// MarkFailed 실패 기록 (최초 실패만 유지)
func (s *OrderSaga) MarkFailed(step, reason string) {
	if s.FailedStep != "" {
		return
	}
	now := time.Now()
	s.FailedStep = step
	s.FailureReason = reason
	s.Status = SagaStatusFailed
	s.EndedAt = &now
	s.addEvent("SAGA_FAILED", fmt.Sprintf("Saga failed at step: %s, reason: %s", step, reason))
}

// RequiresRollback 롤백 필요 여부
func (s *OrderSaga) RequiresRollback() bool {
	return s.Status == SagaStatusFailed || s.Status == SagaStatusCancelling
}

// StartRollback 롤백 시작
func (s *OrderSaga) StartRollback() {
	s.Status = SagaStatusCancelling
	s.addEvent("ROLLBACK_STARTED", "Starting saga rollback")
}

func (s *OrderSaga) addEvent(eventType, description string) {
	s.Events = append(s.Events, SagaEvent{
		Seq:         len(s.Events) + 1,
		EventType:   eventType,
		Description: description,
		Timestamp:   time.Now(),
	})
}
