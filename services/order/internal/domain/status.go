package domain

import (
	"fmt"
	"time"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

// OrderStatus 주문 상태
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusPaymentProcessing OrderStatus = "PAYMENT_PROCESSING"
	OrderStatusPaymentCompleted  OrderStatus = "PAYMENT_COMPLETED"
	OrderStatusPaymentFailed     OrderStatus = "PAYMENT_FAILED"
	OrderStatusInventoryReserved OrderStatus = "INVENTORY_RESERVED"
	OrderStatusInventoryFailed   OrderStatus = "INVENTORY_FAILED"
	OrderStatusProcessing        OrderStatus = "PROCESSING"
	OrderStatusShipped           OrderStatus = "SHIPPED"
	OrderStatusDelivered         OrderStatus = "DELIVERED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusRefunded          OrderStatus = "REFUNDED"
)

// transitions 고정 상태 전이 테이블 (여기에 없는 전이는 전부 거부)
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusPaymentProcessing,
		OrderStatusInventoryReserved,
		OrderStatusInventoryFailed,
		OrderStatusPaymentFailed,
		OrderStatusCancelled,
	},
	// 실패 이벤트는 늦게 도착해도 비최종 성공 상태를 덮을 수 있어야 한다
	// (INVENTORY_RESERVED → INVENTORY_FAILED, PAYMENT_COMPLETED → PAYMENT_FAILED)
	OrderStatusInventoryReserved: {
		OrderStatusPaymentProcessing,
		OrderStatusPaymentCompleted,
		OrderStatusPaymentFailed,
		OrderStatusInventoryFailed,
		OrderStatusProcessing,
		OrderStatusCancelled,
	},
	OrderStatusPaymentProcessing: {
		OrderStatusPaymentCompleted,
		OrderStatusPaymentFailed,
		OrderStatusCancelled,
	},
	OrderStatusPaymentCompleted: {
		OrderStatusProcessing,
		OrderStatusPaymentFailed,
		OrderStatusCancelled,
		OrderStatusRefunded,
	},
	OrderStatusPaymentFailed: {
		OrderStatusCancelled,
	},
	OrderStatusInventoryFailed: {
		OrderStatusCancelled,
	},
	OrderStatusProcessing: {
		OrderStatusShipped,
		OrderStatusCancelled,
	},
	OrderStatusShipped: {
		OrderStatusDelivered,
	},
	// DELIVERED, CANCELLED, REFUNDED: 최종 상태 (outgoing 전이 없음)
}

// ValidStatus 유효한 주문 상태인지 확인
func ValidStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusPaymentProcessing, OrderStatusPaymentCompleted,
		OrderStatusPaymentFailed, OrderStatusInventoryReserved, OrderStatusInventoryFailed,
		OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// IsTerminal 최종 상태인지 확인
func IsTerminal(status OrderStatus) bool {
	return len(transitions[status]) == 0 && ValidStatus(status)
}

// IsTerminalFailure 실패 계열 최종 상태인지 확인 (Reconciler 우선순위 규칙에 사용)
func IsTerminalFailure(status OrderStatus) bool {
	switch status {
	case OrderStatusInventoryFailed, OrderStatusPaymentFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo 상태 전이 가능 여부 확인
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	allowed, exists := transitions[o.Status]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo 상태 전이 적용 (테이블에 없는 전이는 거부, 상태 변경 없음)
func (o *Order) TransitionTo(newStatus OrderStatus) error {
	if !o.CanTransitionTo(newStatus) {
		return errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot transition order from %s to %s", o.Status, newStatus))
	}

	now := time.Now()
	o.Status = newStatus
	o.UpdatedAt = now

	// 상태 진입 시각은 최초 1회만 기록
	switch newStatus {
	case OrderStatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
	case OrderStatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
	case OrderStatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
	}

	return nil
}
