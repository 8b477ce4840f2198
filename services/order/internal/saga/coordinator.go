package saga

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/client"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/service"
)

// Coordinator 주문 Saga 오케스트레이터.
// 주문 생성 → 재고 예약 → 결제 → 주문 확정을 순차 실행하고,
// 실패 시 완료된 단계를 역순으로 보상한다.
type Coordinator interface {
	// ProcessOrder 주문 Saga 실행 (동기, 최종 주문 상태 반환)
	ProcessOrder(ctx context.Context, cmd service.CreateOrderCommand) (*domain.Order, error)
	// CancelOrder 사용자 요청 취소 (결제 완료 상태면 환불 포함)
	CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error)
	// Compensate 미완료 Saga 강제 보상 (Sweeper에서 호출)
	Compensate(ctx context.Context, orderID, reason string) error
}

type coordinator struct {
	orderService    service.OrderService
	inventoryClient client.InventoryClient
	paymentClient   client.PaymentClient
	logger          *zap.Logger
}

// NewCoordinator Saga 코디네이터 생성
func NewCoordinator(
	orderService service.OrderService,
	inventoryClient client.InventoryClient,
	paymentClient client.PaymentClient,
	logger *zap.Logger,
) Coordinator {
	return &coordinator{
		orderService:    orderService,
		inventoryClient: inventoryClient,
		paymentClient:   paymentClient,
		logger:          logger,
	}
}

// ProcessOrder 주문 Saga 실행
func (c *coordinator) ProcessOrder(ctx context.Context, cmd service.CreateOrderCommand) (*domain.Order, error) {
	// Step 1: 주문 + Saga 기록 생성 (단일 트랜잭션)
	order, sg, err := c.orderService.CreateOrderWithSaga(ctx, cmd)
	if err != nil {
		return nil, err
	}

	c.logger.Info("saga started",
		zap.String("orderId", order.ID),
		zap.String("orderNumber", order.OrderNumber))

	// Step 2: 재고 예약 (all-or-nothing)
	if err := c.reserveInventory(ctx, order, sg); err != nil {
		c.rollback(ctx, order, sg)
		return c.reload(ctx, order), err
	}

	// Step 3: 결제
	payment, err := c.processPayment(ctx, order, sg)
	if err != nil {
		c.rollback(ctx, order, sg)
		return c.reload(ctx, order), err
	}

	// Step 4: 주문 확정
	if err := c.confirmOrder(ctx, order, sg, payment); err != nil {
		c.rollback(ctx, order, sg)
		return c.reload(ctx, order), err
	}

	c.logger.Info("saga completed",
		zap.String("orderId", order.ID),
		zap.String("status", string(order.Status)))
	return order, nil
}

// reserveInventory 모든 항목의 재고를 예약.
// 하나라도 실패하면 이미 예약된 항목을 즉시 해제하고 실패 처리한다.
func (c *coordinator) reserveInventory(ctx context.Context, order *domain.Order, sg *domain.OrderSaga) error {
	var reserved []domain.OrderItem

	for _, item := range order.Items {
		ok, err := c.inventoryClient.Reserve(ctx, item.ProductID, item.Quantity, order.ID)
		if err == nil && ok {
			reserved = append(reserved, item)
			continue
		}

		reason := "insufficient inventory"
		if err != nil {
			reason = err.Error()
		}
		c.logger.Warn("inventory reservation failed",
			zap.String("orderId", order.ID),
			zap.String("productId", item.ProductID),
			zap.String("reason", reason))

		// 부분 성공한 예약 해제
		for _, r := range reserved {
			if relErr := c.inventoryClient.Release(ctx, r.ProductID, r.Quantity, order.ID); relErr != nil {
				c.logger.Error("COMPENSATION FAILURE: failed to release inventory",
					zap.String("orderId", order.ID),
					zap.String("productId", r.ProductID),
					zap.Error(relErr))
			}
		}

		sg.MarkFailed(domain.StepReserveInventory, reason)
		c.saveSaga(ctx, sg)
		c.transition(ctx, order, domain.OrderStatusInventoryFailed)

		if err != nil {
			return err
		}
		return errors.New(errors.ErrCodeInsufficientInventory,
			fmt.Sprintf("insufficient inventory for product %s", item.ProductID))
	}

	sg.MarkInventoryReserved()
	c.saveSaga(ctx, sg)
	c.transition(ctx, order, domain.OrderStatusInventoryReserved)

	c.logger.Info("inventory reserved",
		zap.String("orderId", order.ID),
		zap.Int("itemCount", len(order.Items)))
	return nil
}

// processPayment 결제 생성 및 승인 처리
func (c *coordinator) processPayment(ctx context.Context, order *domain.Order, sg *domain.OrderSaga) (*client.Payment, error) {
	c.transition(ctx, order, domain.OrderStatusPaymentProcessing)

	payment, err := c.paymentClient.Create(ctx, client.CreatePaymentRequest{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		Amount:        order.TotalAmount,
		Currency:      "USD",
		PaymentMethod: "CARD",
	})
	if err == nil {
		payment, err = c.paymentClient.Process(ctx, payment.ID)
	}

	if err != nil || payment.Status != client.PaymentStatusCompleted {
		reason := "payment declined"
		if err != nil {
			reason = err.Error()
		} else if payment.FailureReason != "" {
			reason = payment.FailureReason
		}
		c.logger.Warn("payment failed",
			zap.String("orderId", order.ID),
			zap.String("reason", reason))

		sg.MarkFailed(domain.StepProcessPayment, reason)
		c.saveSaga(ctx, sg)

		paymentID := ""
		if payment != nil {
			paymentID = payment.ID
		}
		if _, upErr := c.orderService.UpdatePaymentInfo(ctx, order.ID, paymentID,
			client.PaymentStatusFailed, domain.OrderStatusPaymentFailed); upErr != nil {
			c.logger.Error("failed to record payment failure",
				zap.String("orderId", order.ID),
				zap.Error(upErr))
		}

		if err != nil {
			return nil, err
		}
		return nil, errors.New(errors.ErrCodePaymentDeclined, reason)
	}

	sg.MarkPaymentCompleted()
	c.saveSaga(ctx, sg)

	updated, err := c.orderService.UpdatePaymentInfo(ctx, order.ID, payment.ID,
		payment.Status, domain.OrderStatusPaymentCompleted)
	if err != nil {
		return nil, err
	}
	*order = *updated

	c.logger.Info("payment completed",
		zap.String("orderId", order.ID),
		zap.String("paymentId", payment.ID),
		zap.Int64("amount", payment.Amount))
	return payment, nil
}

// confirmOrder 재고 차감 확정 및 주문 확정
func (c *coordinator) confirmOrder(ctx context.Context, order *domain.Order, sg *domain.OrderSaga, payment *client.Payment) error {
	for _, item := range order.Items {
		if err := c.inventoryClient.ConfirmReduction(ctx, item.ProductID, item.Quantity, order.ID); err != nil {
			sg.MarkFailed(domain.StepConfirmOrder, err.Error())
			c.saveSaga(ctx, sg)
			return err
		}
	}

	updated, err := c.orderService.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusProcessing)
	if err != nil {
		sg.MarkFailed(domain.StepConfirmOrder, err.Error())
		c.saveSaga(ctx, sg)
		return err
	}
	*order = *updated

	sg.MarkOrderConfirmed()
	c.saveSaga(ctx, sg)

	if err := c.orderService.EnqueueOrderCreated(ctx, order); err != nil {
		// 주문 확정은 이미 커밋됨. 이벤트 유실만 기록한다.
		c.logger.Error("failed to enqueue order-created event",
			zap.String("orderId", order.ID),
			zap.Error(err))
	}
	return nil
}

// CancelOrder 사용자 요청 취소
func (c *coordinator) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	order, err := c.orderService.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("order cannot be cancelled in status %s", order.Status))
	}

	sg, err := c.orderService.GetSaga(ctx, orderID)
	if err != nil {
		return nil, err
	}

	sg.StartRollback()
	c.saveSaga(ctx, sg)

	// 완료된 단계를 역순으로 보상
	if sg.PaymentCompleted && !sg.PaymentRefunded && order.PaymentID != "" {
		if _, err := c.paymentClient.Refund(ctx, order.PaymentID, order.TotalAmount); err != nil {
			c.logger.Error("COMPENSATION FAILURE: failed to refund payment",
				zap.String("orderId", order.ID),
				zap.String("paymentId", order.PaymentID),
				zap.Error(err))
		} else {
			sg.MarkPaymentRefunded()
		}
	}

	c.releaseReserved(ctx, order, sg)

	cancelled, err := c.orderService.MarkCancelled(ctx, orderID, reason)
	if err != nil {
		c.saveSaga(ctx, sg)
		return nil, err
	}

	sg.MarkOrderCancelled()
	c.saveSaga(ctx, sg)

	c.logger.Info("order cancelled",
		zap.String("orderId", orderID),
		zap.String("reason", reason))
	return cancelled, nil
}

// Compensate 시간 초과로 미완료 상태에 남은 Saga 강제 보상
func (c *coordinator) Compensate(ctx context.Context, orderID, reason string) error {
	order, err := c.orderService.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if domain.IsTerminal(order.Status) {
		return nil
	}

	sg, err := c.orderService.GetSaga(ctx, orderID)
	if err != nil {
		return err
	}

	c.logger.Warn("compensating stale order",
		zap.String("orderId", orderID),
		zap.String("status", string(order.Status)),
		zap.String("reason", reason))

	sg.MarkFailed(domain.StepConfirmOrder, reason)
	c.rollback(ctx, order, sg)
	return nil
}

// rollback 완료된 단계를 역순으로 보상 (환불 → 재고 해제 → 주문 취소)
func (c *coordinator) rollback(ctx context.Context, order *domain.Order, sg *domain.OrderSaga) {
	sg.StartRollback()
	c.saveSaga(ctx, sg)

	if sg.PaymentCompleted && !sg.PaymentRefunded && order.PaymentID != "" {
		if _, err := c.paymentClient.Refund(ctx, order.PaymentID, order.TotalAmount); err != nil {
			c.logger.Error("COMPENSATION FAILURE: failed to refund payment",
				zap.String("orderId", order.ID),
				zap.String("paymentId", order.PaymentID),
				zap.Error(err))
		} else {
			sg.MarkPaymentRefunded()
		}
	}

	c.releaseReserved(ctx, order, sg)

	if _, err := c.orderService.MarkCancelled(ctx, order.ID, sg.FailureReason); err != nil {
		// 취소 전이가 불가능한 상태면 현재 상태를 유지한다
		if errors.CodeOf(err) != errors.ErrCodeInvalidTransition {
			c.logger.Error("COMPENSATION FAILURE: failed to cancel order",
				zap.String("orderId", order.ID),
				zap.Error(err))
		}
	} else {
		sg.MarkOrderCancelled()
	}

	c.saveSaga(ctx, sg)
}

// releaseReserved 예약된 재고 해제 (주문 확정 전까지만 유효)
func (c *coordinator) releaseReserved(ctx context.Context, order *domain.Order, sg *domain.OrderSaga) {
	if !sg.InventoryReserved || sg.InventoryReleased || sg.OrderConfirmed {
		return
	}

	failed := false
	for _, item := range order.Items {
		if err := c.inventoryClient.Release(ctx, item.ProductID, item.Quantity, order.ID); err != nil {
			failed = true
			c.logger.Error("COMPENSATION FAILURE: failed to release inventory",
				zap.String("orderId", order.ID),
				zap.String("productId", item.ProductID),
				zap.Error(err))
		}
	}
	if !failed {
		sg.MarkInventoryReleased()
	}
}

func (c *coordinator) transition(ctx context.Context, order *domain.Order, status domain.OrderStatus) {
	updated, err := c.orderService.UpdateOrderStatus(ctx, order.ID, status)
	if err != nil {
		c.logger.Error("failed to update order status",
			zap.String("orderId", order.ID),
			zap.String("targetStatus", string(status)),
			zap.Error(err))
		return
	}
	*order = *updated
}

func (c *coordinator) saveSaga(ctx context.Context, sg *domain.OrderSaga) {
	if err := c.orderService.SaveSaga(ctx, sg); err != nil {
		c.logger.Error("failed to save saga",
			zap.String("orderId", sg.OrderID),
			zap.Error(err))
	}
}

func (c *coordinator) reload(ctx context.Context, order *domain.Order) *domain.Order {
	fresh, err := c.orderService.GetOrder(ctx, order.ID)
	if err != nil {
		return order
	}
	return fresh
}
