package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/common/events"
	"github.com/kyungseok/ecommerce-saga-go/common/idempotency"
	"github.com/kyungseok/ecommerce-saga-go/common/messaging"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/service"
)

// 멱등성 키 보관 기간. 이 기간 내 재전달된 이벤트는 중복으로 간주한다.
const idempotencyTTL = 24 * time.Hour

// EventHandler 외부 서비스 이벤트 수신 핸들러 (choreography 보정 경로).
// 동기 Saga가 놓친 상태 변화를 Kafka 이벤트로 따라잡는다.
type EventHandler struct {
	orderService service.OrderService
	idemStore    idempotency.Store
	logger       *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(orderService service.OrderService, idemStore idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		orderService: orderService,
		idemStore:    idemStore,
		logger:       logger,
	}
}

// Topics 구독 대상 토픽 목록
func (h *EventHandler) Topics() []string {
	return []string{
		string(events.EventPaymentCompleted),
		string(events.EventPaymentFailed),
		string(events.EventInventoryReserved),
		string(events.EventInventoryFailed),
		string(events.EventShipmentCreated),
	}
}

// Handle Kafka 메시지 처리 진입점
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var base events.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		// 해석 불가능한 메시지는 재시도해도 소용없으므로 버린다
		h.logger.Error("failed to unmarshal event envelope",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return nil
	}

	// eventId 기준 중복 제거
	reserved, err := h.idemStore.Reserve(ctx, base.EventID, idempotencyTTL)
	if err != nil {
		return err
	}
	if !reserved {
		h.logger.Debug("duplicate event skipped",
			zap.String("eventId", base.EventID),
			zap.String("topic", msg.Topic))
		return nil
	}

	if err := h.dispatch(ctx, msg); err != nil {
		if errors.IsRetryable(err) {
			// 일시 장애면 키를 되돌려 재전달 시 다시 처리되게 한다
			if relErr := h.idemStore.Release(ctx, base.EventID); relErr != nil {
				h.logger.Error("failed to release idempotency key",
					zap.String("eventId", base.EventID),
					zap.Error(relErr))
			}
			return err
		}
		// 비즈니스 에러(전이 불가 등)는 소비 완료로 처리
		h.logger.Warn("event dropped",
			zap.String("eventId", base.EventID),
			zap.String("topic", msg.Topic),
			zap.Error(err))
	}
	return nil
}

func (h *EventHandler) dispatch(ctx context.Context, msg *messaging.Message) error {
	switch events.EventType(msg.Topic) {
	case events.EventPaymentCompleted:
		var evt events.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal payment-completed event", err)
		}
		return h.handlePaymentCompleted(ctx, evt)

	case events.EventPaymentFailed:
		var evt events.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal payment-failed event", err)
		}
		return h.handlePaymentFailed(ctx, evt)

	case events.EventInventoryReserved:
		var evt events.InventoryReservedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal inventory-reserved event", err)
		}
		return h.applyStatus(ctx, evt.OrderID, domain.OrderStatusInventoryReserved)

	case events.EventInventoryFailed:
		var evt events.InventoryFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal inventory-failed event", err)
		}
		return h.applyStatus(ctx, evt.OrderID, domain.OrderStatusInventoryFailed)

	case events.EventShipmentCreated:
		var evt events.ShipmentCreatedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal shipment-created event", err)
		}
		return h.applyStatus(ctx, evt.OrderID, domain.OrderStatusShipped)

	default:
		h.logger.Warn("unexpected topic", zap.String("topic", msg.Topic))
		return nil
	}
}

func (h *EventHandler) handlePaymentCompleted(ctx context.Context, evt events.PaymentCompletedEvent) error {
	order, ok, err := h.lookup(ctx, evt.OrderID)
	if err != nil || !ok {
		return err
	}

	// 실패 계열 최종 상태는 뒤늦은 성공 이벤트로 덮어쓰지 않는다
	if domain.IsTerminalFailure(order.Status) {
		h.logger.Info("stale success event ignored for failed order",
			zap.String("orderId", evt.OrderID),
			zap.String("status", string(order.Status)))
		return nil
	}
	if order.Status == domain.OrderStatusPaymentCompleted {
		return nil
	}

	_, err = h.orderService.UpdatePaymentInfo(ctx, evt.OrderID, evt.PaymentID, evt.Status,
		domain.OrderStatusPaymentCompleted)
	return err
}

func (h *EventHandler) handlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error {
	order, ok, err := h.lookup(ctx, evt.OrderID)
	if err != nil || !ok {
		return err
	}
	if domain.IsTerminal(order.Status) || order.Status == domain.OrderStatusPaymentFailed {
		return nil
	}

	_, err = h.orderService.UpdatePaymentInfo(ctx, evt.OrderID, evt.PaymentID, "FAILED",
		domain.OrderStatusPaymentFailed)
	return err
}

func (h *EventHandler) applyStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	order, ok, err := h.lookup(ctx, orderID)
	if err != nil || !ok {
		return err
	}

	if !domain.IsTerminalFailure(status) && domain.IsTerminalFailure(order.Status) {
		h.logger.Info("stale success event ignored for failed order",
			zap.String("orderId", orderID),
			zap.String("status", string(order.Status)))
		return nil
	}
	if order.Status == status {
		return nil
	}

	_, err = h.orderService.UpdateOrderStatus(ctx, orderID, status)
	return err
}

// lookup 주문 조회. 알 수 없는 주문 이벤트는 로그만 남기고 버린다.
func (h *EventHandler) lookup(ctx context.Context, orderID string) (*domain.Order, bool, error) {
	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeOrderNotFound) {
			h.logger.Warn("event for unknown order dropped",
				zap.String("orderId", orderID))
			return nil, false, nil
		}
		return nil, false, err
	}
	return order, true, nil
}
