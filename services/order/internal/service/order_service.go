package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/common/events"
	"github.com/kyungseok/ecommerce-saga-go/common/retry"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/repository"
)

// CreateOrderCommand 주문 생성 커맨드
type CreateOrderCommand struct {
	CustomerID     string
	CustomerEmail  string
	Items          []domain.OrderItem
	ShippingAmount int64
	DiscountAmount int64
	Notes          string
}

// OrderService 주문 서비스 인터페이스
// 주문 행(row) 변경은 전부 이 서비스를 경유한다 (단일 작성자 규율)
type OrderService interface {
	// CreateOrderWithSaga 주문과 Saga 기록을 하나의 트랜잭션으로 생성
	CreateOrderWithSaga(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, *domain.OrderSaga, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	GetSaga(ctx context.Context, orderID string) (*domain.OrderSaga, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, error)
	// UpdateOrderStatus 상태 전이 (Optimistic Lock 충돌 시 재조회 후 재시도)
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
	// UpdatePaymentInfo 결제 결과 반영 및 상태 전이
	UpdatePaymentInfo(ctx context.Context, orderID, paymentID, paymentStatus string, target domain.OrderStatus) (*domain.Order, error)
	// MarkCancelled 주문 취소 상태 전이 + order-cancelled 이벤트 Outbox 기록
	MarkCancelled(ctx context.Context, orderID, reason string) (*domain.Order, error)
	SaveSaga(ctx context.Context, saga *domain.OrderSaga) error
	FindStaleOrders(ctx context.Context, statuses []domain.OrderStatus, olderThan time.Time) ([]*domain.Order, error)
	EnqueueOrderCreated(ctx context.Context, order *domain.Order) error
}

type orderService struct {
	db         *sql.DB
	orderRepo  repository.OrderRepository
	sagaRepo   repository.SagaRepository
	outboxRepo repository.OutboxRepository
	logger     *zap.Logger
}

// NewOrderService 주문 서비스 생성
func NewOrderService(
	db *sql.DB,
	orderRepo repository.OrderRepository,
	sagaRepo repository.SagaRepository,
	outboxRepo repository.OutboxRepository,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		db:         db,
		orderRepo:  orderRepo,
		sagaRepo:   sagaRepo,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// CreateOrderWithSaga 주문 생성
func (s *orderService) CreateOrderWithSaga(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, *domain.OrderSaga, error) {
	order, err := domain.NewOrder(cmd.CustomerID, cmd.Items)
	if err != nil {
		return nil, nil, err
	}
	order.CustomerEmail = cmd.CustomerEmail
	order.ShippingAmount = cmd.ShippingAmount
	order.DiscountAmount = cmd.DiscountAmount
	order.Notes = cmd.Notes
	order.CalculateTotals()

	saga := domain.NewOrderSaga(order.ID)
	saga.MarkOrderCreated()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.orderRepo.CreateTx(ctx, tx, order); err != nil {
		return nil, nil, err
	}
	if err := s.sagaRepo.InsertTx(ctx, tx, saga); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit transaction", err)
	}

	s.logger.Info("order created",
		zap.String("orderId", order.ID),
		zap.String("orderNumber", order.OrderNumber),
		zap.String("customerId", order.CustomerID),
		zap.Int64("totalAmount", order.TotalAmount))

	return order, saga, nil
}

// GetOrder 주문 조회
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orderRepo.FindByID(ctx, orderID)
}

// GetOrderByNumber 주문번호로 조회
func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.orderRepo.FindByOrderNumber(ctx, orderNumber)
}

// GetSaga Saga 기록 조회
func (s *orderService) GetSaga(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	return s.sagaRepo.FindByOrderID(ctx, orderID)
}

// ListOrdersByStatus 상태별 주문 목록
func (s *orderService) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	if !domain.ValidStatus(status) {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("invalid order status: %s", status))
	}
	return s.orderRepo.FindByStatus(ctx, status)
}

// ListOrdersByCustomer 고객별 주문 목록
func (s *orderService) ListOrdersByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.orderRepo.FindByCustomerID(ctx, customerID, limit, offset)
}

// UpdateOrderStatus 상태 전이
func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	if !domain.ValidStatus(status) {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("invalid order status: %s", status))
	}
	return s.mutateOrder(ctx, orderID, func(order *domain.Order) error {
		return order.TransitionTo(status)
	})
}

// UpdatePaymentInfo 결제 결과 반영
func (s *orderService) UpdatePaymentInfo(ctx context.Context, orderID, paymentID, paymentStatus string, target domain.OrderStatus) (*domain.Order, error) {
	return s.mutateOrder(ctx, orderID, func(order *domain.Order) error {
		if err := order.TransitionTo(target); err != nil {
			return err
		}
		order.PaymentID = paymentID
		order.PaymentStatus = paymentStatus
		return nil
	})
}

// MarkCancelled 주문 취소 (취소 사유 기록 + order-cancelled 이벤트 발행 예약)
// MarkCancelled 주문 취소 확정. 상태 변경과 order-cancelled Outbox 기록을
// 한 트랜잭션으로 커밋한다 (취소됐는데 이벤트가 없는 상태를 만들지 않는다).
func (s *orderService) MarkCancelled(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	var order *domain.Order

	err := retry.DoRetryable(ctx, retry.ConflictConfig(), s.logger, func() error {
		fresh, err := s.orderRepo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fresh.TransitionTo(domain.OrderStatusCancelled); err != nil {
			return err
		}
		if reason != "" {
			fresh.Notes = reason
		}

		event, err := s.orderCancelledOutboxEvent(fresh, reason)
		if err != nil {
			return err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
		}
		defer tx.Rollback()

		updated, err := s.orderRepo.UpdateWithVersionTx(ctx, tx, fresh)
		if err != nil {
			return err
		}
		if !updated {
			return errors.New(errors.ErrCodeVersionConflict, "order was modified concurrently")
		}
		if err := s.outboxRepo.InsertTx(ctx, tx, event); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit transaction", err)
		}

		order = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled",
		zap.String("orderId", order.ID),
		zap.String("reason", reason))
	return order, nil
}

// SaveSaga Saga 스냅샷 저장
func (s *orderService) SaveSaga(ctx context.Context, saga *domain.OrderSaga) error {
	return s.sagaRepo.Save(ctx, saga)
}

// FindStaleOrders 임계 시간을 초과한 비최종 상태 주문 조회
func (s *orderService) FindStaleOrders(ctx context.Context, statuses []domain.OrderStatus, olderThan time.Time) ([]*domain.Order, error) {
	return s.orderRepo.FindStaleByStatuses(ctx, statuses, olderThan)
}

// mutateOrder 조회 → 변경 → 버전 검사 업데이트.
// 버전 충돌 시 최신 상태를 다시 읽어 변경을 재적용한다.
// 비즈니스 에러(잘못된 전이 등)는 재시도하지 않고 즉시 반환한다.
func (s *orderService) mutateOrder(ctx context.Context, orderID string, mutate func(*domain.Order) error) (*domain.Order, error) {
	var order *domain.Order

	err := retry.DoRetryable(ctx, retry.ConflictConfig(), s.logger, func() error {
		fresh, err := s.orderRepo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := mutate(fresh); err != nil {
			return err
		}

		updated, err := s.orderRepo.UpdateWithVersion(ctx, fresh)
		if err != nil {
			return err
		}
		if !updated {
			return errors.New(errors.ErrCodeVersionConflict,
				fmt.Sprintf("version conflict updating order %s", orderID))
		}

		order = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order updated",
		zap.String("orderId", order.ID),
		zap.String("status", string(order.Status)),
		zap.Int64("version", order.Version))
	return order, nil
}

// EnqueueOrderCreated 주문 확정 이벤트를 Outbox에 기록 (Saga 완료 후 호출)
func (s *orderService) EnqueueOrderCreated(ctx context.Context, order *domain.Order) error {
	event := events.OrderCreatedEvent{
		BaseEvent:   events.NewBase(uuid.New().String(), events.EventOrderCreated, order.ID, time.Now()),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		Status:      string(order.Status),
		ItemCount:   len(order.Items),
	}
	return s.enqueueEvent(ctx, order.ID, events.EventOrderCreated, event)
}

func (s *orderService) orderCancelledOutboxEvent(order *domain.Order, reason string) (*repository.OutboxEvent, error) {
	event := events.OrderCancelledEvent{
		BaseEvent:   events.NewBase(uuid.New().String(), events.EventOrderCancelled, order.ID, time.Now()),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Reason:      reason,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	return &repository.OutboxEvent{
		AggregateType: "ORDER",
		AggregateID:   order.ID,
		EventType:     string(events.EventOrderCancelled),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     time.Now(),
	}, nil
}

func (s *orderService) enqueueEvent(ctx context.Context, orderID string, eventType events.EventType, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	return s.outboxRepo.Insert(ctx, &repository.OutboxEvent{
		AggregateType: "ORDER",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     time.Now(),
	})
}
