package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/saga"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/service"
)

// 프로세스 크래시 등으로 중간 상태에 남을 수 있는 주문 상태 목록
var staleStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusInventoryReserved,
	domain.OrderStatusPaymentProcessing,
	domain.OrderStatusPaymentCompleted,
	domain.OrderStatusPaymentFailed,
	domain.OrderStatusInventoryFailed,
}

// Sweeper 미완료 주문 정리 워커.
// 임계 시간을 초과해 중간 상태에 머문 주문을 찾아 강제 보상한다.
type Sweeper struct {
	orderService service.OrderService
	coordinator  saga.Coordinator
	logger       *zap.Logger
	interval     time.Duration
	staleAfter   time.Duration
}

// NewSweeper Sweeper 생성
func NewSweeper(
	orderService service.OrderService,
	coordinator saga.Coordinator,
	logger *zap.Logger,
	interval time.Duration,
	staleAfter time.Duration,
) *Sweeper {
	return &Sweeper{
		orderService: orderService,
		coordinator:  coordinator,
		logger:       logger,
		interval:     interval,
		staleAfter:   staleAfter,
	}
}

// Start 워커 시작 (ctx 취소 시 종료)
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("staleAfter", s.staleAfter))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.staleAfter)
	orders, err := s.orderService.FindStaleOrders(ctx, staleStatuses, cutoff)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	s.logger.Warn("stale orders found", zap.Int("count", len(orders)))

	for _, order := range orders {
		reason := fmt.Sprintf("order stuck in %s for more than %s", order.Status, s.staleAfter)
		if err := s.coordinator.Compensate(ctx, order.ID, reason); err != nil {
			s.logger.Error("failed to compensate stale order",
				zap.String("orderId", order.ID),
				zap.String("status", string(order.Status)),
				zap.Error(err))
		}
	}

	return nil
}
