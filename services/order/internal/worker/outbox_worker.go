package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/messaging"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/repository"
)

// OutboxWorker Outbox 릴레이 워커.
// PENDING 상태의 이벤트를 주기적으로 Kafka로 발행한다.
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	logger     *zap.Logger
	interval   time.Duration
}

// NewOutboxWorker Outbox 워커 생성
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	logger *zap.Logger,
	interval time.Duration,
) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
	}
}

// Start 워커 시작 (ctx 취소 시 종료)
func (w *OutboxWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.process(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

func (w *OutboxWorker) process(ctx context.Context) error {
	events, err := w.outboxRepo.FindPending(ctx, 100)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	w.logger.Info("processing outbox events", zap.Int("count", len(events)))

	for _, event := range events {
		if err := w.publishEvent(ctx, event); err != nil {
			w.logger.Error("failed to publish event",
				zap.Int64("outboxId", event.ID),
				zap.String("eventType", event.EventType),
				zap.Error(err))
			continue
		}

		if err := w.outboxRepo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("outboxId", event.ID),
				zap.Error(err))
		}
	}

	return nil
}

func (w *OutboxWorker) publishEvent(ctx context.Context, event *repository.OutboxEvent) error {
	// 주문 ID를 파티션 키로 사용해 주문 단위 순서를 보장한다
	return messaging.PublishWithOrderID(ctx, w.publisher, event.EventType, event.AggregateID,
		json.RawMessage(event.Payload))
}
