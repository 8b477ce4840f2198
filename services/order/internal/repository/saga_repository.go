package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
)

// SagaRepository Saga 기록 레포지토리 인터페이스
// Saga 상태는 프로세스 크래시 이후 Sweeper가 복구할 수 있도록 영속화한다.
type SagaRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, saga *domain.OrderSaga) error
	FindByOrderID(ctx context.Context, orderID string) (*domain.OrderSaga, error)
	// Save 현재 스냅샷 저장 + 이벤트 로그 append (이벤트는 (order_id, seq) 기준 멱등)
	Save(ctx context.Context, saga *domain.OrderSaga) error
}

type sagaRepository struct {
	db *sql.DB
}

// NewSagaRepository Saga 레포지토리 생성
func NewSagaRepository(db *sql.DB) SagaRepository {
	return &sagaRepository{db: db}
}

// InsertTx 트랜잭션 내에서 Saga 기록 생성 (주문 생성과 함께 커밋)
func (r *sagaRepository) InsertTx(ctx context.Context, tx *sql.Tx, saga *domain.OrderSaga) error {
	query := `
		INSERT INTO order_sagas (
			order_id, status, order_created, inventory_reserved, payment_completed,
			order_confirmed, inventory_released, payment_refunded, order_cancelled,
			failed_step, failure_reason, started_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		saga.OrderID,
		saga.Status,
		saga.OrderCreated,
		saga.InventoryReserved,
		saga.PaymentCompleted,
		saga.OrderConfirmed,
		saga.InventoryReleased,
		saga.PaymentRefunded,
		saga.OrderCancelled,
		saga.FailedStep,
		saga.FailureReason,
		saga.StartedAt,
		saga.EndedAt,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert saga", err)
	}

	return r.appendEvents(ctx, tx, saga)
}

// FindByOrderID 주문 ID로 Saga 기록 조회 (이벤트 로그 포함)
func (r *sagaRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	query := `
		SELECT order_id, status, order_created, inventory_reserved, payment_completed,
			order_confirmed, inventory_released, payment_refunded, order_cancelled,
			failed_step, failure_reason, started_at, ended_at
		FROM order_sagas
		WHERE order_id = $1
	`

	saga := &domain.OrderSaga{}
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&saga.OrderID,
		&saga.Status,
		&saga.OrderCreated,
		&saga.InventoryReserved,
		&saga.PaymentCompleted,
		&saga.OrderConfirmed,
		&saga.InventoryReleased,
		&saga.PaymentRefunded,
		&saga.OrderCancelled,
		&saga.FailedStep,
		&saga.FailureReason,
		&saga.StartedAt,
		&saga.EndedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeOrderNotFound, fmt.Sprintf("saga not found for order: %s", orderID))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find saga", err)
	}

	eventQuery := `
		SELECT seq, event_type, description, occurred_at
		FROM saga_events
		WHERE order_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, eventQuery, orderID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to load saga events", err)
	}
	defer rows.Close()

	for rows.Next() {
		event := domain.SagaEvent{}
		if err := rows.Scan(&event.Seq, &event.EventType, &event.Description, &event.Timestamp); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to scan saga event", err)
		}
		saga.Events = append(saga.Events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to iterate saga events", err)
	}

	return saga, nil
}

// Save Saga 스냅샷 저장 및 이벤트 로그 append
func (r *sagaRepository) Save(ctx context.Context, saga *domain.OrderSaga) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE order_sagas
		SET status = $1, order_created = $2, inventory_reserved = $3,
			payment_completed = $4, order_confirmed = $5, inventory_released = $6,
			payment_refunded = $7, order_cancelled = $8, failed_step = $9,
			failure_reason = $10, ended_at = $11
		WHERE order_id = $12
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		saga.Status,
		saga.OrderCreated,
		saga.InventoryReserved,
		saga.PaymentCompleted,
		saga.OrderConfirmed,
		saga.InventoryReleased,
		saga.PaymentRefunded,
		saga.OrderCancelled,
		saga.FailedStep,
		saga.FailureReason,
		saga.EndedAt,
		saga.OrderID,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update saga", err)
	}

	if err := r.appendEvents(ctx, tx, saga); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit transaction", err)
	}
	return nil
}

// appendEvents 이벤트 로그 append (이미 저장된 seq는 건너뜀)
func (r *sagaRepository) appendEvents(ctx context.Context, tx *sql.Tx, saga *domain.OrderSaga) error {
	query := `
		INSERT INTO saga_events (order_id, seq, event_type, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, seq) DO NOTHING
	`

	for _, event := range saga.Events {
		_, err := tx.ExecContext(ctx, query, saga.OrderID, event.Seq, event.EventType, event.Description, event.Timestamp)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to append saga event", err)
		}
	}
	return nil
}
