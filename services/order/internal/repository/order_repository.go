package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
)

// OrderRepository 주문 레포지토리 인터페이스
type OrderRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	FindByCustomerID(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, error)
	FindByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	FindStaleByStatuses(ctx context.Context, statuses []domain.OrderStatus, olderThan time.Time) ([]*domain.Order, error)
	// UpdateWithVersion Optimistic Lock 기반 업데이트 (버전 불일치 시 false 반환)
	UpdateWithVersion(ctx context.Context, order *domain.Order) (bool, error)
	// UpdateWithVersionTx 트랜잭션 내 버전 검사 업데이트 (Outbox 삽입과 함께 커밋)
	UpdateWithVersionTx(ctx context.Context, tx *sql.Tx, order *domain.Order) (bool, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository 주문 레포지토리 생성
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `
	id, order_number, customer_id, customer_email, subtotal, tax_amount,
	shipping_amount, discount_amount, total_amount, status, payment_id,
	payment_status, notes, version, created_at, updated_at,
	shipped_at, delivered_at, cancelled_at
`

// CreateTx 트랜잭션 내에서 주문과 항목 생성
func (r *orderRepository) CreateTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, order_number, customer_id, customer_email, subtotal, tax_amount,
			shipping_amount, discount_amount, total_amount, status, payment_id,
			payment_status, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING version
	`

	err := tx.QueryRowContext(
		ctx,
		query,
		order.ID,
		order.OrderNumber,
		order.CustomerID,
		order.CustomerEmail,
		order.Subtotal,
		order.TaxAmount,
		order.ShippingAmount,
		order.DiscountAmount,
		order.TotalAmount,
		order.Status,
		nullString(order.PaymentID),
		nullString(order.PaymentStatus),
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.Version)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Unique constraint violation (order_number 중복)
			return errors.Wrap(errors.ErrCodeConflict, "duplicate order number", err)
		}
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create order", err)
	}

	itemQuery := `
		INSERT INTO order_items (
			id, order_id, product_id, product_name, quantity, unit_price,
			discount_amount, tax_amount, total_price
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, item := range order.Items {
		_, err := tx.ExecContext(
			ctx,
			itemQuery,
			item.ID,
			order.ID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.DiscountAmount,
			item.TaxAmount,
			item.TotalPrice,
		)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create order item", err)
		}
	}

	return nil
}

// FindByID ID로 주문 조회
func (r *orderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)
	order, err := r.scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeOrderNotFound, fmt.Sprintf("order not found: %s", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find order", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// FindByOrderNumber 주문번호로 주문 조회
func (r *orderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE order_number = $1`, orderColumns)
	order, err := r.scanOrder(r.db.QueryRowContext(ctx, query, orderNumber))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeOrderNotFound,
			fmt.Sprintf("order not found with order number: %s", orderNumber))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find order", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// FindByCustomerID 고객 ID로 주문 목록 조회 (최신순)
func (r *orderRepository) FindByCustomerID(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, orderColumns)

	rows, err := r.db.QueryContext(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find orders by customer", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

// FindByStatus 상태로 주문 목록 조회
func (r *orderRepository) FindByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE status = $1
		ORDER BY created_at DESC
	`, orderColumns)

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find orders by status", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

// FindStaleByStatuses 임계 시간을 초과한 비최종 상태 주문 조회 (Sweeper에서 사용)
func (r *orderRepository) FindStaleByStatuses(ctx context.Context, statuses []domain.OrderStatus, olderThan time.Time) ([]*domain.Order, error) {
	statusStrings := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrings[i] = string(s)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
	`, orderColumns)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(statusStrings), olderThan)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find stale orders", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

// UpdateWithVersion Optimistic Lock을 사용한 주문 업데이트
func (r *orderRepository) UpdateWithVersion(ctx context.Context, order *domain.Order) (bool, error) {
	return r.updateWithVersion(ctx, r.db, order)
}

// UpdateWithVersionTx 트랜잭션 내 Optimistic Lock 업데이트
func (r *orderRepository) UpdateWithVersionTx(ctx context.Context, tx *sql.Tx, order *domain.Order) (bool, error) {
	return r.updateWithVersion(ctx, tx, order)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *orderRepository) updateWithVersion(ctx context.Context, db execer, order *domain.Order) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, payment_id = $2, payment_status = $3, notes = $4,
			subtotal = $5, tax_amount = $6, shipping_amount = $7, discount_amount = $8,
			total_amount = $9, shipped_at = $10, delivered_at = $11, cancelled_at = $12,
			version = version + 1, updated_at = NOW()
		WHERE id = $13 AND version = $14
	`

	result, err := db.ExecContext(
		ctx,
		query,
		order.Status,
		nullString(order.PaymentID),
		nullString(order.PaymentStatus),
		order.Notes,
		order.Subtotal,
		order.TaxAmount,
		order.ShippingAmount,
		order.DiscountAmount,
		order.TotalAmount,
		order.ShippedAt,
		order.DeliveredAt,
		order.CancelledAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to update order", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to get rows affected", err)
	}

	if rowsAffected > 0 {
		order.Version++
		return true, nil
	}
	return false, nil
}

func (r *orderRepository) scanOrder(row *sql.Row) (*domain.Order, error) {
	order := &domain.Order{}
	var paymentID, paymentStatus sql.NullString
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerID,
		&order.CustomerEmail,
		&order.Subtotal,
		&order.TaxAmount,
		&order.ShippingAmount,
		&order.DiscountAmount,
		&order.TotalAmount,
		&order.Status,
		&paymentID,
		&paymentStatus,
		&order.Notes,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.ShippedAt,
		&order.DeliveredAt,
		&order.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	order.PaymentID = paymentID.String
	order.PaymentStatus = paymentStatus.String
	return order, nil
}

func (r *orderRepository) collectOrders(ctx context.Context, rows *sql.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		order := &domain.Order{}
		var paymentID, paymentStatus sql.NullString
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.CustomerID,
			&order.CustomerEmail,
			&order.Subtotal,
			&order.TaxAmount,
			&order.ShippingAmount,
			&order.DiscountAmount,
			&order.TotalAmount,
			&order.Status,
			&paymentID,
			&paymentStatus,
			&order.Notes,
			&order.Version,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.ShippedAt,
			&order.DeliveredAt,
			&order.CancelledAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to scan order", err)
		}
		order.PaymentID = paymentID.String
		order.PaymentStatus = paymentStatus.String
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to iterate orders", err)
	}

	for _, order := range orders {
		if err := r.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, order *domain.Order) error {
	query := `
		SELECT id, product_id, product_name, quantity, unit_price,
			discount_amount, tax_amount, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, order.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := domain.OrderItem{}
		err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.DiscountAmount,
			&item.TaxAmount,
			&item.TotalPrice,
		)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to scan order item", err)
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
