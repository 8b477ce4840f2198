package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/common/events"
	"github.com/kyungseok/ecommerce-saga-go/common/logger"
	"github.com/kyungseok/ecommerce-saga-go/common/messaging"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/service"
)

// fakeOrderStore 이벤트 핸들러 테스트용 in-memory OrderService
type fakeOrderStore struct {
	orders map[string]*domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*domain.Order)}
}

func (f *fakeOrderStore) add(t *testing.T, status domain.OrderStatus) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder("customer-1", []domain.OrderItem{
		{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000},
	})
	require.NoError(t, err)
	order.Status = status
	f.orders[order.ID] = order
	return order
}

func (f *fakeOrderStore) CreateOrderWithSaga(ctx context.Context, cmd service.CreateOrderCommand) (*domain.Order, *domain.OrderSaga, error) {
	return nil, nil, errors.New(errors.ErrCodeUnknownError, "not implemented")
}

func (f *fakeOrderStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New(errors.ErrCodeOrderNotFound, fmt.Sprintf("order not found: %s", orderID))
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return nil, errors.New(errors.ErrCodeOrderNotFound, "order not found")
}

func (f *fakeOrderStore) GetSaga(ctx context.Context, orderID string) (*domain.OrderSaga, error) {
	return nil, errors.New(errors.ErrCodeOrderNotFound, "saga not found")
}

func (f *fakeOrderStore) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ListOrdersByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, order := range f.orders {
		if order.CustomerID == customerID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New(errors.ErrCodeOrderNotFound, "order not found")
	}
	if err := order.TransitionTo(status); err != nil {
		return nil, err
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderStore) UpdatePaymentInfo(ctx context.Context, orderID, paymentID, paymentStatus string, target domain.OrderStatus) (*domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New(errors.ErrCodeOrderNotFound, "order not found")
	}
	if err := order.TransitionTo(target); err != nil {
		return nil, err
	}
	order.PaymentID = paymentID
	order.PaymentStatus = paymentStatus
	copied := *order
	return &copied, nil
}

func (f *fakeOrderStore) MarkCancelled(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return f.UpdateOrderStatus(ctx, orderID, domain.OrderStatusCancelled)
}

func (f *fakeOrderStore) SaveSaga(ctx context.Context, saga *domain.OrderSaga) error { return nil }

func (f *fakeOrderStore) FindStaleOrders(ctx context.Context, statuses []domain.OrderStatus, olderThan time.Time) ([]*domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) EnqueueOrderCreated(ctx context.Context, order *domain.Order) error {
	return nil
}

// fakeIdemStore in-memory 멱등성 저장소
type fakeIdemStore struct {
	keys map[string]bool
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{keys: make(map[string]bool)}
}

func (f *fakeIdemStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeIdemStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

func (f *fakeIdemStore) Release(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func paymentCompletedMessage(t *testing.T, orderID, eventID string) *messaging.Message {
	t.Helper()
	evt := events.PaymentCompletedEvent{
		BaseEvent: events.NewBase(eventID, events.EventPaymentCompleted, orderID, time.Now()),
		OrderID:   orderID,
		PaymentID: "pay-1",
		Amount:    1000,
		Status:    "COMPLETED",
	}
	value, err := json.Marshal(evt)
	require.NoError(t, err)
	return &messaging.Message{Topic: string(events.EventPaymentCompleted), Value: value}
}

func newTestEventHandler() (*EventHandler, *fakeOrderStore, *fakeIdemStore) {
	store := newFakeOrderStore()
	idem := newFakeIdemStore()
	return NewEventHandler(store, idem, logger.NewTestLogger()), store, idem
}

func TestHandlePaymentCompleted(t *testing.T) {
	h, store, _ := newTestEventHandler()
	order := store.add(t, domain.OrderStatusPaymentProcessing)

	msg := paymentCompletedMessage(t, order.ID, uuid.New().String())
	require.NoError(t, h.Handle(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusPaymentCompleted, store.orders[order.ID].Status)
	assert.Equal(t, "pay-1", store.orders[order.ID].PaymentID)
}

func TestHandleDuplicateEventSkipped(t *testing.T) {
	h, store, _ := newTestEventHandler()
	order := store.add(t, domain.OrderStatusPaymentProcessing)

	eventID := uuid.New().String()
	require.NoError(t, h.Handle(context.Background(), paymentCompletedMessage(t, order.ID, eventID)))
	require.Equal(t, domain.OrderStatusPaymentCompleted, store.orders[order.ID].Status)

	// 같은 eventId 재전달: 상태 변화 없음
	store.orders[order.ID].Status = domain.OrderStatusPaymentProcessing
	require.NoError(t, h.Handle(context.Background(), paymentCompletedMessage(t, order.ID, eventID)))
	assert.Equal(t, domain.OrderStatusPaymentProcessing, store.orders[order.ID].Status)
}

func TestStaleSuccessEventNeverOverwritesFailure(t *testing.T) {
	tests := []struct {
		name   string
		status domain.OrderStatus
	}{
		{"payment failed", domain.OrderStatusPaymentFailed},
		{"inventory failed", domain.OrderStatusInventoryFailed},
		{"cancelled", domain.OrderStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store, _ := newTestEventHandler()
			order := store.add(t, tt.status)

			msg := paymentCompletedMessage(t, order.ID, uuid.New().String())
			require.NoError(t, h.Handle(context.Background(), msg))

			// 실패 상태는 늦게 도착한 성공 이벤트로 덮어쓰이지 않는다
			assert.Equal(t, tt.status, store.orders[order.ID].Status)
		})
	}
}

func TestLateFailureEventDominatesSuccessState(t *testing.T) {
	t.Run("inventory failed after reservation applied", func(t *testing.T) {
		h, store, _ := newTestEventHandler()
		order := store.add(t, domain.OrderStatusInventoryReserved)

		evt := events.InventoryFailedEvent{
			BaseEvent: events.NewBase(uuid.New().String(), events.EventInventoryFailed, order.ID, time.Now()),
			OrderID:   order.ID,
			ProductID: "prod-1",
			Reason:    "stock reconciliation shortfall",
		}
		value, err := json.Marshal(evt)
		require.NoError(t, err)

		msg := &messaging.Message{Topic: string(events.EventInventoryFailed), Value: value}
		require.NoError(t, h.Handle(context.Background(), msg))
		assert.Equal(t, domain.OrderStatusInventoryFailed, store.orders[order.ID].Status)
	})

	t.Run("payment failed after payment completed applied", func(t *testing.T) {
		h, store, _ := newTestEventHandler()
		order := store.add(t, domain.OrderStatusPaymentCompleted)

		evt := events.PaymentFailedEvent{
			BaseEvent: events.NewBase(uuid.New().String(), events.EventPaymentFailed, order.ID, time.Now()),
			OrderID:   order.ID,
			PaymentID: "pay-1",
			Reason:    "chargeback",
		}
		value, err := json.Marshal(evt)
		require.NoError(t, err)

		msg := &messaging.Message{Topic: string(events.EventPaymentFailed), Value: value}
		require.NoError(t, h.Handle(context.Background(), msg))
		assert.Equal(t, domain.OrderStatusPaymentFailed, store.orders[order.ID].Status)
	})

	t.Run("payment failed on pending order", func(t *testing.T) {
		h, store, _ := newTestEventHandler()
		order := store.add(t, domain.OrderStatusPending)

		evt := events.PaymentFailedEvent{
			BaseEvent: events.NewBase(uuid.New().String(), events.EventPaymentFailed, order.ID, time.Now()),
			OrderID:   order.ID,
			PaymentID: "pay-1",
			Reason:    "declined",
		}
		value, err := json.Marshal(evt)
		require.NoError(t, err)

		msg := &messaging.Message{Topic: string(events.EventPaymentFailed), Value: value}
		require.NoError(t, h.Handle(context.Background(), msg))
		assert.Equal(t, domain.OrderStatusPaymentFailed, store.orders[order.ID].Status)
	})
}

func TestHandleInventoryReserved(t *testing.T) {
	h, store, _ := newTestEventHandler()
	order := store.add(t, domain.OrderStatusPending)

	evt := events.InventoryReservedEvent{
		BaseEvent: events.NewBase(uuid.New().String(), events.EventInventoryReserved, order.ID, time.Now()),
		OrderID:   order.ID,
		ProductID: "prod-1",
		Quantity:  1,
	}
	value, err := json.Marshal(evt)
	require.NoError(t, err)

	msg := &messaging.Message{Topic: string(events.EventInventoryReserved), Value: value}
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, domain.OrderStatusInventoryReserved, store.orders[order.ID].Status)
}

func TestHandleShipmentCreated(t *testing.T) {
	h, store, _ := newTestEventHandler()
	order := store.add(t, domain.OrderStatusProcessing)

	evt := events.ShipmentCreatedEvent{
		BaseEvent:      events.NewBase(uuid.New().String(), events.EventShipmentCreated, order.ID, time.Now()),
		OrderID:        order.ID,
		TrackingNumber: "TRK-1",
	}
	value, err := json.Marshal(evt)
	require.NoError(t, err)

	msg := &messaging.Message{Topic: string(events.EventShipmentCreated), Value: value}
	require.NoError(t, h.Handle(context.Background(), msg))

	stored := store.orders[order.ID]
	assert.Equal(t, domain.OrderStatusShipped, stored.Status)
	assert.NotNil(t, stored.ShippedAt)
}

func TestHandleUnknownOrderDropped(t *testing.T) {
	h, _, idem := newTestEventHandler()

	msg := paymentCompletedMessage(t, uuid.New().String(), "evt-unknown")
	// 알 수 없는 주문은 에러 없이 버려진다 (offset 커밋)
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.True(t, idem.keys["evt-unknown"])
}

func TestHandleMalformedMessageDropped(t *testing.T) {
	h, _, _ := newTestEventHandler()

	msg := &messaging.Message{Topic: string(events.EventPaymentCompleted), Value: []byte("not-json")}
	require.NoError(t, h.Handle(context.Background(), msg))
}

func TestInvalidTransitionEventDropped(t *testing.T) {
	h, store, idem := newTestEventHandler()
	order := store.add(t, domain.OrderStatusDelivered)

	evt := events.InventoryReservedEvent{
		BaseEvent: events.NewBase(uuid.New().String(), events.EventInventoryReserved, order.ID, time.Now()),
		OrderID:   order.ID,
	}
	value, err := json.Marshal(evt)
	require.NoError(t, err)

	msg := &messaging.Message{Topic: string(events.EventInventoryReserved), Value: value}
	require.NoError(t, h.Handle(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusDelivered, store.orders[order.ID].Status)
	// 비즈니스 에러는 소비 완료로 처리되어 키가 유지된다
	assert.True(t, idem.keys[evt.EventID])
}
