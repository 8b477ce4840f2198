package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/ecommerce-saga-go/common/auth"
	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/common/logger"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/service"
)

// fakeCoordinator 호출 기록용 Saga 코디네이터
type fakeCoordinator struct {
	store      *fakeOrderStore
	processErr error
}

func (f *fakeCoordinator) ProcessOrder(ctx context.Context, cmd service.CreateOrderCommand) (*domain.Order, error) {
	order, err := domain.NewOrder(cmd.CustomerID, cmd.Items)
	if err != nil {
		return nil, err
	}
	if f.processErr != nil {
		order.Status = domain.OrderStatusCancelled
		f.store.orders[order.ID] = order
		return order, f.processErr
	}
	order.Status = domain.OrderStatusProcessing
	f.store.orders[order.ID] = order
	return order, nil
}

func (f *fakeCoordinator) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return f.store.MarkCancelled(ctx, orderID, reason)
}

func (f *fakeCoordinator) Compensate(ctx context.Context, orderID, reason string) error {
	return nil
}

func newTestHTTPHandler() (*http.ServeMux, *fakeOrderStore, *fakeCoordinator) {
	store := newFakeOrderStore()
	coord := &fakeCoordinator{store: store}
	h := NewHTTPHandler(store, coord, logger.NewTestLogger())

	mux := http.NewServeMux()
	h.Register(mux)
	return mux, store, coord
}

func doRequest(mux *http.ServeMux, method, path, userID, role string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
		req.Header.Set(auth.HeaderUsername, "tester")
		req.Header.Set(auth.HeaderUserRole, role)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderAPI(t *testing.T) {
	mux, _, _ := newTestHTTPHandler()

	body := `{"items":[{"productId":"prod-1","quantity":2,"unitPrice":5000}]}`
	rec := doRequest(mux, http.MethodPost, "/orders", "customer-1", auth.RoleCustomer, body)

	require.Equal(t, http.StatusCreated, rec.Code)

	var order domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "customer-1", order.CustomerID)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
}

func TestCreateOrderRequiresIdentity(t *testing.T) {
	mux, _, _ := newTestHTTPHandler()

	body := `{"items":[{"productId":"prod-1","quantity":1,"unitPrice":100}]}`
	rec := doRequest(mux, http.MethodPost, "/orders", "", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOrderSagaFailureReturnsFinalState(t *testing.T) {
	mux, _, coord := newTestHTTPHandler()
	coord.processErr = errors.New(errors.ErrCodeInsufficientInventory, "insufficient inventory for product prod-1")

	body := `{"items":[{"productId":"prod-1","quantity":1,"unitPrice":100}]}`
	rec := doRequest(mux, http.MethodPost, "/orders", "customer-1", auth.RoleCustomer, body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INSUFFICIENT_INVENTORY", resp.Code)
	require.NotNil(t, resp.Order)
	assert.Equal(t, domain.OrderStatusCancelled, resp.Order.Status)
}

func TestGetOrderOwnership(t *testing.T) {
	mux, store, _ := newTestHTTPHandler()
	order := store.add(t, domain.OrderStatusProcessing)

	// owner can read
	rec := doRequest(mux, http.MethodGet, "/orders/"+order.ID, "customer-1", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// another customer cannot
	rec = doRequest(mux, http.MethodGet, "/orders/"+order.ID, "customer-2", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// manager can
	rec = doRequest(mux, http.MethodGet, "/orders/"+order.ID, "manager-1", auth.RoleManager, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	mux, _, _ := newTestHTTPHandler()

	rec := doRequest(mux, http.MethodGet, "/orders/missing", "customer-1", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateOrderStatusRequiresManager(t *testing.T) {
	mux, store, _ := newTestHTTPHandler()
	order := store.add(t, domain.OrderStatusProcessing)

	body := `{"status":"SHIPPED"}`
	rec := doRequest(mux, http.MethodPut, "/orders/"+order.ID+"/status", "customer-1", auth.RoleCustomer, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(mux, http.MethodPut, "/orders/"+order.ID+"/status", "admin-1", auth.RoleAdmin, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusShipped, store.orders[order.ID].Status)
}

func TestUpdateOrderStatusInvalidTransition(t *testing.T) {
	mux, store, _ := newTestHTTPHandler()
	order := store.add(t, domain.OrderStatusDelivered)

	body := `{"status":"SHIPPED"}`
	rec := doRequest(mux, http.MethodPut, "/orders/"+order.ID+"/status", "admin-1", auth.RoleAdmin, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelOrderAPI(t *testing.T) {
	mux, store, _ := newTestHTTPHandler()
	order := store.add(t, domain.OrderStatusProcessing)

	rec := doRequest(mux, http.MethodPut, "/orders/"+order.ID+"/cancel", "customer-1", auth.RoleCustomer,
		`{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusCancelled, store.orders[order.ID].Status)
}

func TestCancelOrderForbiddenForOtherCustomer(t *testing.T) {
	mux, store, _ := newTestHTTPHandler()
	order := store.add(t, domain.OrderStatusProcessing)

	rec := doRequest(mux, http.MethodPut, "/orders/"+order.ID+"/cancel", "customer-2", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListOrdersByStatusRequiresManager(t *testing.T) {
	mux, _, _ := newTestHTTPHandler()

	rec := doRequest(mux, http.MethodGet, "/orders?status=PROCESSING", "customer-1", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/orders?status=PROCESSING", "manager-1", auth.RoleManager, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListCustomerOrders(t *testing.T) {
	mux, store, _ := newTestHTTPHandler()
	store.add(t, domain.OrderStatusProcessing)

	rec := doRequest(mux, http.MethodGet, "/orders/customer/customer-1", "customer-1", auth.RoleCustomer, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []*domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)
}

func TestListCustomerOrdersForbiddenForOtherCustomer(t *testing.T) {
	mux, _, _ := newTestHTTPHandler()

	rec := doRequest(mux, http.MethodGet, "/orders/customer/customer-1", "customer-2", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(errors.ErrCodeForbidden), resp.Code)

	rec = doRequest(mux, http.MethodGet, "/orders/customer/customer-1", "admin-1", auth.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	mux, _, _ := newTestHTTPHandler()

	rec := doRequest(mux, http.MethodGet, "/health", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
