package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/common/logger"
)

func TestPaymentCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments", r.URL.Path)

		var req CreatePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order-1", req.OrderID)
		assert.Equal(t, int64(13000), req.Amount)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Payment{
			ID:      "pay-1",
			OrderID: req.OrderID,
			Status:  PaymentStatusPending,
			Amount:  req.Amount,
		})
	}))
	defer server.Close()

	c := NewHTTPPaymentClient(server.URL, time.Second, logger.NewTestLogger())
	payment, err := c.Create(context.Background(), CreatePaymentRequest{
		OrderID:    "order-1",
		CustomerID: "customer-1",
		Amount:     13000,
		Currency:   "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, PaymentStatusPending, payment.Status)
}

func TestPaymentCreateConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	c := NewHTTPPaymentClient(server.URL, time.Second, logger.NewTestLogger())
	_, err := c.Create(context.Background(), CreatePaymentRequest{OrderID: "order-1"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.True(t, errors.IsBusinessError(err))
}

func TestPaymentProcess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/pay-1/process", r.URL.Path)
		json.NewEncoder(w).Encode(Payment{ID: "pay-1", Status: PaymentStatusCompleted})
	}))
	defer server.Close()

	c := NewHTTPPaymentClient(server.URL, time.Second, logger.NewTestLogger())
	payment, err := c.Process(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusCompleted, payment.Status)
}

func TestPaymentProcessNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewHTTPPaymentClient(server.URL, time.Second, logger.NewTestLogger())
	_, err := c.Process(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePaymentNotFound, errors.CodeOf(err))
}

func TestPaymentRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/pay-1/refund", r.URL.Path)

		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(13000), body["amount"])

		json.NewEncoder(w).Encode(Payment{ID: "pay-1", Status: PaymentStatusRefunded})
	}))
	defer server.Close()

	c := NewHTTPPaymentClient(server.URL, time.Second, logger.NewTestLogger())
	payment, err := c.Refund(context.Background(), "pay-1", 13000)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusRefunded, payment.Status)
}

func TestPaymentTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewHTTPPaymentClient(server.URL, 20*time.Millisecond, logger.NewTestLogger())
	_, err := c.Process(context.Background(), "pay-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeoutError, errors.CodeOf(err))
}
