package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

func validItems() []OrderItem {
	return []OrderItem{
		{ProductID: "prod-1", ProductName: "Keyboard", Quantity: 2, UnitPrice: 5000},
		{ProductID: "prod-2", ProductName: "Mouse", Quantity: 1, UnitPrice: 3000},
	}
}

func TestNewOrder(t *testing.T) {
	order, err := NewOrder("customer-1", validItems())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "customer-1", order.CustomerID)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD-"))

	// 2*5000 + 1*3000
	assert.Equal(t, int64(13000), order.Subtotal)
	assert.Equal(t, int64(13000), order.TotalAmount)

	for _, item := range order.Items {
		assert.NotEmpty(t, item.ID)
	}
}

func TestNewOrderValidation(t *testing.T) {
	tests := []struct {
		name       string
		customerID string
		items      []OrderItem
	}{
		{"empty customer", "", validItems()},
		{"no items", "customer-1", nil},
		{"zero quantity", "customer-1", []OrderItem{{ProductID: "p", Quantity: 0, UnitPrice: 100}}},
		{"negative quantity", "customer-1", []OrderItem{{ProductID: "p", Quantity: -1, UnitPrice: 100}}},
		{"zero price", "customer-1", []OrderItem{{ProductID: "p", Quantity: 1, UnitPrice: 0}}},
		{"missing product id", "customer-1", []OrderItem{{Quantity: 1, UnitPrice: 100}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.customerID, tt.items)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
		})
	}
}

func TestCalculateTotals(t *testing.T) {
	order, err := NewOrder("customer-1", []OrderItem{
		{ProductID: "p1", Quantity: 3, UnitPrice: 1000, DiscountAmount: 500, TaxAmount: 250},
	})
	require.NoError(t, err)

	// 3*1000 - 500 + 250 = 2750
	assert.Equal(t, int64(2750), order.Items[0].TotalPrice)
	assert.Equal(t, int64(2750), order.Subtotal)

	order.ShippingAmount = 300
	order.DiscountAmount = 100
	order.TaxAmount = 50
	order.CalculateTotals()
	assert.Equal(t, int64(2750+50+300-100), order.TotalAmount)
}

func TestGenerateOrderNumber(t *testing.T) {
	n1 := GenerateOrderNumber()
	n2 := GenerateOrderNumber()

	assert.True(t, strings.HasPrefix(n1, "ORD-"))
	assert.NotEqual(t, n1, n2)

	parts := strings.Split(n1, "-")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 8)
	assert.Equal(t, strings.ToUpper(parts[2]), parts[2])
}
