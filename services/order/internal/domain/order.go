package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

// OrderItem 주문 항목
type OrderItem struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	ProductName    string `json:"productName,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unitPrice"`
	DiscountAmount int64  `json:"discountAmount"`
	TaxAmount      int64  `json:"taxAmount"`
	TotalPrice     int64  `json:"totalPrice"`
}

// CalculateTotalPrice 항목 합계 계산
func (i *OrderItem) CalculateTotalPrice() {
	i.TotalPrice = i.UnitPrice*int64(i.Quantity) - i.DiscountAmount + i.TaxAmount
}

// Order 주문 도메인 모델 (Aggregate Root)
type Order struct {
	ID             string      `json:"id"`
	OrderNumber    string      `json:"orderNumber"`
	CustomerID     string      `json:"customerId"`
	CustomerEmail  string      `json:"customerEmail,omitempty"`
	Items          []OrderItem `json:"items"`
	Subtotal       int64       `json:"subtotal"`
	TaxAmount      int64       `json:"taxAmount"`
	ShippingAmount int64       `json:"shippingAmount"`
	DiscountAmount int64       `json:"discountAmount"`
	TotalAmount    int64       `json:"totalAmount"`
	Status         OrderStatus `json:"status"`
	PaymentID      string      `json:"paymentId,omitempty"`
	PaymentStatus  string      `json:"paymentStatus,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	ShippedAt      *time.Time  `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time  `json:"deliveredAt,omitempty"`
	CancelledAt    *time.Time  `json:"cancelledAt,omitempty"`
}

// NewOrder 주문 생성 (ID, 주문번호 발급 및 합계 계산)
func NewOrder(customerID string, items []OrderItem) (*Order, error) {
	now := time.Now()
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
	}
	order := &Order{
		ID:          uuid.New().String(),
		OrderNumber: GenerateOrderNumber(),
		CustomerID:  customerID,
		Items:       items,
		Status:      OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}

	order.CalculateTotals()
	return order, nil
}

// Validate 주문 입력 검증 (원격 호출 전에 수행)
func (o *Order) Validate() error {
	if o.CustomerID == "" {
		return errors.New(errors.ErrCodeValidation, "customer id is required")
	}
	if len(o.Items) == 0 {
		return errors.New(errors.ErrCodeValidation, "order must contain at least one item")
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			return errors.New(errors.ErrCodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return errors.New(errors.ErrCodeValidation,
				fmt.Sprintf("quantity must be positive for product %s", item.ProductID))
		}
		if item.UnitPrice <= 0 {
			return errors.New(errors.ErrCodeValidation,
				fmt.Sprintf("unit price must be positive for product %s", item.ProductID))
		}
	}
	return nil
}

// CalculateTotals 합계 재계산 (항목/조정액 변경 시마다 호출, 직접 설정 불가)
func (o *Order) CalculateTotals() {
	var subtotal int64
	for i := range o.Items {
		o.Items[i].CalculateTotalPrice()
		subtotal += o.Items[i].TotalPrice
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal + o.TaxAmount + o.ShippingAmount - o.DiscountAmount
}

// GenerateOrderNumber 주문번호 생성 (타임스탬프 + 랜덤 접미사로 충돌 방지)
func GenerateOrderNumber() string {
	timestamp := time.Now().UnixMilli()
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("ORD-%d-%s", timestamp, suffix)
}
