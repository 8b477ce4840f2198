package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

// Payment 결제 서비스가 반환하는 결제 정보
type Payment struct {
	ID            string `json:"id"`
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failureReason,omitempty"`
}

// 결제 상태 값 (결제 서비스 계약)
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// CreatePaymentRequest 결제 생성 요청 (orderId가 멱등성 키)
type CreatePaymentRequest struct {
	OrderID       string            `json:"orderId"`
	CustomerID    string            `json:"customerId"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"paymentMethod"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PaymentClient 결제 서비스 클라이언트 (capability 인터페이스, 전송 방식 비종속)
type PaymentClient interface {
	Create(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	Process(ctx context.Context, paymentID string) (*Payment, error)
	Refund(ctx context.Context, paymentID string, amount int64) (*Payment, error)
}

// HTTPPaymentClient HTTP 기반 결제 서비스 클라이언트
type HTTPPaymentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPaymentClient 결제 클라이언트 생성 (타임아웃 필수)
func NewHTTPPaymentClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Create 결제 생성 (동일 orderId에 대한 중복 생성은 409로 거부됨)
func (c *HTTPPaymentClient) Create(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	return c.post(ctx, "/payments", req, http.StatusCreated)
}

// Process 결제 실행
func (c *HTTPPaymentClient) Process(ctx context.Context, paymentID string) (*Payment, error) {
	return c.post(ctx, fmt.Sprintf("/payments/%s/process", paymentID), nil, http.StatusOK)
}

// Refund 결제 환불 (보상 트랜잭션)
func (c *HTTPPaymentClient) Refund(ctx context.Context, paymentID string, amount int64) (*Payment, error) {
	body := map[string]int64{"amount": amount}
	return c.post(ctx, fmt.Sprintf("/payments/%s/refund", paymentID), body, http.StatusOK)
}

func (c *HTTPPaymentClient) post(ctx context.Context, path string, body interface{}, wantStatus int) (*Payment, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal payment request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRemoteService, "failed to build payment request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 타임아웃도 명시적 실패로 처리 (성공으로 간주하거나 mock 대체 금지)
		if isTimeout(err) {
			return nil, errors.Wrap(errors.ErrCodeTimeoutError, "payment service timed out", err)
		}
		return nil, errors.Wrap(errors.ErrCodeRemoteService, "payment service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == wantStatus:
		var payment Payment
		if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
			return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to decode payment response", err)
		}
		return &payment, nil
	case resp.StatusCode == http.StatusConflict:
		// 동일 주문에 대한 결제가 이미 진행중/완료됨 (중복 결제 방지)
		return nil, errors.New(errors.ErrCodeConflict, "payment already exists for order")
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(errors.ErrCodePaymentNotFound, "payment not found")
	default:
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("payment request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)))
		return nil, errors.New(errors.ErrCodeRemoteService,
			fmt.Sprintf("payment service returned status %d", resp.StatusCode))
	}
}
