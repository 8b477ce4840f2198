package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

// InventoryClient 재고 서비스 클라이언트 (capability 인터페이스, 전송 방식 비종속)
type InventoryClient interface {
	// Reserve 재고 예약 (reserved=false는 재고 부족)
	Reserve(ctx context.Context, productID string, quantity int, orderID string) (bool, error)
	// Release 예약 재고 해제 (보상 트랜잭션)
	Release(ctx context.Context, productID string, quantity int, orderID string) error
	// ConfirmReduction 재고 차감 확정
	ConfirmReduction(ctx context.Context, productID string, quantity int, orderID string) error
}

// inventoryRequest 재고 서비스 요청 본문
type inventoryRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	OrderID   string `json:"orderId,omitempty"`
}

// inventoryResponse 재고 서비스 응답 본문
type inventoryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HTTPInventoryClient HTTP 기반 재고 서비스 클라이언트
type HTTPInventoryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPInventoryClient 재고 클라이언트 생성 (타임아웃 필수)
func NewHTTPInventoryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPInventoryClient {
	return &HTTPInventoryClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Reserve 재고 예약
func (c *HTTPInventoryClient) Reserve(ctx context.Context, productID string, quantity int, orderID string) (bool, error) {
	resp, err := c.post(ctx, "/inventory/reserve", inventoryRequest{
		ProductID: productID,
		Quantity:  quantity,
		OrderID:   orderID,
	})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// Release 예약 재고 해제
func (c *HTTPInventoryClient) Release(ctx context.Context, productID string, quantity int, orderID string) error {
	resp, err := c.post(ctx, "/inventory/release", inventoryRequest{
		ProductID: productID,
		Quantity:  quantity,
		OrderID:   orderID,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(errors.ErrCodeRemoteService,
			fmt.Sprintf("inventory release rejected for product %s: %s", productID, resp.Message))
	}
	return nil
}

// ConfirmReduction 재고 차감 확정
func (c *HTTPInventoryClient) ConfirmReduction(ctx context.Context, productID string, quantity int, orderID string) error {
	resp, err := c.post(ctx, "/inventory/confirm", inventoryRequest{
		ProductID: productID,
		Quantity:  quantity,
		OrderID:   orderID,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(errors.ErrCodeRemoteService,
			fmt.Sprintf("inventory confirm rejected for product %s: %s", productID, resp.Message))
	}
	return nil
}

func (c *HTTPInventoryClient) post(ctx context.Context, path string, body inventoryRequest) (*inventoryResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal inventory request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRemoteService, "failed to build inventory request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 타임아웃도 명시적 실패로 처리 (성공으로 간주하거나 mock 대체 금지)
		if isTimeout(err) {
			return nil, errors.Wrap(errors.ErrCodeTimeoutError, "inventory service timed out", err)
		}
		return nil, errors.Wrap(errors.ErrCodeRemoteService, "inventory service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("inventory request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)))
		return nil, errors.New(errors.ErrCodeRemoteService,
			fmt.Sprintf("inventory service returned status %d", resp.StatusCode))
	}

	var result inventoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to decode inventory response", err)
	}
	return &result, nil
}

func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return ctxTimeout(err)
}

func ctxTimeout(err error) bool {
	for err != nil {
		if err == context.DeadlineExceeded {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
