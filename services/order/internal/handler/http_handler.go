package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kyungseok/ecommerce-saga-go/common/auth"
	"github.com/kyungseok/ecommerce-saga-go/common/errors"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/domain"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/saga"
	"github.com/kyungseok/ecommerce-saga-go/services/order/internal/service"
)

// HTTPHandler 주문 HTTP 핸들러
type HTTPHandler struct {
	orderService service.OrderService
	coordinator  saga.Coordinator
	logger       *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(orderService service.OrderService, coordinator saga.Coordinator, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		orderService: orderService,
		coordinator:  coordinator,
		logger:       logger,
	}
}

// Register 라우트 등록
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.CreateOrder)
	mux.HandleFunc("GET /orders", h.ListOrders)
	mux.HandleFunc("GET /orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /orders/{id}/saga", h.GetSaga)
	mux.HandleFunc("GET /orders/order-number/{orderNumber}", h.GetOrderByNumber)
	mux.HandleFunc("GET /orders/customer/{customerId}", h.ListCustomerOrders)
	mux.HandleFunc("PUT /orders/{id}/status", h.UpdateOrderStatus)
	mux.HandleFunc("PUT /orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

// CreateOrderItemRequest 주문 항목 요청
type CreateOrderItemRequest struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

// CreateOrderRequest 주문 생성 요청
type CreateOrderRequest struct {
	CustomerEmail  string                   `json:"customerEmail,omitempty"`
	Items          []CreateOrderItemRequest `json:"items"`
	ShippingAmount int64                    `json:"shippingAmount,omitempty"`
	DiscountAmount int64                    `json:"discountAmount,omitempty"`
	Notes          string                   `json:"notes,omitempty"`
}

// UpdateStatusRequest 상태 변경 요청
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// CancelOrderRequest 주문 취소 요청
type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error string        `json:"error"`
	Code  string        `json:"code,omitempty"`
	Order *domain.Order `json:"order,omitempty"`
}

// CreateOrder 주문 생성 API (Saga 동기 실행, 최종 상태 반환)
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest,
			errors.New(errors.ErrCodeValidation, "invalid request body"))
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}

	cmd := service.CreateOrderCommand{
		CustomerID:     identity.UserID,
		CustomerEmail:  req.CustomerEmail,
		Items:          items,
		ShippingAmount: req.ShippingAmount,
		DiscountAmount: req.DiscountAmount,
		Notes:          req.Notes,
	}

	order, err := h.coordinator.ProcessOrder(r.Context(), cmd)
	if err != nil {
		h.logger.Warn("order saga failed",
			zap.String("customerId", identity.UserID),
			zap.Error(err))
		// 주문 행이 생성된 뒤 실패한 경우 최종 상태를 함께 돌려준다
		h.respondJSON(w, statusOf(err), ErrorResponse{
			Error: err.Error(),
			Code:  string(errors.CodeOf(err)),
			Order: order,
		})
		return
	}

	h.respondJSON(w, http.StatusCreated, order)
}

// GetOrder 주문 단건 조회 (본인 또는 관리 권한)
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}
	if !identity.CanAccessOrder(order.CustomerID) {
		h.respondForbidden(w)
		return
	}

	h.respondJSON(w, http.StatusOK, order)
}

// GetSaga Saga 진행 기록 조회 (관리 권한)
func (h *HTTPHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}
	if !identity.CanManageOrders() {
		h.respondForbidden(w)
		return
	}

	sg, err := h.orderService.GetSaga(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}

	h.respondJSON(w, http.StatusOK, sg)
}

// GetOrderByNumber 주문번호로 조회
func (h *HTTPHandler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}

	order, err := h.orderService.GetOrderByNumber(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}
	if !identity.CanAccessOrder(order.CustomerID) {
		h.respondForbidden(w)
		return
	}

	h.respondJSON(w, http.StatusOK, order)
}

// ListOrders 주문 목록 조회.
// 관리 권한은 ?status= 로 상태별 조회, 그 외에는 본인 주문만 반환한다.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" {
		if !identity.CanManageOrders() {
			h.respondForbidden(w)
			return
		}
		orders, err := h.orderService.ListOrdersByStatus(r.Context(), domain.OrderStatus(status))
		if err != nil {
			h.respondError(w, statusOf(err), err)
			return
		}
		h.respondJSON(w, http.StatusOK, orders)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	orders, err := h.orderService.ListOrdersByCustomer(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}
	h.respondJSON(w, http.StatusOK, orders)
}

// ListCustomerOrders 특정 고객 주문 목록 API (본인 또는 관리 권한)
func (h *HTTPHandler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}

	customerID := r.PathValue("customerId")
	if !identity.CanAccessOrder(customerID) {
		h.respondForbidden(w)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	orders, err := h.orderService.ListOrdersByCustomer(r.Context(), customerID, limit, offset)
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}
	h.respondJSON(w, http.StatusOK, orders)
}

// UpdateOrderStatus 상태 강제 변경 API (ADMIN/MANAGER 전용)
func (h *HTTPHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}
	if !identity.CanManageOrders() {
		h.respondForbidden(w)
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest,
			errors.New(errors.ErrCodeValidation, "invalid request body"))
		return
	}

	order, err := h.orderService.UpdateOrderStatus(r.Context(), r.PathValue("id"),
		domain.OrderStatus(req.Status))
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}

	h.respondJSON(w, http.StatusOK, order)
}

// CancelOrder 주문 취소 API (본인 또는 관리 권한, 보상 포함)
func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromHeaders(r.Header)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err)
		return
	}

	orderID := r.PathValue("id")
	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}
	if !identity.CanAccessOrder(order.CustomerID) {
		h.respondForbidden(w)
		return
	}

	var req CancelOrderRequest
	if r.Body != nil {
		// 취소 사유는 선택 입력
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	cancelled, err := h.coordinator.CancelOrder(r.Context(), orderID, req.Reason)
	if err != nil {
		h.respondError(w, statusOf(err), err)
		return
	}

	h.respondJSON(w, http.StatusOK, cancelled)
}

// HealthCheck 헬스 체크 API
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// statusOf 도메인 에러 코드를 HTTP 상태 코드로 변환
func statusOf(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeOrderNotFound, errors.ErrCodePaymentNotFound:
		return http.StatusNotFound
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeConflict, errors.ErrCodeInvalidTransition, errors.ErrCodeVersionConflict:
		return http.StatusConflict
	case errors.ErrCodeInsufficientInventory, errors.ErrCodePaymentDeclined:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeTimeoutError:
		return http.StatusGatewayTimeout
	case errors.ErrCodeRemoteService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, err error) {
	h.respondJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.CodeOf(err)),
	})
}

func (h *HTTPHandler) respondForbidden(w http.ResponseWriter) {
	h.respondJSON(w, http.StatusForbidden, ErrorResponse{
		Error: "insufficient permissions",
		Code:  string(errors.ErrCodeForbidden),
	})
}
