package auth

import (
	"net/http"
	"strings"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

// 게이트웨이가 검증 후 전달하는 사용자 식별 헤더
const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-Username"
	HeaderUserRole = "X-User-Role"
)

// 사용자 역할
const (
	RoleAdmin    = "ADMIN"
	RoleManager  = "MANAGER"
	RoleCustomer = "CUSTOMER"
)

// Identity 게이트웨이에서 전달받은 사용자 정보
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// FromHeaders HTTP 헤더에서 사용자 정보 추출 (게이트웨이 신뢰 모델)
func FromHeaders(h http.Header) (Identity, error) {
	id := Identity{
		UserID:   strings.TrimSpace(h.Get(HeaderUserID)),
		Username: strings.TrimSpace(h.Get(HeaderUsername)),
		Role:     strings.ToUpper(strings.TrimSpace(h.Get(HeaderUserRole))),
	}

	if id.UserID == "" {
		return Identity{}, errors.New(errors.ErrCodeValidation, "missing user identity header")
	}
	if id.Role == "" {
		id.Role = RoleCustomer
	}

	return id, nil
}

// IsAdmin 관리자 여부
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanManageOrders 주문 관리 권한 여부 (상태 강제 변경 등)
func (i Identity) CanManageOrders() bool {
	return i.Role == RoleAdmin || i.Role == RoleManager
}

// CanAccessOrder 본인 주문 또는 관리 권한 여부
func (i Identity) CanAccessOrder(customerID string) bool {
	return i.CanManageOrders() || i.UserID == customerID
}
