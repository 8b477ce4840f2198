package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Business Errors
	ErrCodeValidation            ErrorCode = "VALIDATION_ERROR"
	ErrCodeOrderNotFound         ErrorCode = "ORDER_NOT_FOUND"
	ErrCodePaymentNotFound       ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeConflict              ErrorCode = "CONFLICT"
	ErrCodeInsufficientInventory ErrorCode = "INSUFFICIENT_INVENTORY"
	ErrCodePaymentDeclined       ErrorCode = "PAYMENT_DECLINED"
	ErrCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrCodeForbidden             ErrorCode = "FORBIDDEN"
	ErrCodeVersionConflict       ErrorCode = "VERSION_CONFLICT"

	// Technical Errors
	ErrCodeRemoteService      ErrorCode = "REMOTE_SERVICE_ERROR"
	ErrCodeCompensationFailed ErrorCode = "COMPENSATION_FAILED"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeTimeoutError       ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSerializationError ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeUnknownError       ErrorCode = "UNKNOWN_ERROR"
)

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf 에러에서 에러 코드 추출 (래핑된 도메인 에러도 인식, 아니면 UNKNOWN_ERROR)
func CodeOf(err error) ErrorCode {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ErrCodeUnknownError
}

// Is 에러가 특정 코드에 해당하는지 판단
func Is(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDatabaseError, ErrCodeRemoteService, ErrCodeTimeoutError, ErrCodeVersionConflict:
		return true
	}
	return false
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeOrderNotFound, ErrCodePaymentNotFound, ErrCodeConflict,
		ErrCodeInsufficientInventory, ErrCodePaymentDeclined, ErrCodeInvalidTransition,
		ErrCodeForbidden:
		return true
	}
	return false
}
