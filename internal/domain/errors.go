// Package domain contains the core business entities and value objects for the rental service.
package domain

import "errors"

// Domain errors for rental processing
var (
	// Validation errors
	ErrValidationFailed = errors.New("validation failed")

	// Rental errors
	ErrOutOfStock     = errors.New("movie out of stock")
	ErrRentalNotFound = errors.New("rental not found")

	// Credit check errors
	ErrCustomerDenied         = errors.New("customer denied")
	ErrCreditCheckUnavailable = errors.New("credit check unavailable")

	// System errors
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	ErrKafkaError         = errors.New("kafka error")
	ErrRedisError         = errors.New("redis error")
)

// User-facing messages
const (
	MsgCustomerRequired      = "customer required"
	MsgMovieListRequired     = "movie list required"
	MsgInvalidMovie          = "movie stock and price must not be negative"
	MsgOutOfStock            = "no movie in stock"
	MsgCustomerDenied        = "customer denied"
	MsgCreditCheckFailed     = "credit check failed, please retry"
	MsgRentalRequired        = "rental required"
	MsgExtensionDaysPositive = "extension days must be positive"
)

// ErrorCode maps errors to API error codes
type ErrorCode string

const (
	CodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	CodeOutOfStock             ErrorCode = "OUT_OF_STOCK"
	CodeRentalNotFound         ErrorCode = "RENTAL_NOT_FOUND"
	CodeCustomerDenied         ErrorCode = "CUSTOMER_DENIED"
	CodeCreditCheckUnavailable ErrorCode = "CREDIT_CHECK_UNAVAILABLE"

	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ErrorToCode maps domain errors to error codes
func ErrorToCode(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return CodeValidationFailed
	case errors.Is(err, ErrOutOfStock):
		return CodeOutOfStock
	case errors.Is(err, ErrRentalNotFound):
		return CodeRentalNotFound
	case errors.Is(err, ErrCustomerDenied):
		return CodeCustomerDenied
	case errors.Is(err, ErrCreditCheckUnavailable):
		return CodeCreditCheckUnavailable
	case errors.Is(err, ErrServiceUnavailable):
		return CodeServiceUnavailable
	default:
		return CodeInternalError
	}
}

// DomainError carries a user-facing message and unwraps to one of the sentinel errors
type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(key string, value interface{}) *DomainError {
	e.Details[key] = value
	return e
}

// NewValidationError reports missing or malformed input
func NewValidationError(message string) *DomainError {
	return NewDomainError(CodeValidationFailed, message, ErrValidationFailed)
}

// NewOutOfStockError reports that none of the requested movies can be rented
func NewOutOfStockError() *DomainError {
	return NewDomainError(CodeOutOfStock, MsgOutOfStock, ErrOutOfStock)
}

// NewDeniedCustomerError reports a denylisted customer
func NewDeniedCustomerError() *DomainError {
	return NewDomainError(CodeCustomerDenied, MsgCustomerDenied, ErrCustomerDenied)
}

// NewCreditCheckUnavailableError reports a failed credit check. The underlying
// cause is never attached.
func NewCreditCheckUnavailableError() *DomainError {
	return NewDomainError(CodeCreditCheckUnavailable, MsgCreditCheckFailed, ErrCreditCheckUnavailable)
}
