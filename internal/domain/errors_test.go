package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_MessageAndUnwrap(t *testing.T) {
	err := NewValidationError(MsgCustomerRequired)

	assert.Equal(t, "customer required", err.Error())
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, CodeValidationFailed, err.Code)
}

func TestNewCreditCheckUnavailableError_HidesCause(t *testing.T) {
	err := NewCreditCheckUnavailableError()

	assert.Equal(t, "credit check failed, please retry", err.Error())
	assert.ErrorIs(t, err, ErrCreditCheckUnavailable)
	assert.Equal(t, ErrCreditCheckUnavailable, errors.Unwrap(err))
}

func TestErrorToCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"Validation", NewValidationError(MsgMovieListRequired), CodeValidationFailed},
		{"Out of stock", NewOutOfStockError(), CodeOutOfStock},
		{"Denied", NewDeniedCustomerError(), CodeCustomerDenied},
		{"Credit check", NewCreditCheckUnavailableError(), CodeCreditCheckUnavailable},
		{"Wrapped not found", fmt.Errorf("lookup: %w", ErrRentalNotFound), CodeRentalNotFound},
		{"Unknown", errors.New("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorToCode(tt.err))
		})
	}
}

func TestDomainError_WithDetails(t *testing.T) {
	err := NewOutOfStockError().WithDetails("requested", 3)
	assert.Equal(t, 3, err.Details["requested"])
	assert.Equal(t, "no movie in stock", err.Error())
}
