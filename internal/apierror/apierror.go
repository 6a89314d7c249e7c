package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Domain codes surfaced by the payout pipeline. They map onto HTTP
	// statuses at the API edge; internally they ride on APIError.
	ErrOrderNotFound        ErrorCode = "ORDER_NOT_FOUND"
	ErrOrderNotDelivered    ErrorCode = "ORDER_NOT_DELIVERED"
	ErrFundsNotReleased     ErrorCode = "FUNDS_NOT_RELEASED"
	ErrSellerAccountInvalid ErrorCode = "SELLER_ACCOUNT_INVALID"
	ErrInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	ErrPaymentAlreadyExists ErrorCode = "PAYMENT_ALREADY_EXISTS"
	ErrPayoutProcessing     ErrorCode = "PAYOUT_PROCESSING"
	ErrInvalidEntry         ErrorCode = "INVALID_ENTRY"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is lets errors.Is match on the code alone.
func (e APIError) Is(target error) bool {
	t, ok := target.(APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the error code, or ErrInternalServer for foreign errors.
func CodeOf(err error) ErrorCode {
	if apiErr, ok := err.(APIError); ok {
		return apiErr.Code
	}
	return ErrInternalServer
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound, ErrOrderNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrPaymentAlreadyExists, ErrPayoutProcessing:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrInvalidEntry,
			ErrOrderNotDelivered, ErrFundsNotReleased,
			ErrSellerAccountInvalid, ErrInsufficientFunds:
			return http.StatusBadRequest
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
