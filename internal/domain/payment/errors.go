package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("payment: not found")
	ErrConflict        = errors.New("payment: conflict")
	ErrInactive        = errors.New("payment: payment is inactive")
	ErrInvalidTotal    = errors.New("payment: total must be greater than zero")
	ErrInvalidCurrency = errors.New("payment: currency is required")
	ErrInvalidGateway  = errors.New("payment: gateway is required")
)

// GenericGatewayError is what callers see when a gateway failed in a way we do not expose.
const GenericGatewayError = "Oops! Something went wrong."

// PaymentError is a business rule violation whose message is safe to show to API callers.
type PaymentError struct {
	Message string
	Code    string
}

func (e *PaymentError) Error() string { return e.Message }

// NewPaymentError returns a PaymentError with the given message.
func NewPaymentError(msg string) error {
	return &PaymentError{Message: msg}
}

// NewPaymentErrorCode returns a PaymentError carrying a machine readable code.
func NewPaymentErrorCode(code, msg string) error {
	return &PaymentError{Code: code, Message: msg}
}

// IsPaymentError reports whether err wraps a PaymentError.
func IsPaymentError(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe)
}

// GatewayError signals that a gateway returned a malformed response.
type GatewayError struct {
	Gateway string
	Reason  string
}

func (e *GatewayError) Error() string {
	if e.Gateway == "" {
		return "payment gateway: " + e.Reason
	}
	return fmt.Sprintf("payment gateway %s: %s", e.Gateway, e.Reason)
}
