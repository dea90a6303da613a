package payment

import (
	"context"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

type IDGenerator interface {
	NewID() string
}

// Gateways dispatches an operation to the gateway active in a channel.
type Gateways interface {
	Authorize(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)
	Capture(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)
	Confirm(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)
	Refund(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)
	Void(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)
	ProcessPayment(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)
}
