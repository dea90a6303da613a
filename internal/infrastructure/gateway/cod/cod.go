// Package cod implements cash on delivery: the order is accepted now and the
// money is captured when the courier hands over the parcel.
package cod

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

const (
	GatewayID   = "storefront.payments.cod"
	GatewayName = "Cash on delivery"
)

type Gateway struct{}

func New() *Gateway { return &Gateway{} }

func (g *Gateway) ID() string   { return GatewayID }
func (g *Gateway) Name() string { return GatewayName }

func (g *Gateway) GetClientToken(context.Context, domain.ClientTokenRequest, domain.GatewayConfig) (string, error) {
	return "", nil
}

// Authorize records the promise to pay on delivery.
func (g *Gateway) Authorize(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return response(data, domain.KindPending, reference(data)), nil
}

// ProcessPayment behaves like Authorize; nothing can be captured before delivery.
func (g *Gateway) ProcessPayment(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.Authorize(ctx, data, cfg)
}

func (g *Gateway) Capture(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return response(data, domain.KindCapture, reference(data)), nil
}

func (g *Gateway) Confirm(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.Capture(ctx, data, cfg)
}

func (g *Gateway) Refund(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return response(data, domain.KindRefund, uuid.NewString()), nil
}

func (g *Gateway) Void(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return response(data, domain.KindVoid, reference(data)), nil
}

func response(data domain.PaymentData, kind domain.TransactionKind, txnID string) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		IsSuccess:     true,
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: txnID,
		PSPReference:  txnID,
		PaymentMethodInfo: &domain.PaymentMethodInfo{
			Type: "cash",
			Name: GatewayName,
		},
	}
}

func reference(data domain.PaymentData) string {
	if data.Token != "" {
		return data.Token
	}
	return "cod-" + data.PaymentID
}
