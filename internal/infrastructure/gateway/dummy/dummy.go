// Package dummy is a gateway that accepts every operation. It is meant for
// development stores and for exercising the payment flow end to end.
package dummy

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

const (
	GatewayID   = "storefront.payments.dummy"
	GatewayName = "Dummy"
)

type Gateway struct {
	// succeed lets tests force failures; production always succeeds.
	succeed func() bool
}

func New() *Gateway {
	return &Gateway{succeed: func() bool { return true }}
}

// NewWithOutcome returns a gateway whose operations succeed only when fn returns true.
func NewWithOutcome(fn func() bool) *Gateway {
	return &Gateway{succeed: fn}
}

func (g *Gateway) ID() string   { return GatewayID }
func (g *Gateway) Name() string { return GatewayName }

func (g *Gateway) GetClientToken(context.Context, domain.ClientTokenRequest, domain.GatewayConfig) (string, error) {
	return uuid.NewString(), nil
}

func (g *Gateway) Authorize(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.response(data, domain.KindAuth, "Unable to authorize transaction"), nil
}

func (g *Gateway) Void(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.response(data, domain.KindVoid, "Unable to void the transaction."), nil
}

func (g *Gateway) Capture(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.response(data, domain.KindCapture, "Unable to process capture"), nil
}

// Confirm completes a pending action by capturing.
func (g *Gateway) Confirm(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.response(data, domain.KindCapture, "Unable to process capture"), nil
}

func (g *Gateway) Refund(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.response(data, domain.KindRefund, "Unable to process refund"), nil
}

// ProcessPayment captures directly unless the token names a charge status, in
// which case the payment is driven into that status.
func (g *Gateway) ProcessPayment(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	status, ok := domain.ParseChargeStatus(data.Token)
	if !ok {
		return g.Capture(ctx, data, cfg)
	}

	authResp, _ := g.Authorize(ctx, data, cfg)
	if status == domain.ChargeStatusNotCharged || !cfg.AutoCapture {
		return authResp, nil
	}
	captureResp, _ := g.Capture(ctx, data, cfg)
	if status == domain.ChargeStatusFullyRefunded {
		return g.Refund(ctx, data, cfg)
	}
	return captureResp, nil
}

func (g *Gateway) response(data domain.PaymentData, kind domain.TransactionKind, failure string) *domain.GatewayResponse {
	success := g.succeed()
	resp := &domain.GatewayResponse{
		IsSuccess:     success,
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		PaymentMethodInfo: &domain.PaymentMethodInfo{
			Last4:    "1234",
			ExpYear:  2222,
			ExpMonth: 12,
			Brand:    "dummy_visa",
			Name:     "Holder name",
			Type:     "card",
		},
	}
	if !success {
		resp.Error = failure
	}
	return resp
}
