// Package dummycreditcard simulates a card processor whose behaviour is chosen by test card numbers.
package dummycreditcard

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

const (
	GatewayID   = "storefront.payments.dummy_credit_card"
	GatewayName = "Dummy Credit Card"
)

// Test card numbers.
const (
	TokenPreauthorizeSuccess = "4111111111111112"
	TokenPreauthorizeDecline = "4111111111111111"
	TokenExpired             = "4000000000000069"
	TokenInsufficientFunds   = "4000000000009995"
	TokenIncorrectCVV        = "4000000000000127"
	TokenDecline             = "4000000000000002"
	Token3DSecure            = "4000000000003220"
)

var tokenErrors = map[string]string{
	TokenExpired:             "Card expired",
	TokenInsufficientFunds:   "Insufficient funds",
	TokenIncorrectCVV:        "Incorrect CVV",
	TokenDecline:             "Card declined",
	TokenPreauthorizeDecline: "Card declined",
}

type Gateway struct{}

func New() *Gateway { return &Gateway{} }

func (g *Gateway) ID() string   { return GatewayID }
func (g *Gateway) Name() string { return GatewayName }

func (g *Gateway) GetClientToken(context.Context, domain.ClientTokenRequest, domain.GatewayConfig) (string, error) {
	return uuid.NewString(), nil
}

func (g *Gateway) Authorize(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	if msg, ok := tokenErrors[data.Token]; ok {
		return failed(data, domain.KindAuth, msg), nil
	}
	if data.Token == Token3DSecure {
		resp := succeeded(data, domain.KindActionToConfirm)
		resp.ActionRequired = true
		resp.ActionRequiredData = map[string]any{
			"type":             "3ds",
			"confirmation_url": "https://dummy.example/3ds/" + data.PaymentID,
		}
		return resp, nil
	}
	return succeeded(data, domain.KindAuth), nil
}

func (g *Gateway) Capture(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	if data.Token == TokenPreauthorizeSuccess {
		return succeeded(data, domain.KindCapture), nil
	}
	if msg, ok := tokenErrors[data.Token]; ok {
		return failed(data, domain.KindCapture, msg), nil
	}
	return succeeded(data, domain.KindCapture), nil
}

// Confirm finishes a 3-D Secure challenge by capturing the funds.
func (g *Gateway) Confirm(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.Capture(ctx, data, cfg)
}

func (g *Gateway) Refund(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return succeeded(data, domain.KindRefund), nil
}

func (g *Gateway) Void(_ context.Context, data domain.PaymentData, _ domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return succeeded(data, domain.KindVoid), nil
}

func (g *Gateway) ProcessPayment(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	resp, err := g.Authorize(ctx, data, cfg)
	if err != nil || !resp.IsSuccess || resp.ActionRequired || !cfg.AutoCapture {
		return resp, err
	}
	return g.Capture(ctx, data, cfg)
}

func succeeded(data domain.PaymentData, kind domain.TransactionKind) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		IsSuccess:     true,
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		PaymentMethodInfo: &domain.PaymentMethodInfo{
			Last4:    last4(data.Token),
			ExpYear:  2222,
			ExpMonth: 12,
			Brand:    "dummy_visa",
			Type:     "card",
		},
	}
}

func failed(data domain.PaymentData, kind domain.TransactionKind, msg string) *domain.GatewayResponse {
	resp := succeeded(data, kind)
	resp.IsSuccess = false
	resp.Error = msg
	return resp
}

func last4(token string) string {
	if len(token) < 4 {
		return token
	}
	return token[len(token)-4:]
}
