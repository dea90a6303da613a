// Package stripe adapts the Stripe PaymentIntents API to the payment gateway port.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway"
)

const (
	GatewayID   = "storefront.payments.stripe"
	GatewayName = "Stripe"
)

// Connection parameter keys.
const (
	ParamSecretKey = "secret_api_key"
	ParamPublicKey = "public_api_key"
	ParamAPIURL    = "api_url"
)

var ErrMissingSecretKey = errors.New("stripe: secret_api_key is not configured")

type Option func(*Gateway)

// WithBackend replaces the HTTP backend, mostly for tests.
func WithBackend(b stripe.Backend) Option {
	return func(g *Gateway) { g.backend = b }
}

type Gateway struct {
	backend stripe.Backend
}

func New(opts ...Option) *Gateway {
	g := &Gateway{}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) ID() string   { return GatewayID }
func (g *Gateway) Name() string { return GatewayName }

func (g *Gateway) api(cfg domain.GatewayConfig) (*client.API, error) {
	key := cfg.Param(ParamSecretKey)
	if key == "" {
		return nil, ErrMissingSecretKey
	}
	b := g.backend
	if b == nil {
		if url := cfg.Param(ParamAPIURL); url != "" {
			b = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(url),
				MaxNetworkRetries: stripe.Int64(0),
			})
		} else {
			b = stripe.GetBackend(stripe.APIBackend)
		}
	}
	sc := &client.API{}
	sc.Init(key, &stripe.Backends{API: b, Connect: b, Uploads: b})
	return sc, nil
}

// GetClientToken hands the publishable key to the storefront, which tokenises cards itself.
func (g *Gateway) GetClientToken(_ context.Context, _ domain.ClientTokenRequest, cfg domain.GatewayConfig) (string, error) {
	return cfg.Param(ParamPublicKey), nil
}

func (g *Gateway) Authorize(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.createIntent(ctx, data, cfg, false)
}

func (g *Gateway) ProcessPayment(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.createIntent(ctx, data, cfg, cfg.AutoCapture)
}

func (g *Gateway) createIntent(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig, capture bool) (*domain.GatewayResponse, error) {
	sc, err := g.api(cfg)
	if err != nil {
		return nil, err
	}
	method := stripe.PaymentIntentCaptureMethodManual
	if capture {
		method = stripe.PaymentIntentCaptureMethodAutomatic
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(gateway.ToMinorUnits(data.Amount, data.Currency)),
		Currency:      stripe.String(strings.ToLower(data.Currency)),
		CaptureMethod: stripe.String(string(method)),
		PaymentMethod: stripe.String(data.Token),
		Confirm:       stripe.Bool(true),
	}
	if data.CustomerID != "" {
		params.Customer = stripe.String(data.CustomerID)
	}
	if data.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(data.CustomerEmail)
	}
	if cfg.Require3DSecure {
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				RequestThreeDSecure: stripe.String("any"),
			},
		}
	}
	params.AddMetadata("payment_id", data.PaymentID)
	if data.OrderID != "" {
		params.AddMetadata("order_id", data.OrderID)
	}
	params.Context = ctx

	intent, err := sc.PaymentIntents.New(params)
	if err != nil {
		return declined(data, domain.KindAuth, err)
	}
	return intentResponse(data, intent), nil
}

func (g *Gateway) Capture(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	sc, err := g.api(cfg)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(gateway.ToMinorUnits(data.Amount, data.Currency)),
	}
	params.Context = ctx
	intent, err := sc.PaymentIntents.Capture(data.Token, params)
	if err != nil {
		return declined(data, domain.KindCapture, err)
	}
	return intentResponse(data, intent), nil
}

// Confirm re-reads the intent after the customer finished a 3-D Secure challenge.
func (g *Gateway) Confirm(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	sc, err := g.api(cfg)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := sc.PaymentIntents.Get(data.Token, params)
	if err != nil {
		return declined(data, domain.KindCapture, err)
	}
	resp := intentResponse(data, intent)
	if resp.Kind == domain.KindActionToConfirm {
		resp.IsSuccess = false
		resp.Error = "Payment still requires customer action"
	}
	return resp, nil
}

func (g *Gateway) Refund(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	sc, err := g.api(cfg)
	if err != nil {
		return nil, err
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(data.Token),
		Amount:        stripe.Int64(gateway.ToMinorUnits(data.Amount, data.Currency)),
	}
	params.Context = ctx
	refund, err := sc.Refunds.New(params)
	if err != nil {
		return declined(data, domain.KindRefund, err)
	}

	resp := base(data, domain.KindRefund)
	resp.TransactionID = refund.ID
	resp.PSPReference = refund.ID
	resp.Amount = gateway.FromMinorUnits(refund.Amount, data.Currency)
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		resp.IsSuccess = true
	case stripe.RefundStatusPending:
		resp.IsSuccess = true
		resp.Kind = domain.KindRefundOngoing
	default:
		resp.Error = fmt.Sprintf("Refund %s", refund.Status)
	}
	return resp, nil
}

func (g *Gateway) Void(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	sc, err := g.api(cfg)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	intent, err := sc.PaymentIntents.Cancel(data.Token, params)
	if err != nil {
		return declined(data, domain.KindVoid, err)
	}
	resp := base(data, domain.KindVoid)
	resp.TransactionID = intent.ID
	resp.PSPReference = intent.ID
	resp.IsSuccess = intent.Status == stripe.PaymentIntentStatusCanceled
	if !resp.IsSuccess {
		resp.Error = "Unable to void the transaction."
	}
	return resp, nil
}

func base(data domain.PaymentData, kind domain.TransactionKind) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		CustomerID:    data.CustomerID,
	}
}

// declined turns a Stripe API error into a failed response. Transport errors
// are returned as errors so the caller can hide them from the customer.
func declined(data domain.PaymentData, kind domain.TransactionKind, err error) (*domain.GatewayResponse, error) {
	var serr *stripe.Error
	if !errors.As(err, &serr) || serr.HTTPStatusCode >= 500 {
		return nil, fmt.Errorf("stripe: %w", err)
	}
	resp := base(data, kind)
	resp.Error = serr.Msg
	if resp.Error == "" {
		resp.Error = string(serr.Code)
	}
	return resp, nil
}

func intentResponse(data domain.PaymentData, intent *stripe.PaymentIntent) *domain.GatewayResponse {
	resp := base(data, domain.KindAuth)
	resp.TransactionID = intent.ID
	resp.PSPReference = intent.ID
	if intent.Customer != nil {
		resp.CustomerID = intent.Customer.ID
	}
	resp.RawResponse = map[string]any{
		"id":     intent.ID,
		"status": string(intent.Status),
		"amount": intent.Amount,
	}
	if pm := intent.PaymentMethod; pm != nil && pm.Card != nil {
		resp.PaymentMethodInfo = &domain.PaymentMethodInfo{
			Last4:    pm.Card.Last4,
			ExpYear:  int(pm.Card.ExpYear),
			ExpMonth: int(pm.Card.ExpMonth),
			Brand:    string(pm.Card.Brand),
			Type:     "card",
		}
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		resp.IsSuccess = true
	case stripe.PaymentIntentStatusSucceeded:
		resp.IsSuccess = true
		resp.Kind = domain.KindCapture
		if intent.AmountReceived > 0 {
			resp.Amount = gateway.FromMinorUnits(intent.AmountReceived, data.Currency)
		}
	case stripe.PaymentIntentStatusProcessing:
		resp.IsSuccess = true
		resp.Kind = domain.KindPending
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		resp.IsSuccess = true
		resp.Kind = domain.KindActionToConfirm
		resp.ActionRequired = true
		resp.ActionRequiredData = map[string]any{"client_secret": intent.ClientSecret}
		if na := intent.NextAction; na != nil && na.RedirectToURL != nil {
			resp.ActionRequiredData["redirect_url"] = na.RedirectToURL.URL
		}
	default:
		resp.Error = fmt.Sprintf("Payment intent is %s", intent.Status)
	}
	return resp
}
