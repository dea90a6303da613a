// Package paypal talks to the PayPal REST API (Orders v2 and Payments v2).
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway"
)

const (
	GatewayID   = "storefront.payments.paypal"
	GatewayName = "PayPal"
)

// Connection parameter keys.
const (
	ParamClientID     = "client_id"
	ParamClientSecret = "client_secret"
	ParamSandbox      = "sandbox"
	ParamAPIURL       = "api_url"
)

const (
	liveURL    = "https://api-m.paypal.com"
	sandboxURL = "https://api-m.sandbox.paypal.com"
)

var ErrMissingCredentials = errors.New("paypal: client_id and client_secret are required")

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

type Gateway struct {
	http *http.Client
	now  func() time.Time

	mu     sync.Mutex
	tokens map[string]accessToken // keyed by base URL and client id
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		http:   &http.Client{Timeout: 20 * time.Second},
		now:    time.Now,
		tokens: make(map[string]accessToken),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) ID() string   { return GatewayID }
func (g *Gateway) Name() string { return GatewayName }

// apiError is the body PayPal returns for 4xx responses.
type apiError struct {
	Status  int    `json:"-"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *apiError) Error() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("paypal: status %d", e.Status)
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paymentRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *money `json:"amount,omitempty"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Authorizations []paymentRecord `json:"authorizations"`
			Captures       []paymentRecord `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func baseURL(cfg domain.GatewayConfig) string {
	if u := cfg.Param(ParamAPIURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	if cfg.Param(ParamSandbox) == "true" {
		return sandboxURL
	}
	return liveURL
}

func (g *Gateway) accessToken(ctx context.Context, cfg domain.GatewayConfig) (string, error) {
	id, secret := cfg.Param(ParamClientID), cfg.Param(ParamClientSecret)
	if id == "" || secret == "" {
		return "", ErrMissingCredentials
	}
	key := baseURL(cfg) + "|" + id

	g.mu.Lock()
	tok, ok := g.tokens[key]
	g.mu.Unlock()
	if ok && g.now().Before(tok.expiresAt) {
		return tok.value, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cfg)+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(id, secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := g.send(req, &out); err != nil {
		return "", fmt.Errorf("paypal: oauth: %w", err)
	}
	// refresh a minute early
	exp := g.now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	g.mu.Lock()
	g.tokens[key] = accessToken{value: out.AccessToken, expiresAt: exp}
	g.mu.Unlock()
	return out.AccessToken, nil
}

func (g *Gateway) call(ctx context.Context, cfg domain.GatewayConfig, method, path string, body, out any) error {
	token, err := g.accessToken(ctx, cfg)
	if err != nil {
		return err
	}
	var r io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL(cfg)+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	return g.send(req, out)
}

func (g *Gateway) send(req *http.Request, out any) error {
	res, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		apiErr := &apiError{Status: res.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// GetClientToken returns a JS SDK client token for hosted card fields.
func (g *Gateway) GetClientToken(ctx context.Context, req domain.ClientTokenRequest, cfg domain.GatewayConfig) (string, error) {
	body := map[string]any{}
	if req.CustomerID != "" {
		body["customer_id"] = req.CustomerID
	}
	var out struct {
		ClientToken string `json:"client_token"`
	}
	if err := g.call(ctx, cfg, http.MethodPost, "/v1/identity/generate-token", body, &out); err != nil {
		return "", err
	}
	return out.ClientToken, nil
}

// Authorize places an authorization hold on an order the buyer has approved.
// data.Token carries the PayPal order id.
func (g *Gateway) Authorize(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	var order orderResponse
	err := g.call(ctx, cfg, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(data.Token)+"/authorize", struct{}{}, &order)
	if err != nil {
		return declined(data, domain.KindAuth, err)
	}
	var rec *paymentRecord
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Authorizations) > 0 {
		rec = &order.PurchaseUnits[0].Payments.Authorizations[0]
	}
	return recordResponse(data, domain.KindAuth, rec, order), nil
}

func (g *Gateway) ProcessPayment(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	if !cfg.AutoCapture {
		return g.Authorize(ctx, data, cfg)
	}
	return g.captureOrder(ctx, data, cfg)
}

// Confirm captures an order after the buyer returned from the approval page.
func (g *Gateway) Confirm(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return g.captureOrder(ctx, data, cfg)
}

func (g *Gateway) captureOrder(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	var order orderResponse
	err := g.call(ctx, cfg, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(data.Token)+"/capture", struct{}{}, &order)
	if err != nil {
		return declined(data, domain.KindCapture, err)
	}
	var rec *paymentRecord
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		rec = &order.PurchaseUnits[0].Payments.Captures[0]
	}
	return recordResponse(data, domain.KindCapture, rec, order), nil
}

// Capture settles a previous authorization; data.Token is the authorization id.
func (g *Gateway) Capture(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	body := map[string]any{"amount": amount(data), "final_capture": true}
	var rec paymentRecord
	err := g.call(ctx, cfg, http.MethodPost, "/v2/payments/authorizations/"+url.PathEscape(data.Token)+"/capture", body, &rec)
	if err != nil {
		return declined(data, domain.KindCapture, err)
	}
	return recordResponse(data, domain.KindCapture, &rec, orderResponse{}), nil
}

func (g *Gateway) Void(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	err := g.call(ctx, cfg, http.MethodPost, "/v2/payments/authorizations/"+url.PathEscape(data.Token)+"/void", nil, nil)
	if err != nil {
		return declined(data, domain.KindVoid, err)
	}
	resp := base(data, domain.KindVoid)
	resp.IsSuccess = true
	return resp, nil
}

// Refund returns money from a capture; data.Token is the capture id.
func (g *Gateway) Refund(ctx context.Context, data domain.PaymentData, cfg domain.GatewayConfig) (*domain.GatewayResponse, error) {
	body := map[string]any{"amount": amount(data)}
	var rec paymentRecord
	err := g.call(ctx, cfg, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(data.Token)+"/refund", body, &rec)
	if err != nil {
		return declined(data, domain.KindRefund, err)
	}
	resp := recordResponse(data, domain.KindRefund, &rec, orderResponse{})
	if rec.Status == "PENDING" {
		resp.Kind = domain.KindRefundOngoing
	}
	return resp, nil
}

func amount(data domain.PaymentData) money {
	return money{
		CurrencyCode: strings.ToUpper(data.Currency),
		Value:        data.Amount.StringFixed(gateway.Precision(data.Currency)),
	}
}

func base(data domain.PaymentData, kind domain.TransactionKind) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		Kind:          kind,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		PaymentMethodInfo: &domain.PaymentMethodInfo{
			Type: "paypal",
			Name: GatewayName,
		},
	}
}

func recordResponse(data domain.PaymentData, kind domain.TransactionKind, rec *paymentRecord, order orderResponse) *domain.GatewayResponse {
	resp := base(data, kind)
	if rec == nil {
		resp.Error = fmt.Sprintf("Order %s has no %s", order.Status, kind)
		return resp
	}
	resp.TransactionID = rec.ID
	resp.PSPReference = rec.ID
	resp.RawResponse = map[string]any{"id": rec.ID, "status": rec.Status}
	if order.ID != "" {
		resp.RawResponse["order_id"] = order.ID
	}
	switch rec.Status {
	case "CREATED", "COMPLETED", "CAPTURED":
		resp.IsSuccess = true
	case "PENDING":
		resp.IsSuccess = true
		if kind != domain.KindRefund {
			resp.Kind = domain.KindPending
		}
	default:
		resp.Error = fmt.Sprintf("Transaction %s", strings.ToLower(rec.Status))
	}
	return resp
}

func declined(data domain.PaymentData, kind domain.TransactionKind, err error) (*domain.GatewayResponse, error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status >= 500 || apiErr.Status == http.StatusUnauthorized {
		return nil, fmt.Errorf("paypal: %w", err)
	}
	resp := base(data, kind)
	resp.Error = apiErr.Error()
	return resp, nil
}
