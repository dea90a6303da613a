package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

func newServer(t *testing.T, tokenCalls *int32, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "cid" || secret != "csecret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "A21", "expires_in": 3600})
	})
	for path, h := range routes {
		h := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer A21" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func cfgFor(srv *httptest.Server, autoCapture bool) domain.GatewayConfig {
	return domain.GatewayConfig{
		AutoCapture: autoCapture,
		ConnectionParams: map[string]string{
			ParamClientID:     "cid",
			ParamClientSecret: "csecret",
			ParamAPIURL:       srv.URL,
		},
	}
}

func paymentData(token string) domain.PaymentData {
	return domain.PaymentData{PaymentID: "pay-1", Token: token, Amount: decimal.RequireFromString("10.5"), Currency: "USD"}
}

func TestAuthorize_Created(t *testing.T) {
	var tokens int32
	srv := newServer(t, &tokens, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORDER1/authorize": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(`{"id":"ORDER1","status":"COMPLETED","purchase_units":[{"payments":{"authorizations":[{"id":"AUTH1","status":"CREATED"}]}}]}`))
		},
	})
	g := New()

	resp, err := g.Authorize(context.Background(), paymentData("ORDER1"), cfgFor(srv, false))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, domain.KindAuth, resp.Kind)
	assert.Equal(t, "AUTH1", resp.TransactionID)
	assert.Equal(t, "ORDER1", resp.RawResponse["order_id"])

	// token is cached between calls
	_, err = g.Authorize(context.Background(), paymentData("ORDER1"), cfgFor(srv, false))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens))
}

func TestProcessPayment_AutoCapture(t *testing.T) {
	var tokens int32
	srv := newServer(t, &tokens, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORDER2/capture": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"ORDER2","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP2","status":"PENDING"}]}}]}`))
		},
	})

	resp, err := New().ProcessPayment(context.Background(), paymentData("ORDER2"), cfgFor(srv, true))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, domain.KindPending, resp.Kind)
	assert.Equal(t, "CAP2", resp.TransactionID)
}

func TestCapture_SendsAmount(t *testing.T) {
	var tokens int32
	srv := newServer(t, &tokens, map[string]http.HandlerFunc{
		"/v2/payments/authorizations/AUTH1/capture": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Amount money `json:"amount"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "10.50", body.Amount.Value)
			assert.Equal(t, "USD", body.Amount.CurrencyCode)
			_, _ = w.Write([]byte(`{"id":"CAP1","status":"COMPLETED"}`))
		},
	})

	resp, err := New().Capture(context.Background(), paymentData("AUTH1"), cfgFor(srv, false))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, domain.KindCapture, resp.Kind)
	assert.Equal(t, "CAP1", resp.TransactionID)
}

func TestRefundAndVoid(t *testing.T) {
	var tokens int32
	srv := newServer(t, &tokens, map[string]http.HandlerFunc{
		"/v2/payments/captures/CAP1/refund": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"REF1","status":"COMPLETED"}`))
		},
		"/v2/payments/authorizations/AUTH1/void": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	g := New()

	resp, err := g.Refund(context.Background(), paymentData("CAP1"), cfgFor(srv, false))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, domain.KindRefund, resp.Kind)
	assert.Equal(t, "REF1", resp.TransactionID)

	resp, err = g.Void(context.Background(), paymentData("AUTH1"), cfgFor(srv, false))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, domain.KindVoid, resp.Kind)
}

func TestDeclinedIsFailedResponse(t *testing.T) {
	var tokens int32
	srv := newServer(t, &tokens, map[string]http.HandlerFunc{
		"/v2/checkout/orders/BAD/authorize": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED","description":"The instrument presented was declined."}]}`))
		},
	})

	resp, err := New().Authorize(context.Background(), paymentData("BAD"), cfgFor(srv, false))
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, "The instrument presented was declined.", resp.Error)
}

func TestServerErrorIsReturned(t *testing.T) {
	var tokens int32
	srv := newServer(t, &tokens, map[string]http.HandlerFunc{
		"/v2/checkout/orders/X/authorize": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	})

	_, err := New().Authorize(context.Background(), paymentData("X"), cfgFor(srv, false))
	require.Error(t, err)
}

func TestMissingCredentials(t *testing.T) {
	_, err := New().Authorize(context.Background(), paymentData("X"), domain.GatewayConfig{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
