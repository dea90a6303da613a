package cod

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

func TestGateway_Lifecycle(t *testing.T) {
	g := New()
	ctx := context.Background()
	data := domain.PaymentData{PaymentID: "pay-9", Amount: decimal.NewFromInt(25), Currency: "EUR"}

	resp, err := g.ProcessPayment(ctx, data, domain.GatewayConfig{AutoCapture: true})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, domain.KindPending, resp.Kind)
	assert.Equal(t, "cod-pay-9", resp.TransactionID)
	assert.Equal(t, "cash", resp.PaymentMethodInfo.Type)

	data.Token = resp.TransactionID
	resp, err = g.Capture(ctx, data, domain.GatewayConfig{})
	require.NoError(t, err)
	assert.Equal(t, domain.KindCapture, resp.Kind)
	assert.Equal(t, "cod-pay-9", resp.TransactionID)

	resp, err = g.Refund(ctx, data, domain.GatewayConfig{})
	require.NoError(t, err)
	assert.Equal(t, domain.KindRefund, resp.Kind)
	assert.NotEqual(t, "cod-pay-9", resp.TransactionID)

	resp, err = g.Void(ctx, data, domain.GatewayConfig{})
	require.NoError(t, err)
	assert.Equal(t, domain.KindVoid, resp.Kind)
}
