package payment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// GatewayConfig is the per-channel configuration a gateway adapter receives on every call.
type GatewayConfig struct {
	GatewayName         string
	AutoCapture         bool
	SupportedCurrencies []string
	ConnectionParams    map[string]string
	StoreCustomer       bool
	Require3DSecure     bool
}

// Param returns a connection parameter or the empty string.
func (c GatewayConfig) Param(key string) string {
	if c.ConnectionParams == nil {
		return ""
	}
	return c.ConnectionParams[key]
}

// SupportsCurrency reports whether currency is accepted; an empty list accepts any currency.
func (c GatewayConfig) SupportsCurrency(currency string) bool {
	if len(c.SupportedCurrencies) == 0 {
		return true
	}
	for _, cur := range c.SupportedCurrencies {
		if cur == currency {
			return true
		}
	}
	return false
}

type AddressData struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	CompanyName    string `json:"company_name"`
	StreetAddress1 string `json:"street_address_1"`
	StreetAddress2 string `json:"street_address_2"`
	City           string `json:"city"`
	CityArea       string `json:"city_area"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
	CountryArea    string `json:"country_area"`
	Phone          string `json:"phone"`
}

type RefundLine struct {
	LineID   string
	Quantity int
}

// RefundData describes which order lines a refund covers, for gateways that itemise refunds.
type RefundData struct {
	Lines              []RefundLine
	RefundShippingCost bool
}

// PaymentData is the uniform request every gateway adapter receives.
type PaymentData struct {
	Gateway           string
	Amount            decimal.Decimal
	Currency          string
	Billing           *AddressData
	Shipping          *AddressData
	PaymentID         string
	GraphqlPaymentID  string
	OrderID           string
	CustomerIPAddress string
	CustomerEmail     string
	Token             string
	CustomerID        string
	ReuseSource       bool
	Data              map[string]any
	RefundData        *RefundData
}

type CardInfo struct {
	LastDigits string `json:"last_digits"`
	ExpMonth   int    `json:"exp_month"`
	ExpYear    int    `json:"exp_year"`
	Brand      string `json:"brand"`
	Name       string `json:"name"`
}

type PaymentMethodInfo struct {
	Last4    string `json:"last_4"`
	ExpYear  int    `json:"exp_year"`
	ExpMonth int    `json:"exp_month"`
	Brand    string `json:"brand"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// GatewayResponse is the uniform result every gateway adapter returns.
type GatewayResponse struct {
	IsSuccess                   bool
	ActionRequired              bool
	Kind                        TransactionKind
	Amount                      decimal.Decimal
	Currency                    string
	TransactionID               string
	Error                       string
	CustomerID                  string
	CardInfo                    *CardInfo
	RawResponse                 map[string]any
	ActionRequiredData          map[string]any
	TransactionAlreadyProcessed bool
	PSPReference                string
	PaymentMethodInfo           *PaymentMethodInfo
}

// ClientTokenRequest carries the optional customer context for GetClientToken.
type ClientTokenRequest struct {
	CustomerID string
}

// Gateway is implemented by every payment processor adapter.
type Gateway interface {
	ID() string
	Name() string
	Authorize(ctx context.Context, data PaymentData, cfg GatewayConfig) (*GatewayResponse, error)
	Capture(ctx context.Context, data PaymentData, cfg GatewayConfig) (*GatewayResponse, error)
	Confirm(ctx context.Context, data PaymentData, cfg GatewayConfig) (*GatewayResponse, error)
	Refund(ctx context.Context, data PaymentData, cfg GatewayConfig) (*GatewayResponse, error)
	Void(ctx context.Context, data PaymentData, cfg GatewayConfig) (*GatewayResponse, error)
	ProcessPayment(ctx context.Context, data PaymentData, cfg GatewayConfig) (*GatewayResponse, error)
	GetClientToken(ctx context.Context, req ClientTokenRequest, cfg GatewayConfig) (string, error)
}

// ValidateGatewayResponse rejects responses a gateway should never produce.
func ValidateGatewayResponse(gateway string, resp *GatewayResponse) error {
	if resp == nil {
		return &GatewayError{Gateway: gateway, Reason: "gateway needs to return a GatewayResponse"}
	}
	if !resp.Kind.AllowedFromGateway() {
		return &GatewayError{Gateway: gateway, Reason: "gateway response kind must be one of the allowed kinds, got " + string(resp.Kind)}
	}
	if resp.RawResponse != nil {
		if _, err := json.Marshal(resp.RawResponse); err != nil {
			return &GatewayError{Gateway: gateway, Reason: "gateway response needs to be json serializable"}
		}
	}
	return nil
}
