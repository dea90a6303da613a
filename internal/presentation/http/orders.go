package httppresentation

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apporder "github.com/Zhima-Mochi/storefront/internal/application/order"
	apppayment "github.com/Zhima-Mochi/storefront/internal/application/payment"
	domorder "github.com/Zhima-Mochi/storefront/internal/domain/order"
)

type orderLineRequest struct {
	ProductName string          `json:"product_name" validate:"required"`
	VariantName string          `json:"variant_name"`
	ProductSKU  string          `json:"sku"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	IdempotencyKey  string             `json:"idempotency_key"`
	Channel         string             `json:"channel" validate:"required"`
	UserID          string             `json:"user_id"`
	Email           string             `json:"email" validate:"required,email"`
	Currency        string             `json:"currency" validate:"required,len=3"`
	Lines           []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
	ShippingPrice   decimal.Decimal    `json:"shipping_price"`
	BillingAddress  *domorder.Address  `json:"billing_address"`
	ShippingAddress *domorder.Address  `json:"shipping_address"`
	ShippingMethod  string             `json:"shipping_method"`
	LanguageCode    string             `json:"language_code"`
	Metadata        map[string]string  `json:"metadata"`
}

type createOrderResponse struct {
	OrderID string          `json:"order_id"`
	Number  int64           `json:"number"`
	Token   string          `json:"token"`
	Status  domorder.Status `json:"status"`
	Total   decimal.Decimal `json:"total"`
}

type orderLineResponse struct {
	ID                string          `json:"id"`
	ProductName       string          `json:"product_name"`
	VariantName       string          `json:"variant_name,omitempty"`
	ProductSKU        string          `json:"sku,omitempty"`
	Quantity          int             `json:"quantity"`
	QuantityFulfilled int             `json:"quantity_fulfilled"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
}

type orderEventResponse struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	Date       time.Time      `json:"date"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type orderResponse struct {
	ID              string               `json:"id"`
	Number          int64                `json:"number"`
	Channel         string               `json:"channel"`
	UserEmail       string               `json:"user_email"`
	Status          string               `json:"status"`
	ChargeStatus    string               `json:"charge_status"`
	AuthorizeStatus string               `json:"authorize_status"`
	Currency        string               `json:"currency"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	ShippingPrice   decimal.Decimal      `json:"shipping_price"`
	Total           decimal.Decimal      `json:"total"`
	TotalCharged    decimal.Decimal      `json:"total_charged"`
	TotalAuthorized decimal.Decimal      `json:"total_authorized"`
	Lines           []orderLineResponse  `json:"lines"`
	Events          []orderEventResponse `json:"events"`
	CreatedAt       time.Time            `json:"created_at"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	out := orderResponse{
		ID:              o.ID,
		Number:          o.Number,
		Channel:         o.ChannelSlug,
		UserEmail:       o.UserEmail,
		Status:          string(o.Status),
		ChargeStatus:    string(o.ChargeStatus),
		AuthorizeStatus: string(o.AuthorizeStatus),
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		ShippingPrice:   o.ShippingPrice,
		Total:           o.Total,
		TotalCharged:    o.TotalCharged,
		TotalAuthorized: o.TotalAuthorized,
		Lines:           make([]orderLineResponse, 0, len(o.Lines)),
		Events:          make([]orderEventResponse, 0, len(o.Events)),
		CreatedAt:       o.CreatedAt,
	}
	for _, l := range o.Lines {
		out.Lines = append(out.Lines, orderLineResponse{
			ID:                l.ID,
			ProductName:       l.ProductName,
			VariantName:       l.VariantName,
			ProductSKU:        l.ProductSKU,
			Quantity:          l.Quantity,
			QuantityFulfilled: l.QuantityFulfilled,
			UnitPrice:         l.UnitPrice,
			TotalPrice:        l.TotalPrice(),
		})
	}
	for _, e := range o.Events {
		out.Events = append(out.Events, orderEventResponse{
			Type:       string(e.Type),
			UserID:     e.UserID,
			Date:       e.Date,
			Parameters: e.Parameters,
		})
	}
	return out
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(headerIdempotencyKey)
	}
	lines := make([]apporder.LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, apporder.LineInput{
			ProductName: l.ProductName,
			VariantName: l.VariantName,
			ProductSKU:  l.ProductSKU,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}

	result, err := h.svc.CreateOrder.Execute(r.Context(), apporder.CreateOrderInput{
		IdempotencyKey:     key,
		ChannelSlug:        req.Channel,
		UserID:             req.UserID,
		Email:              req.Email,
		Currency:           strings.ToUpper(req.Currency),
		Lines:              lines,
		ShippingPrice:      req.ShippingPrice,
		BillingAddress:     req.BillingAddress,
		ShippingAddress:    req.ShippingAddress,
		ShippingMethodName: req.ShippingMethod,
		LanguageCode:       req.LanguageCode,
		Metadata:           req.Metadata,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID: result.OrderID,
		Number:  result.Number,
		Token:   result.Token,
		Status:  result.Status,
		Total:   result.Total,
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	h.writeOrder(w, r, o, err)
}

func (h *Handler) handleListOrderPayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Orders.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	payments, err := h.svc.Payments.ListByOrder(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.ConfirmOrder(r.Context(), chi.URLParam(r, "id"))
	h.writeOrder(w, r, o, err)
}

type cancelOrderRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	o, err := h.svc.Orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.UserID)
	h.writeOrder(w, r, o, err)
}

type fulfillOrderRequest struct {
	// Lines maps order line ids to the quantity being fulfilled.
	Lines map[string]int `json:"lines" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) handleFulfillOrder(w http.ResponseWriter, r *http.Request) {
	var req fulfillOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	o, err := h.svc.Orders.FulfillOrder(r.Context(), chi.URLParam(r, "id"), req.Lines)
	h.writeOrder(w, r, o, err)
}

type markAsPaidRequest struct {
	PSPReference string `json:"psp_reference"`
}

// handleMarkAsPaid records the order total as paid outside any gateway.
func (h *Handler) handleMarkAsPaid(w http.ResponseWriter, r *http.Request) {
	var req markAsPaidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	o, err := h.svc.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.svc.Payments.MarkAsPaid(r.Context(), apppayment.MarkAsPaidInput{
		OrderID:      o.ID,
		Total:        o.Total,
		Currency:     o.Currency,
		Email:        o.UserEmail,
		PSPReference: req.PSPReference,
		ChannelSlug:  o.ChannelSlug,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (h *Handler) handleSendOrderConfirmation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Orders.SendOrderConfirmation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, o *domorder.Order, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
