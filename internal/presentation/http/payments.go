package httppresentation

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apppayment "github.com/Zhima-Mochi/storefront/internal/application/payment"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
)

type transactionResponse struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	IsSuccess      bool            `json:"is_success"`
	ActionRequired bool            `json:"action_required"`
	ActionData     map[string]any  `json:"action_required_data,omitempty"`
	Token          string          `json:"token"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type paymentResponse struct {
	ID                string                `json:"id"`
	Gateway           string                `json:"gateway"`
	IsActive          bool                  `json:"is_active"`
	ToConfirm         bool                  `json:"to_confirm"`
	ChargeStatus      string                `json:"charge_status"`
	Total             decimal.Decimal       `json:"total"`
	CapturedAmount    decimal.Decimal       `json:"captured_amount"`
	Currency          string                `json:"currency"`
	OrderID           string                `json:"order_id,omitempty"`
	PSPReference      string                `json:"psp_reference,omitempty"`
	CCBrand           string                `json:"cc_brand,omitempty"`
	CCLastDigits      string                `json:"cc_last_digits,omitempty"`
	CCExpMonth        int                   `json:"cc_exp_month,omitempty"`
	CCExpYear         int                   `json:"cc_exp_year,omitempty"`
	PaymentMethodType string                `json:"payment_method_type,omitempty"`
	Transactions      []transactionResponse `json:"transactions"`
	CreatedAt         time.Time             `json:"created_at"`
}

func toTransactionResponse(t *dompay.Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		Kind:           string(t.Kind),
		IsSuccess:      t.IsSuccess,
		ActionRequired: t.ActionRequired,
		ActionData:     t.ActionData,
		Token:          t.Token,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
	}
}

func toPaymentResponse(p *dompay.Payment) paymentResponse {
	out := paymentResponse{
		ID:                p.ID,
		Gateway:           p.Gateway,
		IsActive:          p.IsActive,
		ToConfirm:         p.ToConfirm,
		ChargeStatus:      string(p.ChargeStatus),
		Total:             p.Total,
		CapturedAmount:    p.CapturedAmount,
		Currency:          p.Currency,
		OrderID:           p.OrderID,
		PSPReference:      p.PSPReference,
		CCBrand:           p.CCBrand,
		CCLastDigits:      p.CCLastDigits,
		CCExpMonth:        p.CCExpMonth,
		CCExpYear:         p.CCExpYear,
		PaymentMethodType: p.PaymentMethodType,
		Transactions:      make([]transactionResponse, 0, len(p.Transactions)),
		CreatedAt:         p.CreatedAt,
	}
	for i := range p.Transactions {
		out.Transactions = append(out.Transactions, toTransactionResponse(&p.Transactions[i]))
	}
	return out
}

func (h *Handler) handleListGateways(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gateways := h.svc.Plugins.ListPaymentGateways(strings.ToUpper(q.Get("currency")), q.Get("channel"))
	if gateways == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, gateways)
}

type clientTokenRequest struct {
	Channel    string `json:"channel"`
	CustomerID string `json:"customer_id"`
}

func (h *Handler) handleClientToken(w http.ResponseWriter, r *http.Request) {
	var req clientTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	token, err := h.svc.Plugins.GetClientToken(r.Context(), chi.URLParam(r, "id"),
		dompay.ClientTokenRequest{CustomerID: req.CustomerID}, req.Channel)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type createPaymentRequest struct {
	OrderID  string              `json:"order_id"`
	Gateway  string              `json:"gateway" validate:"required"`
	Total    decimal.Decimal     `json:"total"`
	Currency string              `json:"currency" validate:"required,len=3"`
	Email    string              `json:"email" validate:"omitempty,email"`
	Billing  *dompay.AddressData `json:"billing_address"`
	Shipping *dompay.AddressData `json:"shipping_address"`
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	p, err := h.svc.Payments.CreatePayment(r.Context(), apppayment.CreatePaymentInput{
		OrderID:           req.OrderID,
		Gateway:           req.Gateway,
		Total:             req.Total,
		Currency:          strings.ToUpper(req.Currency),
		Email:             req.Email,
		CustomerIPAddress: clientIP(r),
		Billing:           req.Billing,
		Shipping:          req.Shipping,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type processPaymentRequest struct {
	Token       string         `json:"token"`
	Channel     string         `json:"channel"`
	CustomerID  string         `json:"customer_id"`
	StoreSource bool           `json:"store_source"`
	Data        map[string]any `json:"data"`
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	txn, err := h.svc.Payments.ProcessPayment(r.Context(), apppayment.ProcessInput{
		PaymentID:      chi.URLParam(r, "id"),
		Token:          req.Token,
		ChannelSlug:    req.Channel,
		CustomerID:     req.CustomerID,
		StoreSource:    req.StoreSource,
		AdditionalData: req.Data,
	})
	h.writeTransaction(w, r, txn, err)
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	txn, err := h.svc.Payments.Authorize(r.Context(), apppayment.AuthorizeInput{
		PaymentID:   chi.URLParam(r, "id"),
		Token:       req.Token,
		ChannelSlug: req.Channel,
		CustomerID:  req.CustomerID,
		StoreSource: req.StoreSource,
	})
	h.writeTransaction(w, r, txn, err)
}

type amountRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	Channel string           `json:"channel"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	txn, err := h.svc.Payments.Capture(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Channel)
	h.writeTransaction(w, r, txn, err)
}

type refundLineRequest struct {
	LineID   string `json:"line_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type refundRequest struct {
	Amount             *decimal.Decimal    `json:"amount"`
	Channel            string              `json:"channel"`
	Lines              []refundLineRequest `json:"lines" validate:"dive"`
	RefundShippingCost bool                `json:"refund_shipping_cost"`
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	var refund *dompay.RefundData
	if len(req.Lines) > 0 || req.RefundShippingCost {
		refund = &dompay.RefundData{RefundShippingCost: req.RefundShippingCost}
		for _, l := range req.Lines {
			refund.Lines = append(refund.Lines, dompay.RefundLine{LineID: l.LineID, Quantity: l.Quantity})
		}
	}
	txn, err := h.svc.Payments.Refund(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Channel, refund)
	h.writeTransaction(w, r, txn, err)
}

type channelRequest struct {
	Channel string `json:"channel"`
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	txn, err := h.svc.Payments.Void(r.Context(), chi.URLParam(r, "id"), req.Channel)
	h.writeTransaction(w, r, txn, err)
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	txn, err := h.svc.Payments.Confirm(r.Context(), chi.URLParam(r, "id"), req.Channel, req.Data)
	h.writeTransaction(w, r, txn, err)
}

func (h *Handler) writeTransaction(w http.ResponseWriter, r *http.Request, txn *dompay.Transaction, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// clientIP prefers the first X-Forwarded-For hop over the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
