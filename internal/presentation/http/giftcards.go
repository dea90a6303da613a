package httppresentation

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	appgiftcard "github.com/Zhima-Mochi/storefront/internal/application/giftcard"
	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
)

type giftCardResponse struct {
	ID             string          `json:"id"`
	DisplayCode    string          `json:"display_code"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Currency       string          `json:"currency"`
	IsActive       bool            `json:"is_active"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	CreatedByEmail string          `json:"created_by_email,omitempty"`
	Events         []string        `json:"events"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toGiftCardResponse(g *domgift.GiftCard) giftCardResponse {
	out := giftCardResponse{
		ID:             g.ID,
		DisplayCode:    g.DisplayCode(),
		InitialBalance: g.InitialBalance,
		CurrentBalance: g.CurrentBalance,
		Currency:       g.Currency,
		IsActive:       g.IsActive,
		ExpiryDate:     g.ExpiryDate,
		CreatedByEmail: g.CreatedByEmail,
		Events:         make([]string, 0, len(g.Events)),
		CreatedAt:      g.CreatedAt,
	}
	for _, e := range g.Events {
		out.Events = append(out.Events, string(e.Type))
	}
	return out
}

type issueGiftCardRequest struct {
	Code           string          `json:"code" validate:"required"`
	Balance        decimal.Decimal `json:"balance"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	ExpiryDate     *time.Time      `json:"expiry_date"`
	CreatedByEmail string          `json:"created_by_email" validate:"omitempty,email"`
}

func (h *Handler) handleIssueGiftCard(w http.ResponseWriter, r *http.Request) {
	var req issueGiftCardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	g, err := h.svc.GiftCards.Issue(r.Context(), appgiftcard.IssueInput{
		Code:           req.Code,
		Balance:        req.Balance,
		Currency:       strings.ToUpper(req.Currency),
		ExpiryDate:     req.ExpiryDate,
		CreatedByEmail: req.CreatedByEmail,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGiftCardResponse(g))
}

func (h *Handler) handleGetGiftCard(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GiftCards.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGiftCardResponse(g))
}

type sendGiftCardRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Channel         string `json:"channel" validate:"required"`
	CustomerID      string `json:"customer_id"`
	RequesterUserID string `json:"requester_user_id"`
	AppID           string `json:"app_id"`
	Resending       bool   `json:"resending"`
}

func (h *Handler) handleSendGiftCard(w http.ResponseWriter, r *http.Request) {
	var req sendGiftCardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	var customer *domaccount.User
	if req.CustomerID != "" {
		u, err := h.svc.Accounts.Get(r.Context(), req.CustomerID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		customer = u
	}
	err := h.svc.GiftCards.SendGiftCardNotification(r.Context(), appgiftcard.SendInput{
		RequesterUserID: req.RequesterUserID,
		AppID:           req.AppID,
		Customer:        customer,
		Email:           req.Email,
		GiftCardID:      chi.URLParam(r, "id"),
		Channel:         req.Channel,
		Resending:       req.Resending,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
