package httppresentation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appaccount "github.com/Zhima-Mochi/storefront/internal/application/account"
	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
)

type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	IsStaff      bool      `json:"is_staff"`
	IsActive     bool      `json:"is_active"`
	LanguageCode string    `json:"language_code"`
	CreatedAt    time.Time `json:"created_at"`
}

func toUserResponse(u *domaccount.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		IsStaff:      u.IsStaff,
		IsActive:     u.IsActive,
		LanguageCode: u.LanguageCode,
		CreatedAt:    u.CreatedAt,
	}
}

type registerRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
	RedirectURL  string `json:"redirect_url" validate:"omitempty,url"`
	Channel      string `json:"channel"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.Register(r.Context(), appaccount.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		LanguageCode: req.LanguageCode,
		RedirectURL:  req.RedirectURL,
		Channel:      req.Channel,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

type passwordResetRequest struct {
	Email       string `json:"email" validate:"required,email"`
	RedirectURL string `json:"redirect_url" validate:"required,url"`
	Channel     string `json:"channel"`
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !u.IsActive {
		h.writeDomainError(w, r, domaccount.ErrInactive)
		return
	}
	if err := h.svc.Accounts.SendPasswordResetNotification(r.Context(), req.RedirectURL, u, req.Channel, u.IsStaff); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type setPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.ResetPassword(r.Context(), req.Email, req.Token, req.Password)
	h.writeUser(w, r, u, err)
}

type confirmAccountRequest struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required"`
}

func (h *Handler) handleConfirmAccount(w http.ResponseWriter, r *http.Request) {
	var req confirmAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.ConfirmAccount(r.Context(), req.Email, req.Token)
	h.writeUser(w, r, u, err)
}

type emailChangeRequest struct {
	NewEmail    string `json:"new_email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	RedirectURL string `json:"redirect_url" validate:"required,url"`
	Channel     string `json:"channel"`
}

func (h *Handler) handleRequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !u.CheckPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	if _, err := h.svc.Accounts.GetByEmail(r.Context(), req.NewEmail); err == nil {
		h.writeDomainError(w, r, domaccount.ErrConflict)
		return
	}
	if err := h.svc.Accounts.SendRequestEmailChange(r.Context(), req.RedirectURL, u, req.NewEmail, req.Channel); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type tokenRequest struct {
	Token   string `json:"token" validate:"required"`
	Channel string `json:"channel"`
}

func (h *Handler) handleConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.ConfirmEmailChange(r.Context(), chi.URLParam(r, "id"), req.Token, req.Channel)
	h.writeUser(w, r, u, err)
}

type deleteRequest struct {
	RedirectURL string `json:"redirect_url" validate:"required,url"`
	Channel     string `json:"channel"`
}

func (h *Handler) handleRequestDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	u, err := h.svc.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.svc.Accounts.SendAccountDeleteConfirmation(r.Context(), req.RedirectURL, u, req.Channel); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := h.svc.Accounts.DeleteAccount(r.Context(), chi.URLParam(r, "id"), req.Token); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, u *domaccount.User, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
