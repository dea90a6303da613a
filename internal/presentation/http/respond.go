package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appaccount "github.com/Zhima-Mochi/storefront/internal/application/account"
	appgiftcard "github.com/Zhima-Mochi/storefront/internal/application/giftcard"
	apporder "github.com/Zhima-Mochi/storefront/internal/application/order"
	apppayment "github.com/Zhima-Mochi/storefront/internal/application/payment"
	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	domorder "github.com/Zhima-Mochi/storefront/internal/domain/order"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code,omitempty"`
	Details []fieldDetail `json:"details,omitempty"`
}

type fieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// decodeJSON reads a JSON body into dst and validates it. An empty body
// decodes to the zero value so optional-body endpoints accept it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return fmt.Errorf("invalid request body: %w", err)
	default:
		if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
			return errors.New("invalid request body: unexpected data after JSON value")
		}
	}
	return validate.Struct(dst)
}

// writeDecodeError answers a body that failed decoding or validation.
func writeDecodeError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	details := make([]fieldDetail, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, fieldDetail{Field: e.Namespace(), Message: validationMessage(e)})
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request validation failed", Details: details})
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "url":
		return "Invalid URL"
	case "min":
		return "Must be at least " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	default:
		return "Invalid value"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps application and domain errors onto status codes.
// Unexpected errors are logged and answered without detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var payErr *dompay.PaymentError
	var gwErr *dompay.GatewayError
	switch {
	case errors.As(err, &payErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: payErr.Message, Code: payErr.Code})
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, dompay.ErrNotFound),
		errors.Is(err, domwebhook.ErrNotFound),
		errors.Is(err, domgift.ErrNotFound),
		errors.Is(err, domaccount.ErrNotFound),
		errors.Is(err, apporder.ErrNotFound),
		errors.Is(err, plugin.ErrGatewayNotFound),
		errors.Is(err, plugin.ErrPluginNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domorder.ErrConflict),
		errors.Is(err, apporder.ErrConflict),
		errors.Is(err, dompay.ErrConflict),
		errors.Is(err, domaccount.ErrConflict),
		errors.Is(err, domorder.ErrInvalidStateTransition),
		errors.Is(err, domwebhook.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, appaccount.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, apporder.ErrValidation),
		errors.Is(err, apppayment.ErrValidation),
		errors.Is(err, appaccount.ErrValidation),
		errors.Is(err, appgiftcard.ErrValidation),
		errors.Is(err, appwebhook.ErrValidation),
		errors.Is(err, domorder.ErrOverFulfilled),
		errors.Is(err, domorder.ErrUnknownLine),
		errors.Is(err, domaccount.ErrWeakPassword),
		errors.Is(err, domaccount.ErrInactive),
		errors.Is(err, domgift.ErrInactive):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &gwErr):
		writeError(w, http.StatusBadGateway, dompay.GenericGatewayError)
	default:
		logctx.FromOr(r.Context(), h.log).Error("http_unhandled_error",
			observability.F("route", routeFromContext(r.Context())),
			observability.F("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
