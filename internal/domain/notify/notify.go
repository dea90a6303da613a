// Package notify names the events that plugins can turn into emails, texts or webhooks.
package notify

// EventType identifies a notification. Values are stable; templates and
// external apps key on them.
type EventType string

const (
	AccountConfirmation          EventType = "account_confirmation"
	AccountPasswordReset         EventType = "account_password_reset"
	AccountChangeEmailRequest    EventType = "account_change_email_request"
	AccountChangeEmailConfirm    EventType = "account_change_email_confirm"
	AccountDelete                EventType = "account_delete"
	AccountSetCustomerPassword   EventType = "account_set_customer_password"
	InvoiceReady                 EventType = "invoice_ready"
	OrderConfirmation            EventType = "order_confirmation"
	OrderConfirmed               EventType = "order_confirmed"
	OrderFulfillmentConfirmation EventType = "order_fulfillment_confirmation"
	OrderFulfillmentUpdate       EventType = "order_fulfillment_update"
	OrderPaymentConfirmation     EventType = "order_payment_confirmation"
	OrderCanceled                EventType = "order_canceled"
	OrderRefundConfirmation      EventType = "order_refund_confirmation"
	SendGiftCard                 EventType = "send_gift_card"

	AccountSetStaffPassword   EventType = "account_set_staff_password"
	AccountStaffResetPassword EventType = "account_staff_reset_password"
	CSVExportSuccess          EventType = "csv_export_success"
	CSVExportFailed           EventType = "csv_export_failed"
	StaffOrderConfirmation    EventType = "staff_order_confirmation"
)

// UserEvents are addressed to customers.
var UserEvents = []EventType{
	AccountConfirmation,
	AccountPasswordReset,
	AccountChangeEmailRequest,
	AccountChangeEmailConfirm,
	AccountDelete,
	AccountSetCustomerPassword,
	InvoiceReady,
	OrderConfirmation,
	OrderConfirmed,
	OrderFulfillmentConfirmation,
	OrderFulfillmentUpdate,
	OrderPaymentConfirmation,
	OrderCanceled,
	OrderRefundConfirmation,
	SendGiftCard,
}

// AdminEvents are addressed to staff members.
var AdminEvents = []EventType{
	AccountSetStaffPassword,
	AccountStaffResetPassword,
	CSVExportSuccess,
	CSVExportFailed,
	StaffOrderConfirmation,
}

var (
	userSet  = toSet(UserEvents)
	adminSet = toSet(AdminEvents)
)

func toSet(events []EventType) map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(events))
	for _, e := range events {
		m[e] = struct{}{}
	}
	return m
}

func (e EventType) IsUser() bool {
	_, ok := userSet[e]
	return ok
}

func (e EventType) IsAdmin() bool {
	_, ok := adminSet[e]
	return ok
}

func (e EventType) IsValid() bool { return e.IsUser() || e.IsAdmin() }

func (e EventType) String() string { return string(e) }

// Payload is the JSON-shaped data handed to notify plugins.
type Payload map[string]any

// Recipient returns the recipient_email entry, if any.
func (p Payload) Recipient() string {
	s, _ := p["recipient_email"].(string)
	return s
}

// Recipients returns the recipient_list entry used by staff notifications.
func (p Payload) Recipients() []string {
	switch v := p["recipient_list"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
