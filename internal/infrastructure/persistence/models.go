package persistence

import (
	"time"

	"github.com/shopspring/decimal"

	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

type paymentModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	Gateway           string `gorm:"size:255;not null"`
	IsActive          bool
	ToConfirm         bool
	ChargeStatus      string              `gorm:"size:32;not null"`
	Total             decimal.Decimal     `gorm:"type:numeric(20,3);not null"`
	CapturedAmount    decimal.Decimal     `gorm:"type:numeric(20,3);not null"`
	Currency          string              `gorm:"size:3;not null"`
	OrderID           string              `gorm:"size:64;index"`
	CheckoutToken     string              `gorm:"size:64"`
	CustomerEmail     string              `gorm:"size:254"`
	CustomerIPAddress string              `gorm:"size:64"`
	BillingAddress    *dompay.AddressData `gorm:"serializer:json"`
	ShippingAddress   *dompay.AddressData `gorm:"serializer:json"`
	Token             string              `gorm:"size:512"`
	PSPReference      string              `gorm:"size:512;index"`
	CCBrand           string              `gorm:"size:40"`
	CCFirstDigits     string              `gorm:"size:6"`
	CCLastDigits      string              `gorm:"size:4"`
	CCExpMonth        int
	CCExpYear         int
	PaymentMethodType string             `gorm:"size:256"`
	Transactions      []transactionModel `gorm:"foreignKey:PaymentID"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (paymentModel) TableName() string { return "payments" }

type transactionModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	PaymentID        string `gorm:"size:64;index;not null"`
	Kind             string `gorm:"size:32;not null"`
	IsSuccess        bool
	ActionRequired   bool
	ActionData       map[string]any  `gorm:"serializer:json"`
	Token            string          `gorm:"size:512"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,3);not null"`
	Currency         string          `gorm:"size:3"`
	Error            string          `gorm:"size:256"`
	CustomerID       string          `gorm:"size:256"`
	GatewayResponse  map[string]any  `gorm:"serializer:json"`
	AlreadyProcessed bool
	CreatedAt        time.Time `gorm:"index"`
}

func (transactionModel) TableName() string { return "payment_transactions" }

func paymentFromDomain(p *dompay.Payment) *paymentModel {
	return &paymentModel{
		ID:                p.ID,
		Gateway:           p.Gateway,
		IsActive:          p.IsActive,
		ToConfirm:         p.ToConfirm,
		ChargeStatus:      string(p.ChargeStatus),
		Total:             p.Total,
		CapturedAmount:    p.CapturedAmount,
		Currency:          p.Currency,
		OrderID:           p.OrderID,
		CheckoutToken:     p.CheckoutToken,
		CustomerEmail:     p.CustomerEmail,
		CustomerIPAddress: p.CustomerIPAddress,
		BillingAddress:    p.BillingAddress,
		ShippingAddress:   p.ShippingAddress,
		Token:             p.Token,
		PSPReference:      p.PSPReference,
		CCBrand:           p.CCBrand,
		CCFirstDigits:     p.CCFirstDigits,
		CCLastDigits:      p.CCLastDigits,
		CCExpMonth:        p.CCExpMonth,
		CCExpYear:         p.CCExpYear,
		PaymentMethodType: p.PaymentMethodType,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (m *paymentModel) toDomain() *dompay.Payment {
	p := &dompay.Payment{
		ID:                m.ID,
		Gateway:           m.Gateway,
		IsActive:          m.IsActive,
		ToConfirm:         m.ToConfirm,
		ChargeStatus:      dompay.ChargeStatus(m.ChargeStatus),
		Total:             m.Total,
		CapturedAmount:    m.CapturedAmount,
		Currency:          m.Currency,
		OrderID:           m.OrderID,
		CheckoutToken:     m.CheckoutToken,
		CustomerEmail:     m.CustomerEmail,
		CustomerIPAddress: m.CustomerIPAddress,
		BillingAddress:    m.BillingAddress,
		ShippingAddress:   m.ShippingAddress,
		Token:             m.Token,
		PSPReference:      m.PSPReference,
		CCBrand:           m.CCBrand,
		CCFirstDigits:     m.CCFirstDigits,
		CCLastDigits:      m.CCLastDigits,
		CCExpMonth:        m.CCExpMonth,
		CCExpYear:         m.CCExpYear,
		PaymentMethodType: m.PaymentMethodType,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	for _, t := range m.Transactions {
		p.Transactions = append(p.Transactions, t.toDomain())
	}
	return p
}

func transactionFromDomain(t *dompay.Transaction) *transactionModel {
	return &transactionModel{
		ID:               t.ID,
		PaymentID:        t.PaymentID,
		Kind:             string(t.Kind),
		IsSuccess:        t.IsSuccess,
		ActionRequired:   t.ActionRequired,
		ActionData:       t.ActionData,
		Token:            t.Token,
		Amount:           t.Amount,
		Currency:         t.Currency,
		Error:            t.Error,
		CustomerID:       t.CustomerID,
		GatewayResponse:  t.GatewayResponse,
		AlreadyProcessed: t.AlreadyProcessed,
		CreatedAt:        t.CreatedAt,
	}
}

func (m transactionModel) toDomain() dompay.Transaction {
	return dompay.Transaction{
		ID:               m.ID,
		PaymentID:        m.PaymentID,
		Kind:             dompay.TransactionKind(m.Kind),
		IsSuccess:        m.IsSuccess,
		ActionRequired:   m.ActionRequired,
		ActionData:       m.ActionData,
		Token:            m.Token,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Error:            m.Error,
		CustomerID:       m.CustomerID,
		GatewayResponse:  m.GatewayResponse,
		AlreadyProcessed: m.AlreadyProcessed,
		CreatedAt:        m.CreatedAt,
	}
}

type webhookModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:255;not null"`
	AppID         string `gorm:"size:64;index"`
	TargetURL     string `gorm:"size:255;not null"`
	SecretKey     string `gorm:"size:255"`
	IsActive      bool
	Events        []string          `gorm:"serializer:json"`
	CustomHeaders map[string]string `gorm:"serializer:json"`
	CreatedAt     time.Time
}

func (webhookModel) TableName() string { return "webhooks" }

func webhookFromDomain(w *domwebhook.Webhook) *webhookModel {
	events := make([]string, 0, len(w.Events))
	for _, e := range w.Events {
		events = append(events, string(e))
	}
	return &webhookModel{
		ID:            w.ID,
		Name:          w.Name,
		AppID:         w.AppID,
		TargetURL:     w.TargetURL,
		SecretKey:     w.SecretKey,
		IsActive:      w.IsActive,
		Events:        events,
		CustomHeaders: w.CustomHeaders,
		CreatedAt:     w.CreatedAt,
	}
}

func (m *webhookModel) toDomain() *domwebhook.Webhook {
	events := make([]domwebhook.EventType, 0, len(m.Events))
	for _, e := range m.Events {
		events = append(events, domwebhook.EventType(e))
	}
	return &domwebhook.Webhook{
		ID:            m.ID,
		Name:          m.Name,
		AppID:         m.AppID,
		TargetURL:     m.TargetURL,
		SecretKey:     m.SecretKey,
		IsActive:      m.IsActive,
		Events:        events,
		CustomHeaders: m.CustomHeaders,
		CreatedAt:     m.CreatedAt,
	}
}

type deliveryModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	WebhookID string `gorm:"size:64;index;not null"`
	EventType string `gorm:"size:255;not null"`
	Payload   []byte
	Status    string `gorm:"size:255;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (deliveryModel) TableName() string { return "webhook_event_deliveries" }

func deliveryFromDomain(d *domwebhook.EventDelivery) *deliveryModel {
	return &deliveryModel{
		ID:        d.ID,
		WebhookID: d.WebhookID,
		EventType: string(d.EventType),
		Payload:   d.Payload,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (m *deliveryModel) toDomain() *domwebhook.EventDelivery {
	return &domwebhook.EventDelivery{
		ID:        m.ID,
		WebhookID: m.WebhookID,
		EventType: domwebhook.EventType(m.EventType),
		Payload:   m.Payload,
		Status:    domwebhook.DeliveryStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type attemptModel struct {
	ID                 string `gorm:"primaryKey;size:64"`
	DeliveryID         string `gorm:"size:64;index;not null"`
	TaskID             string `gorm:"size:255"`
	DurationMillis     int64
	Response           string
	ResponseHeaders    map[string]string `gorm:"serializer:json"`
	ResponseStatusCode int
	RequestHeaders     map[string]string `gorm:"serializer:json"`
	Status             string            `gorm:"size:255;not null"`
	CreatedAt          time.Time         `gorm:"index"`
}

func (attemptModel) TableName() string { return "webhook_event_delivery_attempts" }

func attemptFromDomain(a *domwebhook.EventDeliveryAttempt) *attemptModel {
	return &attemptModel{
		ID:                 a.ID,
		DeliveryID:         a.DeliveryID,
		TaskID:             a.TaskID,
		DurationMillis:     a.Duration.Milliseconds(),
		Response:           a.Response,
		ResponseHeaders:    a.ResponseHeaders,
		ResponseStatusCode: a.ResponseStatusCode,
		RequestHeaders:     a.RequestHeaders,
		Status:             string(a.Status),
		CreatedAt:          a.CreatedAt,
	}
}

func (m *attemptModel) toDomain() *domwebhook.EventDeliveryAttempt {
	return &domwebhook.EventDeliveryAttempt{
		ID:                 m.ID,
		DeliveryID:         m.DeliveryID,
		TaskID:             m.TaskID,
		Duration:           time.Duration(m.DurationMillis) * time.Millisecond,
		Response:           m.Response,
		ResponseHeaders:    m.ResponseHeaders,
		ResponseStatusCode: m.ResponseStatusCode,
		RequestHeaders:     m.RequestHeaders,
		Status:             domwebhook.DeliveryStatus(m.Status),
		CreatedAt:          m.CreatedAt,
	}
}
