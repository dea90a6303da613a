// Package notification builds notify payloads and turns notify events into emails.
package notification

import (
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domorder "github.com/Zhima-Mochi/storefront/internal/domain/order"
)

// Site identifies the storefront in every payload.
type Site struct {
	Name   string
	Domain string
}

// Context returns the site_name and domain entries.
func (s Site) Context() map[string]any {
	return map[string]any{
		"site_name": s.Name,
		"domain":    s.Domain,
	}
}

// WithSite copies the site context into p and returns it.
func WithSite(p notify.Payload, s Site) notify.Payload {
	if p == nil {
		p = notify.Payload{}
	}
	for k, v := range s.Context() {
		p[k] = v
	}
	return p
}

func UserPayload(u *domaccount.User) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"is_staff":      u.IsStaff,
		"is_active":     u.IsActive,
		"language_code": u.LanguageCode,
		"metadata":      stringMap(u.Metadata),
	}
}

// OrderPayload describes an order for templates. redirectURL, when set, is
// used to build order_details_url with the order token.
func OrderPayload(o *domorder.Order, redirectURL string) map[string]any {
	lines := make([]map[string]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, map[string]any{
			"id":                 l.ID,
			"product_name":       l.ProductName,
			"variant_name":       l.VariantName,
			"product_sku":        l.ProductSKU,
			"quantity":           l.Quantity,
			"quantity_fulfilled": l.QuantityFulfilled,
			"unit_price":         money(l.UnitPrice),
			"total_price":        money(l.TotalPrice()),
			"currency":           o.Currency,
		})
	}
	payload := map[string]any{
		"id":                   o.ID,
		"number":               o.Number,
		"token":                o.Token,
		"channel_slug":         o.ChannelSlug,
		"created":              o.CreatedAt.Format(time.RFC3339),
		"status":               string(o.Status),
		"charge_status":        string(o.ChargeStatus),
		"user_email":           o.UserEmail,
		"currency":             o.Currency,
		"lines":                lines,
		"subtotal":             money(o.Subtotal),
		"shipping_price":       money(o.ShippingPrice),
		"total":                money(o.Total),
		"total_charged":        money(o.TotalCharged),
		"shipping_method_name": o.ShippingMethodName,
		"language_code":        o.LanguageCode,
		"billing_address":      addressPayload(o.BillingAddress),
		"shipping_address":     addressPayload(o.ShippingAddress),
	}
	if redirectURL != "" {
		payload["order_details_url"] = detailsURL(redirectURL, o.Token)
	}
	return payload
}

// OrderNotification is the payload of every order notify event.
func OrderNotification(o *domorder.Order, redirectURL string, site Site) notify.Payload {
	return WithSite(notify.Payload{
		"order":           OrderPayload(o, redirectURL),
		"recipient_email": o.UserEmail,
		"channel_slug":    o.ChannelSlug,
	}, site)
}

func GiftCardPayload(g *domgift.GiftCard) map[string]any {
	payload := map[string]any{
		"id":              g.ID,
		"code":            g.Code,
		"display_code":    g.DisplayCode(),
		"initial_balance": money(g.InitialBalance),
		"current_balance": money(g.CurrentBalance),
		"currency":        g.Currency,
		"is_active":       g.IsActive,
	}
	if g.ExpiryDate != nil {
		payload["expiry_date"] = g.ExpiryDate.Format("2006-01-02")
	}
	return payload
}

func addressPayload(a *domorder.Address) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"first_name":       a.FirstName,
		"last_name":        a.LastName,
		"company_name":     a.CompanyName,
		"street_address_1": a.StreetAddress1,
		"street_address_2": a.StreetAddress2,
		"city":             a.City,
		"city_area":        a.CityArea,
		"postal_code":      a.PostalCode,
		"country":          a.Country,
		"country_area":     a.CountryArea,
		"phone":            a.Phone,
	}
}

func detailsURL(redirectURL, token string) string {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return redirectURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
