// Package gateway holds helpers shared by the payment processor adapters.
package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by card processors.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// Precision returns the number of minor unit digits for currency.
func Precision(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// ToMinorUnits converts 12.34 USD into 1234.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Precision(currency)).Round(0).IntPart()
}

// FromMinorUnits converts 1234 USD into 12.34.
func FromMinorUnits(value int64, currency string) decimal.Decimal {
	return decimal.New(value, -Precision(currency))
}
