// Package money converts integer minor units to decimal amounts for display.
// Ledger arithmetic never leaves int64 minor units.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorDigits lists ISO-4217 currencies whose minor unit is not 2 digits.
var minorDigits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if d, ok := minorDigits[strings.ToUpper(currency)]; ok {
		return d
	}
	return 2
}

// ToDecimal converts minor units to a major-unit decimal.
func ToDecimal(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders minor units with the currency's fixed precision, e.g.
// Format(5000, "BRL") == "50.00".
func Format(minor int64, currency string) string {
	return ToDecimal(minor, currency).StringFixed(Exponent(currency))
}
