package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies without minor units (ISO 4217 exponent 0).
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorToMajor converts an amount in minor units (cents) to major units.
func MinorToMajor(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
