package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents lists the currencies whose minor unit is not the cent.
var currencyExponents = map[string]int32{
	// zero-decimal
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "jpy": 0, "kmf": 0, "krw": 0, "mga": 0,
	"pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0, "xof": 0, "xpf": 0,
	// three-decimal
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// CurrencyExponent returns the number of decimals of the currency minor unit.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToLower(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts amount to the smallest unit of currency, e.g. dollars to cents.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// RoundAmount rounds amount to the precision of currency.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyExponent(currency))
}
