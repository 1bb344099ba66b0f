// Package symbols normalizes venue-specific instrument names onto the
// canonical form used in artifacts, fill ledgers and configuration:
// uppercase, no separators, BTC rather than XBT, no contract multipliers.
package symbols

import "strings"

// multiplied maps venue symbols that embed a 1000x contract multiplier onto
// the plain pair.
var multiplied = map[string]string{
	"1000BONKUSDT": "BONKUSDT",
	"1000PEPEUSDT": "PEPEUSDT",
	"1000SHIBUSDT": "SHIBUSDT",
	"SHIB1000USDT": "SHIBUSDT",
}

// Canonical converts a symbol as named by the given venue or data vendor
// into canonical form. Unknown venues are assumed to already use it.
// Currently supported: binance, bybit, kucoin, coinbase, kraken, okx.
func Canonical(venue, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(venue) {
	case "binance", "bybit":
		if plain, ok := multiplied[sym]; ok {
			sym = plain
		}
	case "coinbase":
		sym = strings.ReplaceAll(sym, "-", "")
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// others already use the desired format
	}
	return sym
}

// CanonicalAll converts a symbol list in place order, preserving duplicates.
func CanonicalAll(venue string, syms []string) []string {
	out := make([]string, len(syms))
	for i, s := range syms {
		out[i] = Canonical(venue, s)
	}
	return out
}

// binanceMultiplied is the inverse of multiplied for the symbols Binance
// lists with a contract multiplier.
var binanceMultiplied = map[string]string{
	"BONKUSDT": "1000BONKUSDT",
	"PEPEUSDT": "1000PEPEUSDT",
	"SHIBUSDT": "1000SHIBUSDT",
}

// ToBinance converts a canonical symbol into the name Binance futures uses.
func ToBinance(sym string) string {
	sym = strings.ToUpper(sym)
	if venue, ok := binanceMultiplied[sym]; ok {
		return venue
	}
	return sym
}
