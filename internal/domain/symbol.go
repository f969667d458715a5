package domain

import "strings"

// Contract suffixes the exchange and alert source are known to append.
// Stripped before separator removal so "BTCUSDT_UMCBL" and "BTCUSDT.P"
// both collapse to "BTCUSDT".
var symbolSuffixes = []string{
	".P",       // TradingView perpetual marker
	"_UMCBL",   // Bitget USDT-margined futures (v1 naming)
	"_DMCBL",   // coin-margined
	"_CMCBL",   // USDC-margined
	"_SUMCBL",  // demo USDT-margined
	"_SDMCBL",  // demo coin-margined
	".PERP",    // generic perp marker
}

// CanonicalSymbol maps any exchange/alert spelling of a symbol to the
// canonical key used to join ledger entries with position snapshots.
// It is idempotent: CanonicalSymbol(CanonicalSymbol(x)) == CanonicalSymbol(x).
func CanonicalSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))

	// Exchange prefix, e.g. "BINANCE:BTCUSDT".
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}

	for _, suffix := range symbolSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}

	// Drop remaining separators and any other non-alphanumerics.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
