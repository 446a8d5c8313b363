package domain

import "strings"

// AssetSnapshot is a point-in-time read of one asset's market data.
type AssetSnapshot struct {
	Symbol                   string  `json:"symbol"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	TotalVolume              float64 `json:"total_volume"`
}

const (
	SymbolBTC = "BTC"
	SymbolETH = "ETH"
)

// TrackedSymbols lists the assets every cycle reports on.
var TrackedSymbols = []string{SymbolBTC, SymbolETH}

// CoinGeckoID maps internal symbols to CoinGecko API identifiers.
var CoinGeckoID = map[string]string{
	SymbolBTC: "bitcoin",
	SymbolETH: "ethereum",
}

// MissingSymbols returns the tracked symbols absent from snapshots.
func MissingSymbols(snapshots map[string]AssetSnapshot) []string {
	var missing []string
	for _, sym := range TrackedSymbols {
		if _, ok := snapshots[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	return missing
}

// NormalizeSymbol upper-cases a CoinGecko symbol ("btc" -> "BTC").
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
