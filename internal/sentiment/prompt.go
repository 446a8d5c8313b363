package sentiment

import (
	"fmt"
	"strings"

	"market-pulse/internal/domain"
)

const analysisPrompt = `You are writing a short market pulse for a crypto audience on X.

Current market snapshot (24h):
- BTC: price $%.2f, change %+.2f%%, volume $%.0f
- ETH: price $%.2f, change %+.2f%%, volume $%.0f

In two or three sentences, describe how ETH is moving relative to BTC, whether the two are
correlated or diverging, and what the volume says about conviction.
Rules:
- Plain text only, no headings, no lists, no hashtags.
- Never fabricate data beyond the numbers above.
- Keep it under 180 characters.`

// BuildPrompt renders the analysis request for one BTC/ETH pair.
func BuildPrompt(btc, eth domain.AssetSnapshot) string {
	return fmt.Sprintf(analysisPrompt,
		btc.CurrentPrice, btc.PriceChangePercentage24h, btc.TotalVolume,
		eth.CurrentPrice, eth.PriceChangePercentage24h, eth.TotalVolume,
	)
}

// pair extracts the tracked assets from a fetch result.
func pair(snapshots map[string]domain.AssetSnapshot) (domain.AssetSnapshot, domain.AssetSnapshot, error) {
	if missing := domain.MissingSymbols(snapshots); len(missing) > 0 {
		return domain.AssetSnapshot{}, domain.AssetSnapshot{}, fmt.Errorf("missing market data for %s", strings.Join(missing, ","))
	}
	return snapshots[domain.SymbolBTC], snapshots[domain.SymbolETH], nil
}
