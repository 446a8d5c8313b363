// Package tweet turns an analysis into a length-bounded post.
package tweet

import (
	"fmt"
	"time"
	"unicode/utf8"

	"market-pulse/internal/domain"

	"github.com/dustin/go-humanize"
)

const (
	DefaultMinLength      = 120
	DefaultHardStopLength = 280

	// HashtagSuffix is appended verbatim to posts shorter than MinLength.
	HashtagSuffix = " #Crypto #ETH #BTC"

	ellipsis        = "..."
	timestampLayout = "2006-01-02 15:04:05"
)

// Formatter builds the outbound message. Lengths are counted in characters.
type Formatter struct {
	MinLength      int
	HardStopLength int
	Now            func() time.Time
}

// NewFormatter returns a Formatter with the given bounds; non-positive
// values fall back to the defaults.
func NewFormatter(minLength, hardStopLength int) *Formatter {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if hardStopLength <= len(ellipsis) {
		hardStopLength = DefaultHardStopLength
	}
	return &Formatter{
		MinLength:      minLength,
		HardStopLength: hardStopLength,
		Now:            time.Now,
	}
}

// Header renders the dated price block that precedes the analysis.
func (f *Formatter) Header(btc, eth domain.AssetSnapshot) string {
	return fmt.Sprintf("ETH/BTC Market Pulse - %s\nBTC: %s\nETH: %s\n\n",
		f.now().Format(timestampLayout), priceLine(btc), priceLine(eth))
}

// Format assembles header and analysis, truncates to HardStopLength and
// pads short posts with the hashtag suffix. The suffix is not checked
// against the hard stop again.
func (f *Formatter) Format(analysis string, btc, eth domain.AssetSnapshot) string {
	msg := f.Header(btc, eth) + analysis

	if utf8.RuneCountInString(msg) > f.HardStopLength {
		runes := []rune(msg)
		msg = string(runes[:f.HardStopLength-len(ellipsis)]) + ellipsis
	}

	if utf8.RuneCountInString(msg) < f.MinLength {
		msg += HashtagSuffix
	}
	return msg
}

func (f *Formatter) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

// priceLine renders "$50,000.00 (2.34%)".
func priceLine(s domain.AssetSnapshot) string {
	return fmt.Sprintf("$%s (%.2f%%)", humanize.FormatFloat("#,###.##", s.CurrentPrice), s.PriceChangePercentage24h)
}
