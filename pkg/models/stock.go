package models

import (
	"strings"
	"time"
)

// StockUpdate represents a single market tick for a stock symbol
type StockUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic counter per symbol
}

// Time returns the tick timestamp.
func (u StockUpdate) Time() time.Time {
	return time.UnixMicro(u.Timestamp)
}

// Quote is a resolved current price for one symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// QuoteFromUpdate converts the latest tick into a Quote.
func QuoteFromUpdate(u StockUpdate) Quote {
	return Quote{Symbol: u.Symbol, Price: u.Price, Timestamp: u.Time()}
}

// NormalizeSymbol trims whitespace and upper-cases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
