package domain

// Candle is one daily OHLC bar.
type Candle struct {
	Symbol string   `json:"symbol"`
	Date   int64    `json:"date"` // Unix timestamp in milliseconds, start of day UTC
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume float64  `json:"volume"`
	Source Provider `json:"source"`
}

// OHLCResponse is the result of an OHLC query served to dashboard clients.
type OHLCResponse struct {
	Symbol    string   `json:"symbol"`
	Candles   []Candle `json:"candles"`
	Source    Provider `json:"source"`
	FetchedAt int64    `json:"fetchedAt"`
	ExpiresAt int64    `json:"expiresAt"` // cache expiry hint
	Stale     bool     `json:"stale"`     // served from last-known cache
}

// TimeRange is a half-open [From, To) interval in Unix milliseconds.
type TimeRange struct {
	From int64
	To   int64
}

// Contains reports whether ts lies within the range.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.From && ts < r.To
}
