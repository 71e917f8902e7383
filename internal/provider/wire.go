package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/idhash"
)

// Canonical wire shapes. Payloads are key-normalized before decoding so
// snake_case and camelCase providers share these structs.

type sentimentPayload struct {
	Items []sentimentWire `json:"items"`
}

type sentimentWire struct {
	Symbol         string   `json:"symbol"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	PublishedAt    wireTime `json:"published_at"`
	SentimentScore *float64 `json:"sentiment_score"`
	Confidence     *float64 `json:"confidence"`
}

type ohlcPayload struct {
	Candles []candleWire `json:"candles"`
}

type candleWire struct {
	Date   string   `json:"date"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

// wireTime accepts RFC 3339 strings or Unix milliseconds.
type wireTime int64

func (t *wireTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = 0
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse time %q: %w", s, err)
		}
		*t = wireTime(parsed.UnixMilli())
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse epoch millis %q: %w", data, err)
	}
	*t = wireTime(ms)
	return nil
}

const dateLayout = "2006-01-02"

func (w sentimentWire) toRawItem(p domain.Provider, symbol string, fetchedAt int64) (domain.RawItem, error) {
	itemSymbol := strings.TrimSpace(w.Symbol)
	if itemSymbol == "" {
		itemSymbol = symbol
	}
	if !strings.EqualFold(itemSymbol, symbol) {
		return domain.RawItem{}, fmt.Errorf("item symbol %q does not match requested %q", itemSymbol, symbol)
	}

	item := domain.RawItem{
		Provider:    p,
		Symbol:      symbol,
		PublishedAt: int64(w.PublishedAt),
		Title:       strings.TrimSpace(w.Title),
		Body:        strings.TrimSpace(w.Summary),
		RawScore:    w.SentimentScore,
		Confidence:  w.Confidence,
		FetchedAt:   fetchedAt,
	}
	item.ContentHash = idhash.ComputeContentHash(item.Title, item.Body)

	if err := ValidateRawItem(item); err != nil {
		return domain.RawItem{}, err
	}
	return item, nil
}

func (w candleWire) toCandle(p domain.Provider, symbol string) (domain.Candle, error) {
	if w.Date == "" {
		return domain.Candle{}, fmt.Errorf("missing date")
	}
	date, err := time.Parse(dateLayout, w.Date)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse date %q: %w", w.Date, err)
	}

	fields := []struct {
		name string
		v    *float64
	}{
		{"open", w.Open}, {"high", w.High}, {"low", w.Low}, {"close", w.Close}, {"volume", w.Volume},
	}
	for _, f := range fields {
		if f.v == nil {
			return domain.Candle{}, fmt.Errorf("missing %s", f.name)
		}
	}

	c := domain.Candle{
		Symbol: symbol,
		Date:   date.UTC().UnixMilli(),
		Open:   *w.Open,
		High:   *w.High,
		Low:    *w.Low,
		Close:  *w.Close,
		Volume: *w.Volume,
		Source: p,
	}
	if err := ValidateCandle(c); err != nil {
		return domain.Candle{}, err
	}
	return c, nil
}
