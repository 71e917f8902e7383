package provider

import (
	"fmt"
	"math"
	"strings"

	"sentiment-pipeline/internal/domain"
)

// ValidateRawItem checks a decoded sentiment item.
func ValidateRawItem(item domain.RawItem) error {
	if strings.TrimSpace(item.Symbol) == "" {
		return fmt.Errorf("missing symbol")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("missing title")
	}
	if item.PublishedAt <= 0 {
		return fmt.Errorf("missing published_at")
	}
	if item.ContentHash == "" {
		return fmt.Errorf("missing content hash")
	}
	if item.RawScore != nil {
		if !isFinite(*item.RawScore) {
			return fmt.Errorf("non-finite sentiment score")
		}
		if *item.RawScore < -1 || *item.RawScore > 1 {
			return fmt.Errorf("sentiment score %v out of [-1, 1]", *item.RawScore)
		}
	}
	if item.Confidence != nil {
		if !isFinite(*item.Confidence) {
			return fmt.Errorf("non-finite confidence")
		}
		if *item.Confidence < 0 || *item.Confidence > 1 {
			return fmt.Errorf("confidence %v out of [0, 1]", *item.Confidence)
		}
	}
	return nil
}

// ValidateCandle checks a decoded OHLC candle.
func ValidateCandle(c domain.Candle) error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("missing symbol")
	}
	if c.Date <= 0 {
		return fmt.Errorf("missing date")
	}
	prices := []struct {
		name string
		v    float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close},
	}
	for _, p := range prices {
		if !isFinite(p.v) {
			return fmt.Errorf("non-finite %s price", p.name)
		}
		if p.v < 0 {
			return fmt.Errorf("negative %s price", p.name)
		}
	}
	if c.High < c.Low {
		return fmt.Errorf("high %v below low %v", c.High, c.Low)
	}
	if !isFinite(c.Volume) {
		return fmt.Errorf("non-finite volume")
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume")
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
