// Package configstore lists the symbols the pipeline tracks.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSymbol is returned for empty symbols or config ids.
var ErrInvalidSymbol = errors.New("invalid tracked symbol")

// TrackedSymbol is one dashboard configuration tracking a symbol.
type TrackedSymbol struct {
	ConfigID string
	Symbol   string
	Enabled  bool
}

// SymbolSource provides the tracked symbols. Polled once per cycle.
type SymbolSource interface {
	ListTrackedSymbols(ctx context.Context) ([]TrackedSymbol, error)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GroupBySymbol maps each symbol to the config ids tracking it.
// Symbols and ids are sorted.
func GroupBySymbol(tracked []TrackedSymbol) (symbols []string, configs map[string][]string) {
	configs = make(map[string][]string)
	for _, t := range tracked {
		if !t.Enabled || t.Symbol == "" {
			continue
		}
		if _, ok := configs[t.Symbol]; !ok {
			symbols = append(symbols, t.Symbol)
		}
		configs[t.Symbol] = append(configs[t.Symbol], t.ConfigID)
	}
	sort.Strings(symbols)
	for _, ids := range configs {
		sort.Strings(ids)
	}
	return symbols, configs
}

// Static serves a fixed symbol list.
type Static struct {
	symbols []TrackedSymbol
}

// NewStatic creates a Static source. Each symbol gets the config id
// "static:<SYMBOL>". Duplicates and blanks are dropped.
func NewStatic(symbols []string) *Static {
	seen := make(map[string]struct{}, len(symbols))
	s := &Static{}
	for _, raw := range symbols {
		sym := NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		s.symbols = append(s.symbols, TrackedSymbol{
			ConfigID: fmt.Sprintf("static:%s", sym),
			Symbol:   sym,
			Enabled:  true,
		})
	}
	sort.Slice(s.symbols, func(i, j int) bool { return s.symbols[i].Symbol < s.symbols[j].Symbol })
	return s
}

// ListTrackedSymbols returns a copy of the configured symbols.
func (s *Static) ListTrackedSymbols(_ context.Context) ([]TrackedSymbol, error) {
	return append([]TrackedSymbol(nil), s.symbols...), nil
}

var (
	_ SymbolSource = (*Static)(nil)
	_ SymbolSource = (*SQLite)(nil)
)
