package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/idhash"
)

const baseTS = int64(1_700_000_000_000)

func ptr(f float64) *float64 { return &f }

func item(p domain.Provider, ts int64, title, body string, score, conf *float64) domain.RawItem {
	return domain.RawItem{
		Provider:    p,
		Symbol:      "AAPL",
		PublishedAt: ts,
		ContentHash: idhash.ComputeContentHash(title, body),
		Title:       title,
		Body:        body,
		RawScore:    score,
		Confidence:  conf,
	}
}

func TestMergeItems_IdenticalHashMergesSources(t *testing.T) {
	items := []domain.RawItem{
		item(domain.ProviderPrimary, baseTS, "Apple beats earnings", "Strong quarter", ptr(0.8), ptr(0.9)),
		item(domain.ProviderSecondary, baseTS+2000, "Apple beats earnings", "Strong quarter", ptr(0.4), ptr(0.3)),
	}

	events, stats := MergeItems("AAPL", items, DefaultConfig())
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, []domain.Provider{domain.ProviderPrimary, domain.ProviderSecondary}, e.Sources)
	assert.Equal(t, baseTS, e.Timestamp)
	assert.InDelta(t, (0.8*0.9+0.4*0.3)/(0.9+0.3), e.SentimentScore, 1e-9)
	assert.InDelta(t, 0.9, e.Confidence, 1e-9)
	assert.Equal(t, idhash.ComputeEventID("AAPL", baseTS, items[0].ContentHash), e.EventID)

	assert.Equal(t, 2, stats.Collisions)
	assert.Equal(t, 1, stats.ExactMatches)
	assert.InDelta(t, 1.0, stats.CollisionRate, 1e-9)
}

func TestMergeItems_FuzzyMatch(t *testing.T) {
	items := []domain.RawItem{
		item(domain.ProviderPrimary, baseTS, "Apple beats quarterly earnings estimates", "", ptr(0.5), nil),
		item(domain.ProviderSecondary, baseTS+time.Minute.Milliseconds(), "Apple beats quarterly earnings estimates again", "", ptr(0.7), nil),
	}

	events, stats := MergeItems("AAPL", items, DefaultConfig())
	require.Len(t, events, 1)
	assert.Equal(t, 1, stats.FuzzyMatches)
	assert.InDelta(t, 0.6, events[0].SentimentScore, 1e-9)
	assert.Equal(t, items[0].ContentHash, events[0].ContentHash)
}

func TestMergeItems_FuzzyRequiresWindowAndDifferentProviders(t *testing.T) {
	title := "Apple beats quarterly earnings estimates"
	similar := "Apple beats quarterly earnings estimates again"

	t.Run("outside window", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, title, "", nil, nil),
			item(domain.ProviderSecondary, baseTS+(10*time.Minute).Milliseconds(), similar, "", nil, nil),
		}
		events, stats := MergeItems("AAPL", items, DefaultConfig())
		assert.Len(t, events, 2)
		assert.Zero(t, stats.CollisionRate)
	})

	t.Run("same provider", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, title, "", nil, nil),
			item(domain.ProviderPrimary, baseTS+1000, similar, "", nil, nil),
		}
		events, _ := MergeItems("AAPL", items, DefaultConfig())
		assert.Len(t, events, 2)
	})

	t.Run("dissimilar", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, title, "", nil, nil),
			item(domain.ProviderSecondary, baseTS+1000, "Oil prices slump on supply glut", "", nil, nil),
		}
		events, _ := MergeItems("AAPL", items, DefaultConfig())
		assert.Len(t, events, 2)
	})
}

func TestMergeItems_CollisionRateBoundaries(t *testing.T) {
	t.Run("no overlap", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, "alpha news", "", nil, nil),
			item(domain.ProviderSecondary, baseTS+(20*time.Minute).Milliseconds(), "beta story", "", nil, nil),
		}
		_, stats := MergeItems("AAPL", items, DefaultConfig())
		assert.Equal(t, 0.0, stats.CollisionRate)
	})

	t.Run("every secondary duplicates a primary", func(t *testing.T) {
		var items []domain.RawItem
		for i, title := range []string{"alpha news", "beta story", "gamma report"} {
			ts := baseTS + int64(i)*time.Hour.Milliseconds()
			items = append(items,
				item(domain.ProviderPrimary, ts, title, "", nil, nil),
				item(domain.ProviderSecondary, ts+500, title, "", nil, nil),
			)
		}
		events, stats := MergeItems("AAPL", items, DefaultConfig())
		assert.Len(t, events, 3)
		assert.Equal(t, 1.0, stats.CollisionRate)
	})

	t.Run("empty", func(t *testing.T) {
		events, stats := MergeItems("AAPL", nil, DefaultConfig())
		assert.Empty(t, events)
		assert.Equal(t, 0.0, stats.CollisionRate)
		assert.Zero(t, stats.TotalRaw)
	})
}

func TestMergeItems_ScoreRules(t *testing.T) {
	t.Run("missing confidence weighs one", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, "same", "", ptr(1), nil),
			item(domain.ProviderSecondary, baseTS, "same", "", ptr(0), ptr(0.5)),
		}
		events, _ := MergeItems("AAPL", items, DefaultConfig())
		require.Len(t, events, 1)
		assert.InDelta(t, 1.0/1.5, events[0].SentimentScore, 1e-9)
		assert.InDelta(t, 0.5, events[0].Confidence, 1e-9)
	})

	t.Run("unscored items do not contribute", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, "same", "", nil, ptr(1)),
			item(domain.ProviderSecondary, baseTS, "same", "", ptr(-0.4), nil),
		}
		events, _ := MergeItems("AAPL", items, DefaultConfig())
		require.Len(t, events, 1)
		assert.InDelta(t, -0.4, events[0].SentimentScore, 1e-9)
	})

	t.Run("zero confidence falls back to plain mean", func(t *testing.T) {
		items := []domain.RawItem{
			item(domain.ProviderPrimary, baseTS, "same", "", ptr(0.2), ptr(0)),
			item(domain.ProviderSecondary, baseTS, "same", "", ptr(0.4), ptr(0)),
		}
		events, _ := MergeItems("AAPL", items, DefaultConfig())
		require.Len(t, events, 1)
		assert.InDelta(t, 0.3, events[0].SentimentScore, 1e-9)
	})
}

func TestMergeItems_OrderIndependentAndSorted(t *testing.T) {
	a := item(domain.ProviderPrimary, baseTS+3000, "third story", "", ptr(0.1), nil)
	b := item(domain.ProviderSecondary, baseTS, "first story entirely different", "", ptr(0.2), nil)
	c := item(domain.ProviderPrimary, baseTS+(30*time.Minute).Milliseconds(), "last one", "", ptr(0.3), nil)

	ev1, _ := MergeItems("AAPL", []domain.RawItem{a, b, c}, DefaultConfig())
	ev2, _ := MergeItems("AAPL", []domain.RawItem{c, a, b}, DefaultConfig())
	require.Equal(t, ev1, ev2)

	require.Len(t, ev1, 3)
	for i := 1; i < len(ev1); i++ {
		assert.LessOrEqual(t, ev1[i-1].Timestamp, ev1[i].Timestamp)
	}
}

func TestMergeItems_IgnoresOtherSymbols(t *testing.T) {
	other := item(domain.ProviderPrimary, baseTS, "msft news", "", nil, nil)
	other.Symbol = "MSFT"

	events, stats := MergeItems("AAPL", []domain.RawItem{other}, DefaultConfig())
	assert.Empty(t, events)
	assert.Zero(t, stats.TotalRaw)
}

func TestMergeItems_MatchHashesCoverEveryMember(t *testing.T) {
	items := []domain.RawItem{
		item(domain.ProviderPrimary, baseTS, "Apple beats quarterly earnings estimates", "", ptr(0.5), nil),
		item(domain.ProviderSecondary, baseTS+time.Minute.Milliseconds(), "Apple beats quarterly earnings estimates again", "", ptr(0.7), nil),
	}

	events, _ := MergeItems("AAPL", items, DefaultConfig())
	require.Len(t, events, 1)
	assert.ElementsMatch(t, []string{items[0].ContentHash, items[1].ContentHash}, events[0].MatchHashes)
}
