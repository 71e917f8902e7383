package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"published_at", "published_at"},
		{"publishedAt", "published_at"},
		{"PublishedAt", "published_at"},
		{"published-at", "published_at"},
		{"sentimentScore", "sentiment_score"},
		{"sourceURL", "source_url"},
		{"URLSource", "url_source"},
		{"q3Revenue", "q3_revenue"},
		{"volume", "volume"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.in))
		})
	}
}

func TestNormalizeKeys_Nested(t *testing.T) {
	in := []byte(`{"items":[{"publishedAt":"2024-01-10T13:47:00Z","sentimentScore":0.25,"meta":{"sourceURL":"x"}}]}`)

	out, err := NormalizeKeys(in)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))

	items := doc["items"].([]interface{})
	item := items[0].(map[string]interface{})
	assert.Equal(t, "2024-01-10T13:47:00Z", item["published_at"])
	assert.Equal(t, 0.25, item["sentiment_score"])
	assert.Equal(t, "x", item["meta"].(map[string]interface{})["source_url"])
}

func TestNormalizeKeys_SnakeAndCamelDecodeIdentically(t *testing.T) {
	snake := []byte(`{"items":[{"title":"t","published_at":"2024-01-10T13:47:00Z","sentiment_score":0.5}]}`)
	camel := []byte(`{"items":[{"title":"t","publishedAt":"2024-01-10T13:47:00Z","sentimentScore":0.5}]}`)

	a, err := NormalizeKeys(snake)
	require.NoError(t, err)
	b, err := NormalizeKeys(camel)
	require.NoError(t, err)

	assert.JSONEq(t, string(a), string(b))
}

func TestNormalizeKeys_CanonicalSpellingWins(t *testing.T) {
	out, err := NormalizeKeys([]byte(`{"published_at":"a","publishedAt":"b"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"published_at":"a"}`, string(out))
}

func TestNormalizeKeys_PreservesNumberText(t *testing.T) {
	out, err := NormalizeKeys([]byte(`{"volume":12345678901234567890}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"volume":12345678901234567890}`, string(out))
}

func TestNormalizeKeys_Invalid(t *testing.T) {
	_, err := NormalizeKeys([]byte(`{"items":`))
	assert.Error(t, err)

	_, err = NormalizeKeys([]byte(`{} {}`))
	assert.Error(t, err)
}
