package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// CanonicalKey converts a provider field name to its canonical snake_case form.
// "publishedAt", "PublishedAt", "published_at" and "published-at" all map to
// "published_at"; acronym runs are kept together ("sourceURL" -> "source_url").
func CanonicalKey(key string) string {
	runes := []rune(key)
	var b strings.Builder
	b.Grow(len(key) + 4)

	for i, r := range runes {
		if r == '-' || r == ' ' || r == '_' {
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
					b.WriteByte('_')
				}
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSuffix(b.String(), "_")
}

// NormalizeKeys rewrites every object key in a JSON document to its canonical
// form. Values are left untouched; numbers keep their original text.
func NormalizeKeys(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode: trailing data after document")
	}

	out, err := json.Marshal(normalizeValue(doc))
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out, nil
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			ck := CanonicalKey(k)
			// An exact canonical spelling wins over a converted one.
			if _, exists := out[ck]; exists && k != ck {
				continue
			}
			out[ck] = normalizeValue(inner)
		}
		return out
	case []interface{}:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	default:
		return v
	}
}
