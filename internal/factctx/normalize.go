// Package factctx canonicalizes fact contexts so that semantically equal
// parameter maps hash to the same content address.
package factctx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// transientKeys never participate in cache identity: they identify the
// requesting principal or the transport, not the computation.
var transientKeys = map[string]bool{
	"user":       true,
	"request":    true,
	"session_id": true,
}

// IsTransient reports whether a context key is excluded from cache
// identity.
func IsTransient(key string) bool {
	return transientKeys[key]
}

// Normalize returns the canonical form of a context value. Maps are
// stripped of transient keys at every nesting level, dates become ISO-8601
// strings, and every numeric representation collapses to int64 or float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		clean := make(map[string]any, len(val))
		for k, child := range val {
			if transientKeys[k] {
				continue
			}
			clean[k] = Normalize(child)
		}
		return clean
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Normalize(child)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Normalize(child)
		}
		return out
	case time.Time:
		return formatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return formatTime(*val)
	case decimal.Decimal:
		f, _ := val.Float64()
		return f
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

// NormalizeMap normalizes a context map, always returning a non-nil map.
func NormalizeMap(ctx map[string]any) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return Normalize(ctx).(map[string]any)
}

// Hash returns the SHA-256 hex digest of the normalized context serialized
// as sorted-key JSON. This digest is the cache key: stable across runs and
// processes for the same logical input.
func Hash(ctx map[string]any) (string, error) {
	norm := NormalizeMap(ctx)
	// encoding/json emits map keys in sorted order with ',' and ':'
	// separators, which is exactly the canonical serialization needed.
	raw, err := json.Marshal(norm)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// formatTime renders midnight-UTC values as plain dates so that a date and
// its ISO string representation hash identically.
func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}
