package factctx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_StripsTransientKeys(t *testing.T) {
	ctx := map[string]any{
		"category":   "groceries",
		"user":       "u-123",
		"request":    "r-456",
		"session_id": "s-789",
		"nested": map[string]any{
			"user": "u-123",
			"keep": 1,
		},
	}

	norm := NormalizeMap(ctx)

	assert.NotContains(t, norm, "user")
	assert.NotContains(t, norm, "request")
	assert.NotContains(t, norm, "session_id")
	nested := norm["nested"].(map[string]any)
	assert.NotContains(t, nested, "user")
	assert.Equal(t, int64(1), nested["keep"])
}

func TestNormalize_DatesAndDecimals(t *testing.T) {
	ctx := map[string]any{
		"date":    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		"stamp":   time.Date(2023, 1, 1, 9, 30, 0, 0, time.UTC),
		"decimal": decimal.RequireFromString("10.5"),
		"number":  json.Number("42"),
		"ratio":   json.Number("0.25"),
		"count":   int32(7),
	}

	norm := NormalizeMap(ctx)

	assert.Equal(t, "2023-01-01", norm["date"])
	assert.Equal(t, "2023-01-01T09:30:00Z", norm["stamp"])
	assert.Equal(t, 10.5, norm["decimal"])
	assert.Equal(t, int64(42), norm["number"])
	assert.Equal(t, 0.25, norm["ratio"])
	assert.Equal(t, int64(7), norm["count"])
}

func TestHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_DateEqualsISOString(t *testing.T) {
	h1, err := Hash(map[string]any{"d": time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"d": "2023-01-01"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_DecimalEqualsFloat(t *testing.T) {
	h1, err := Hash(map[string]any{"amount": decimal.RequireFromString("10.5")})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"amount": 10.5})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_TransientKeysDoNotAffectIdentity(t *testing.T) {
	h1, err := Hash(map[string]any{"category": "food", "user": "alice"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"category": "food"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_DiffersOnValueChange(t *testing.T) {
	h1, err := Hash(map[string]any{"category": "food"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"category": "rent"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHash_NilAndEmptyContextMatch(t *testing.T) {
	h1, err := Hash(nil)
	require.NoError(t, err)
	h2, err := Hash(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
