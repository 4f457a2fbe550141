package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate_Substitution(t *testing.T) {
	out := RenderTemplate("You spent {{value}} on {{category}}.", map[string]any{
		"value":    -95.5,
		"category": "Groceries",
	})
	assert.Equal(t, "You spent -95.5 on Groceries.", out)
}

func TestRenderTemplate_UnknownKeyRendersEmpty(t *testing.T) {
	out := RenderTemplate("start={{start_date}}", map[string]any{})
	assert.Equal(t, "start=", out)
}

func TestRenderTemplate_IntStaysIntegral(t *testing.T) {
	out := RenderTemplate("{{n}}", map[string]any{"n": int64(5)})
	assert.Equal(t, "5", out)
}

func TestCoerceScalar(t *testing.T) {
	assert.Equal(t, int64(5), CoerceScalar("5"))
	assert.Equal(t, 2.5, CoerceScalar("2.5"))
	assert.Equal(t, "2025-01-01", CoerceScalar("2025-01-01"))
	assert.Equal(t, "groceries", CoerceScalar("groceries"))
}
