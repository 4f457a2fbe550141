package resolve

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

// RenderTemplate substitutes {{key}} placeholders with values from the
// given map. Unknown keys render as empty; a literal dollar formatting of
// floats avoids exponent notation in derived contexts and answers.
func RenderTemplate(tmpl string, values map[string]any) string {
	return fasttemplate.ExecuteFuncString(tmpl, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		v, ok := values[strings.TrimSpace(tag)]
		if !ok || v == nil {
			return 0, nil
		}
		return io.WriteString(w, formatValue(v))
	})
}

// CoerceScalar converts numeric-looking strings into int64 or float64;
// everything else passes through unchanged.
func CoerceScalar(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
