package qa

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/registry"
	"github.com/sells-group/finq/internal/resolve"
)

var fold = cases.Fold()

// FormatAnswer renders an instance value as a sentence. A fact's output
// template wins; otherwise the value's shape picks a default rendering.
func FormatAnswer(spec *registry.Spec, inst *model.FactInstance, params map[string]any) string {
	if spec != nil && spec.OutputTemplate != "" {
		values := make(map[string]any, len(params)+1)
		for k, v := range params {
			values[k] = v
		}
		values["value"] = inst.Value
		return resolve.RenderTemplate(spec.OutputTemplate, values)
	}

	switch v := inst.Value.(type) {
	case map[string]any:
		return formatDict(v, params)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ", ")
	case float64:
		return fmt.Sprintf("The result is $%.2f.", v)
	case int64:
		return fmt.Sprintf("The result is $%d.", v)
	default:
		return fmt.Sprintf("The result is %v.", v)
	}
}

// formatDict answers a category question directly when the asked-for
// category is a key; otherwise it lists every entry.
func formatDict(v map[string]any, params map[string]any) string {
	if cat, ok := params["category"].(string); ok {
		for key, val := range v {
			if fold.String(key) != fold.String(cat) {
				continue
			}
			if amount, ok := toFloat(val); ok {
				return fmt.Sprintf("You spent $%.2f on %s.", math.Abs(amount), key)
			}
			return fmt.Sprintf("%s: %v", key, val)
		}
		return fmt.Sprintf("No spending found for %s.", cat)
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if amount, ok := toFloat(v[k]); ok {
			lines = append(lines, fmt.Sprintf("%s: $%.2f", k, math.Abs(amount)))
		} else {
			lines = append(lines, fmt.Sprintf("%s: %v", k, v[k]))
		}
	}
	return strings.Join(lines, "\n")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
