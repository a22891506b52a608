package extract

import (
	"strings"

	"github.com/local/docpipeline/internal/templates"
)

// Coerce filters obj down to the template's declared variables and
// normalises placeholder values. Keys the template does not declare are
// dropped and counted; declared keys the model omitted come back as
// explicit nulls so the result always carries the template's shape;
// "N/A" and empty strings become null; variables with nested properties
// recurse. Values of declared keys are otherwise passed through
// untouched, arrays included.
func Coerce(t *templates.Template, obj map[string]any) (map[string]any, int) {
	return coerceLevel(t.Variables, obj)
}

func coerceLevel(vars []templates.Variable, obj map[string]any) (map[string]any, int) {
	declared := make(map[string]*templates.Variable, len(vars))
	for i := range vars {
		declared[vars[i].Name] = &vars[i]
	}

	out := make(map[string]any, len(vars))
	dropped := 0
	for key, val := range obj {
		v, ok := declared[key]
		if !ok {
			dropped++
			continue
		}
		coerced, d := coerceValue(v, val)
		dropped += d
		out[key] = coerced
	}
	for name := range declared {
		if _, ok := out[name]; !ok {
			out[name] = nil
		}
	}
	return out, dropped
}

func coerceValue(v *templates.Variable, val any) (any, int) {
	if s, ok := val.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" || strings.EqualFold(trimmed, "N/A") {
			return nil, 0
		}
		return val, 0
	}
	if len(v.Properties) > 0 {
		nested, ok := val.(map[string]any)
		if !ok {
			// declared as a group but the model answered with
			// something else: null it rather than leak the shape
			return nil, 0
		}
		out, dropped := coerceLevel(v.Properties, nested)
		return out, dropped
	}
	return val, 0
}
