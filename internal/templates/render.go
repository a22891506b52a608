package templates

import (
	"fmt"
	"strings"
)

// Overrides narrows template parameters per request. Zero values leave
// the template's own settings in place; Temperature is a pointer so an
// explicit 0 still counts.
type Overrides struct {
	Temperature   *float64
	MaxTokens     int
	MaxTextLength int
	TimeoutSec    int
}

// Rendered carries the final prompts and the effective parameters for
// one extraction call.
type Rendered struct {
	SystemPrompt string
	UserPrompt   string
	Params       Parameters
}

// Render substitutes the template placeholders. The input text is
// truncated to the smaller of the override and template limits;
// placeholders are replaced literally, inserted text is never rescanned.
func (t *Template) Render(text string, ov Overrides) Rendered {
	params := t.Parameters
	if ov.Temperature != nil {
		params.Temperature = *ov.Temperature
	}
	if ov.MaxTokens > 0 {
		params.MaxTokens = ov.MaxTokens
	}
	if ov.TimeoutSec > 0 {
		params.TimeoutSec = ov.TimeoutSec
	}

	limit := params.MaxTextLength
	if ov.MaxTextLength > 0 && ov.MaxTextLength < limit {
		limit = ov.MaxTextLength
	}
	if len(text) > limit {
		text = text[:limit]
	}

	r := strings.NewReplacer(
		"{variables_list}", t.varsList,
		"{text}", text,
		"{json_schema}", t.schema,
	)
	return Rendered{
		SystemPrompt: t.SystemPrompt,
		UserPrompt:   r.Replace(t.UserPromptTemplate),
		Params:       params,
	}
}

// finalise precomputes the schema string and variables list.
func (t *Template) finalise() {
	t.schema = buildSchema(t)
	t.varsList = buildVariablesList(t.Variables, 0)
}

// buildSchema renders the variable tree as an indented pseudo-JSON
// block with <type (required|optional)> leaves, followed by the
// null-handling instruction.
func buildSchema(t *Template) string {
	fields := make([]string, 0, len(t.Variables))
	for _, v := range t.Variables {
		fields = append(fields, buildFieldSchema(v, 1))
	}

	schema := "{\n" + strings.Join(fields, ",\n") + "\n}"
	if t.OutputFormat.NullHandling != "" {
		schema += "\n\n" + t.OutputFormat.NullHandling
	}
	return schema
}

func buildFieldSchema(v Variable, indent int) string {
	pad := strings.Repeat("  ", indent)
	marker := " (optional)"
	if v.Required {
		marker = " (required)"
	}

	if len(v.Properties) > 0 {
		nested := make([]string, 0, len(v.Properties))
		for _, p := range v.Properties {
			nested = append(nested, buildFieldSchema(p, indent+1))
		}
		block := "{\n" + strings.Join(nested, ",\n") + "\n" + pad + "  }"
		return fmt.Sprintf("%s%q: %s%s", pad, v.Name, block, marker)
	}
	return fmt.Sprintf("%s%q: <%s%s>", pad, v.Name, v.Type, marker)
}

func buildVariablesList(vars []Variable, indent int) string {
	var lines []string
	pad := strings.Repeat("  ", indent)
	for _, v := range vars {
		lines = append(lines, fmt.Sprintf("%s- %s: %s", pad, v.Name, v.Description))
		if len(v.Properties) > 0 {
			lines = append(lines, buildVariablesList(v.Properties, indent+1))
		}
	}
	return strings.Join(lines, "\n")
}
