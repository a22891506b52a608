package templates

// Legacy builds a transient template for the deprecated inline-variables
// request path. With no variables given it falls back to the classic
// research-paper field set; results are returned as-is, no schema
// coercion.
func Legacy(vars []Variable) *Template {
	if len(vars) == 0 {
		vars = legacyVariables()
	}
	for i := range vars {
		if vars[i].Type == "" {
			vars[i].Type = "string"
		}
	}

	t := &Template{
		ID:           "legacy_inline",
		Name:         "Legacy inline extraction",
		Description:  "Transient template built from an inline variable list",
		Category:     "legacy",
		SystemPrompt: "You are a research paper analysis assistant. Extract information from this medical image segmentation research paper.",
		UserPromptTemplate: "Extract these variables as valid JSON:\n{variables_list}\n\n" +
			"Paper excerpt:\n---\n{text}\n---\n\n" +
			"Respond with ONLY a JSON object. No explanations, no markdown.\n\nSchema:\n{json_schema}",
		Variables:    vars,
		Parameters:   Parameters{MaxTextLength: 10000, Temperature: 0.1, MaxTokens: 2000, TimeoutSec: 120},
		OutputFormat: OutputFormat{NullHandling: defaultNullHandling, StrictSchema: false},
	}
	t.finalise()
	return t
}

func legacyVariables() []Variable {
	fields := []struct{ name, desc string }{
		{"dataset", "Dataset names used"},
		{"tissue_type", "Tissue types analyzed"},
		{"input_format", "Input data format"},
		{"method", "Primary method name"},
		{"family", "Architecture family"},
		{"architecture", "Specific architecture"},
		{"innovation", "Key contribution"},
		{"type", "Approach type"},
		{"metrics", "Evaluation metrics"},
		{"metric_used", "Primary metric"},
		{"performance", "Key results"},
		{"limitations", "Limitations mentioned"},
		{"future_work", "Future directions"},
		{"notes", "Additional notes"},
	}

	vars := make([]Variable, 0, len(fields))
	for _, f := range fields {
		vars = append(vars, Variable{Name: f.name, Description: f.desc, Type: "string"})
	}
	return vars
}
