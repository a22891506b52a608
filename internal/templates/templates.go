// Package templates loads JSON extraction templates into a read-only
// registry. Each template carries prompts, a variable tree and LLM
// parameters; the JSON schema string and variables list used in prompt
// rendering are precomputed at load time.
package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultNullHandling = "Use null for missing data (not 'N/A' or empty string)"

// maxDepth bounds variable nesting, root variables count as depth 1.
const maxDepth = 8

var knownTypes = map[string]bool{
	"string": true,
	"number": true,
	"bool":   true,
	"array":  true,
	"object": true,
}

// Variable is one field of the extraction schema. Variables with
// Properties form nested groups.
type Variable struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Required    bool       `json:"required"`
	Properties  []Variable `json:"properties,omitempty"`
}

// Parameters are the LLM call settings a template ships with.
type Parameters struct {
	MaxTextLength int     `json:"max_text_length"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	TimeoutSec    int     `json:"timeout"`
}

// Timeout returns the call timeout as a duration.
func (p Parameters) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// OutputFormat controls how extraction results are post-processed.
type OutputFormat struct {
	NullHandling      string `json:"null_handling"`
	StrictSchema      bool   `json:"strict_schema"`
	IncludeConfidence bool   `json:"include_confidence"`
}

// Template is one loaded extraction template.
type Template struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	Category           string       `json:"category"`
	SystemPrompt       string       `json:"system_prompt"`
	UserPromptTemplate string       `json:"user_prompt_template"`
	Variables          []Variable   `json:"variables"`
	Parameters         Parameters   `json:"parameters"`
	OutputFormat       OutputFormat `json:"output_format"`

	schema   string
	varsList string
}

// JSONSchema returns the precomputed schema string rendered into
// prompts.
func (t *Template) JSONSchema() string { return t.schema }

// VariablesList returns the precomputed human-readable field list.
func (t *Template) VariablesList() string { return t.varsList }

// Summary is the listing shape for the templates API.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Registry holds loaded templates keyed by id. Read-only after Load.
type Registry struct {
	templates map[string]*Template
	ids       []string
}

// Load reads every *.json file in dir. Files that fail to parse or
// validate are logged and skipped; a missing directory yields an empty
// registry.
func Load(dir string) (*Registry, error) {
	reg := &Registry{templates: map[string]*Template{}}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Warn().Str("dir", dir).Msg("templates directory not found")
		return reg, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan templates dir %s: %w", dir, err)
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("cannot read template file")
			continue
		}
		t, err := parseTemplate(data)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("invalid template skipped")
			continue
		}
		if _, dup := reg.templates[t.ID]; dup {
			log.Error().Str("file", file).Str("id", t.ID).Msg("duplicate template id skipped")
			continue
		}
		reg.templates[t.ID] = t
		reg.ids = append(reg.ids, t.ID)
		log.Info().Str("id", t.ID).Str("name", t.Name).Msg("loaded template")
	}

	sort.Strings(reg.ids)
	return reg, nil
}

// parseTemplate unmarshals over preset defaults, validates and
// precomputes the rendering artifacts.
func parseTemplate(data []byte) (*Template, error) {
	t := Template{
		Parameters:   Parameters{MaxTextLength: 20000, Temperature: 0.1, MaxTokens: 2000, TimeoutSec: 120},
		OutputFormat: OutputFormat{NullHandling: defaultNullHandling, StrictSchema: true},
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	if err := validate(&t); err != nil {
		return nil, err
	}
	t.finalise()
	return &t, nil
}

func validate(t *Template) error {
	switch {
	case t.ID == "":
		return fmt.Errorf("template id missing")
	case t.Name == "":
		return fmt.Errorf("template %s: name missing", t.ID)
	case t.SystemPrompt == "":
		return fmt.Errorf("template %s: system_prompt missing", t.ID)
	case t.UserPromptTemplate == "":
		return fmt.Errorf("template %s: user_prompt_template missing", t.ID)
	case len(t.Variables) == 0:
		return fmt.Errorf("template %s: no variables", t.ID)
	case t.Parameters.MaxTextLength <= 0:
		return fmt.Errorf("template %s: max_text_length must be positive", t.ID)
	case t.Parameters.TimeoutSec <= 0:
		return fmt.Errorf("template %s: timeout must be positive", t.ID)
	}

	for _, ph := range []string{"{text}", "{json_schema}"} {
		if !strings.Contains(t.UserPromptTemplate, ph) {
			return fmt.Errorf("template %s: user_prompt_template lacks %s placeholder", t.ID, ph)
		}
	}

	return validateVariables(t.ID, t.Variables, 1)
}

func validateVariables(id string, vars []Variable, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("template %s: variable nesting exceeds depth %d", id, maxDepth)
	}

	seen := map[string]bool{}
	for _, v := range vars {
		if v.Name == "" {
			return fmt.Errorf("template %s: variable with empty name at depth %d", id, depth)
		}
		if seen[v.Name] {
			return fmt.Errorf("template %s: duplicate sibling variable %q", id, v.Name)
		}
		seen[v.Name] = true

		if !knownTypes[v.Type] {
			return fmt.Errorf("template %s: variable %q has unknown type %q", id, v.Name, v.Type)
		}
		if len(v.Properties) > 0 {
			if v.Type != "object" {
				return fmt.Errorf("template %s: variable %q has children but type %q", id, v.Name, v.Type)
			}
			if err := validateVariables(id, v.Properties, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get looks up a template by id.
func (r *Registry) Get(id string) (*Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// Default returns the general_document template, or any template when
// that one is absent.
func (r *Registry) Default() (*Template, bool) {
	if t, ok := r.templates["general_document"]; ok {
		return t, true
	}
	for _, id := range r.ids {
		return r.templates[id], true
	}
	return nil, false
}

// List enumerates loaded templates ordered by id.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.ids))
	for _, id := range r.ids {
		t := r.templates[id]
		out = append(out, Summary{ID: t.ID, Name: t.Name, Description: t.Description, Category: t.Category})
	}
	return out
}

// Count reports how many templates loaded.
func (r *Registry) Count() int { return len(r.templates) }
