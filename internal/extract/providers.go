// Package extract runs structured extraction: it renders a template
// against document text, calls a text LLM under the chosen provider,
// recovers the JSON object from the reply and coerces it to the
// template schema.
package extract

import (
	"strings"

	"github.com/local/docpipeline/internal/ai"
	"github.com/local/docpipeline/internal/config"
	"github.com/local/docpipeline/internal/fault"
)

// Provider pairs a completion client with its default model. Configured
// reports whether the provider can actually be called; the local
// provider always can, cloud providers need credentials.
type Provider struct {
	Name       string
	Client     ai.Client
	Model      string
	Configured bool
}

// Providers is the fixed provider set: local, cloud_a, cloud_b.
type Providers struct {
	byName map[string]*Provider
}

func NewProviders(cfg config.ProvidersConfig, ollamaURL string) *Providers {
	return &Providers{byName: map[string]*Provider{
		"local": {
			Name:       "local",
			Client:     ai.NewOllamaClient(ollamaURL),
			Model:      cfg.ExtractModel,
			Configured: true,
		},
		"cloud_a": {
			Name:       "cloud_a",
			Client:     ai.NewOpenAIClient(cfg.OpenAIKey, ""),
			Model:      cfg.OpenAIModel,
			Configured: cfg.OpenAIKey != "",
		},
		"cloud_b": {
			Name:       "cloud_b",
			Client:     ai.NewAnthropicClient(cfg.AnthropicKey, ""),
			Model:      cfg.AnthropicModel,
			Configured: cfg.AnthropicKey != "",
		},
	}}
}

// Resolve maps a requested provider name to a configured provider.
// Empty and "auto" default to local. Unknown names are an input error;
// known but unconfigured providers report ProviderNotConfigured.
func (p *Providers) Resolve(name string) (*Provider, error) {
	if name == "" || name == "auto" {
		name = "local"
	}
	prov, ok := p.byName[strings.ToLower(name)]
	if !ok {
		return nil, fault.New(fault.KindInputInvalid, "extract", "unknown provider %q", name)
	}
	if !prov.Configured {
		return nil, fault.New(fault.KindProviderNotConfigured, "extract", "provider %s is not configured", prov.Name)
	}
	return prov, nil
}

// Info is the provider listing shape for the API.
type Info struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Model      string `json:"model"`
}

// List enumerates all providers in fixed order, configured or not.
func (p *Providers) List() []Info {
	out := make([]Info, 0, len(p.byName))
	for _, name := range []string{"local", "cloud_a", "cloud_b"} {
		if prov, ok := p.byName[name]; ok {
			out = append(out, Info{Name: prov.Name, Configured: prov.Configured, Model: prov.Model})
		}
	}
	return out
}
