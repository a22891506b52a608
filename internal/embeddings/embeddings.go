// Package embeddings turns enrichment text into fixed-dimension vectors
// using the local embeddings model.
package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/config"
	"github.com/local/docpipeline/internal/metrics"
)

const (
	maxChars = 2000
	// sentinel keeps the backend call valid for images with no text at all.
	sentinel = "empty image content"
)

// backend is the embeddings surface of the Ollama client.
type backend interface {
	Embed(ctx context.Context, model, prompt string) ([]float64, error)
}

// Generator produces embedding vectors. The vector dimension is locked
// on the first successful call unless preset via EMBED_DIM; later
// vectors of a different size are rejected.
type Generator struct {
	backend backend
	model   string
	timeout time.Duration

	mu  sync.Mutex
	dim int
}

func New(b backend, model string, cfg config.EmbedConfig) *Generator {
	return &Generator{backend: b, model: model, timeout: cfg.Timeout, dim: cfg.Dim}
}

// Generate embeds text. Input is clamped to 2000 characters; blank
// input is replaced with a sentinel so the call always has content.
func (g *Generator) Generate(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		text = sentinel
	}
	if r := []rune(text); len(r) > maxChars {
		text = string(r[:maxChars])
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vec, err := g.backend.Embed(ctx, g.model, text)
	if err != nil {
		metrics.IncEmbedding("error")
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dim == 0 {
		g.dim = len(vec)
		log.Info().Str("model", g.model).Int("dim", g.dim).Msg("embedding dimension locked")
	} else if len(vec) != g.dim {
		metrics.IncEmbedding("dim_mismatch")
		return nil, fmt.Errorf("embedding dimension %d, expected %d", len(vec), g.dim)
	}
	metrics.IncEmbedding("ok")
	return vec, nil
}

// Dim reports the locked dimension, 0 before the first success.
func (g *Generator) Dim() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}
