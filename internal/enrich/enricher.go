// Package enrich runs the per-image vision pass: OCR + classification,
// structured data for charts/tables/diagrams, and an embedding built
// from the combined evidence. Failures stay on the artifact; a document
// is never failed by its images.
package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/docpipeline/internal/ai"
	"github.com/local/docpipeline/internal/config"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/jsonextract"
	"github.com/local/docpipeline/internal/limiter"
	"github.com/local/docpipeline/internal/metrics"
)

// errSkipped marks artifacts that already carry a full enrichment.
var errSkipped = errors.New("already enriched")

// Source yields the bytes for an artifact, from memory right after
// materialisation or from the blob store on a re-run.
type Source func(ctx context.Context, a *document.Artifact) ([]byte, error)

// embedder is the embedding surface the enricher needs.
type embedder interface {
	Generate(ctx context.Context, text string) ([]float64, error)
}

type visionProvider struct {
	name   string
	client ai.Client
	model  string
	limit  int
}

// Options control one enrichment run.
type Options struct {
	// Provider is the preference from the request: "", auto, local or
	// cloud_a.
	Provider string
	// Force re-enriches artifacts that are already done.
	Force bool
}

// Outcome summarises an enrichment pass over one document's artifacts.
type Outcome struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Enricher fans the vision pass out over a document's artifacts with a
// bounded worker count per document and a provider-wide limiter across
// documents.
type Enricher struct {
	local      *visionProvider
	cloud      *visionProvider
	pool       *limiter.Pool
	embedder   embedder
	cfg        config.EnrichConfig
	retryDelay time.Duration
}

func New(cfg config.EnrichConfig, providers config.ProvidersConfig, visionURL string, pool *limiter.Pool, emb embedder) *Enricher {
	e := &Enricher{
		local: &visionProvider{
			name:   "local",
			client: ai.NewOllamaClient(visionURL),
			model:  providers.VisionModel,
			limit:  cfg.LocalLimit,
		},
		pool:       pool,
		embedder:   emb,
		cfg:        cfg,
		retryDelay: time.Second,
	}
	if providers.OpenAIKey != "" {
		e.cloud = &visionProvider{
			name:   "cloud_a",
			client: ai.NewOpenAIClient(providers.OpenAIKey, ""),
			model:  providers.OpenAIModel,
			limit:  cfg.CloudLimit,
		}
	}
	return e
}

// provider resolves the request preference. auto prefers the local
// vision model and is always satisfiable; cloud_a needs credentials.
func (e *Enricher) provider(pref string) (*visionProvider, error) {
	switch strings.ToLower(pref) {
	case "", "auto", "local":
		return e.local, nil
	case "cloud_a":
		if e.cloud == nil {
			return nil, fault.New(fault.KindProviderNotConfigured, "enrich", "cloud_a vision provider is not configured")
		}
		return e.cloud, nil
	default:
		return nil, fault.New(fault.KindInputInvalid, "enrich", "unknown chart provider %q", pref)
	}
}

// Resolve validates a provider preference without running anything, so
// callers can reject a bad request before doing any work.
func (e *Enricher) Resolve(pref string) error {
	_, err := e.provider(pref)
	return err
}

// Run enriches every artifact of one document. Per-artifact failures
// are recorded on the artifact and never fail the run; the returned
// error is non-nil only for provider resolution problems or
// cancellation.
func (e *Enricher) Run(ctx context.Context, rec *document.Record, artifacts []*document.Artifact, src Source, opts Options) (Outcome, error) {
	prov, err := e.provider(opts.Provider)
	if err != nil {
		return Outcome{}, err
	}
	if len(artifacts) == 0 {
		return Outcome{}, nil
	}

	limit := prov.limit
	if len(artifacts) < limit {
		limit = len(artifacts)
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	// one outstanding embedding call per document
	embedSem := make(chan struct{}, 1)
	results := make([]error, len(artifacts))

	started := time.Now()
	for i, a := range artifacts {
		if a.Enriched() && !opts.Force {
			results[i] = errSkipped
			continue
		}
		g.Go(func() error {
			results[i] = e.process(gctx, prov, rec, a, src, embedSem)
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	for i, res := range results {
		switch {
		case res == nil:
			out.Processed++
		case errors.Is(res, errSkipped):
			out.Skipped++
		default:
			out.Failed++
			msg := res.Error()
			artifacts[i].EnrichmentError = &msg
		}
	}

	log.Info().
		Str("document_id", rec.ID).
		Str("provider", prov.name).
		Int("processed", out.Processed).
		Int("skipped", out.Skipped).
		Int("failed", out.Failed).
		Dur("took", time.Since(started)).
		Msg("enrichment pass finished")

	if err := ctx.Err(); err != nil {
		return out, fault.Wrap(fault.KindCancelled, "enrich", err)
	}
	return out, nil
}

func (e *Enricher) process(ctx context.Context, prov *visionProvider, rec *document.Record, a *document.Artifact, src Source, embedSem chan struct{}) error {
	release, err := e.pool.Acquire(ctx, prov.name)
	if err != nil {
		return err
	}
	defer release()

	data, err := src(ctx, a)
	if err != nil {
		return fmt.Errorf("fetch image bytes: %w", err)
	}
	return e.enrichOne(ctx, prov, rec, a, data, embedSem)
}

func (e *Enricher) enrichOne(ctx context.Context, prov *visionProvider, rec *document.Record, a *document.Artifact, data []byte, embedSem chan struct{}) error {
	b64 := base64.StdEncoding.EncodeToString(data)

	started := time.Now()
	cls, err := e.callJSON(ctx, prov, classifyPrompt, b64, a.MIME)
	if err != nil {
		metrics.ObserveEnrichment(prov.name, prov.model, "error", time.Since(started))
		return err
	}

	ocr, _ := cls["ocr_text"].(string)
	imageType, _ := cls["image_type"].(string)
	desc, _ := cls["description"].(string)
	conf, _ := cls["confidence"].(float64)

	var structured map[string]any
	if wantsStructured(imageType) {
		subtype, _ := cls["subtype"].(string)
		structured, err = e.callJSON(ctx, prov, structuredPrompt(imageType, subtype), b64, a.MIME)
		if err != nil {
			// classification still stands, only the data pass is lost
			log.Warn().Err(err).Str("artifact_id", a.ID).Str("image_type", imageType).
				Msg("structured data extraction failed")
			structured = nil
		}
	}

	a.OCRText = &ocr
	if desc != "" {
		a.Description = &desc
	}
	if imageType != "" {
		a.Classification = &imageType
	}
	if conf > 0 {
		a.Confidence = &conf
	}
	a.Analysis = cls
	a.StructuredData = structured
	a.OCRProcessed = true
	a.EnrichmentError = nil

	text := embedText(ocr, surroundingText(rec, a.PageNumber), structured)

	select {
	case embedSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	vec, embErr := e.embedder.Generate(ctx, text)
	<-embedSem

	if embErr != nil {
		// the artifact keeps its OCR and classification either way
		log.Warn().Err(embErr).Str("artifact_id", a.ID).Msg("embedding failed")
		a.Embedding = nil
		a.EmbeddingGenerated = false
	} else {
		a.Embedding = vec
		a.EmbeddingGenerated = true
	}

	now := time.Now().UTC()
	a.EnrichedAt = &now
	metrics.ObserveEnrichment(prov.name, prov.model, "ok", time.Since(started))
	return nil
}

// callJSON makes one vision call and parses the JSON object out of the
// reply. Transient failures are retried up to the configured count; a
// parse failure is not retried.
func (e *Enricher) callJSON(ctx context.Context, prov *visionProvider, prompt, imageB64, mime string) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		resp, err := prov.client.Do(callCtx, ai.Request{
			Model:       prov.model,
			Prompt:      prompt,
			ImageBase64: imageB64,
			ImageMIME:   mime,
			JSONMode:    true,
		})
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !ai.IsTransient(err) {
				return nil, err
			}
			continue
		}

		obj, stage, perr := jsonextract.Object(resp.Text)
		metrics.IncParseOutcome(string(stage))
		if perr != nil {
			return nil, fmt.Errorf("unparseable vision reply: %s", jsonextract.Snippet(resp.Text, 200))
		}
		return obj, nil
	}
	return nil, lastErr
}
