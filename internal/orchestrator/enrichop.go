package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/blobstore"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/enrich"
	"github.com/local/docpipeline/internal/fault"
)

// EnrichOptions select provider and refresh behaviour for on-demand
// enrichment.
type EnrichOptions struct {
	Provider string
	Force    bool
}

// EnrichSummary reports one on-demand enrichment run.
type EnrichSummary struct {
	DocumentID string
	Outcome    enrich.Outcome
	State      document.State
}

// Enrich runs vision enrichment plus embeddings over the stored
// artifacts of one document, fetching image bytes from the blob store.
// Already-complete artifacts are skipped unless opts.Force.
func (o *Orchestrator) Enrich(ctx context.Context, documentID string, opts EnrichOptions) (*EnrichSummary, error) {
	rec, ok, err := o.deps.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "enrich", err)
	}
	if !ok {
		return nil, fault.New(fault.KindNotFound, "enrich", "document %s not found", documentID)
	}

	arts, err := o.deps.Artifacts.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "enrich", err)
	}
	ptrs := make([]*document.Artifact, len(arts))
	for i := range arts {
		ptrs[i] = &arts[i]
	}

	src := func(ctx context.Context, a *document.Artifact) ([]byte, error) {
		key := a.BlobKey
		if key == "" {
			key = blobstore.Key(a)
		}
		return o.deps.Blobs.Get(ctx, key)
	}

	outcome, err := o.deps.Enricher.Run(ctx, rec, ptrs, src, enrich.Options{Provider: opts.Provider, Force: opts.Force})
	if err != nil {
		return nil, err
	}
	o.saveArtifacts(ctx, ptrs)

	// Full coverage advances the document; partial failure leaves it
	// where it was so a retry can finish the job.
	if outcome.Failed == 0 && rec.State.CanAdvance(document.StateEnriched) {
		o.advance(ctx, rec, document.StateEnriched)
	}

	log.Info().
		Str("document_id", documentID).
		Int("processed", outcome.Processed).
		Int("skipped", outcome.Skipped).
		Int("failed", outcome.Failed).
		Str("state", string(rec.State)).
		Msg("on-demand enrichment finished")
	return &EnrichSummary{DocumentID: documentID, Outcome: outcome, State: rec.State}, nil
}
