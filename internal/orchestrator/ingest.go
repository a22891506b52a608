package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/enrich"
	"github.com/local/docpipeline/internal/fault"
	"github.com/local/docpipeline/internal/layout"
	"github.com/local/docpipeline/internal/materialise"
	"github.com/local/docpipeline/internal/metrics"
)

// IngestOptions shape one ingest run.
type IngestOptions struct {
	Filename     string
	DeclaredMIME string
	// EnrichImages runs vision enrichment over the materialised images
	// before the response returns.
	EnrichImages bool
	// Provider picks the vision provider for ingest-time enrichment.
	Provider string
	Device   string
	Lang     string
}

// IngestResult pairs the persisted record with the materialised image
// bytes so the transport layer can answer without re-reading blobs.
type IngestResult struct {
	Record     *document.Record
	Items      []materialise.Item
	Enrichment *enrich.Outcome
}

// Ingest runs one upload through the pipeline: spool, classify, convert
// Office inputs, extract layout, materialise and persist image
// artifacts, then optionally enrich. The record is saved after every
// stage so a crash leaves an inspectable trail. sink may be nil.
func (o *Orchestrator) Ingest(ctx context.Context, upload io.Reader, opts IngestOptions, sink Sink) (*IngestResult, error) {
	// A bad chart provider is rejected before any work happens.
	if opts.EnrichImages {
		if err := o.deps.Enricher.Resolve(opts.Provider); err != nil {
			return nil, err
		}
	}

	path, size, err := spool(upload)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	device := opts.Device
	if device == "" {
		device = o.defaults.Device
	}
	lang := opts.Lang
	if lang == "" {
		lang = o.defaults.Lang
	}

	now := time.Now().UTC()
	rec := &document.Record{
		ID:           uuid.New().String(),
		Filename:     opts.Filename,
		SizeBytes:    size,
		DeclaredMIME: opts.DeclaredMIME,
		State:        document.StateCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.deps.Documents.Save(ctx, rec); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "ingest", err)
	}

	t := newTracker(rec.ID, sink, o.deps.Status)
	defer t.close()
	t.emit("created", fmt.Sprintf("received %s (%d bytes)", opts.Filename, size), 5)

	started := time.Now()
	log.Info().
		Str("document_id", rec.ID).
		Str("file", opts.Filename).
		Int64("size", size).
		Msg("ingest started")

	stage := time.Now()
	res, err := o.deps.Decoder.Classify(path, opts.DeclaredMIME, opts.Filename)
	if err != nil {
		return nil, o.fail(rec, t, err)
	}
	metrics.ObserveStage("decode", time.Since(stage))
	rec.InputClass = res.Class
	workPath, workClass, plan := path, res.Class, res.Plan

	// Office inputs become PDFs first and then follow the PDF plan; the
	// record keeps the class the upload actually had.
	if plan.Convert {
		stage = time.Now()
		converted, err := o.deps.Converter.ToPDF(ctx, path)
		if err != nil {
			return nil, o.fail(rec, t, err)
		}
		defer os.Remove(converted)
		re, err := o.deps.Decoder.Classify(converted, "application/pdf", filepath.Base(converted))
		if err != nil {
			return nil, o.fail(rec, t, err)
		}
		metrics.ObserveStage("convert", time.Since(stage))
		workPath, workClass, plan = converted, re.Class, re.Plan
		t.emit("decoded", fmt.Sprintf("converted %s upload to PDF", res.Class), 15)
	}
	t.emit("decoded", fmt.Sprintf("classified as %s", rec.InputClass), 20)

	stage = time.Now()
	out, engine, err := o.deps.Layout.Extract(ctx, plan.Engines, layout.Request{
		Path:     workPath,
		Filename: opts.Filename,
		Device:   device,
		Lang:     lang,
	})
	if err != nil {
		return nil, o.fail(rec, t, err)
	}
	metrics.ObserveStage("layout", time.Since(stage))

	rec.Pages = out.Pages
	rec.Markdown = out.Markdown
	rec.Provenance = document.Provenance{
		EngineUsed: engine,
		Device:     device,
		Lang:       lang,
		DurationMS: time.Since(stage).Milliseconds(),
	}
	rec.Recount()
	o.advance(ctx, rec, document.StateLayoutDone)
	t.emit("layout_done", fmt.Sprintf("%d pages via %s", len(rec.Pages), engine), 45)

	stage = time.Now()
	items, err := o.deps.Builder.Build(ctx, rec.ID, workPath, workClass, out)
	if err != nil {
		if ctx.Err() != nil {
			err = fault.Wrap(fault.KindCancelled, "materialise", ctx.Err())
		} else {
			err = fault.Wrap(fault.KindDecodeFailed, "materialise", err)
		}
		return nil, o.fail(rec, t, err)
	}
	metrics.ObserveStage("materialise", time.Since(stage))

	embedded := 0
	for i := range items {
		if items[i].Artifact.Origin == document.OriginEmbedded {
			embedded++
		}
	}
	rec.Counts.EmbeddedImages = embedded
	t.emit("images_materialised", fmt.Sprintf("%d image artifacts", len(items)), 60)

	stage = time.Now()
	for i := range items {
		if ctx.Err() != nil {
			return nil, o.fail(rec, t, fault.Wrap(fault.KindCancelled, "persist", ctx.Err()))
		}
		if err := o.deps.Persister.Persist(ctx, &items[i].Artifact, items[i].Data); err != nil {
			return nil, o.fail(rec, t, fault.Wrap(fault.KindBackendUnavailable, "persist", err))
		}
	}
	metrics.ObserveStage("persist", time.Since(stage))
	o.advance(ctx, rec, document.StateImagesMaterialised)
	t.emit("persisted", fmt.Sprintf("%d blobs stored", len(items)), 75)

	result := &IngestResult{Record: rec, Items: items}
	if opts.EnrichImages && len(items) > 0 {
		stage = time.Now()
		outcome, err := o.enrichItems(ctx, rec, items, opts.Provider)
		if err != nil {
			return nil, o.fail(rec, t, err)
		}
		metrics.ObserveStage("enrich", time.Since(stage))
		result.Enrichment = &outcome
		if outcome.Failed == 0 {
			o.advance(ctx, rec, document.StateEnriched)
		}
		t.emit("enriched", fmt.Sprintf("%d processed, %d skipped, %d failed",
			outcome.Processed, outcome.Skipped, outcome.Failed), 90)
	}

	o.advance(ctx, rec, document.StateReady)
	metrics.IncDocument(string(rec.InputClass), string(document.StateReady))
	metrics.ObserveStage("ingest", time.Since(started))
	t.finish("ready", "processing complete", 100)

	log.Info().
		Str("document_id", rec.ID).
		Str("input_class", string(rec.InputClass)).
		Str("engine", engine).
		Int("pages", len(rec.Pages)).
		Int("artifacts", len(items)).
		Dur("took", time.Since(started)).
		Msg("ingest complete")
	return result, nil
}

// enrichItems runs the vision enricher over freshly persisted items,
// serving image bytes from memory, then writes the updated artifact
// metadata back.
func (o *Orchestrator) enrichItems(ctx context.Context, rec *document.Record, items []materialise.Item, provider string) (enrich.Outcome, error) {
	ptrs := make([]*document.Artifact, len(items))
	data := make(map[string][]byte, len(items))
	for i := range items {
		ptrs[i] = &items[i].Artifact
		data[items[i].Artifact.ID] = items[i].Data
	}
	src := func(ctx context.Context, a *document.Artifact) ([]byte, error) {
		if b, ok := data[a.ID]; ok {
			return b, nil
		}
		return o.deps.Blobs.Get(ctx, a.BlobKey)
	}

	outcome, err := o.deps.Enricher.Run(ctx, rec, ptrs, src, enrich.Options{Provider: provider})
	if err != nil {
		return outcome, err
	}
	o.saveArtifacts(ctx, ptrs)
	return outcome, nil
}

// saveArtifacts writes enrichment results back by identifier. A failed
// write loses that artifact's enrichment, nothing else.
func (o *Orchestrator) saveArtifacts(ctx context.Context, artifacts []*document.Artifact) {
	for _, a := range artifacts {
		if err := o.deps.Artifacts.Save(ctx, a); err != nil {
			log.Warn().Err(err).Str("artifact_id", a.ID).Msg("artifact save failed")
		}
	}
}

// advance moves the record forward and persists it. Store failures are
// logged, not fatal: the pipeline result matters more than a stale
// state row.
func (o *Orchestrator) advance(ctx context.Context, rec *document.Record, next document.State) {
	if !rec.State.CanAdvance(next) {
		log.Warn().
			Str("document_id", rec.ID).
			Str("from", string(rec.State)).
			Str("to", string(next)).
			Msg("illegal state transition skipped")
		return
	}
	rec.State = next
	rec.UpdatedAt = time.Now().UTC()
	if err := o.deps.Documents.Save(ctx, rec); err != nil {
		log.Warn().Err(err).Str("document_id", rec.ID).Str("state", string(next)).Msg("record save failed")
	}
}

// fail marks the document failed with the error's kind. The mark uses a
// detached context so it lands even when the caller has gone away.
func (o *Orchestrator) fail(rec *document.Record, t *tracker, err error) error {
	kind := fault.KindOf(err)
	mctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if mErr := o.deps.Documents.MarkFailed(mctx, rec.ID, string(kind), err.Error()); mErr != nil {
		log.Warn().Err(mErr).Str("document_id", rec.ID).Msg("failure mark did not persist")
	}
	rec.State = document.StateFailed
	rec.FailureKind = string(kind)
	rec.FailureMsg = err.Error()
	metrics.IncDocument(string(rec.InputClass), string(document.StateFailed))
	t.failNow(err.Error())
	log.Error().
		Err(err).
		Str("document_id", rec.ID).
		Str("kind", string(kind)).
		Msg("ingest failed")
	return err
}

// spool copies the upload to a temp file so the PDF tooling can seek.
func spool(r io.Reader) (string, int64, error) {
	f, err := os.CreateTemp("", "ingest-*")
	if err != nil {
		return "", 0, fault.Wrap(fault.KindInternal, "ingest", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, fault.Wrap(fault.KindInternal, "ingest", err)
	}
	if n == 0 {
		os.Remove(f.Name())
		return "", 0, fault.New(fault.KindInputInvalid, "ingest", "empty upload")
	}
	return f.Name(), n, nil
}
