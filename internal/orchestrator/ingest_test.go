package orchestrator

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/enrich"
	"github.com/local/docpipeline/internal/fault"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (s *sinkRecorder) sink(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) steps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Step
	}
	return out
}

func TestIngestHappyPath(t *testing.T) {
	f := newFixture(t)
	rec := &sinkRecorder{}

	res, err := f.orch.Ingest(context.Background(), strings.NewReader("%PDF-1.7 fake"),
		IngestOptions{Filename: "doc.pdf", DeclaredMIME: "application/pdf"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, document.StateReady, res.Record.State)
	assert.Equal(t, document.ClassTextPDF, res.Record.InputClass)
	assert.Equal(t, "layout_remote", res.Record.Provenance.EngineUsed)
	assert.Equal(t, "cpu", res.Record.Provenance.Device)
	assert.Equal(t, 2, res.Record.Counts.Pages)
	assert.Equal(t, 1, res.Record.Counts.EmbeddedImages)
	assert.Len(t, res.Items, 2)
	assert.Nil(t, res.Enrichment)

	// Persisted blob keys made it back onto the returned artifacts.
	assert.Equal(t, "blob/a1", res.Items[0].Artifact.BlobKey)
	assert.Equal(t, res.Record.ID, res.Items[0].Artifact.DocumentID)

	assert.Equal(t, []document.State{
		document.StateCreated,
		document.StateLayoutDone,
		document.StateImagesMaterialised,
		document.StateReady,
	}, f.docs.stateWalk())

	assert.Equal(t, []string{"created", "decoded", "layout_done", "images_materialised", "persisted", "ready"}, rec.steps())

	// Ingest returns only after the tracker drained, so the status
	// trail is complete.
	st, ok, err := f.status.Get(context.Background(), res.Record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ready", st.Stage)
	assert.Equal(t, 100, st.Progress)
	assert.NotNil(t, st.End)
}

func TestIngestEmptyUpload(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Ingest(context.Background(), bytes.NewReader(nil), IngestOptions{Filename: "empty.pdf"}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindInputInvalid, fault.KindOf(err))
	assert.Empty(t, f.docs.stateWalk(), "no record should exist for an empty upload")
}

func TestIngestLayoutFailureMarksDocument(t *testing.T) {
	f := newFixture(t)
	f.layout.err = fault.New(fault.KindBackendUnavailable, "layout", "all extraction engines failed")
	rec := &sinkRecorder{}

	_, err := f.orch.Ingest(context.Background(), strings.NewReader("x"), IngestOptions{Filename: "doc.pdf"}, rec.sink)
	require.Error(t, err)
	assert.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))

	assert.True(t, f.docs.marked)
	assert.Equal(t, "BackendUnavailable", f.docs.kind)

	steps := rec.steps()
	require.NotEmpty(t, steps)
	assert.Equal(t, "failed", steps[len(steps)-1])
}

func TestIngestOfficeConversion(t *testing.T) {
	f := newFixture(t)
	f.decoder.res = &decoder.Result{
		Class: document.ClassOffice,
		MIME:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Plan:  &decoder.Plan{Convert: true},
	}
	f.decoder.converted = &decoder.Result{
		Class: document.ClassTextPDF,
		MIME:  "application/pdf",
		Plan:  &decoder.Plan{Engines: []string{"layout_remote", "text_native"}},
	}
	f.conv.path = filepath.Join(t.TempDir(), "converted.pdf")

	res, err := f.orch.Ingest(context.Background(), strings.NewReader("docx bytes"),
		IngestOptions{Filename: "report.docx"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.conv.calls)
	assert.Equal(t, 2, f.decoder.calls, "converted file is classified again")

	// The record keeps the class the upload had; the pipeline works on
	// the converted PDF's plan.
	assert.Equal(t, document.ClassOffice, res.Record.InputClass)
	assert.Equal(t, []string{"layout_remote", "text_native"}, f.layout.gotEngines)
	assert.Equal(t, document.ClassTextPDF, f.builder.gotClass)
	assert.Equal(t, f.conv.path, f.layout.gotReq.Path)
	assert.Equal(t, "report.docx", f.layout.gotReq.Filename)
}

func TestIngestConversionFailure(t *testing.T) {
	f := newFixture(t)
	f.decoder.res = &decoder.Result{Class: document.ClassOffice, Plan: &decoder.Plan{Convert: true}}
	f.conv.err = fault.New(fault.KindDecodeFailed, "convert", "soffice exited with status 1")

	_, err := f.orch.Ingest(context.Background(), strings.NewReader("x"), IngestOptions{Filename: "a.doc"}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindDecodeFailed, fault.KindOf(err))
	assert.Equal(t, "DecodeFailed", f.docs.kind)
}

func TestIngestWithEnrichment(t *testing.T) {
	f := newFixture(t)
	rec := &sinkRecorder{}

	res, err := f.orch.Ingest(context.Background(), strings.NewReader("x"),
		IngestOptions{Filename: "doc.pdf", EnrichImages: true, Provider: "local"}, rec.sink)
	require.NoError(t, err)

	require.NotNil(t, res.Enrichment)
	assert.Equal(t, enrich.Outcome{Processed: 2}, *res.Enrichment)
	assert.Equal(t, "local", f.enr.gotOpts.Provider)
	assert.Equal(t, document.StateReady, res.Record.State)
	assert.Contains(t, f.docs.stateWalk(), document.StateEnriched)
	assert.Contains(t, rec.steps(), "enriched")

	// Enrichment results were written back.
	arts, err := f.arts.ListByDocument(context.Background(), res.Record.ID)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	for _, a := range arts {
		require.NotNil(t, a.Description)
	}
}

func TestIngestPartialEnrichmentSkipsEnrichedState(t *testing.T) {
	f := newFixture(t)
	f.enr.outcome = enrich.Outcome{Processed: 1, Failed: 1}

	res, err := f.orch.Ingest(context.Background(), strings.NewReader("x"),
		IngestOptions{Filename: "doc.pdf", EnrichImages: true}, nil)
	require.NoError(t, err)

	// Partial vision coverage never fails the document.
	assert.Equal(t, document.StateReady, res.Record.State)
	assert.NotContains(t, f.docs.stateWalk(), document.StateEnriched)
}

func TestIngestRejectsBadProviderBeforeWork(t *testing.T) {
	f := newFixture(t)
	f.enr.resolveErr = fault.New(fault.KindProviderNotConfigured, "enrich", "provider cloud_a is not configured")

	_, err := f.orch.Ingest(context.Background(), strings.NewReader("x"),
		IngestOptions{Filename: "doc.pdf", EnrichImages: true, Provider: "cloud_a"}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindProviderNotConfigured, fault.KindOf(err))
	assert.Zero(t, f.decoder.calls, "nothing runs before the provider check")
	assert.Empty(t, f.docs.stateWalk())
}

func TestIngestPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.pers.err = fault.New(fault.KindBackendUnavailable, "blobstore", "s3 put failed")

	_, err := f.orch.Ingest(context.Background(), strings.NewReader("x"), IngestOptions{Filename: "doc.pdf"}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))
	assert.Equal(t, "BackendUnavailable", f.docs.kind)
}

func TestIngestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.builder.err = ctx.Err()

	_, err := f.orch.Ingest(ctx, strings.NewReader("x"), IngestOptions{Filename: "doc.pdf"}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindCancelled, fault.KindOf(err))
}
