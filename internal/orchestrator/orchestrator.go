// Package orchestrator drives one document through the pipeline:
// classify, convert Office inputs, extract layout with engine fallback,
// materialise and persist image artifacts, then optionally enrich. It
// owns the document state machine and is the only writer of a record
// while the document is in flight. Enrichment and structured extraction
// also run on demand against stored records.
package orchestrator

import (
	"context"
	"time"

	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/enrich"
	"github.com/local/docpipeline/internal/extract"
	"github.com/local/docpipeline/internal/layout"
	"github.com/local/docpipeline/internal/materialise"
	"github.com/local/docpipeline/internal/registry"
	"github.com/local/docpipeline/internal/store"
	"github.com/local/docpipeline/internal/templates"
)

// Version is reported by /health and logged at startup.
const Version = "1.2.0"

// The interfaces below are the slices of each stage the orchestrator
// needs. Production wiring passes the concrete types from main; tests
// substitute fakes.

type classifier interface {
	Classify(path, declaredMIME, filename string) (*decoder.Result, error)
}

type pdfConverter interface {
	Available() bool
	ToPDF(ctx context.Context, path string) (string, error)
}

type layoutRunner interface {
	Extract(ctx context.Context, engines []string, req layout.Request) (*layout.Output, string, error)
}

type artifactBuilder interface {
	Build(ctx context.Context, docID, path string, class document.InputClass, out *layout.Output) ([]materialise.Item, error)
}

type artifactPersister interface {
	Persist(ctx context.Context, a *document.Artifact, data []byte) error
}

type blobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type imageEnricher interface {
	Resolve(pref string) error
	Run(ctx context.Context, rec *document.Record, artifacts []*document.Artifact, src enrich.Source, opts enrich.Options) (enrich.Outcome, error)
}

type structuredExtractor interface {
	Extract(ctx context.Context, req extract.Request) extract.Result
}

type providerLister interface {
	List() []extract.Info
}

type documentStore interface {
	Save(ctx context.Context, rec *document.Record) error
	Get(ctx context.Context, id string) (*document.Record, bool, error)
	MarkFailed(ctx context.Context, id, kind, msg string) error
}

type artifactStore interface {
	Save(ctx context.Context, a *document.Artifact) error
	ListByDocument(ctx context.Context, docID string) ([]document.Artifact, error)
}

type statusStore interface {
	Set(ctx context.Context, docID string, st store.Status) error
	Get(ctx context.Context, docID string) (store.Status, bool, error)
}

type backendRegistry interface {
	Snapshots() []registry.Snapshot
}

// Pinger verifies one external dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps wires the pipeline stages into the orchestrator.
type Deps struct {
	Decoder   classifier
	Converter pdfConverter
	Layout    layoutRunner
	Builder   artifactBuilder
	Persister artifactPersister
	Blobs     blobReader
	Enricher  imageEnricher
	Extractor structuredExtractor
	Providers providerLister
	Templates *templates.Registry
	Documents documentStore
	Artifacts artifactStore
	Status    statusStore
	Backends  backendRegistry
	RedisPing Pinger
	BlobPing  Pinger
}

// Defaults fill request options the caller left empty.
type Defaults struct {
	Device string
	Lang   string
}

// Orchestrator coordinates the pipeline stages.
type Orchestrator struct {
	deps     Deps
	defaults Defaults
}

func New(deps Deps, defaults Defaults) *Orchestrator {
	return &Orchestrator{deps: deps, defaults: defaults}
}
